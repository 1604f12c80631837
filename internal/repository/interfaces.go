package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/gxplab/reportengine/internal/domain"
)

// SavedReportRepository defines the interface for persisted report
// definitions.
type SavedReportRepository interface {
	Create(ctx context.Context, report domain.SavedReport) (domain.SavedReport, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.SavedReport, error)
	List(ctx context.Context) ([]domain.SavedReport, error)
	Update(ctx context.Context, report domain.SavedReport) (domain.SavedReport, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// DashboardRepository defines the interface for dashboard operations.
type DashboardRepository interface {
	Create(ctx context.Context, dashboard domain.Dashboard) (domain.Dashboard, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Dashboard, error)
	List(ctx context.Context) ([]domain.Dashboard, error)
	Update(ctx context.Context, dashboard domain.Dashboard) (domain.Dashboard, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
