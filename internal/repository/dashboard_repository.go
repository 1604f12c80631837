package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gxplab/reportengine/internal/domain"
)

// dashboardRepository implements DashboardRepository on Postgres.
type dashboardRepository struct {
	pool *pgxpool.Pool
}

// NewDashboardRepository creates a new dashboard repository
func NewDashboardRepository(pool *pgxpool.Pool) DashboardRepository {
	return &dashboardRepository{pool: pool}
}

func (r *dashboardRepository) Create(ctx context.Context, dashboard domain.Dashboard) (domain.Dashboard, error) {
	widgetsJSON, err := json.Marshal(dashboard.Widgets)
	if err != nil {
		return domain.Dashboard{}, fmt.Errorf("failed to marshal widgets: %w", err)
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO dashboards (name, widgets)
		 VALUES ($1, $2)
		 RETURNING id, name, widgets, created_at, updated_at`,
		dashboard.Name, widgetsJSON)

	return scanDashboard(row)
}

func (r *dashboardRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Dashboard, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, widgets, created_at, updated_at FROM dashboards WHERE id = $1`, id)

	return scanDashboard(row)
}

func (r *dashboardRepository) List(ctx context.Context) ([]domain.Dashboard, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, widgets, created_at, updated_at FROM dashboards ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dashboards: %w", err)
	}
	defer rows.Close()

	var dashboards []domain.Dashboard
	for rows.Next() {
		dashboard, err := scanDashboard(rows)
		if err != nil {
			return nil, err
		}
		dashboards = append(dashboards, dashboard)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dashboards: %w", err)
	}
	return dashboards, nil
}

func (r *dashboardRepository) Update(ctx context.Context, dashboard domain.Dashboard) (domain.Dashboard, error) {
	widgetsJSON, err := json.Marshal(dashboard.Widgets)
	if err != nil {
		return domain.Dashboard{}, fmt.Errorf("failed to marshal widgets: %w", err)
	}

	row := r.pool.QueryRow(ctx,
		`UPDATE dashboards
		 SET name = $2, widgets = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING id, name, widgets, created_at, updated_at`,
		dashboard.ID, dashboard.Name, widgetsJSON)

	return scanDashboard(row)
}

func (r *dashboardRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM dashboards WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete dashboard: %w", err)
	}
	return nil
}

func scanDashboard(row rowScanner) (domain.Dashboard, error) {
	var dashboard domain.Dashboard
	var widgetsJSON []byte
	if err := row.Scan(&dashboard.ID, &dashboard.Name, &widgetsJSON, &dashboard.CreatedAt, &dashboard.UpdatedAt); err != nil {
		return domain.Dashboard{}, fmt.Errorf("failed to scan dashboard: %w", err)
	}
	if err := json.Unmarshal(widgetsJSON, &dashboard.Widgets); err != nil {
		return domain.Dashboard{}, fmt.Errorf("failed to decode widgets for dashboard %s: %w", dashboard.ID, err)
	}
	return dashboard, nil
}
