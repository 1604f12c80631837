package domain

import (
	"time"

	"github.com/google/uuid"
)

// SavedReport is a persisted report definition an analyst can re-run or
// place on dashboards.
type SavedReport struct {
	ID          uuid.UUID    `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Config      ReportConfig `json:"config"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// DashboardWidget places one saved report on a dashboard grid. Isolation
// filters scope this widget's data independently of sibling widgets.
type DashboardWidget struct {
	ID               uuid.UUID        `json:"id"`
	ReportID         uuid.UUID        `json:"reportId"`
	Title            string           `json:"title,omitempty"`
	IsolationFilters IsolationFilters `json:"isolationFilters,omitempty"`
	X                int              `json:"x"`
	Y                int              `json:"y"`
	Width            int              `json:"width"`
	Height           int              `json:"height"`
}

// Dashboard is a named grid of report widgets.
type Dashboard struct {
	ID        uuid.UUID         `json:"id"`
	Name      string            `json:"name"`
	Widgets   []DashboardWidget `json:"widgets"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}
