package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gxplab/reportengine/internal/domain"
)

// savedReportRepository implements SavedReportRepository on Postgres.
type savedReportRepository struct {
	pool *pgxpool.Pool
}

// NewSavedReportRepository creates a new saved report repository
func NewSavedReportRepository(pool *pgxpool.Pool) SavedReportRepository {
	return &savedReportRepository{pool: pool}
}

func (r *savedReportRepository) Create(ctx context.Context, report domain.SavedReport) (domain.SavedReport, error) {
	configJSON, err := json.Marshal(report.Config)
	if err != nil {
		return domain.SavedReport{}, fmt.Errorf("failed to marshal report config: %w", err)
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO saved_reports (name, description, config)
		 VALUES ($1, $2, $3)
		 RETURNING id, name, description, config, created_at, updated_at`,
		report.Name, report.Description, configJSON)

	return scanSavedReport(row)
}

func (r *savedReportRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.SavedReport, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, description, config, created_at, updated_at
		 FROM saved_reports WHERE id = $1`, id)

	return scanSavedReport(row)
}

func (r *savedReportRepository) List(ctx context.Context) ([]domain.SavedReport, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, config, created_at, updated_at
		 FROM saved_reports ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved reports: %w", err)
	}
	defer rows.Close()

	var reports []domain.SavedReport
	for rows.Next() {
		report, err := scanSavedReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate saved reports: %w", err)
	}
	return reports, nil
}

func (r *savedReportRepository) Update(ctx context.Context, report domain.SavedReport) (domain.SavedReport, error) {
	configJSON, err := json.Marshal(report.Config)
	if err != nil {
		return domain.SavedReport{}, fmt.Errorf("failed to marshal report config: %w", err)
	}

	row := r.pool.QueryRow(ctx,
		`UPDATE saved_reports
		 SET name = $2, description = $3, config = $4, updated_at = now()
		 WHERE id = $1
		 RETURNING id, name, description, config, created_at, updated_at`,
		report.ID, report.Name, report.Description, configJSON)

	return scanSavedReport(row)
}

func (r *savedReportRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM saved_reports WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete saved report: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSavedReport(row rowScanner) (domain.SavedReport, error) {
	var report domain.SavedReport
	var configJSON []byte
	if err := row.Scan(&report.ID, &report.Name, &report.Description, &configJSON, &report.CreatedAt, &report.UpdatedAt); err != nil {
		return domain.SavedReport{}, fmt.Errorf("failed to scan saved report: %w", err)
	}
	if err := json.Unmarshal(configJSON, &report.Config); err != nil {
		return domain.SavedReport{}, fmt.Errorf("failed to decode config for report %s: %w", report.ID, err)
	}
	return report, nil
}
