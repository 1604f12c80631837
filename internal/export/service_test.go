package export

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gxplab/reportengine/internal/domain"
)

type stubExecutor struct {
	result domain.AggregatedData
	err    error
}

func (s *stubExecutor) ExecuteReport(ctx context.Context, config domain.ReportConfig) (domain.AggregatedData, error) {
	return s.result, s.err
}

func exportConfig() domain.ReportConfig {
	return domain.ReportConfig{
		DataSources: []domain.DataSource{{ID: "petri", Table: "petri_observations", IsPrimary: true}},
		Measures:    []domain.Measure{{Field: "growth_index", Aggregation: domain.AggregationAvg, Name: "avg_growth"}},
	}
}

func exportResult(rowCount int) domain.AggregatedData {
	rows := make([]domain.Row, 0, rowCount)
	for i := 0; i < rowCount; i++ {
		rows = append(rows, domain.Row{
			Dimensions: map[string]any{"petri_code": "P-1"},
			Measures:   map[string]any{"avg_growth": 2.5},
		})
	}
	return domain.AggregatedData{
		Data: rows,
		Metadata: domain.ReportMetadata{
			Dimensions: []domain.Dimension{{Field: "petri_code"}},
			Measures:   []domain.Measure{{Field: "growth_index", Aggregation: domain.AggregationAvg, Name: "avg_growth"}},
		},
	}
}

func waitForJob(t *testing.T, service *Service, id uuid.UUID) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := service.GetJob(id)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.Status == JobStatusCompleted || job.Status == JobStatusFailed {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish in time", id)
	return Job{}
}

func TestQueueWritesCSVExport(t *testing.T) {
	service := NewService(&stubExecutor{result: exportResult(3)},
		WithExportDirectory(t.TempDir()),
		WithMinInterval(0),
	)

	job, err := service.Queue(context.Background(), Request{
		SessionID: "session-1",
		Name:      "Growth by Petri",
		Format:    FormatCSV,
		Config:    exportConfig(),
	})
	if err != nil {
		t.Fatalf("queue returned error: %v", err)
	}

	done := waitForJob(t, service, job.ID)
	if done.Status != JobStatusCompleted {
		t.Fatalf("job failed: %v", done.Error)
	}
	if done.RowsExported != 3 {
		t.Fatalf("expected 3 rows exported, got %d", done.RowsExported)
	}
	if done.FilePath == nil {
		t.Fatalf("completed job has no file path")
	}

	file, err := os.Open(*done.FilePath)
	if err != nil {
		t.Fatalf("open export file: %v", err)
	}
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("export file is not valid CSV: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(records))
	}
}

func TestQueueEnforcesRowCeiling(t *testing.T) {
	service := NewService(&stubExecutor{result: exportResult(10)},
		WithExportDirectory(t.TempDir()),
		WithMinInterval(0),
		WithMaxRows(4),
	)

	job, err := service.Queue(context.Background(), Request{
		SessionID: "session-1",
		Config:    exportConfig(),
	})
	if err != nil {
		t.Fatalf("queue returned error: %v", err)
	}

	done := waitForJob(t, service, job.ID)
	if done.Status != JobStatusCompleted {
		t.Fatalf("job failed: %v", done.Error)
	}
	if done.RowsExported != 4 {
		t.Fatalf("expected export capped at 4 rows, got %d", done.RowsExported)
	}
}

func TestQueueThrottlesPerSession(t *testing.T) {
	service := NewService(&stubExecutor{result: exportResult(1)},
		WithExportDirectory(t.TempDir()),
		WithMinInterval(time.Hour),
	)

	req := Request{SessionID: "session-1", Config: exportConfig()}
	first, err := service.Queue(context.Background(), req)
	if err != nil {
		t.Fatalf("first queue returned error: %v", err)
	}
	if _, err := service.Queue(context.Background(), req); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}

	other := Request{SessionID: "session-2", Config: exportConfig()}
	second, err := service.Queue(context.Background(), other)
	if err != nil {
		t.Fatalf("other session must not be throttled: %v", err)
	}

	// Let the background jobs finish before t.TempDir cleanup runs.
	waitForJob(t, service, first.ID)
	waitForJob(t, service, second.ID)
}

func TestQueueRejectsInvalidConfig(t *testing.T) {
	service := NewService(&stubExecutor{result: exportResult(1)},
		WithExportDirectory(t.TempDir()),
		WithMinInterval(0),
	)

	_, err := service.Queue(context.Background(), Request{
		SessionID: "session-1",
		Config:    domain.ReportConfig{},
	})
	if err == nil {
		t.Fatalf("expected invalid config to be rejected before queueing")
	}
}

func TestQueueMarksFailedJobs(t *testing.T) {
	service := NewService(&stubExecutor{err: errors.New("engine exploded")},
		WithExportDirectory(t.TempDir()),
		WithMinInterval(0),
	)

	job, err := service.Queue(context.Background(), Request{
		SessionID: "session-1",
		Config:    exportConfig(),
	})
	if err != nil {
		t.Fatalf("queue returned error: %v", err)
	}

	done := waitForJob(t, service, job.ID)
	if done.Status != JobStatusFailed {
		t.Fatalf("expected failed job, got %s", done.Status)
	}
	if done.Error == nil {
		t.Fatalf("failed job carries no error message")
	}
}

func TestDownloadTokenLifecycle(t *testing.T) {
	signer := newDownloadSigner(time.Minute)
	jobID := uuid.New()
	now := time.Now()

	token := signer.Sign(jobID, now)
	if err := signer.Verify(jobID, token, now); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}
	if err := signer.Verify(uuid.New(), token, now); err == nil {
		t.Fatalf("token must be bound to one job")
	}
	if err := signer.Verify(jobID, token, now.Add(2*time.Minute)); err == nil {
		t.Fatalf("expired token must be rejected")
	}
	if err := signer.Verify(jobID, "not-a-token", now); err == nil {
		t.Fatalf("malformed token must be rejected")
	}
}

func TestBuildDownloadURL(t *testing.T) {
	service := NewService(&stubExecutor{result: exportResult(1)},
		WithExportDirectory(t.TempDir()),
		WithMinInterval(0),
	)

	job, err := service.Queue(context.Background(), Request{
		SessionID: "session-1",
		Config:    exportConfig(),
	})
	if err != nil {
		t.Fatalf("queue returned error: %v", err)
	}
	done := waitForJob(t, service, job.ID)

	url, err := service.BuildDownloadURL(done)
	if err != nil {
		t.Fatalf("build download URL: %v", err)
	}
	if url == nil {
		t.Fatalf("completed job should have a download URL")
	}

	pending := Job{ID: uuid.New(), Status: JobStatusPending}
	url, err = service.BuildDownloadURL(pending)
	if err != nil || url != nil {
		t.Fatalf("pending job must not be downloadable: %v %v", url, err)
	}
}
