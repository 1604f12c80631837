package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gxplab/reportengine/internal/domain"
	"github.com/gxplab/reportengine/internal/report"
	"github.com/gxplab/reportengine/internal/store"
)

type stubStore struct {
	rows map[string][]store.Row
}

func (s *stubStore) Select(ctx context.Context, req store.SelectRequest) ([]store.Row, error) {
	out := make([]store.Row, 0, len(s.rows[req.Table]))
	for _, row := range s.rows[req.Table] {
		if !rowMatches(row, req.Where) {
			continue
		}
		copied := make(store.Row, len(row))
		for k, v := range row {
			copied[k] = v
		}
		out = append(out, copied)
		if req.Limit > 0 && len(out) == req.Limit {
			break
		}
	}
	return out, nil
}

// rowMatches applies eq and in conditions; other operators pass through.
func rowMatches(row store.Row, predicates []store.Predicate) bool {
	for _, predicate := range predicates {
		for _, cond := range predicate.Conditions {
			switch cond.Op {
			case store.OpEq:
				if fmt.Sprintf("%v", row[cond.Field]) != fmt.Sprintf("%v", cond.Value) {
					return false
				}
			case store.OpIn:
				matched := false
				for _, candidate := range cond.Values {
					if fmt.Sprintf("%v", row[cond.Field]) == fmt.Sprintf("%v", candidate) {
						matched = true
						break
					}
				}
				if !matched {
					return false
				}
			}
		}
	}
	return true
}

func (s *stubStore) Aggregate(ctx context.Context, req store.AggregateRequest) ([]store.Row, error) {
	return nil, store.ErrRawQueryUnsupported
}

func executeBody(t *testing.T, config domain.ReportConfig) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]any{"config": config})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return bytes.NewBuffer(body)
}

func testEngine() *report.Engine {
	client := &stubStore{rows: map[string][]store.Row{
		"petri_observations": {
			{"petri_code": "P-1", "growth_index": 2.0, "submission_id": "s1"},
		},
	}}
	return report.NewEngine(client, nil)
}

func executeConfig() domain.ReportConfig {
	return domain.ReportConfig{
		DataSources: []domain.DataSource{{ID: "petri", Table: "petri_observations", IsPrimary: true}},
		Dimensions:  []domain.Dimension{{Field: "petri_code"}},
		Measures:    []domain.Measure{{Field: "growth_index", Aggregation: domain.AggregationAvg, Name: "avg_growth"}},
	}
}

func TestExecuteEndpoint(t *testing.T) {
	handler := NewReportsHandler(testEngine(), nil)

	req := httptest.NewRequest(http.MethodPost, "/reports/execute", executeBody(t, executeConfig()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	var result domain.AggregatedData
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.IsSample {
		t.Fatalf("expected live data")
	}
	if len(result.Data) != 1 {
		t.Fatalf("expected 1 row, got %d", len(result.Data))
	}
}

func TestExecuteEndpointRejectsInvalidConfig(t *testing.T) {
	handler := NewReportsHandler(testEngine(), nil)

	req := httptest.NewRequest(http.MethodPost, "/reports/execute", executeBody(t, domain.ReportConfig{}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty config, got %d", rec.Code)
	}
}

func TestExecuteEndpointMergesIsolationFilters(t *testing.T) {
	client := &stubStore{rows: map[string][]store.Row{
		"petri_observations": {
			{"petri_code": "P-1", "growth_index": 2.0, "site_id": "site-1"},
			{"petri_code": "P-2", "growth_index": 3.0, "site_id": "site-2"},
		},
	}}
	handler := NewReportsHandler(report.NewEngine(client, nil), nil)

	body, err := json.Marshal(map[string]any{
		"config":           executeConfig(),
		"isolationFilters": map[string][]string{"site_id": {"site-1"}},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/reports/execute", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	var result domain.AggregatedData
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.IsSample {
		t.Fatalf("expected live data")
	}
	if len(result.Data) != 1 {
		t.Fatalf("expected isolation to keep 1 row, got %d", len(result.Data))
	}
}

func TestTrailingID(t *testing.T) {
	if _, ok := trailingID("/reports"); ok {
		t.Fatalf("bare collection path has no id")
	}
	if _, ok := trailingID("/reports/not-a-uuid"); ok {
		t.Fatalf("non-uuid segment has no id")
	}
	id, ok := trailingID("/reports/0f0e39f4-9251-4d9e-a3a4-9f6c5a4e2b10")
	if !ok || id.String() != "0f0e39f4-9251-4d9e-a3a4-9f6c5a4e2b10" {
		t.Fatalf("trailingID = %v (%v)", id, ok)
	}
}

func TestCacheResetEndpoint(t *testing.T) {
	handler := NewCacheHandler(report.NewEntityNameCache(nil))

	req := httptest.NewRequest(http.MethodPost, "/cache/reset", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/cache/reset", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET should be rejected, got %d", rec.Code)
	}
}
