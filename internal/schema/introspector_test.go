package schema

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/gxplab/reportengine/internal/domain"
	"github.com/gxplab/reportengine/internal/store"
)

type stubClient struct {
	rows []store.Row
	err  error
}

func (s *stubClient) Select(ctx context.Context, req store.SelectRequest) ([]store.Row, error) {
	if s.err != nil {
		return nil, s.err
	}
	if req.Limit > 0 && len(s.rows) > req.Limit {
		return s.rows[:req.Limit], nil
	}
	return s.rows, nil
}

func (s *stubClient) Aggregate(ctx context.Context, req store.AggregateRequest) ([]store.Row, error) {
	return nil, store.ErrRawQueryUnsupported
}

func petriSource() domain.DataSource {
	return domain.DataSource{
		ID:    "petri",
		Table: "petri_observations",
		Fields: []domain.Field{
			{Name: "petri_code"},
			{Name: "placement"},
			{Name: "growth_index"},
		},
	}
}

func TestColumnsUsesProbedRow(t *testing.T) {
	client := &stubClient{rows: []store.Row{{
		"petri_code":    "P-1",
		"growth_index":  1.0,
		"submission_id": "s1",
	}}}
	introspector := NewIntrospector(client)

	columns := introspector.Columns(context.Background(), petriSource())
	sort.Strings(columns)
	want := []string{"growth_index", "petri_code", "submission_id"}
	if len(columns) != len(want) {
		t.Fatalf("expected %v, got %v", want, columns)
	}
	for i := range want {
		if columns[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, columns)
		}
	}
}

func TestColumnsFallsBackOnError(t *testing.T) {
	introspector := NewIntrospector(&stubClient{err: errors.New("connection refused")})

	columns := introspector.Columns(context.Background(), petriSource())
	if len(columns) != 3 || columns[0] != "petri_code" {
		t.Fatalf("expected declared fields as fallback, got %v", columns)
	}
}

func TestColumnsFallsBackOnEmptyTable(t *testing.T) {
	introspector := NewIntrospector(&stubClient{})

	columns := introspector.Columns(context.Background(), petriSource())
	if len(columns) != 3 {
		t.Fatalf("expected declared fields for an empty table, got %v", columns)
	}
}

func TestColumnsToleratesNilClient(t *testing.T) {
	introspector := NewIntrospector(nil)

	columns := introspector.Columns(context.Background(), petriSource())
	if len(columns) != 3 {
		t.Fatalf("expected declared fields with no client, got %v", columns)
	}
}

func TestIntersectDropsAndDeduplicates(t *testing.T) {
	actual := []string{"petri_code", "growth_index"}
	candidates := []string{"petri_code", "placement", "petri_code", "", "growth_index"}

	kept := Intersect("petri_observations", candidates, actual)
	if len(kept) != 2 {
		t.Fatalf("expected 2 surviving fields, got %v", kept)
	}
	if kept[0] != "petri_code" || kept[1] != "growth_index" {
		t.Fatalf("expected order-preserving intersection, got %v", kept)
	}
}
