package report

import (
	"context"
	"testing"

	"github.com/gxplab/reportengine/internal/domain"
	"github.com/gxplab/reportengine/internal/store"
)

func TestShapeRowsKeysMeasuresByUniqueName(t *testing.T) {
	config := domain.ReportConfig{
		DataSources: []domain.DataSource{petriSource()},
		Dimensions:  []domain.Dimension{{Field: "petri_code"}},
		Measures: []domain.Measure{
			{Field: "growth_index", Aggregation: domain.AggregationAvg, Name: "avg_growth"},
			{Field: "growth_index", Aggregation: domain.AggregationMax, Name: "max_growth"},
		},
	}
	// Aggregate paths emit one column per measure name.
	raw := []store.Row{{"petri_code": "P-1", "avg_growth": 3.0, "max_growth": 7.0}}

	shaped := shapeRows(context.Background(), raw, config, nil)
	if len(shaped) != 1 {
		t.Fatalf("expected 1 row, got %d", len(shaped))
	}
	row := shaped[0]
	if row.Measures["avg_growth"] != 3.0 {
		t.Fatalf("avg_growth = %v", row.Measures["avg_growth"])
	}
	if row.Measures["max_growth"] != 7.0 {
		t.Fatalf("max_growth = %v, same-field measures must not collide", row.Measures["max_growth"])
	}
}

func TestShapeRowsFallsBackToRawField(t *testing.T) {
	config := singleSourceConfig()
	raw := []store.Row{{"petri_code": "P-1", "growth_index": 2.5}}

	shaped := shapeRows(context.Background(), raw, config, nil)
	if shaped[0].Measures["avg_growth"] != 2.5 {
		t.Fatalf("single-source path should surface the raw column under the measure name, got %v",
			shaped[0].Measures["avg_growth"])
	}
}

func TestShapeRowsUsesEmbeddedDisplayNames(t *testing.T) {
	config := singleSourceConfig()
	config.SegmentBy = []string{"site_id"}
	raw := []store.Row{{
		"petri_code":   "P-1",
		"growth_index": 1.0,
		"site_id":      "site-1",
		"sites.name":   "Greenhouse A",
	}}

	shaped := shapeRows(context.Background(), raw, config, nil)
	row := shaped[0]
	if row.Segments["segment_site_id"] != "site-1" {
		t.Fatalf("segment key = %v", row.Segments["segment_site_id"])
	}
	if row.SegmentMetadata["site_id_name"] != "Greenhouse A" {
		t.Fatalf("expected embedded display name, got %v", row.SegmentMetadata["site_id_name"])
	}
}

func TestShapeRowsNeverDropsRowsWithoutMetadata(t *testing.T) {
	config := singleSourceConfig()
	config.SegmentBy = []string{"site_id"}
	raw := []store.Row{
		{"petri_code": "P-1", "growth_index": 1.0, "site_id": "site-1"},
		{"petri_code": "P-2", "growth_index": 2.0}, // no segment value at all
	}

	shaped := shapeRows(context.Background(), raw, config, nil)
	if len(shaped) != 2 {
		t.Fatalf("unresolved metadata must not drop rows: got %d of 2", len(shaped))
	}
	second := shaped[1]
	if _, ok := second.Segments["segment_site_id"]; ok {
		t.Fatalf("row without a segment value should omit the segment key")
	}
	if _, ok := second.SegmentMetadata["site_id_name"]; ok {
		t.Fatalf("row without a segment value should omit the display-name key")
	}
}

func TestShapeRowsPassesRawThrough(t *testing.T) {
	config := singleSourceConfig()
	raw := []store.Row{{
		"petri_code":    "P-1",
		"growth_index":  1.0,
		"submission_id": "s1",
		"image_url":     "https://files.invalid/p1.jpg",
	}}

	shaped := shapeRows(context.Background(), raw, config, nil)
	row := shaped[0]
	if value, ok := row.Lookup("image_url"); !ok || value != "https://files.invalid/p1.jpg" {
		t.Fatalf("raw drill-down column lost: %v (%v)", value, ok)
	}
}
