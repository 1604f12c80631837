package report

import (
	"context"
	"fmt"

	"github.com/gxplab/reportengine/internal/domain"
	"github.com/gxplab/reportengine/internal/store"
)

// embeddedNameKeys maps a segment field to the embedded-relation column
// that carries its display name when the query inlined the relationship.
var embeddedNameKeys = map[string]string{
	"program_id":    "pilot_programs.name",
	"site_id":       "sites.name",
	"submission_id": "submissions.global_submission_id",
}

// shapeRows normalizes raw store rows into the uniform report row shape.
// Measure values are keyed by the measure's unique name, never its raw
// field, so two aggregations of the same column stay independent. Shaping
// never drops a row: a row with unresolved segment metadata is included
// without the `*_name` key.
func shapeRows(ctx context.Context, rows []store.Row, config domain.ReportConfig, names *EntityNameCache) []domain.Row {
	shaped := make([]domain.Row, 0, len(rows))
	for _, raw := range rows {
		row := domain.Row{
			Dimensions:      make(map[string]any, len(config.Dimensions)),
			Measures:        make(map[string]any, len(config.Measures)),
			Segments:        make(map[string]any, len(config.SegmentBy)),
			SegmentMetadata: make(map[string]any, len(config.SegmentBy)),
			Raw:             make(map[string]any, len(raw)),
		}
		for key, value := range raw {
			row.Raw[key] = value
		}

		for _, dim := range config.Dimensions {
			if value, ok := raw[dim.Field]; ok {
				row.Dimensions[dim.Field] = value
			}
		}

		for _, measure := range config.Measures {
			// Aggregate paths emit the value under the measure name;
			// the single-source path leaves the raw column in place.
			if value, ok := raw[measure.Name]; ok {
				row.Measures[measure.Name] = value
				continue
			}
			if value, ok := raw[measure.Field]; ok {
				row.Measures[measure.Name] = value
			}
		}

		for _, field := range config.SegmentBy {
			value, ok := raw[field]
			if !ok || value == nil {
				continue
			}
			row.Segments["segment_"+field] = value

			if name, ok := resolveSegmentName(ctx, raw, field, value, names); ok {
				row.SegmentMetadata[field+"_name"] = name
			}
		}

		shaped = append(shaped, row)
	}
	return shaped
}

// resolveSegmentName prefers display names inlined by relationship
// embedding and falls back to the entity name cache.
func resolveSegmentName(ctx context.Context, raw store.Row, field string, value any, names *EntityNameCache) (string, bool) {
	if embedKey, ok := embeddedNameKeys[field]; ok {
		if embedded, present := raw[embedKey]; present && embedded != nil {
			return fmt.Sprintf("%v", embedded), true
		}
	}
	kind, ok := segmentKinds[field]
	if !ok || names == nil {
		return "", false
	}
	return names.Name(ctx, kind, fmt.Sprintf("%v", value))
}
