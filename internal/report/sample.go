package report

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gxplab/reportengine/internal/domain"
)

// sampleRowCount is the fixed size of the synthetic fallback dataset.
const sampleRowCount = 20

var (
	sampleBaseDate   = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	samplePlacements = []string{"North Wall", "South Wall", "Center Rack", "Door Side"}
)

// generateSampleData builds a deterministic synthetic dataset shaped like
// the requested report, so a misconfigured or empty report renders a
// clearly-labeled demo dataset instead of a hard failure. Drill-down
// metadata fields are always present so downstream UI never sees missing
// keys.
func generateSampleData(config domain.ReportConfig, rowCount int) []domain.Row {
	if rowCount <= 0 {
		rowCount = sampleRowCount
	}
	rng := rand.New(rand.NewSource(int64(rowCount)))

	rows := make([]domain.Row, 0, rowCount)
	for i := 0; i < rowCount; i++ {
		raw := map[string]any{
			"submission_id": sampleID("submission", i%5),
			"site_id":       sampleID("site", i%4),
			"program_id":    sampleID("program", i%2),
			"placement":     samplePlacements[i%len(samplePlacements)],
			"image_url":     fmt.Sprintf("https://example.invalid/samples/observation-%02d.jpg", i+1),
		}

		dimensions := make(map[string]any, len(config.Dimensions))
		for _, dim := range config.Dimensions {
			value := sampleDimensionValue(dim, i)
			dimensions[dim.Field] = value
			raw[dim.Field] = value
		}

		measures := make(map[string]any, len(config.Measures))
		for _, measure := range config.Measures {
			value := sampleMeasureValue(measure.Aggregation, rng)
			measures[measure.Name] = value
			raw[measure.Field] = value
		}

		segments := make(map[string]any, len(config.SegmentBy))
		metadata := make(map[string]any, len(config.SegmentBy))
		for _, field := range config.SegmentBy {
			key := raw[field]
			if key == nil {
				key = sampleID(field, i%3)
				raw[field] = key
			}
			segments["segment_"+field] = key
			if kind, ok := segmentKinds[field]; ok {
				metadata[field+"_name"] = fmt.Sprintf("Sample %s %d", capitalize(string(kind)), i%3+1)
			}
		}

		rows = append(rows, domain.Row{
			Dimensions:      dimensions,
			Measures:        measures,
			Segments:        segments,
			SegmentMetadata: metadata,
			Raw:             raw,
		})
	}
	return rows
}

func sampleDimensionValue(dim domain.Dimension, index int) any {
	field := strings.ToLower(dim.Field)
	switch {
	case strings.Contains(field, "code"):
		prefix := strings.ToUpper(strings.TrimSuffix(field, "_code"))
		if len(prefix) > 3 {
			prefix = prefix[:3]
		}
		return fmt.Sprintf("%s-%03d", prefix, index+1)
	case dim.DataType == domain.FieldTypeDate || dim.DataType == domain.FieldTypeDatetime ||
		strings.Contains(field, "date") || strings.HasSuffix(field, "_at"):
		return sampleBaseDate.AddDate(0, 0, index).Format("2006-01-02")
	default:
		label := dim.DisplayName
		if label == "" {
			label = dim.Field
		}
		return fmt.Sprintf("Sample %s %d", label, index+1)
	}
}

// sampleMeasureValue keeps each aggregation in its own consistent value
// range so a sample dataset is recognizable in aggregate.
func sampleMeasureValue(agg domain.Aggregation, rng *rand.Rand) any {
	switch agg {
	case domain.AggregationCount:
		return 5 + rng.Intn(46) // 5..50
	case domain.AggregationSum:
		return roundTo(100+rng.Float64()*900, 2) // 100..1000
	case domain.AggregationAvg:
		return roundTo(10+rng.Float64()*90, 2) // 10..100
	case domain.AggregationMin:
		return roundTo(1+rng.Float64()*9, 2) // 1..10
	case domain.AggregationMax:
		return roundTo(50+rng.Float64()*100, 2) // 50..150
	default:
		return roundTo(rng.Float64()*100, 2)
	}
}

func roundTo(value float64, places int) float64 {
	shift := 1.0
	for i := 0; i < places; i++ {
		shift *= 10
	}
	return float64(int64(value*shift+0.5)) / shift
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func sampleID(prefix string, index int) string {
	return uuid.NewMD5(uuid.NameSpaceOID, []byte(fmt.Sprintf("gxp-sample-%s-%d", prefix, index))).String()
}
