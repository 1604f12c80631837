package domain

import "time"

// Row is one shaped result row. Dimensions, Measures and Segments hold the
// values the report asked for; Raw passes every original source column
// through unmodified so drill-down consumers keep working. SegmentMetadata
// carries resolved display names (`<field>_name`) for segment keys whose
// reference entity could be resolved.
type Row struct {
	Dimensions      map[string]any `json:"dimensions"`
	Measures        map[string]any `json:"measures"`
	Segments        map[string]any `json:"segments,omitempty"`
	SegmentMetadata map[string]any `json:"segmentMetadata,omitempty"`
	Raw             map[string]any `json:"raw,omitempty"`
}

// Lookup returns a raw source column value and whether it was present,
// instead of relying on nil-by-convention map access.
func (r Row) Lookup(field string) (any, bool) {
	value, ok := r.Raw[field]
	return value, ok
}

// ReportMetadata echoes the shape of the executed report back to the UI.
type ReportMetadata struct {
	Dimensions  []Dimension `json:"dimensions"`
	Measures    []Measure   `json:"measures"`
	Filters     []Filter    `json:"filters,omitempty"`
	Segments    []string    `json:"segments,omitempty"`
	LastUpdated time.Time   `json:"lastUpdated"`
}

// AggregatedData is the engine's output envelope. IsSample marks the
// synthetic fallback dataset so the UI can flag demo data instead of
// presenting it as live results.
type AggregatedData struct {
	Data          []Row          `json:"data"`
	TotalCount    int            `json:"totalCount"`
	FilteredCount int            `json:"filteredCount"`
	ExecutionTime time.Duration  `json:"executionTime"`
	CacheHit      bool           `json:"cacheHit"`
	IsSample      bool           `json:"isSample"`
	Truncated     bool           `json:"truncated,omitempty"`
	Metadata      ReportMetadata `json:"metadata"`
}
