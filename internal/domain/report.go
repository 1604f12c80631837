package domain

import (
	"errors"
	"fmt"
	"strings"
)

// FieldType represents the declared type of a data source column.
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeInteger  FieldType = "integer"
	FieldTypeNumeric  FieldType = "numeric"
	FieldTypeBoolean  FieldType = "boolean"
	FieldTypeDate     FieldType = "date"
	FieldTypeDatetime FieldType = "datetime"
)

// Field describes one column of a data source's declared schema. The
// declared schema acts as the fallback when live introspection of the
// underlying table is unavailable.
type Field struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	DisplayName string    `json:"displayName,omitempty"`
}

// DataSource identifies one queryable table in a report configuration.
type DataSource struct {
	ID        string  `json:"id"`
	Table     string  `json:"table"`
	Fields    []Field `json:"fields"`
	IsPrimary bool    `json:"isPrimary"`
}

// FieldNames returns the declared column names of the source.
func (d DataSource) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for _, field := range d.Fields {
		if strings.TrimSpace(field.Name) != "" {
			names = append(names, field.Name)
		}
	}
	return names
}

// Dimension is a grouping/categorical axis of a report. An empty Source
// means the dimension belongs to the primary data source.
type Dimension struct {
	Field       string    `json:"field"`
	DataType    FieldType `json:"dataType,omitempty"`
	Source      string    `json:"source,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
}

// Aggregation names a supported aggregate function for measures.
type Aggregation string

const (
	AggregationCount Aggregation = "count"
	AggregationSum   Aggregation = "sum"
	AggregationAvg   Aggregation = "avg"
	AggregationMin   Aggregation = "min"
	AggregationMax   Aggregation = "max"
)

// Measure is a numeric aggregate of a report. Name is the unique key the
// measure's values are reported under; it disambiguates two measures that
// target the same column with different aggregations.
type Measure struct {
	Field       string      `json:"field"`
	Aggregation Aggregation `json:"aggregation"`
	DataSource  string      `json:"dataSource,omitempty"`
	Name        string      `json:"name"`
}

// FilterOperator enumerates the predicate operators a report filter may use.
type FilterOperator string

const (
	FilterEquals             FilterOperator = "equals"
	FilterNotEquals          FilterOperator = "not_equals"
	FilterContains           FilterOperator = "contains"
	FilterNotContains        FilterOperator = "not_contains"
	FilterGreaterThan        FilterOperator = "greater_than"
	FilterLessThan           FilterOperator = "less_than"
	FilterGreaterThanOrEqual FilterOperator = "greater_than_or_equal"
	FilterLessThanOrEqual    FilterOperator = "less_than_or_equal"
	FilterIn                 FilterOperator = "in"
	FilterNotIn              FilterOperator = "not_in"
	FilterIsNull             FilterOperator = "is_null"
	FilterIsNotNull          FilterOperator = "is_not_null"
	FilterBetween            FilterOperator = "between"
	FilterRange              FilterOperator = "range"
)

// Filter is one user-authored predicate. Value holds a scalar for the
// comparison operators, a slice for in/not_in/between/range, and is
// ignored for the null tests.
type Filter struct {
	Field    string         `json:"field"`
	Operator FilterOperator `json:"operator"`
	Value    any            `json:"value,omitempty"`
}

// IsolationFilters scope one dashboard widget's view without affecting
// sibling widgets: each entry restricts a segment field to a set of
// allowed values, applied as an unconditional IN predicate on top of the
// ordinary filters.
type IsolationFilters map[string][]string

// ReportConfig is the aggregate root of a declarative report definition.
type ReportConfig struct {
	DataSources      []DataSource     `json:"dataSources"`
	Dimensions       []Dimension      `json:"dimensions"`
	Measures         []Measure        `json:"measures"`
	Filters          []Filter         `json:"filters,omitempty"`
	SegmentBy        []string         `json:"segmentBy,omitempty"`
	IsolationFilters IsolationFilters `json:"isolationFilters,omitempty"`
}

// Configuration errors. These indicate the report definition itself is not
// viable and must be fixed by the user, so they propagate instead of
// degrading to sample data.
var (
	ErrNoDataSources = errors.New("report config has no data sources")
	ErrNoMeasures    = errors.New("report config has no measures")
)

// Validate checks the invariants that make a report executable at all.
// Schema drift (fields missing from live tables) is deliberately not
// validated here; the engine recovers from that silently.
func (c ReportConfig) Validate() error {
	if len(c.DataSources) == 0 {
		return ErrNoDataSources
	}
	if len(c.Measures) == 0 {
		return ErrNoMeasures
	}

	primaries := 0
	for _, source := range c.DataSources {
		if source.IsPrimary {
			primaries++
		}
	}
	if primaries > 1 {
		return fmt.Errorf("report config has %d primary data sources, at most one allowed", primaries)
	}

	seen := make(map[string]struct{}, len(c.Measures))
	for _, measure := range c.Measures {
		name := strings.TrimSpace(measure.Name)
		if name == "" {
			return fmt.Errorf("measure on field %q has no name", measure.Field)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate measure name %q", name)
		}
		seen[name] = struct{}{}

		if measure.Field == "*" && measure.Aggregation != AggregationCount {
			return fmt.Errorf("measure %q: field '*' is only valid for count", name)
		}
		switch measure.Aggregation {
		case AggregationCount, AggregationSum, AggregationAvg, AggregationMin, AggregationMax:
		default:
			return fmt.Errorf("measure %q: unsupported aggregation %q", name, measure.Aggregation)
		}
	}

	for _, dim := range c.Dimensions {
		if dim.Source == "" {
			continue
		}
		if _, ok := c.SourceByID(dim.Source); !ok {
			return fmt.Errorf("dimension %q references unknown data source %q", dim.Field, dim.Source)
		}
	}

	return nil
}

// PrimarySource returns the main data source of the config: the one marked
// primary, or the first listed when none is marked.
func (c ReportConfig) PrimarySource() (DataSource, error) {
	if len(c.DataSources) == 0 {
		return DataSource{}, ErrNoDataSources
	}
	for _, source := range c.DataSources {
		if source.IsPrimary {
			return source, nil
		}
	}
	return c.DataSources[0], nil
}

// SourceByID looks up a data source by its logical id.
func (c ReportConfig) SourceByID(id string) (DataSource, bool) {
	for _, source := range c.DataSources {
		if source.ID == id {
			return source, true
		}
	}
	return DataSource{}, false
}
