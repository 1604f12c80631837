// Package report implements the report query compilation and execution
// engine: it turns declarative report configurations into schema-validated
// store queries, with escalating fallback strategies and display-name
// enrichment.
package report

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gxplab/reportengine/internal/domain"
	"github.com/gxplab/reportengine/internal/schema"
	"github.com/gxplab/reportengine/internal/store"
)

// defaultRowCap bounds result sets to keep memory and render latency
// predictable; hitting it is a soft warning, not an error.
const defaultRowCap = 500

// alwaysIncludeFields are the identifier columns every query carries for
// UI drill-down, regardless of the configured dimensions.
var alwaysIncludeFields = []string{"submission_id", "site_id", "program_id", "image_url"}

var familyKeyFields = map[tableFamily][]string{
	familyPetri:      {"petri_code", "placement"},
	familyGasifier:   {"gasifier_code", "chemical_type"},
	familySubmission: {"global_submission_id"},
}

// Engine orchestrates schema introspection, filter compilation, join
// resolution and result shaping for report execution.
type Engine struct {
	client       store.Client
	introspector *schema.Introspector
	names        *EntityNameCache
	rowCap       int
	sampleRows   int
}

// Option customizes engine construction.
type Option func(*Engine)

// WithRowCap overrides the fixed result-size ceiling.
func WithRowCap(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.rowCap = limit
		}
	}
}

// WithSampleRows overrides the synthetic dataset size.
func WithSampleRows(rows int) Option {
	return func(e *Engine) {
		if rows > 0 {
			e.sampleRows = rows
		}
	}
}

// NewEngine builds an execution engine over the given store client. The
// client may be nil or unreachable; execution then degrades to sample
// data rather than failing.
func NewEngine(client store.Client, names *EntityNameCache, opts ...Option) *Engine {
	engine := &Engine{
		client:       client,
		introspector: schema.NewIntrospector(client),
		names:        names,
		rowCap:       defaultRowCap,
		sampleRows:   sampleRowCount,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// ExecuteReport runs one report configuration end to end and always
// resolves with a result envelope. The only errors it returns are
// configuration errors (no data sources, no measures); every runtime
// failure degrades to the synthetic sample dataset.
func (e *Engine) ExecuteReport(ctx context.Context, config domain.ReportConfig) (domain.AggregatedData, error) {
	start := time.Now()
	if err := config.Validate(); err != nil {
		return domain.AggregatedData{}, err
	}

	rows, truncated, err := e.fetchRows(ctx, config)
	if err != nil {
		log.Printf("[engine] report query failed, serving sample data: %v", err)
		return e.sampleResult(config, start), nil
	}
	if len(rows) == 0 {
		log.Printf("[engine] report matched no rows, serving sample data")
		return e.sampleResult(config, start), nil
	}

	e.warmNames(ctx, config, rows)
	shaped := shapeRows(ctx, rows, config, e.names)

	return domain.AggregatedData{
		Data:          shaped,
		TotalCount:    len(shaped),
		FilteredCount: len(shaped),
		Truncated:     truncated,
		ExecutionTime: time.Since(start),
		Metadata:      metadataFor(config),
	}, nil
}

// fetchRows runs the query pipeline: introspection, join resolution,
// filter compilation and the escalating execution strategies. Panics from
// a misbehaving store client are converted to errors here so the outer
// boundary can degrade instead of crashing the caller.
func (e *Engine) fetchRows(ctx context.Context, config domain.ReportConfig) (rows []store.Row, truncated bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			rows, truncated = nil, false
			err = fmt.Errorf("store client panicked: %v", rec)
		}
	}()

	if e.client == nil {
		return nil, false, errors.New("store client unavailable")
	}

	plan, err := resolveJoin(config)
	if err != nil {
		return nil, false, err
	}
	mainColumns := e.introspector.Columns(ctx, plan.Main)

	if plan.NeedsJoin {
		childColumns := e.introspector.Columns(ctx, *plan.Related)
		rows, err := e.runJoinedAggregate(ctx, config, plan, mainColumns, childColumns)
		if err != nil {
			log.Printf("[engine] joined aggregate path unavailable (%v), falling back to sequential fetch-and-aggregate", err)
			rows, err = e.runSequentialAggregate(ctx, config, plan, mainColumns, childColumns)
		}
		if err != nil {
			return nil, false, err
		}
		rows, truncated := e.capRows(rows)
		return rows, truncated, nil
	}

	selectFields := e.selectFields(config, plan.Main, mainColumns)
	where := compileFilters(plan.Main.Table, config.Filters, mainColumns)
	where = append(where, compileIsolationFilters(plan.Main.Table, config.IsolationFilters, mainColumns)...)

	rows, err = e.client.Select(ctx, store.SelectRequest{
		Table:   plan.Main.Table,
		Columns: selectFields,
		Embeds:  e.embedsFor(config, selectFields),
		Where:   where,
		Limit:   e.rowCap,
	})
	if err != nil {
		return nil, false, fmt.Errorf("single-source query: %w", err)
	}
	rows, truncated = e.capRows(rows)
	return rows, truncated, nil
}

// selectFields builds the projection for the main source: dimension and
// measure fields belonging to it, segment fields, the always-include
// drill-down keys and the table-family keys, all validated against the
// introspected columns.
func (e *Engine) selectFields(config domain.ReportConfig, main domain.DataSource, actualColumns []string) []string {
	candidates := make([]string, 0, len(config.Dimensions)+len(config.Measures)+len(config.SegmentBy)+8)
	for _, dim := range config.Dimensions {
		if dim.Source == "" || dim.Source == main.ID {
			candidates = append(candidates, dim.Field)
		}
	}
	for _, measure := range config.Measures {
		if measure.Field == "*" {
			continue
		}
		if measure.DataSource == "" || measure.DataSource == main.ID {
			candidates = append(candidates, measure.Field)
		}
	}
	candidates = append(candidates, config.SegmentBy...)
	candidates = append(candidates, alwaysIncludeFields...)
	candidates = append(candidates, familyKeyFields[classifyTable(main.Table)]...)

	return schema.Intersect(main.Table, candidates, actualColumns)
}

// embedsFor inlines display-name columns for the commonly used reference
// relationships (program, site, submission) when the report segments by
// them, avoiding a second round trip for labels.
func (e *Engine) embedsFor(config domain.ReportConfig, selectFields []string) []store.Embed {
	selected := make(map[string]struct{}, len(selectFields))
	for _, field := range selectFields {
		selected[field] = struct{}{}
	}

	var embeds []store.Embed
	for _, field := range config.SegmentBy {
		kind, known := segmentKinds[field]
		if !known {
			continue
		}
		if _, ok := selected[field]; !ok {
			continue
		}
		spec := kindSpecs[kind]
		embeds = append(embeds, store.Embed{
			Relation:   spec.table,
			ForeignKey: spec.keyColumn,
			Columns:    []string{spec.nameColumn},
		})
	}
	return embeds
}

// runJoinedAggregate attempts the single join+group query over the
// raw-query execution channel.
func (e *Engine) runJoinedAggregate(
	ctx context.Context,
	config domain.ReportConfig,
	plan joinPlan,
	parentColumns []string,
	childColumns []string,
) ([]store.Row, error) {
	groupBy := make([]store.QualifiedColumn, 0, len(config.Dimensions))
	for _, dim := range config.Dimensions {
		switch {
		case dim.Source == "" || dim.Source == plan.Main.ID:
			if contains(parentColumns, dim.Field) {
				groupBy = append(groupBy, store.QualifiedColumn{Table: plan.Main.Table, Field: dim.Field})
			}
		case plan.Related != nil && dim.Source == plan.Related.ID:
			if contains(childColumns, dim.Field) {
				groupBy = append(groupBy, store.QualifiedColumn{Table: plan.Related.Table, Field: dim.Field})
			}
		}
	}

	aggregates := make([]store.AggregateColumn, 0, len(config.Measures))
	for _, measure := range config.Measures {
		if measure.Field != "*" && !contains(childColumns, measure.Field) {
			log.Printf("[engine] dropping measure %s: field %s not present in table %s", measure.Name, measure.Field, plan.Related.Table)
			continue
		}
		aggregates = append(aggregates, store.AggregateColumn{
			Func:  string(measure.Aggregation),
			Field: measure.Field,
			Alias: measure.Name,
		})
	}
	if len(aggregates) == 0 {
		return nil, errors.New("no measures survived schema validation for the joined path")
	}

	parentFilters, childFilters := splitFilters(config.Filters, parentColumns, childColumns)
	where := qualifyPredicates(compileFilters(plan.Main.Table, parentFilters, parentColumns), plan.Main.Table)
	where = append(where, qualifyPredicates(compileFilters(plan.Related.Table, childFilters, childColumns), plan.Related.Table)...)
	where = append(where, qualifyPredicates(compileIsolationFilters(plan.Main.Table, config.IsolationFilters, parentColumns), plan.Main.Table)...)

	rows, err := e.client.Aggregate(ctx, store.AggregateRequest{
		ParentTable: plan.Main.Table,
		ChildTable:  plan.Related.Table,
		JoinKey:     plan.JoinKey,
		GroupBy:     groupBy,
		Aggregates:  aggregates,
		Where:       where,
		Limit:       e.rowCap,
	})
	if err != nil {
		return nil, fmt.Errorf("joined aggregate query: %w", err)
	}
	return rows, nil
}

// runSequentialAggregate is the costlier fallback: fetch parent rows, then
// one child query per parent row, aggregating in process and attaching the
// measure values onto the parent row.
func (e *Engine) runSequentialAggregate(
	ctx context.Context,
	config domain.ReportConfig,
	plan joinPlan,
	parentColumns []string,
	childColumns []string,
) ([]store.Row, error) {
	parentFilters, childFilters := splitFilters(config.Filters, parentColumns, childColumns)

	parentWhere := compileFilters(plan.Main.Table, parentFilters, parentColumns)
	parentWhere = append(parentWhere, compileIsolationFilters(plan.Main.Table, config.IsolationFilters, parentColumns)...)

	parentSelect := e.selectFields(config, plan.Main, parentColumns)
	if !contains(parentSelect, plan.JoinKey) && contains(parentColumns, plan.JoinKey) {
		parentSelect = append(parentSelect, plan.JoinKey)
	}

	parents, err := e.client.Select(ctx, store.SelectRequest{
		Table:   plan.Main.Table,
		Columns: parentSelect,
		Where:   parentWhere,
		Limit:   e.rowCap,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch parent rows: %w", err)
	}

	measureFields := make([]string, 0, len(config.Measures))
	for _, measure := range config.Measures {
		if measure.Field != "*" && contains(childColumns, measure.Field) {
			measureFields = append(measureFields, measure.Field)
		}
	}
	childBaseWhere := compileFilters(plan.Related.Table, childFilters, childColumns)

	for _, parent := range parents {
		key, ok := parent[plan.JoinKey]
		if !ok || key == nil {
			attachAggregates(parent, nil, config.Measures)
			continue
		}
		childWhere := append(append([]store.Predicate(nil), childBaseWhere...),
			store.Conjunct(store.Condition{Field: plan.JoinKey, Op: store.OpEq, Value: key}))
		children, err := e.client.Select(ctx, store.SelectRequest{
			Table:   plan.Related.Table,
			Columns: measureFields,
			Where:   childWhere,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch child rows for %s=%v: %w", plan.JoinKey, key, err)
		}
		attachAggregates(parent, children, config.Measures)
	}
	return parents, nil
}

// attachAggregates computes each measure over the child rows and writes
// the result onto the parent row under the measure's unique name.
func attachAggregates(parent store.Row, children []store.Row, measures []domain.Measure) {
	for _, measure := range measures {
		parent[measure.Name] = aggregateValue(children, measure)
	}
}

func aggregateValue(children []store.Row, measure domain.Measure) any {
	if measure.Aggregation == domain.AggregationCount {
		if measure.Field == "*" {
			return len(children)
		}
		count := 0
		for _, child := range children {
			if value, ok := child[measure.Field]; ok && value != nil {
				count++
			}
		}
		return count
	}

	values := make([]float64, 0, len(children))
	for _, child := range children {
		if number, ok := toFloat(child[measure.Field]); ok {
			values = append(values, number)
		}
	}
	if len(values) == 0 {
		return nil
	}

	switch measure.Aggregation {
	case domain.AggregationSum:
		return sum(values)
	case domain.AggregationAvg:
		return sum(values) / float64(len(values))
	case domain.AggregationMin:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min
	case domain.AggregationMax:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max
	default:
		return nil
	}
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// splitFilters assigns each filter to the table that actually has its
// field, parent side winning ties; filters matching neither are dropped
// later by the compiler.
func splitFilters(filters []domain.Filter, parentColumns, childColumns []string) (parent []domain.Filter, child []domain.Filter) {
	for _, filter := range filters {
		switch {
		case contains(parentColumns, filter.Field):
			parent = append(parent, filter)
		case contains(childColumns, filter.Field):
			child = append(child, filter)
		default:
			// Leave it with the parent so the compiler logs the drop.
			parent = append(parent, filter)
		}
	}
	return parent, child
}

func qualifyPredicates(predicates []store.Predicate, table string) []store.Predicate {
	for i := range predicates {
		for j := range predicates[i].Conditions {
			if predicates[i].Conditions[j].Table == "" {
				predicates[i].Conditions[j].Table = table
			}
		}
	}
	return predicates
}

func contains(list []string, item string) bool {
	for _, candidate := range list {
		if candidate == item {
			return true
		}
	}
	return false
}

// capRows enforces the fixed row ceiling. Hitting it is logged as a soft
// warning; the truncated set still renders.
func (e *Engine) capRows(rows []store.Row) ([]store.Row, bool) {
	if len(rows) > e.rowCap {
		log.Printf("[engine] result truncated to row cap of %d (had %d)", e.rowCap, len(rows))
		return rows[:e.rowCap], true
	}
	if len(rows) == e.rowCap {
		log.Printf("[engine] result hit the row cap of %d; more rows may exist", e.rowCap)
		return rows, true
	}
	return rows, false
}

// warmNames dispatches at most one batched lookup per referenced entity
// kind and waits for all of them before shaping.
func (e *Engine) warmNames(ctx context.Context, config domain.ReportConfig, rows []store.Row) {
	if e.names == nil {
		return
	}
	ids := make(map[EntityKind][]string)
	seen := make(map[string]struct{})
	for _, field := range config.SegmentBy {
		kind, known := segmentKinds[field]
		if !known {
			continue
		}
		for _, row := range rows {
			value, ok := row[field]
			if !ok || value == nil {
				continue
			}
			id := fmt.Sprintf("%v", value)
			dedupeKey := string(kind) + ":" + id
			if _, dup := seen[dedupeKey]; dup {
				continue
			}
			seen[dedupeKey] = struct{}{}
			ids[kind] = append(ids[kind], id)
		}
	}
	if len(ids) > 0 {
		e.names.Warm(ctx, ids)
	}
}

func (e *Engine) sampleResult(config domain.ReportConfig, start time.Time) domain.AggregatedData {
	rows := generateSampleData(config, e.sampleRows)
	return domain.AggregatedData{
		Data:          rows,
		TotalCount:    len(rows),
		FilteredCount: len(rows),
		IsSample:      true,
		ExecutionTime: time.Since(start),
		Metadata:      metadataFor(config),
	}
}

func metadataFor(config domain.ReportConfig) domain.ReportMetadata {
	return domain.ReportMetadata{
		Dimensions:  config.Dimensions,
		Measures:    config.Measures,
		Filters:     config.Filters,
		Segments:    config.SegmentBy,
		LastUpdated: time.Now(),
	}
}
