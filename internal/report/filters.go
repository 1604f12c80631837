package report

import (
	"fmt"
	"log"
	"sort"

	"github.com/gxplab/reportengine/internal/domain"
	"github.com/gxplab/reportengine/internal/store"
)

// compileFilters converts user-authored filter predicates into store
// predicates. Filters whose field is absent from the table's actual
// columns are dropped with a log line, never an error. Multiple
// equals/contains filters on the same field widen the match (OR); every
// other combination narrows it (AND).
func compileFilters(table string, filters []domain.Filter, actualColumns []string) []store.Predicate {
	known := make(map[string]struct{}, len(actualColumns))
	for _, column := range actualColumns {
		known[column] = struct{}{}
	}

	groups := make(map[string][]domain.Filter)
	order := make([]string, 0, len(filters))
	for _, filter := range filters {
		if filter.Field == "" {
			continue
		}
		if _, ok := known[filter.Field]; !ok {
			log.Printf("[engine] dropping filter on %s: field not present in table %s", filter.Field, table)
			continue
		}
		if _, seen := groups[filter.Field]; !seen {
			order = append(order, filter.Field)
		}
		groups[filter.Field] = append(groups[filter.Field], filter)
	}

	predicates := make([]store.Predicate, 0, len(order))
	for _, field := range order {
		group := groups[field]
		if len(group) > 1 && allWidening(group) {
			// Repeated single-value filter rows on one field mean
			// "value is A or B" in the report builder UX.
			conditions := make([]store.Condition, 0, len(group))
			for _, filter := range group {
				if cond, ok := compileCondition(filter); ok {
					conditions = append(conditions, cond)
				}
			}
			if len(conditions) > 0 {
				predicates = append(predicates, store.Predicate{Conditions: conditions, Disjunct: true})
			}
			continue
		}
		for _, filter := range group {
			if cond, ok := compileCondition(filter); ok {
				predicates = append(predicates, store.Conjunct(cond))
			}
		}
	}
	return predicates
}

// allWidening reports whether every filter in a same-field group uses an
// operator the OR-grouping heuristic applies to. Repeated not_equals or
// numeric comparisons stay AND'd: two greater_than filters narrow rather
// than widen.
func allWidening(group []domain.Filter) bool {
	for _, filter := range group {
		switch filter.Operator {
		case domain.FilterEquals, domain.FilterContains:
		default:
			return false
		}
	}
	return true
}

func compileCondition(filter domain.Filter) (store.Condition, bool) {
	switch filter.Operator {
	case domain.FilterEquals:
		return store.Condition{Field: filter.Field, Op: store.OpEq, Value: filter.Value}, true
	case domain.FilterNotEquals:
		return store.Condition{Field: filter.Field, Op: store.OpNeq, Value: filter.Value}, true
	case domain.FilterContains:
		return store.Condition{Field: filter.Field, Op: store.OpILike, Value: wildcard(filter.Value)}, true
	case domain.FilterNotContains:
		return store.Condition{Field: filter.Field, Op: store.OpNotILike, Value: wildcard(filter.Value)}, true
	case domain.FilterGreaterThan:
		return store.Condition{Field: filter.Field, Op: store.OpGt, Value: filter.Value}, true
	case domain.FilterLessThan:
		return store.Condition{Field: filter.Field, Op: store.OpLt, Value: filter.Value}, true
	case domain.FilterGreaterThanOrEqual:
		return store.Condition{Field: filter.Field, Op: store.OpGte, Value: filter.Value}, true
	case domain.FilterLessThanOrEqual:
		return store.Condition{Field: filter.Field, Op: store.OpLte, Value: filter.Value}, true
	case domain.FilterIn:
		return store.Condition{Field: filter.Field, Op: store.OpIn, Values: valueList(filter.Value)}, true
	case domain.FilterNotIn:
		return store.Condition{Field: filter.Field, Op: store.OpNotIn, Values: valueList(filter.Value)}, true
	case domain.FilterIsNull:
		return store.Condition{Field: filter.Field, Op: store.OpIsNull}, true
	case domain.FilterIsNotNull:
		return store.Condition{Field: filter.Field, Op: store.OpNotNull}, true
	case domain.FilterBetween, domain.FilterRange:
		bounds := valueList(filter.Value)
		if len(bounds) != 2 {
			log.Printf("[engine] dropping %s filter on %s: expected two bounds, got %d", filter.Operator, filter.Field, len(bounds))
			return store.Condition{}, false
		}
		return store.Condition{Field: filter.Field, Op: store.OpBetween, Values: bounds}, true
	default:
		log.Printf("[engine] dropping filter on %s: unknown operator %q", filter.Field, filter.Operator)
		return store.Condition{}, false
	}
}

func wildcard(value any) string {
	return fmt.Sprintf("%%%v%%", value)
}

func valueList(value any) []any {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []string:
		list := make([]any, len(v))
		for i, item := range v {
			list[i] = item
		}
		return list
	case []int:
		list := make([]any, len(v))
		for i, item := range v {
			list[i] = item
		}
		return list
	case []float64:
		list := make([]any, len(v))
		for i, item := range v {
			list[i] = item
		}
		return list
	default:
		return []any{value}
	}
}

// compileIsolationFilters turns per-widget isolation filters into
// unconditional IN restrictions. They are layered on top of the ordinary
// filter predicates and never participate in OR grouping.
func compileIsolationFilters(table string, isolation domain.IsolationFilters, actualColumns []string) []store.Predicate {
	if len(isolation) == 0 {
		return nil
	}
	known := make(map[string]struct{}, len(actualColumns))
	for _, column := range actualColumns {
		known[column] = struct{}{}
	}

	fields := make([]string, 0, len(isolation))
	for field := range isolation {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	predicates := make([]store.Predicate, 0, len(fields))
	for _, field := range fields {
		values := isolation[field]
		if len(values) == 0 {
			continue
		}
		if _, ok := known[field]; !ok {
			log.Printf("[engine] dropping isolation filter on %s: field not present in table %s", field, table)
			continue
		}
		list := make([]any, len(values))
		for i, value := range values {
			list[i] = value
		}
		predicates = append(predicates, store.Conjunct(store.Condition{
			Field:  field,
			Op:     store.OpIn,
			Values: list,
		}))
	}
	return predicates
}
