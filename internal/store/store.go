// Package store defines the contract the report engine holds against the
// remote relational store, plus a Postgres-backed implementation. The
// engine only ever talks to the Client interface; tests substitute fakes
// and the engine tolerates the client being entirely unavailable.
package store

import (
	"context"
	"errors"
)

// Row is one record returned by the store, keyed by column name. Embedded
// relation columns appear as "<relation>.<column>" keys.
type Row map[string]any

// Op enumerates the store-level predicate operators.
type Op string

const (
	OpEq       Op = "eq"
	OpNeq      Op = "neq"
	OpILike    Op = "ilike"
	OpNotILike Op = "not_ilike"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpIn       Op = "in"
	OpNotIn    Op = "not_in"
	OpIsNull   Op = "is_null"
	OpNotNull  Op = "not_null"
	OpBetween  Op = "between"
)

// Condition is one column predicate. Value carries the operand for scalar
// operators; Values carries the operand list for OpIn/OpNotIn and the
// two-sided bound for OpBetween. Table qualifies the column in joined
// aggregate requests and is ignored for plain selects.
type Condition struct {
	Table  string
	Field  string
	Op     Op
	Value  any
	Values []any
}

// Predicate is a group of conditions. Conditions inside a disjunct
// predicate combine with OR; the predicates of a request always combine
// with AND.
type Predicate struct {
	Conditions []Condition
	Disjunct   bool
}

// Conjunct wraps a single condition in a conjunctive predicate.
func Conjunct(c Condition) Predicate {
	return Predicate{Conditions: []Condition{c}}
}

// Embed asks the store to inline a handful of columns from a related
// table, joined on ForeignKey = Relation's primary key, so callers avoid
// a second round trip for display names.
type Embed struct {
	Relation   string
	ForeignKey string
	Columns    []string
}

// SelectRequest is a table-scoped select with column projection.
type SelectRequest struct {
	Table   string
	Columns []string
	Embeds  []Embed
	Where   []Predicate
	Limit   int
}

// AggregateColumn is one aggregated output column of a joined aggregate
// request. The aggregate operand always lives on the child table.
type AggregateColumn struct {
	Func  string // sum, avg, count, min, max
	Field string
	Alias string
}

// QualifiedColumn names a column on a specific table of a joined request.
// An empty Table defaults to the parent side.
type QualifiedColumn struct {
	Table string
	Field string
}

// AggregateRequest expresses the joined aggregate path: parent joined to
// child on JoinKey, grouped by the GroupBy columns, producing one
// aggregate value per AggregateColumn.
type AggregateRequest struct {
	ParentTable string
	ChildTable  string
	JoinKey     string
	GroupBy     []QualifiedColumn
	Aggregates  []AggregateColumn
	Where       []Predicate
	Limit       int
}

// ErrRawQueryUnsupported is returned by clients that have no raw-query
// execution channel; the engine falls back to sequential
// fetch-and-aggregate when it sees it.
var ErrRawQueryUnsupported = errors.New("store does not support raw aggregate queries")

// Client is the store query contract the engine depends on.
type Client interface {
	Select(ctx context.Context, req SelectRequest) ([]Row, error)
	Aggregate(ctx context.Context, req AggregateRequest) ([]Row, error)
}
