// Package schema discovers the live column set of report data sources so
// the engine never queries fields that no longer exist.
package schema

import (
	"context"
	"log"

	"github.com/gxplab/reportengine/internal/domain"
	"github.com/gxplab/reportengine/internal/store"
)

// Introspector probes tables for their actual columns at run time.
type Introspector struct {
	client store.Client
}

// NewIntrospector builds an introspector over the given store client. A
// nil client is tolerated; every lookup then falls back to declared fields.
func NewIntrospector(client store.Client) *Introspector {
	return &Introspector{client: client}
}

// Columns returns the ground-truth column set of the source's table: the
// key set of a single probed row. Any failure (network error, empty table,
// introspection not permitted) degrades to the source's declared field
// list. It never returns an error; a stale report definition must not
// break the dashboard.
func (i *Introspector) Columns(ctx context.Context, source domain.DataSource) []string {
	declared := source.FieldNames()
	if i == nil || i.client == nil {
		return declared
	}

	rows, err := i.client.Select(ctx, store.SelectRequest{
		Table: source.Table,
		Limit: 1,
	})
	if err != nil {
		log.Printf("[schema] introspection of %s failed, using declared fields: %v", source.Table, err)
		return declared
	}
	if len(rows) == 0 {
		log.Printf("[schema] table %s is empty, using declared fields", source.Table)
		return declared
	}

	columns := make([]string, 0, len(rows[0]))
	for name := range rows[0] {
		columns = append(columns, name)
	}
	return columns
}

// Intersect filters candidate field names down to those present in the
// introspected column set, logging every dropped field.
func Intersect(table string, candidates []string, actual []string) []string {
	known := make(map[string]struct{}, len(actual))
	for _, column := range actual {
		known[column] = struct{}{}
	}

	kept := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, field := range candidates {
		if field == "" {
			continue
		}
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		if _, ok := known[field]; !ok {
			log.Printf("[schema] dropping field %s: not present in table %s", field, table)
			continue
		}
		kept = append(kept, field)
	}
	return kept
}
