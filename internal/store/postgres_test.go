package store

import (
	"strings"
	"testing"
)

func TestBuildSelectSQL(t *testing.T) {
	sql, args, err := buildSelectSQL(SelectRequest{
		Table:   "petri_observations",
		Columns: []string{"petri_code", "growth_index"},
		Where: []Predicate{
			Conjunct(Condition{Field: "site_id", Op: OpEq, Value: "site-1"}),
		},
		Limit: 500,
	})
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}

	want := `SELECT "petri_observations"."petri_code", "petri_observations"."growth_index"` +
		` FROM "petri_observations" WHERE "petri_observations"."site_id" = $1 LIMIT $2`
	if sql != want {
		t.Fatalf("sql mismatch:\n got:  %s\n want: %s", sql, want)
	}
	if len(args) != 2 || args[0] != "site-1" || args[1] != 500 {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestBuildSelectSQLWithEmbeds(t *testing.T) {
	sql, _, err := buildSelectSQL(SelectRequest{
		Table:   "petri_observations",
		Columns: []string{"site_id"},
		Embeds: []Embed{{
			Relation:   "sites",
			ForeignKey: "site_id",
			Columns:    []string{"name"},
		}},
	})
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}
	if !strings.Contains(sql, `"sites"."name" AS "sites.name"`) {
		t.Fatalf("embedded column not aliased: %s", sql)
	}
	if !strings.Contains(sql, `LEFT JOIN "sites" ON "petri_observations"."site_id" = "sites"."site_id"`) {
		t.Fatalf("embed join missing: %s", sql)
	}
}

func TestBuildSelectSQLDisjunctGroups(t *testing.T) {
	sql, args, err := buildSelectSQL(SelectRequest{
		Table: "petri_observations",
		Where: []Predicate{
			{
				Disjunct: true,
				Conditions: []Condition{
					{Field: "placement", Op: OpEq, Value: "North Wall"},
					{Field: "placement", Op: OpEq, Value: "South Wall"},
				},
			},
			Conjunct(Condition{Field: "site_id", Op: OpIn, Values: []any{"site-1"}}),
		},
	})
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}
	if !strings.Contains(sql, `("petri_observations"."placement" = $1 OR "petri_observations"."placement" = $2)`) {
		t.Fatalf("disjunct group not parenthesized: %s", sql)
	}
	if !strings.Contains(sql, `"petri_observations"."site_id" = ANY($3)`) {
		t.Fatalf("IN predicate missing: %s", sql)
	}
	if !strings.Contains(sql, ") AND ") {
		t.Fatalf("groups must AND together: %s", sql)
	}
	if len(args) != 3 {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestBuildSelectSQLOperators(t *testing.T) {
	cases := []struct {
		cond Condition
		want string
	}{
		{Condition{Field: "f", Op: OpNeq, Value: 1}, `<> $1`},
		{Condition{Field: "f", Op: OpILike, Value: "%x%"}, `ILIKE $1`},
		{Condition{Field: "f", Op: OpNotILike, Value: "%x%"}, `NOT ILIKE $1`},
		{Condition{Field: "f", Op: OpGte, Value: 1}, `>= $1`},
		{Condition{Field: "f", Op: OpNotIn, Values: []any{1}}, `<> ALL($1)`},
		{Condition{Field: "f", Op: OpIsNull}, `IS NULL`},
		{Condition{Field: "f", Op: OpNotNull}, `IS NOT NULL`},
		{Condition{Field: "f", Op: OpBetween, Values: []any{1, 5}}, `BETWEEN $1 AND $2`},
	}
	for _, tc := range cases {
		sql, _, err := buildSelectSQL(SelectRequest{
			Table: "t",
			Where: []Predicate{Conjunct(tc.cond)},
		})
		if err != nil {
			t.Fatalf("%s: build returned error: %v", tc.cond.Op, err)
		}
		if !strings.Contains(sql, tc.want) {
			t.Fatalf("%s: expected %q in %s", tc.cond.Op, tc.want, sql)
		}
	}
}

func TestBuildSelectSQLRequiresTable(t *testing.T) {
	if _, _, err := buildSelectSQL(SelectRequest{}); err == nil {
		t.Fatalf("expected error for missing table")
	}
}

func TestBuildAggregateSQL(t *testing.T) {
	sql, args, err := buildAggregateSQL(AggregateRequest{
		ParentTable: "submissions",
		ChildTable:  "petri_observations",
		JoinKey:     "submission_id",
		GroupBy: []QualifiedColumn{
			{Field: "global_submission_id"},
			{Table: "petri_observations", Field: "placement"},
		},
		Aggregates: []AggregateColumn{
			{Func: "avg", Field: "growth_index", Alias: "avg_growth"},
			{Func: "count", Field: "*", Alias: "observations"},
		},
		Where: []Predicate{
			Conjunct(Condition{Table: "submissions", Field: "site_id", Op: OpEq, Value: "site-1"}),
		},
		Limit: 500,
	})
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}

	if !strings.Contains(sql, `"submissions"."global_submission_id" AS "global_submission_id"`) {
		t.Fatalf("parent group column missing: %s", sql)
	}
	if !strings.Contains(sql, `"petri_observations"."placement" AS "placement"`) {
		t.Fatalf("child group column missing: %s", sql)
	}
	if !strings.Contains(sql, `AVG("petri_observations"."growth_index") AS "avg_growth"`) {
		t.Fatalf("aggregate column missing: %s", sql)
	}
	if !strings.Contains(sql, `COUNT(*) AS "observations"`) {
		t.Fatalf("count(*) column missing: %s", sql)
	}
	if !strings.Contains(sql, `JOIN "petri_observations" ON "submissions"."submission_id" = "petri_observations"."submission_id"`) {
		t.Fatalf("join clause missing: %s", sql)
	}
	if !strings.Contains(sql, `GROUP BY "submissions"."global_submission_id", "petri_observations"."placement"`) {
		t.Fatalf("group by missing: %s", sql)
	}
	if len(args) != 2 {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestBuildAggregateSQLRejectsUnknownFunc(t *testing.T) {
	_, _, err := buildAggregateSQL(AggregateRequest{
		ParentTable: "submissions",
		ChildTable:  "petri_observations",
		JoinKey:     "submission_id",
		Aggregates:  []AggregateColumn{{Func: "median", Field: "growth_index", Alias: "m"}},
	})
	if err == nil {
		t.Fatalf("expected error for unsupported aggregate function")
	}
}

func TestBuildAggregateSQLRequiresJoinShape(t *testing.T) {
	_, _, err := buildAggregateSQL(AggregateRequest{
		ParentTable: "submissions",
		Aggregates:  []AggregateColumn{{Func: "count", Field: "*", Alias: "n"}},
	})
	if err == nil {
		t.Fatalf("expected error for incomplete join shape")
	}
}

func TestQuoteIdentEscapesQuotes(t *testing.T) {
	if got := quoteIdent(`weird"name`); got != `"weird""name"` {
		t.Fatalf("quoteIdent = %s", got)
	}
}
