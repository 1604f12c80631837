package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresClient implements Client against a pgx connection pool.
type PostgresClient struct {
	pool *pgxpool.Pool
}

// NewPostgresClient wraps a pool in the store client contract.
func NewPostgresClient(pool *pgxpool.Pool) *PostgresClient {
	return &PostgresClient{pool: pool}
}

type sqlBuilder struct {
	args []any
}

func newSQLBuilder() *sqlBuilder {
	return &sqlBuilder{args: make([]any, 0)}
}

func (b *sqlBuilder) addArg(value any) int {
	b.args = append(b.args, value)
	return len(b.args)
}

func (b *sqlBuilder) placeholder(idx int) string {
	return fmt.Sprintf("$%d", idx)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func qualify(table, column string) string {
	if table == "" {
		return quoteIdent(column)
	}
	return quoteIdent(table) + "." + quoteIdent(column)
}

// Select executes a table-scoped projection with predicate composition and
// optional relationship embedding.
func (c *PostgresClient) Select(ctx context.Context, req SelectRequest) ([]Row, error) {
	sql, args, err := buildSelectSQL(req)
	if err != nil {
		return nil, err
	}
	return c.query(ctx, sql, args)
}

func buildSelectSQL(req SelectRequest) (string, []any, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("select request missing table")
	}

	builder := newSQLBuilder()

	selectList := make([]string, 0, len(req.Columns)+4)
	if len(req.Columns) == 0 {
		selectList = append(selectList, quoteIdent(req.Table)+".*")
	}
	for _, column := range req.Columns {
		selectList = append(selectList, qualify(req.Table, column))
	}
	for _, embed := range req.Embeds {
		for _, column := range embed.Columns {
			alias := embed.Relation + "." + column
			selectList = append(selectList, fmt.Sprintf("%s AS %s",
				qualify(embed.Relation, column), quoteIdent(alias)))
		}
	}

	var sql strings.Builder
	sql.WriteString("SELECT ")
	sql.WriteString(strings.Join(selectList, ", "))
	sql.WriteString(" FROM ")
	sql.WriteString(quoteIdent(req.Table))

	for _, embed := range req.Embeds {
		sql.WriteString(fmt.Sprintf(" LEFT JOIN %s ON %s = %s",
			quoteIdent(embed.Relation),
			qualify(req.Table, embed.ForeignKey),
			qualify(embed.Relation, embed.ForeignKey)))
	}

	whereSQL := buildWhere(req.Where, req.Table, builder)
	if whereSQL != "" {
		sql.WriteString(" WHERE ")
		sql.WriteString(whereSQL)
	}

	if req.Limit > 0 {
		limitIdx := builder.addArg(req.Limit)
		sql.WriteString(" LIMIT ")
		sql.WriteString(builder.placeholder(limitIdx))
	}

	return sql.String(), builder.args, nil
}

// Aggregate executes the joined aggregate path as a single server-side
// join+group query.
func (c *PostgresClient) Aggregate(ctx context.Context, req AggregateRequest) ([]Row, error) {
	sql, args, err := buildAggregateSQL(req)
	if err != nil {
		return nil, err
	}
	return c.query(ctx, sql, args)
}

func buildAggregateSQL(req AggregateRequest) (string, []any, error) {
	if req.ParentTable == "" || req.ChildTable == "" || req.JoinKey == "" {
		return "", nil, fmt.Errorf("aggregate request missing join shape")
	}
	if len(req.Aggregates) == 0 {
		return "", nil, fmt.Errorf("aggregate request has no aggregate columns")
	}

	builder := newSQLBuilder()

	selectList := make([]string, 0, len(req.GroupBy)+len(req.Aggregates))
	groupList := make([]string, 0, len(req.GroupBy))
	for _, column := range req.GroupBy {
		table := column.Table
		if table == "" {
			table = req.ParentTable
		}
		expr := qualify(table, column.Field)
		selectList = append(selectList, fmt.Sprintf("%s AS %s", expr, quoteIdent(column.Field)))
		groupList = append(groupList, expr)
	}
	for _, agg := range req.Aggregates {
		fn := strings.ToUpper(agg.Func)
		switch fn {
		case "COUNT", "SUM", "AVG", "MIN", "MAX":
		default:
			return "", nil, fmt.Errorf("unsupported aggregate function %q", agg.Func)
		}
		operand := qualify(req.ChildTable, agg.Field)
		if agg.Field == "*" {
			operand = "*"
		}
		selectList = append(selectList, fmt.Sprintf("%s(%s) AS %s", fn, operand, quoteIdent(agg.Alias)))
	}

	var sql strings.Builder
	sql.WriteString("SELECT ")
	sql.WriteString(strings.Join(selectList, ", "))
	sql.WriteString(fmt.Sprintf(" FROM %s JOIN %s ON %s = %s",
		quoteIdent(req.ParentTable),
		quoteIdent(req.ChildTable),
		qualify(req.ParentTable, req.JoinKey),
		qualify(req.ChildTable, req.JoinKey)))

	whereSQL := buildWhere(req.Where, req.ParentTable, builder)
	if whereSQL != "" {
		sql.WriteString(" WHERE ")
		sql.WriteString(whereSQL)
	}

	if len(groupList) > 0 {
		sql.WriteString(" GROUP BY ")
		sql.WriteString(strings.Join(groupList, ", "))
	}

	if req.Limit > 0 {
		limitIdx := builder.addArg(req.Limit)
		sql.WriteString(" LIMIT ")
		sql.WriteString(builder.placeholder(limitIdx))
	}

	return sql.String(), builder.args, nil
}

func (c *PostgresClient) query(ctx context.Context, sql string, args []any) ([]Row, error) {
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var result []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		row := make(Row, len(fields))
		for i, field := range fields {
			row[string(field.Name)] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

func buildWhere(predicates []Predicate, defaultTable string, builder *sqlBuilder) string {
	groups := make([]string, 0, len(predicates))
	for _, predicate := range predicates {
		clauses := make([]string, 0, len(predicate.Conditions))
		for _, cond := range predicate.Conditions {
			clause := conditionSQL(cond, defaultTable, builder)
			if clause != "" {
				clauses = append(clauses, clause)
			}
		}
		if len(clauses) == 0 {
			continue
		}
		if predicate.Disjunct && len(clauses) > 1 {
			groups = append(groups, "("+strings.Join(clauses, " OR ")+")")
		} else {
			groups = append(groups, strings.Join(clauses, " AND "))
		}
	}
	return strings.Join(groups, " AND ")
}

func conditionSQL(cond Condition, defaultTable string, builder *sqlBuilder) string {
	if cond.Field == "" {
		return ""
	}
	table := cond.Table
	if table == "" {
		table = defaultTable
	}
	column := qualify(table, cond.Field)

	switch cond.Op {
	case OpEq:
		return fmt.Sprintf("%s = %s", column, builder.placeholder(builder.addArg(cond.Value)))
	case OpNeq:
		return fmt.Sprintf("%s <> %s", column, builder.placeholder(builder.addArg(cond.Value)))
	case OpILike:
		return fmt.Sprintf("%s ILIKE %s", column, builder.placeholder(builder.addArg(cond.Value)))
	case OpNotILike:
		return fmt.Sprintf("%s NOT ILIKE %s", column, builder.placeholder(builder.addArg(cond.Value)))
	case OpGt:
		return fmt.Sprintf("%s > %s", column, builder.placeholder(builder.addArg(cond.Value)))
	case OpGte:
		return fmt.Sprintf("%s >= %s", column, builder.placeholder(builder.addArg(cond.Value)))
	case OpLt:
		return fmt.Sprintf("%s < %s", column, builder.placeholder(builder.addArg(cond.Value)))
	case OpLte:
		return fmt.Sprintf("%s <= %s", column, builder.placeholder(builder.addArg(cond.Value)))
	case OpIn:
		return fmt.Sprintf("%s = ANY(%s)", column, builder.placeholder(builder.addArg(cond.Values)))
	case OpNotIn:
		return fmt.Sprintf("%s <> ALL(%s)", column, builder.placeholder(builder.addArg(cond.Values)))
	case OpIsNull:
		return fmt.Sprintf("%s IS NULL", column)
	case OpNotNull:
		return fmt.Sprintf("%s IS NOT NULL", column)
	case OpBetween:
		if len(cond.Values) != 2 {
			return ""
		}
		lo := builder.placeholder(builder.addArg(cond.Values[0]))
		hi := builder.placeholder(builder.addArg(cond.Values[1]))
		return fmt.Sprintf("%s BETWEEN %s AND %s", column, lo, hi)
	default:
		return ""
	}
}
