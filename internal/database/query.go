package database

import (
	"fmt"
	"strings"
)

type FilterOp string

const (
	OpEq   FilterOp = "eq"
	OpNe   FilterOp = "ne"
	OpGt   FilterOp = "gt"
	OpGte  FilterOp = "gte"
	OpLt   FilterOp = "lt"
	OpLte  FilterOp = "lte"
	OpLike FilterOp = "like"
	OpIn   FilterOp = "in"
)

type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// Query builds parameterized SELECT statements against a single table.
// Field names are trusted; values are always bound.
type Query struct {
	table   string
	columns []string
	filters []Filter
	sorts   []string
	limit   int
	offset  int
}

func NewQuery(table string, columns ...string) *Query {
	if len(columns) == 0 {
		columns = []string{"*"}
	}
	return &Query{table: table, columns: columns}
}

func (q *Query) Filter(field string, op FilterOp, value any) *Query {
	q.filters = append(q.filters, Filter{Field: field, Op: op, Value: value})
	return q
}

func (q *Query) Where(field string, value any) *Query {
	return q.Filter(field, OpEq, value)
}

// WhereIf adds an equality filter only when value is not the zero string.
func (q *Query) WhereIf(field, value string) *Query {
	if value == "" {
		return q
	}
	return q.Where(field, value)
}

func (q *Query) OrderBy(field string, order SortOrder) *Query {
	q.sorts = append(q.sorts, field+" "+string(order))
	return q
}

func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

func (q *Query) Offset(n int) *Query {
	q.offset = n
	return q
}

func (q *Query) Build() (string, []any) {
	var sb strings.Builder

	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(q.columns, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(q.table)

	where, args := q.where()
	sb.WriteString(where)

	if len(q.sorts) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(q.sorts, ", "))
	}

	if q.limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.limit)
		if q.offset > 0 {
			fmt.Fprintf(&sb, " OFFSET %d", q.offset)
		}
	}

	return sb.String(), args
}

func (q *Query) BuildCount() (string, []any) {
	where, args := q.where()
	return "SELECT COUNT(*) FROM " + q.table + where, args
}

func (q *Query) where() (string, []any) {
	if len(q.filters) == 0 {
		return "", nil
	}

	conditions := make([]string, 0, len(q.filters))
	var args []any
	for _, f := range q.filters {
		cond, fargs := buildFilter(f)
		conditions = append(conditions, cond)
		args = append(args, fargs...)
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

func buildFilter(f Filter) (string, []any) {
	switch f.Op {
	case OpNe:
		return f.Field + " != ?", []any{f.Value}
	case OpGt:
		return f.Field + " > ?", []any{f.Value}
	case OpGte:
		return f.Field + " >= ?", []any{f.Value}
	case OpLt:
		return f.Field + " < ?", []any{f.Value}
	case OpLte:
		return f.Field + " <= ?", []any{f.Value}
	case OpLike:
		return f.Field + " LIKE ?", []any{f.Value}
	case OpIn:
		values, ok := f.Value.([]any)
		if !ok || len(values) == 0 {
			return "1 = 0", nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		return fmt.Sprintf("%s IN (%s)", f.Field, placeholders), values
	default:
		return f.Field + " = ?", []any{f.Value}
	}
}

// ParseSortString parses "-field" / "+field" / "field".
func ParseSortString(s string) (field string, order SortOrder) {
	if strings.HasPrefix(s, "-") {
		return s[1:], SortDesc
	}
	if strings.HasPrefix(s, "+") {
		return s[1:], SortAsc
	}
	return s, SortAsc
}
