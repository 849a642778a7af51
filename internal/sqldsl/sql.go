package sqldsl

import (
	"strings"
)

// JoinClause represents a SQL JOIN clause.
type JoinClause struct {
	Type  string // "INNER", "LEFT", "RIGHT", "FULL OUTER"
	Table TableExpr
	On    string
}

// SQL renders the JOIN clause.
func (j JoinClause) SQL() string {
	s := j.Type + " JOIN " + j.Table.TableSQL()
	if j.On == "" {
		return s
	}
	return s + " ON " + j.On
}

// SelectStmt represents a SELECT query whose parts are already rendered.
type SelectStmt struct {
	Distinct bool
	Columns  []string // empty renders *
	From     TableExpr
	Joins    []JoinClause
	Where    string
	GroupBy  []string
	Having   string
	OrderBy  []string
	Limit    string
	Offset   string
}

// SQL renders the SELECT statement on a single line.
func (s SelectStmt) SQL() string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if s.Distinct {
		sb.WriteString("DISTINCT ")
	}
	if len(s.Columns) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(s.Columns, ", "))
	}
	if s.From != nil {
		sb.WriteString(" FROM ")
		sb.WriteString(s.From.TableSQL())
	}
	for _, j := range s.Joins {
		sb.WriteString(" ")
		sb.WriteString(j.SQL())
	}
	if s.Where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(s.Where)
	}
	if len(s.GroupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(s.GroupBy, ", "))
	}
	if s.Having != "" {
		sb.WriteString(" HAVING ")
		sb.WriteString(s.Having)
	}
	if len(s.OrderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(s.OrderBy, ", "))
	}
	if s.Limit != "" {
		sb.WriteString(" LIMIT ")
		sb.WriteString(s.Limit)
	}
	if s.Offset != "" {
		sb.WriteString(" OFFSET ")
		sb.WriteString(s.Offset)
	}
	return sb.String()
}

// HasTail reports whether the statement carries ORDER BY, LIMIT or OFFSET,
// which must be parenthesized when the statement is a set-operation operand.
func (s SelectStmt) HasTail() bool {
	return len(s.OrderBy) > 0 || s.Limit != "" || s.Offset != ""
}

// =============================================================================
// Set operations
// =============================================================================

// SetOperation renders Left Op Right. A Right that is itself a set
// operation is parenthesized, so a chain nests to the right:
// a UNION (b INTERSECT c). Operands with a tail are parenthesized too.
type SetOperation struct {
	Left  SelectStmt
	Op    string // "UNION", "UNION ALL", "INTERSECT", "EXCEPT"
	Right Expr   // SelectStmt or SetOperation
}

// SQL renders the set operation.
func (s SetOperation) SQL() string {
	left := s.Left.SQL()
	if s.Left.HasTail() {
		left = "(" + left + ")"
	}
	var right string
	switch r := s.Right.(type) {
	case SetOperation:
		right = "(" + r.SQL() + ")"
	case SelectStmt:
		right = r.SQL()
		if r.HasTail() {
			right = "(" + right + ")"
		}
	default:
		right = r.SQL()
	}
	return left + " " + s.Op + " " + right
}

// =============================================================================
// INSERT
// =============================================================================

// InsertStmt represents INSERT INTO ... VALUES ... RETURNING ....
type InsertStmt struct {
	Table     string
	Columns   []string // quoted column names
	Rows      [][]string
	Returning []string
}

// SQL renders the INSERT statement.
func (s InsertStmt) SQL() string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(Ident(s.Table).SQL())
	sb.WriteString(" (")
	sb.WriteString(strings.Join(s.Columns, ", "))
	sb.WriteString(") VALUES ")
	rows := make([]string, len(s.Rows))
	for i, r := range s.Rows {
		rows[i] = "(" + strings.Join(r, ", ") + ")"
	}
	sb.WriteString(strings.Join(rows, ", "))
	if len(s.Returning) > 0 {
		sb.WriteString(" RETURNING ")
		sb.WriteString(strings.Join(s.Returning, ", "))
	}
	return sb.String()
}
