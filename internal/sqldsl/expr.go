package sqldsl

import "strings"

// Expr is the interface that all SQL expression types implement.
type Expr interface {
	SQL() string
}

// Raw is already-rendered SQL produced by the compiler.
type Raw string

// SQL renders the raw SQL as-is.
func (r Raw) SQL() string {
	return string(r)
}

// Paren wraps an expression in parentheses.
type Paren struct {
	Expr Expr
}

// SQL renders the parenthesized expression.
func (p Paren) SQL() string {
	return "(" + p.Expr.SQL() + ")"
}

// Func represents a SQL function call.
type Func struct {
	Name     string
	Distinct bool
	Args     []Expr
}

// SQL renders the function call.
func (f Func) SQL() string {
	args := make([]string, len(f.Args))
	for i, arg := range f.Args {
		args[i] = arg.SQL()
	}
	prefix := ""
	if f.Distinct {
		prefix = "DISTINCT "
	}
	return f.Name + "(" + prefix + strings.Join(args, ", ") + ")"
}

// Alias wraps an expression with an alias (expr AS "alias").
type Alias struct {
	Expr Expr
	Name string
}

// SQL renders the aliased expression.
func (a Alias) SQL() string {
	if a.Name == "" {
		return a.Expr.SQL()
	}
	return a.Expr.SQL() + " AS " + Ident(a.Name).SQL()
}

// Cast renders CAST(expr AS type).
type Cast struct {
	Expr Expr
	Type string
}

// SQL renders the cast.
func (c Cast) SQL() string {
	return "CAST(" + c.Expr.SQL() + " AS " + c.Type + ")"
}

// =============================================================================
// Logical operators
// =============================================================================

// joinExprs renders expressions joined by sep inside one parenthesis pair.
func joinExprs(exprs []Expr, sep string) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.SQL()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// AndExpr represents a logical AND of multiple expressions.
type AndExpr struct {
	Exprs []Expr
}

func (a AndExpr) SQL() string { return joinExprs(a.Exprs, " AND ") }

// And creates an AND expression.
func And(exprs ...Expr) AndExpr { return AndExpr{Exprs: exprs} }

// OrExpr represents a logical OR of multiple expressions.
type OrExpr struct {
	Exprs []Expr
}

func (o OrExpr) SQL() string { return joinExprs(o.Exprs, " OR ") }

// Or creates an OR expression.
func Or(exprs ...Expr) OrExpr { return OrExpr{Exprs: exprs} }

// Exists represents an EXISTS subquery.
type Exists struct {
	Query Expr
}

func (e Exists) SQL() string { return "EXISTS (" + e.Query.SQL() + ")" }

// NotExists represents a NOT EXISTS subquery.
type NotExists struct {
	Query Expr
}

func (n NotExists) SQL() string { return "NOT EXISTS (" + n.Query.SQL() + ")" }

// Quantified renders OP ANY(...) / OP ALL(...).
type Quantified struct {
	Quantifier string // "ANY" or "ALL"
	Expr       Expr
}

func (q Quantified) SQL() string { return q.Quantifier + "(" + q.Expr.SQL() + ")" }

// List renders a comma separated, parenthesized list: ($1, $2).
type List []Expr

func (l List) SQL() string {
	parts := make([]string, len(l))
	for i, e := range l {
		parts[i] = e.SQL()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ArrayLiteral represents a typed SQL array literal: ARRAY[...]::type[].
type ArrayLiteral struct {
	Elems []Expr
	Type  string
}

// SQL renders the array literal. An empty array still carries its type so
// PostgreSQL can resolve the operator.
func (a ArrayLiteral) SQL() string {
	parts := make([]string, len(a.Elems))
	for i, v := range a.Elems {
		parts[i] = v.SQL()
	}
	return "ARRAY[" + strings.Join(parts, ", ") + "]::" + a.Type + "[]"
}
