package sqldsl

// TableExpr is the interface for table expressions in FROM and JOIN clauses.
type TableExpr interface {
	// TableSQL returns the SQL for use in FROM/JOIN clauses.
	TableSQL() string
}

// TableRef references a physical table, optionally aliased: "users" "u".
type TableRef struct {
	Name  string
	Alias string
}

// TableSQL implements TableExpr.
func (t TableRef) TableSQL() string {
	if t.Alias != "" {
		return Ident(t.Name).SQL() + " " + Ident(t.Alias).SQL()
	}
	return Ident(t.Name).SQL()
}

// SubqueryTable is a derived table: (SELECT ...) AS "alias".
type SubqueryTable struct {
	Query Expr
	Alias string
}

// TableSQL implements TableExpr.
func (s SubqueryTable) TableSQL() string {
	return "(" + s.Query.SQL() + ") AS " + Ident(s.Alias).SQL()
}
