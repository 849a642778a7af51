// Package query compiles structured query specifications into parameterized
// PostgreSQL statements.
//
// A query is described as data: a *Select (or *Insert) value naming a
// registered table, its projection, filter conditions, joins, grouping,
// ordering, paging and set operations. The compiler turns it into a single
// SQL string plus the ordered values bound to its $n placeholders:
//
//	users := reg.MustRegister("users", map[string]schema.Column{...})
//	stmt, err := query.Compile(&query.Select{
//		Table:   users,
//		Columns: query.Columns("id", "email"),
//		Where:   query.And(
//			query.Filter(query.Col("age"), query.Between(18, 30)),
//			query.Filter(query.Col("email"), query.EndsWith("@example.com")),
//		),
//		Limit: 10,
//	})
//	// stmt.SQL:    SELECT "id", "email" FROM "users" WHERE ("age" BETWEEN $1 AND $2 AND "email" LIKE $3) LIMIT $4
//	// stmt.Values: [18 30 %@example.com 10]
//
// Every identifier in the output is checked against the allow-list of the
// scope it appears in (the base table, joined tables, derived tables and the
// enclosing queries for correlated subqueries) and double-quoted. Every
// literal is bound as a placeholder. Placeholders are numbered in the order
// they appear in the SQL text, so compiling the same specification twice
// yields identical output.
//
// Expressions beyond plain columns (aggregates, casts, window functions, JSON
// paths) are supplied as *Field values built by package expr. A Field is a
// single-use thunk the compiler invokes with the live compilation Context.
//
// The Decoder accepts the same specification as a map (typically parsed from
// YAML or JSON) for callers that receive queries as data.
package query
