// Package sqldsl provides the textual back end of the query compiler.
//
// # Overview
//
// The compiler in pkg/query decides what a statement means: which identifiers
// are legal, which literals become placeholders, how conditions nest. This
// package only decides how the pieces are spelled. Every type here renders
// already-validated fragments into PostgreSQL syntax and never inspects
// caller-supplied values.
//
// # Core Interfaces
//
// All DSL types implement one of two interfaces:
//
//   - Expr: renders an expression fragment (identifiers, placeholders, arrays)
//   - TableExpr: renders a FROM or JOIN target
//
// Statements (SelectStmt, InsertStmt, SetOperation) render complete SQL through
// their SQL() method.
//
// # Expression Types
//
//	Ident("users")                     // "users"
//	Qualified("u", "id")               // "u"."id"
//	Raw("$1")                          // already rendered SQL
//	ArrayLiteral{Elems: ..., Type: "int"} // ARRAY[$1, $2]::int[]
//	And(a, b) / Or(a, b)               // (a AND b) / (a OR b)
//
// # Statement Types
//
//	SelectStmt{
//	    Columns: []string{`"id"`},
//	    From:    TableRef{Name: "users", Alias: "u"},
//	    Where:   `"u"."id" = $1`,
//	}
//
// Statements render on a single line. Placeholder numbering is owned by the
// caller, which must emit fragments in textual order.
package sqldsl
