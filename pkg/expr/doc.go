// Package expr builds query.Field expressions: column references, JSON
// paths, literals, casts, aggregates, scalar functions and window functions.
//
// Builders are plain functions returning a fresh single-use *query.Field.
// Function arguments of type string name columns and are validated against
// the scope the field is compiled in; other literals are bound as
// placeholders; *query.Field arguments nest.
//
//	query.As(expr.Count("id"), "n")
//	expr.Over(expr.Sum("amount"), expr.Window{PartitionBy: []any{"account_id"}})
//	expr.Cast("created_at", "date")
//
// Standard returns the same vocabulary as a query.FunctionSet for the
// Decoder.
package expr
