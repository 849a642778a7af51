package expr

import (
	"github.com/pthm/pgquery/internal/sqldsl"
	"github.com/pthm/pgquery/pkg/query"
)

// aggregate builds an aggregate call. Its arguments are rendered inside
// ctx.Aggregate, so they need not be grouped and may not aggregate again.
func aggregate(name string, distinct bool, as ...any) *query.Field {
	return query.NewField(name, func(ctx *query.Context) (query.Fragment, error) {
		s, err := ctx.Aggregate(func(inner *query.Context) (string, error) {
			rendered, err := args(inner, as)
			if err != nil {
				return "", err
			}
			return sqldsl.Func{Name: name, Distinct: distinct, Args: rendered}.SQL(), nil
		})
		if err != nil {
			return query.Fragment{}, err
		}
		return ctx.Emit(s), nil
	})
}

// Count renders count(a).
func Count(a any) *query.Field { return aggregate("count", false, a) }

// CountAll renders count(*).
func CountAll() *query.Field {
	return query.NewField("count", func(ctx *query.Context) (query.Fragment, error) {
		s, err := ctx.Aggregate(func(*query.Context) (string, error) {
			return "count(*)", nil
		})
		if err != nil {
			return query.Fragment{}, err
		}
		return ctx.Emit(s), nil
	})
}

// CountDistinct renders count(DISTINCT a).
func CountDistinct(a any) *query.Field { return aggregate("count", true, a) }

func Sum(a any) *query.Field      { return aggregate("sum", false, a) }
func Avg(a any) *query.Field      { return aggregate("avg", false, a) }
func Min(a any) *query.Field      { return aggregate("min", false, a) }
func Max(a any) *query.Field      { return aggregate("max", false, a) }
func ArrayAgg(a any) *query.Field { return aggregate("array_agg", false, a) }
func BoolAnd(a any) *query.Field  { return aggregate("bool_and", false, a) }
func BoolOr(a any) *query.Field   { return aggregate("bool_or", false, a) }
func JSONAgg(a any) *query.Field  { return aggregate("json_agg", false, a) }

// StringAgg renders string_agg(a, $n::text) with the separator bound.
func StringAgg(a any, sep string) *query.Field {
	return query.NewField("string_agg", func(ctx *query.Context) (query.Fragment, error) {
		s, err := ctx.Aggregate(func(inner *query.Context) (string, error) {
			col, err := arg(inner, a)
			if err != nil {
				return "", err
			}
			return sqldsl.Func{Name: "string_agg", Args: []sqldsl.Expr{
				sqldsl.Raw(col),
				sqldsl.Raw(inner.BindTyped(sep, "text")),
			}}.SQL(), nil
		})
		if err != nil {
			return query.Fragment{}, err
		}
		return ctx.Emit(s), nil
	})
}
