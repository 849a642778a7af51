package expr

import (
	"fmt"
	"strings"

	"github.com/pthm/pgquery/internal/sqldsl"
	"github.com/pthm/pgquery/pkg/query"
)

func invalid(key, format string, args ...any) error {
	return &query.ValidationError{Key: key, Reason: fmt.Sprintf(format, args...)}
}

// arg renders one function argument.
func arg(ctx *query.Context, a any) (string, error) {
	switch a := a.(type) {
	case string:
		return ctx.Column(a)
	case query.Col:
		return ctx.Column(string(a))
	case *query.Field:
		return ctx.Eval(a)
	case query.Value:
		return ctx.Bind(a.V), nil
	case nil:
		return "", invalid("", "missing function argument")
	}
	return ctx.Bind(a), nil
}

func args(ctx *query.Context, as []any) ([]sqldsl.Expr, error) {
	out := make([]sqldsl.Expr, len(as))
	for i, a := range as {
		s, err := arg(ctx, a)
		if err != nil {
			return nil, err
		}
		out[i] = sqldsl.Raw(s)
	}
	return out, nil
}

// function builds a plain function call field.
func function(name, sqlName string, as ...any) *query.Field {
	return query.NewField(name, func(ctx *query.Context) (query.Fragment, error) {
		rendered, err := args(ctx, as)
		if err != nil {
			return query.Fragment{}, err
		}
		return ctx.Emit(sqldsl.Func{Name: sqlName, Args: rendered}.SQL()), nil
	})
}

// Col references a column, qualified column or JSON path (ending in ->>).
func Col(name string) *query.Field {
	return query.NewField(name, func(ctx *query.Context) (query.Fragment, error) {
		s, err := ctx.Column(name)
		if err != nil {
			return query.Fragment{}, err
		}
		return ctx.Emit(s), nil
	})
}

// JSON references a JSON path such as "profile.address" and yields json
// (the last accessor is ->).
func JSON(path string) *query.Field {
	return query.NewField(path, func(ctx *query.Context) (query.Fragment, error) {
		s, err := ctx.JSONColumn(path)
		if err != nil {
			return query.Fragment{}, err
		}
		return ctx.Emit(s), nil
	})
}

// JSONValue references a JSON path and yields text (the last accessor is
// ->>). It is equivalent to Col on a path.
func JSONValue(path string) *query.Field {
	return Col(path)
}

// Star selects every column, or every column of one table or alias.
func Star(qualifier ...string) *query.Field {
	q := strings.Join(qualifier, ".")
	return query.NewField("*", func(ctx *query.Context) (query.Fragment, error) {
		s, err := ctx.Star(q)
		if err != nil {
			return query.Fragment{}, err
		}
		return ctx.Emit(s), nil
	})
}

// Lit binds v as a placeholder.
func Lit(v any) *query.Field {
	return query.NewField("lit", func(ctx *query.Context) (query.Fragment, error) {
		return ctx.Emit(ctx.Bind(v)), nil
	})
}

// castTypes are the target types accepted by Cast, each also valid with [].
var castTypes = map[string]struct{}{
	"smallint":         {},
	"int":              {},
	"integer":          {},
	"bigint":           {},
	"numeric":          {},
	"real":             {},
	"double precision": {},
	"text":             {},
	"varchar":          {},
	"boolean":          {},
	"date":             {},
	"time":             {},
	"timestamp":        {},
	"timestamptz":      {},
	"interval":         {},
	"uuid":             {},
	"json":             {},
	"jsonb":            {},
}

// ValidCastType reports whether typ is accepted by Cast.
func ValidCastType(typ string) bool {
	_, ok := castTypes[strings.TrimSuffix(strings.ToLower(typ), "[]")]
	return ok
}

// Cast renders CAST(a AS typ). typ must be one of the recognised types.
func Cast(a any, typ string) *query.Field {
	return query.NewField("cast", func(ctx *query.Context) (query.Fragment, error) {
		if !ValidCastType(typ) {
			return query.Fragment{}, invalid(typ, "unsupported cast type")
		}
		s, err := arg(ctx, a)
		if err != nil {
			return query.Fragment{}, err
		}
		return ctx.Emit(sqldsl.Cast{Expr: sqldsl.Raw(s), Type: strings.ToLower(typ)}.SQL()), nil
	})
}

// Coalesce returns the first non-null argument.
func Coalesce(as ...any) *query.Field {
	return query.NewField("coalesce", func(ctx *query.Context) (query.Fragment, error) {
		if len(as) < 2 {
			return query.Fragment{}, invalid("coalesce", "requires at least two arguments")
		}
		rendered, err := args(ctx, as)
		if err != nil {
			return query.Fragment{}, err
		}
		return ctx.Emit(sqldsl.Func{Name: "coalesce", Args: rendered}.SQL()), nil
	})
}

func Lower(a any) *query.Field { return function("lower", "lower", a) }
func Upper(a any) *query.Field { return function("upper", "upper", a) }

// Now renders now().
func Now() *query.Field {
	return query.NewField("now", func(ctx *query.Context) (query.Fragment, error) {
		return ctx.Emit("now()"), nil
	})
}
