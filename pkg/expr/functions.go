package expr

import (
	"sort"
	"strings"

	"github.com/pthm/pgquery/pkg/query"
)

// Functions is the builder vocabulary as a query.FunctionSet. It holds no
// state; one value can serve any number of decoders concurrently.
type Functions struct{}

// Standard returns the standard function set.
func Standard() *Functions {
	return &Functions{}
}

var _ query.FunctionSet = (*Functions)(nil)

type builder struct {
	min, max int // argument count; max < 0 is variadic
	build    func(args []any) (*query.Field, error)
}

func unary(fn func(any) *query.Field) builder {
	return builder{min: 1, max: 1, build: func(a []any) (*query.Field, error) { return fn(a[0]), nil }}
}

func nullary(fn func() *query.Field) builder {
	return builder{min: 0, max: 0, build: func([]any) (*query.Field, error) { return fn(), nil }}
}

func path(fn func(string) *query.Field) builder {
	return builder{min: 1, max: 1, build: func(a []any) (*query.Field, error) {
		s, ok := a[0].(string)
		if !ok {
			return nil, invalid("path", "expected a column name, got %T", a[0])
		}
		return fn(s), nil
	}}
}

func rankingBuilder(fn func(Window) *query.Field) builder {
	return builder{min: 0, max: 1, build: func(a []any) (*query.Field, error) {
		var w Window
		if len(a) == 1 {
			var err error
			if w, err = parseWindow(a[0]); err != nil {
				return nil, err
			}
		}
		return fn(w), nil
	}}
}

func offsetBuilder(fn func(any, int64, Window) *query.Field) builder {
	return builder{min: 2, max: 3, build: func(a []any) (*query.Field, error) {
		n, ok := toInt64(a[1])
		if !ok {
			return nil, invalid("offset", "expected an integer offset, got %v", a[1])
		}
		var w Window
		if len(a) == 3 {
			var err error
			if w, err = parseWindow(a[2]); err != nil {
				return nil, err
			}
		}
		return fn(a[0], n, w), nil
	}}
}

var builders = map[string]builder{
	"col":       path(Col),
	"json":      path(JSON),
	"jsonValue": path(JSONValue),
	"star": {min: 0, max: 1, build: func(a []any) (*query.Field, error) {
		if len(a) == 0 {
			return Star(), nil
		}
		s, ok := a[0].(string)
		if !ok {
			return nil, invalid("star", "expected a table name or alias")
		}
		return Star(s), nil
	}},
	"lit": {min: 1, max: 1, build: func(a []any) (*query.Field, error) { return Lit(a[0]), nil }},
	"cast": {min: 2, max: 2, build: func(a []any) (*query.Field, error) {
		typ, ok := a[1].(string)
		if !ok || !ValidCastType(typ) {
			return nil, invalid("cast", "unsupported cast type %v", a[1])
		}
		return Cast(a[0], typ), nil
	}},
	"count":         unary(Count),
	"countAll":      nullary(CountAll),
	"countDistinct": unary(CountDistinct),
	"sum":           unary(Sum),
	"avg":           unary(Avg),
	"min":           unary(Min),
	"max":           unary(Max),
	"arrayAgg":      unary(ArrayAgg),
	"boolAnd":       unary(BoolAnd),
	"boolOr":        unary(BoolOr),
	"jsonAgg":       unary(JSONAgg),
	"stringAgg": {min: 2, max: 2, build: func(a []any) (*query.Field, error) {
		sep, ok := a[1].(string)
		if !ok {
			return nil, invalid("stringAgg", "expected a separator string")
		}
		return StringAgg(a[0], sep), nil
	}},
	"coalesce": {min: 2, max: -1, build: func(a []any) (*query.Field, error) { return Coalesce(a...), nil }},
	"lower":    unary(Lower),
	"upper":    unary(Upper),
	"now":      nullary(Now),

	"rowNumber": rankingBuilder(RowNumber),
	"rank":      rankingBuilder(Rank),
	"denseRank": rankingBuilder(DenseRank),
	"lag":       offsetBuilder(Lag),
	"lead":      offsetBuilder(Lead),
	"over": {min: 2, max: 2, build: func(a []any) (*query.Field, error) {
		f, ok := a[0].(*query.Field)
		if !ok {
			return nil, invalid("over", "expected a function as the first argument")
		}
		w, err := parseWindow(a[1])
		if err != nil {
			return nil, err
		}
		return Over(f, w), nil
	}},
}

// Names lists the function names Call accepts.
func (*Functions) Names() []string {
	names := make([]string, 0, len(builders))
	for n := range builders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Call builds the named function from decoded arguments.
func (f *Functions) Call(name string, args []any) (*query.Field, error) {
	b, ok := builders[name]
	if !ok {
		return nil, &query.ValidationError{Key: "$" + name, Reason: "unknown function", Allowed: f.Names()}
	}
	if len(args) < b.min || (b.max >= 0 && len(args) > b.max) {
		return nil, invalid("$"+name, "wrong number of arguments: %d", len(args))
	}
	return b.build(args)
}

// parseWindow decodes {partitionBy: [...], orderBy: [...], frame: {...}}.
func parseWindow(v any) (Window, error) {
	var w Window
	m, ok := v.(map[string]any)
	if !ok {
		return w, invalid("window", "expected a window map")
	}
	for k, raw := range m {
		switch k {
		case "partitionBy":
			w.PartitionBy = asList(raw)
		case "orderBy":
			for _, e := range asList(raw) {
				s, ok := e.(string)
				if !ok {
					return w, invalid("orderBy", "expected column names")
				}
				if strings.HasPrefix(s, "-") {
					w.OrderBy = append(w.OrderBy, query.Desc(query.Col(s[1:])))
				} else {
					w.OrderBy = append(w.OrderBy, query.Asc(query.Col(s)))
				}
			}
		case "frame":
			fr, err := parseFrame(raw)
			if err != nil {
				return w, err
			}
			w.Frame = fr
		default:
			return w, invalid(k, "unknown window key")
		}
	}
	return w, nil
}

func parseFrame(v any) (*Frame, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, invalid("frame", "expected a frame map")
	}
	fr := &Frame{Mode: Rows}
	if mode, ok := m["mode"].(string); ok {
		fr.Mode = FrameMode(strings.ToUpper(mode))
	}
	start, ok := m["start"]
	if !ok {
		return nil, invalid("frame", "requires a start bound")
	}
	b, err := parseBound(start)
	if err != nil {
		return nil, err
	}
	fr.Start = b
	if end, ok := m["end"]; ok {
		b, err := parseBound(end)
		if err != nil {
			return nil, err
		}
		fr.End = &b
	}
	return fr, nil
}

func parseBound(v any) (Bound, error) {
	switch b := v.(type) {
	case string:
		switch b {
		case "unboundedPreceding":
			return Bound{Kind: UnboundedPreceding}, nil
		case "currentRow":
			return Bound{Kind: CurrentRow}, nil
		case "unboundedFollowing":
			return Bound{Kind: UnboundedFollowing}, nil
		}
	case map[string]any:
		if n, ok := toInt64(b["preceding"]); ok && len(b) == 1 {
			return Bound{Kind: Preceding, Offset: n}, nil
		}
		if n, ok := toInt64(b["following"]); ok && len(b) == 1 {
			return Bound{Kind: Following, Offset: n}, nil
		}
	}
	return Bound{}, invalid("frame", "unsupported frame bound %v", v)
}

func asList(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return []any{v}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}
