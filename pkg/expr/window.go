package expr

import (
	"strings"

	"github.com/pthm/pgquery/internal/sqldsl"
	"github.com/pthm/pgquery/pkg/query"
)

// Window is an OVER (...) specification.
type Window struct {
	// PartitionBy entries are column names or fields.
	PartitionBy []any
	OrderBy     []query.Order
	Frame       *Frame
}

// FrameMode is ROWS, RANGE or GROUPS.
type FrameMode string

const (
	Rows   FrameMode = "ROWS"
	Range  FrameMode = "RANGE"
	Groups FrameMode = "GROUPS"
)

// BoundKind is the kind of a frame bound.
type BoundKind int

const (
	UnboundedPreceding BoundKind = iota
	Preceding
	CurrentRow
	Following
	UnboundedFollowing
)

// Bound is one end of a window frame. Offset is used by Preceding and
// Following and is bound as a placeholder.
type Bound struct {
	Kind   BoundKind
	Offset int64
}

// Frame is a window frame clause. A nil End renders the single-bound form.
type Frame struct {
	Mode  FrameMode
	Start Bound
	End   *Bound
}

func (b Bound) render(ctx *query.Context, mode FrameMode) (string, error) {
	switch b.Kind {
	case UnboundedPreceding:
		return "UNBOUNDED PRECEDING", nil
	case CurrentRow:
		return "CURRENT ROW", nil
	case UnboundedFollowing:
		return "UNBOUNDED FOLLOWING", nil
	case Preceding, Following:
		if b.Offset < 0 {
			return "", invalid("frame", "frame offset must not be negative")
		}
		var ph string
		if mode == Range {
			ph = ctx.Bind(b.Offset)
		} else {
			ph = ctx.BindTyped(b.Offset, "bigint")
		}
		if b.Kind == Preceding {
			return ph + " PRECEDING", nil
		}
		return ph + " FOLLOWING", nil
	}
	return "", invalid("frame", "unknown frame bound %d", int(b.Kind))
}

func (f *Frame) render(ctx *query.Context) (string, error) {
	switch f.Mode {
	case Rows, Range, Groups:
	default:
		return "", invalid(string(f.Mode), "unknown frame mode")
	}
	start, err := f.Start.render(ctx, f.Mode)
	if err != nil {
		return "", err
	}
	if f.End == nil {
		return string(f.Mode) + " " + start, nil
	}
	end, err := f.End.render(ctx, f.Mode)
	if err != nil {
		return "", err
	}
	return string(f.Mode) + " BETWEEN " + start + " AND " + end, nil
}

func (w Window) render(ctx *query.Context) (string, error) {
	var parts []string
	if len(w.PartitionBy) > 0 {
		rendered, err := args(ctx, w.PartitionBy)
		if err != nil {
			return "", err
		}
		cols := make([]string, len(rendered))
		for i, r := range rendered {
			cols[i] = r.SQL()
		}
		parts = append(parts, "PARTITION BY "+strings.Join(cols, ", "))
	}
	if len(w.OrderBy) > 0 {
		terms := make([]string, len(w.OrderBy))
		for i, o := range w.OrderBy {
			s, err := ctx.Order(o)
			if err != nil {
				return "", err
			}
			terms[i] = s
		}
		parts = append(parts, "ORDER BY "+strings.Join(terms, ", "))
	}
	if w.Frame != nil {
		s, err := w.Frame.render(ctx)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " "), nil
}

// windowCall renders call OVER (window) inside ctx.Window.
func windowCall(name string, w Window, call func(*query.Context) (string, error)) *query.Field {
	return query.NewField(name, func(ctx *query.Context) (query.Fragment, error) {
		s, err := ctx.Window(func(inner *query.Context) (string, error) {
			fn, err := call(inner)
			if err != nil {
				return "", err
			}
			spec, err := w.render(inner)
			if err != nil {
				return "", err
			}
			return fn + " OVER (" + spec + ")", nil
		})
		if err != nil {
			return query.Fragment{}, err
		}
		return ctx.Emit(s), nil
	})
}

// Over turns an aggregate field into a window function call:
// sum("amount") OVER (PARTITION BY ...).
func Over(f *query.Field, w Window) *query.Field {
	return windowCall(f.Name(), w, func(ctx *query.Context) (string, error) {
		return ctx.Eval(f)
	})
}

func ranking(name string, w Window) *query.Field {
	return windowCall(name, w, func(*query.Context) (string, error) {
		return name + "()", nil
	})
}

func RowNumber(w Window) *query.Field { return ranking("row_number", w) }
func Rank(w Window) *query.Field      { return ranking("rank", w) }
func DenseRank(w Window) *query.Field { return ranking("dense_rank", w) }

func offsetCall(name string, a any, offset int64, w Window) *query.Field {
	return windowCall(name, w, func(ctx *query.Context) (string, error) {
		if offset < 0 {
			return "", invalid(name, "offset must not be negative")
		}
		col, err := arg(ctx, a)
		if err != nil {
			return "", err
		}
		return sqldsl.Func{Name: name, Args: []sqldsl.Expr{
			sqldsl.Raw(col),
			sqldsl.Raw(ctx.BindTyped(offset, "int")),
		}}.SQL(), nil
	})
}

// Lag renders lag(a, $n::int) OVER (...).
func Lag(a any, offset int64, w Window) *query.Field { return offsetCall("lag", a, offset, w) }

// Lead renders lead(a, $n::int) OVER (...).
func Lead(a any, offset int64, w Window) *query.Field { return offsetCall("lead", a, offset, w) }
