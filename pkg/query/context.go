package query

import (
	"fmt"

	"github.com/pthm/pgquery/internal/sqldsl"
)

// clause identifies where in the statement an expression is rendered.
type clause int

const (
	clauseSelect clause = iota
	clauseWhere
	clauseOn
	clauseGroupBy
	clauseHaving
	clauseOrderBy
	clauseValues
)

func (c clause) String() string {
	switch c {
	case clauseSelect:
		return "SELECT"
	case clauseWhere:
		return "WHERE"
	case clauseOn:
		return "JOIN ON"
	case clauseGroupBy:
		return "GROUP BY"
	case clauseHaving:
		return "HAVING"
	case clauseOrderBy:
		return "ORDER BY"
	case clauseValues:
		return "VALUES"
	}
	return fmt.Sprintf("clause(%d)", int(c))
}

func (c clause) allowsAggregates() bool {
	return c == clauseSelect || c == clauseHaving || c == clauseOrderBy
}

func (c clause) allowsWindows() bool {
	return c == clauseSelect || c == clauseOrderBy
}

// compilation is the state of one top-level compile call.
type compilation struct {
	params     params
	trace      TraceFunc
	done       bool
	depth      int
	aggregates int
}

// Context is the live compilation state handed to a FieldFunc: the scope
// allow-list, the group-by set, the prepared values and whether aggregates
// are allowed where the field is rendered.
type Context struct {
	comp        *compilation
	scope       *scope
	clause      clause
	inAggregate bool
	inWindow    bool
	custom      map[string]struct{}
	ungrouped   *[]string
}

func (c *compilation) context(sc *scope, cl clause) *Context {
	return &Context{comp: c, scope: sc, clause: cl, ungrouped: new([]string)}
}

func (ctx *Context) live(key string) error {
	if ctx == nil || ctx.comp == nil || ctx.comp.done {
		return invalid(key, "field invoked outside a compilation")
	}
	return nil
}

// Column validates name against the scope and returns it quoted. Names that
// extend an allowed column with further dotted segments render as a JSON
// path ending in ->>.
func (ctx *Context) Column(name string) (string, error) {
	return ctx.column(name, false)
}

// JSONColumn is like Column but a JSON path ends in -> and yields json.
func (ctx *Context) JSONColumn(name string) (string, error) {
	return ctx.column(name, true)
}

func (ctx *Context) column(name string, asJSON bool) (string, error) {
	if err := ctx.live(name); err != nil {
		return "", err
	}
	text, err := ctx.scope.resolve(&ctx.comp.params, name, asJSON, ctx.custom)
	if err != nil {
		return "", err
	}
	if ctx.clause == clauseHaving && !ctx.inAggregate && !ctx.scope.inGroupBy(text) {
		*ctx.ungrouped = append(*ctx.ungrouped, name)
	}
	return text, nil
}

// Star renders * or, with a qualifier visible in scope, "q".*.
func (ctx *Context) Star(qualifier string) (string, error) {
	if err := ctx.live("*"); err != nil {
		return "", err
	}
	if qualifier == "" {
		return "*", nil
	}
	if !ctx.scope.hasQualifier(qualifier) {
		return "", &ValidationError{Key: qualifier, Reason: "unknown table or alias", Allowed: ctx.scope.qualifierNames()}
	}
	return sqldsl.Ident(qualifier).SQL() + ".*", nil
}

// Bind allocates the next placeholder for v. A context kept past its
// compilation binds nothing and returns "".
func (ctx *Context) Bind(v any) string {
	return ctx.BindTyped(v, "")
}

// BindTyped allocates the next placeholder for v with an explicit cast,
// e.g. $3::bigint.
func (ctx *Context) BindTyped(v any, sqlType string) string {
	if ctx.live("bind") != nil {
		return ""
	}
	return ctx.comp.params.bind(v, sqlType)
}

// Eval invokes a nested field in this context and returns its SQL.
func (ctx *Context) Eval(f *Field) (string, error) {
	frag, err := f.invoke(ctx)
	if err != nil {
		return "", err
	}
	return frag.sql, nil
}

// Key renders a condition, grouping or ordering key.
func (ctx *Context) Key(k Key) (string, error) {
	if err := ctx.live(keyName(k)); err != nil {
		return "", err
	}
	switch k := k.(type) {
	case Col:
		return ctx.Column(string(k))
	case *Field:
		return ctx.Eval(k)
	case Ref:
		return ctx.ref(k)
	case Tuple:
		return "", invalid(keyName(k), "row-valued keys are only valid with in/notIn")
	case nil:
		return "", invalid("", "missing key")
	}
	return "", invalid(fmt.Sprintf("%v", k), "unsupported key type %T", k)
}

func (ctx *Context) ref(r Ref) (string, error) {
	p, ok := ctx.scope.projection(int(r))
	if !ok {
		return "", invalid(keyName(r), "no projection with index %d", int(r))
	}
	if p.aggregated && !ctx.clause.allowsAggregates() {
		return "", invalid(keyName(r), "aggregate expressions are not allowed in %s", ctx.clause)
	}
	if ctx.clause == clauseHaving && !p.aggregated && !ctx.scope.inGroupBy(p.text) {
		return "", invalid(keyName(r), "column must appear in GROUP BY or be used in an aggregate")
	}
	return p.text, nil
}

// Order renders an ordering term with its direction and null placement.
func (ctx *Context) Order(o Order) (string, error) {
	text, err := ctx.Key(o.Key)
	if err != nil {
		return "", err
	}
	if o.Desc {
		text += " DESC"
	}
	switch o.Nulls {
	case NullsDefault:
	case NullsFirst:
		text += " NULLS FIRST"
	case NullsLast:
		text += " NULLS LAST"
	default:
		return "", invalid(keyName(o.Key), "unknown nulls ordering %d", int(o.Nulls))
	}
	return text, nil
}

// Aggregate runs fn in a context where bare columns need not be grouped.
// It fails where aggregates are not allowed and when aggregates nest.
func (ctx *Context) Aggregate(fn func(*Context) (string, error)) (string, error) {
	if err := ctx.live("aggregate"); err != nil {
		return "", err
	}
	if !ctx.clause.allowsAggregates() {
		return "", invalid("aggregate", "aggregate functions are not allowed in %s", ctx.clause)
	}
	if ctx.inAggregate {
		return "", invalid("aggregate", "aggregate function calls cannot be nested")
	}
	inner := *ctx
	inner.inAggregate = true
	ctx.comp.aggregates++
	return fn(&inner)
}

// Window runs fn for a window function call. Window functions are allowed
// in the select list and ORDER BY only and do not nest.
func (ctx *Context) Window(fn func(*Context) (string, error)) (string, error) {
	if err := ctx.live("window"); err != nil {
		return "", err
	}
	if !ctx.clause.allowsWindows() {
		return "", invalid("window", "window functions are not allowed in %s", ctx.clause)
	}
	if ctx.inWindow {
		return "", invalid("window", "window function calls cannot be nested")
	}
	inner := *ctx
	inner.inWindow = true
	return fn(&inner)
}

// Emit seals sql as the fragment of the field being invoked.
func (ctx *Context) Emit(sql string) Fragment {
	if ctx.live("emit") != nil {
		return Fragment{sql: sql}
	}
	return Fragment{sql: sql, proof: ctx.comp}
}

// grouped renders a HAVING operand and rejects it when it references a
// column outside the group-by set, unless the whole expression is grouped.
func (ctx *Context) grouped(render func() (string, error)) (string, error) {
	if ctx.clause != clauseHaving {
		return render()
	}
	mark := len(*ctx.ungrouped)
	text, err := render()
	if err != nil {
		return "", err
	}
	if len(*ctx.ungrouped) > mark {
		col := (*ctx.ungrouped)[mark]
		*ctx.ungrouped = (*ctx.ungrouped)[:mark]
		if !ctx.scope.inGroupBy(text) {
			return "", invalid(col, "column must appear in GROUP BY or be used in an aggregate")
		}
	}
	return text, nil
}

func keyName(k Key) string {
	switch k := k.(type) {
	case Col:
		return string(k)
	case *Field:
		if k == nil {
			return ""
		}
		return k.name
	case Ref:
		return fmt.Sprintf("@%d", int(k))
	case Tuple:
		s := "("
		for i, c := range k {
			if i > 0 {
				s += ", "
			}
			s += string(c)
		}
		return s + ")"
	}
	return ""
}
