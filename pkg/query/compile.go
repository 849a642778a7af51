package query

import (
	"slices"

	"github.com/pthm/pgquery/internal/sqldsl"
)

// Statement is a compiled statement: SQL with $1..$N placeholders and the N
// values bound to them, in order.
type Statement struct {
	SQL    string
	Values []any
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithTrace installs a hook receiving trace events. Tracing is off by
// default.
func WithTrace(fn TraceFunc) Option {
	return func(c *Compiler) {
		c.trace = fn
	}
}

// WithNumericStrings binds numeric-looking strings ("42", "-1.5") as numbers
// instead of text.
func WithNumericStrings() Option {
	return func(c *Compiler) {
		c.numericStrings = true
	}
}

// Compiler compiles query specifications. It holds only options and is safe
// for concurrent use; every call allocates its own state.
type Compiler struct {
	trace          TraceFunc
	numericStrings bool
}

// New creates a Compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile compiles q with a Compiler built from opts.
func Compile(q *Select, opts ...Option) (Statement, error) {
	return New(opts...).Select(q)
}

// Select compiles a SELECT statement, including its set-operation chain.
// On error it returns the zero Statement.
func (c *Compiler) Select(q *Select) (Statement, error) {
	comp := c.begin()
	sql, err := comp.query(nil, q, subqueryPlain)
	return comp.finish("select", sql, err)
}

func (c *Compiler) begin() *compilation {
	return &compilation{
		params: params{numericStrings: c.numericStrings},
		trace:  c.trace,
	}
}

// finish ends the compilation. Contexts captured by fields stop working.
func (c *compilation) finish(kind, sql string, err error) (Statement, error) {
	c.done = true
	if err != nil {
		return Statement{}, err
	}
	c.tracef("statement", kind, sql)
	return Statement{SQL: sql, Values: slices.Clone(c.params.values)}, nil
}

// segment compiles one SELECT of a set-operation chain. Clauses are
// compiled in textual order so placeholders ascend through the text.
func (c *compilation) segment(parent *scope, q *Select, mode subqueryMode) (sqldsl.SelectStmt, error) {
	sc, err := resolveScope(parent, q)
	if err != nil {
		return sqldsl.SelectStmt{}, err
	}
	c.tracef("scope", sc.sources[0].qualifier, "")

	stmt := sqldsl.SelectStmt{Distinct: q.Distinct}

	if mode == subqueryExists {
		stmt.Columns = []string{"1"}
	} else if stmt.Columns, err = c.projection(sc, q.Columns); err != nil {
		return sqldsl.SelectStmt{}, err
	}

	if stmt.From, err = c.from(sc, q); err != nil {
		return sqldsl.SelectStmt{}, err
	}
	if stmt.Joins, err = c.joins(sc, q); err != nil {
		return sqldsl.SelectStmt{}, err
	}

	if q.Where != nil {
		if stmt.Where, err = c.context(sc, clauseWhere).condition(q.Where); err != nil {
			return sqldsl.SelectStmt{}, err
		}
	}

	for _, k := range q.GroupBy {
		text, err := c.context(sc, clauseGroupBy).Key(k)
		if err != nil {
			return sqldsl.SelectStmt{}, err
		}
		sc.groupBy[text] = struct{}{}
		stmt.GroupBy = append(stmt.GroupBy, text)
	}

	if q.Having != nil {
		if stmt.Having, err = c.context(sc, clauseHaving).condition(q.Having); err != nil {
			return sqldsl.SelectStmt{}, err
		}
	}

	for _, o := range q.OrderBy {
		ctx := c.context(sc, clauseOrderBy)
		ctx.custom = sc.outputs
		text, err := ctx.Order(o)
		if err != nil {
			return sqldsl.SelectStmt{}, err
		}
		stmt.OrderBy = append(stmt.OrderBy, text)
	}

	if q.Limit < 0 {
		return sqldsl.SelectStmt{}, invalidValue("limit", q.Limit, "must not be negative")
	}
	if q.Offset < 0 {
		return sqldsl.SelectStmt{}, invalidValue("offset", q.Offset, "must not be negative")
	}
	if q.Limit > 0 {
		stmt.Limit = c.params.bind(q.Limit, "")
	}
	if q.Offset > 0 {
		stmt.Offset = c.params.bind(q.Offset, "")
	}

	c.tracef("segment", sc.sources[0].qualifier, stmt.SQL())
	return stmt, nil
}

// projection renders the select list and records each entry for Ref keys.
func (c *compilation) projection(sc *scope, cols []Projection) ([]string, error) {
	var out []string
	for i, p := range cols {
		ctx := c.context(sc, clauseSelect)
		before := c.aggregates

		var text, alias string
		switch k := p.Key.(type) {
		case Col:
			var err error
			if text, err = ctx.Column(string(k)); err != nil {
				return nil, err
			}
		case *Field:
			frag, err := k.invoke(ctx)
			if err != nil {
				return nil, err
			}
			text, alias = frag.sql, frag.alias
		case nil:
			return nil, invalid("columns", "projection %d has no key", i)
		default:
			return nil, invalid(keyName(p.Key), "not allowed in the select list")
		}
		if p.As != "" {
			alias = p.As
		}
		if alias != "" && !validAlias(alias) {
			return nil, invalidValue("alias", alias, "malformed alias")
		}

		sc.projections = append(sc.projections, projection{text: text, aggregated: c.aggregates > before})
		if alias != "" {
			sc.outputs[alias] = struct{}{}
		}
		out = append(out, sqldsl.Alias{Expr: sqldsl.Raw(text), Name: alias}.SQL())
	}
	return out, nil
}

func (c *compilation) from(sc *scope, q *Select) (sqldsl.TableExpr, error) {
	if q.Table != nil {
		return sqldsl.TableRef{Name: q.Table.Name(), Alias: q.Alias}, nil
	}
	sql, err := c.query(sc.parent, q.Derived, subqueryPlain)
	if err != nil {
		return nil, err
	}
	return sqldsl.SubqueryTable{Query: sqldsl.Raw(sql), Alias: q.Alias}, nil
}

var joinKeywords = map[JoinKind]string{
	InnerJoin:     "INNER",
	LeftJoin:      "LEFT",
	RightJoin:     "RIGHT",
	FullOuterJoin: "FULL OUTER",
	SelfJoin:      "INNER",
	CrossJoin:     "INNER",
}

func (c *compilation) joins(sc *scope, q *Select) ([]sqldsl.JoinClause, error) {
	var out []sqldsl.JoinClause
	for i, j := range q.Joins {
		var target sqldsl.TableExpr
		switch {
		case j.Kind == SelfJoin:
			target = sqldsl.TableRef{Name: q.Table.Name(), Alias: j.Alias}
		case j.Table != nil:
			target = sqldsl.TableRef{Name: j.Table.Name(), Alias: j.Alias}
		default:
			sql, err := c.query(sc.parent, j.Query, subqueryPlain)
			if err != nil {
				return nil, err
			}
			target = sqldsl.SubqueryTable{Query: sqldsl.Raw(sql), Alias: j.Alias}
		}

		on := "true"
		if j.Kind != CrossJoin {
			var err error
			if on, err = c.joinPredicate(sc, i, j); err != nil {
				return nil, err
			}
		}
		out = append(out, sqldsl.JoinClause{Type: joinKeywords[j.Kind], Table: target, On: on})
	}
	return out, nil
}

// joinPredicate validates each side of the equalities in its own scope: the
// base side sees the base table and earlier joins, the target side sees only
// the joined source.
func (c *compilation) joinPredicate(sc *scope, i int, j Join) (string, error) {
	base := sc.view(i + 1)
	target := sc.sourceScope(i + 1)

	parts := make([]sqldsl.Expr, 0, len(j.On))
	for _, on := range j.On {
		left, err := c.context(base, clauseOn).Column(on.Base)
		if err != nil {
			return "", err
		}
		var right string
		switch {
		case on.Query != nil && on.Target != "":
			return "", invalid(on.Base, "join predicate has both a target column and a subquery")
		case on.Query != nil:
			sql, err := c.query(base, on.Query, subqueryScalar)
			if err != nil {
				return "", err
			}
			right = "(" + sql + ")"
		default:
			if right, err = c.context(target, clauseOn).Column(on.Target); err != nil {
				return "", err
			}
		}
		parts = append(parts, sqldsl.Raw(left+" = "+right))
	}
	if len(parts) == 1 {
		return parts[0].SQL(), nil
	}
	return sqldsl.And(parts...).SQL(), nil
}
