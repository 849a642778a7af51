package query

import (
	"github.com/pthm/pgquery/internal/sqldsl"
)

// maxDepth bounds subquery nesting, which also stops cyclic specifications.
const maxDepth = 32

type subqueryMode int

const (
	subqueryPlain subqueryMode = iota
	// subqueryExists projects the constant 1.
	subqueryExists
	// subqueryScalar requires exactly one projected column, for scalar
	// comparisons, IN and ANY/ALL.
	subqueryScalar
)

// query compiles q and the set operations chained to it. parent is the
// scope the subquery may correlate with.
func (c *compilation) query(parent *scope, q *Select, mode subqueryMode) (string, error) {
	if q == nil {
		return "", invalid("query", "missing query specification")
	}
	if c.depth >= maxDepth {
		return "", invalid("query", "subqueries nested deeper than %d levels", maxDepth)
	}
	c.depth++
	defer func() { c.depth-- }()

	width := -1
	expr, err := c.chain(parent, q, mode, "query", map[*Select]bool{}, &width)
	if err != nil {
		return "", err
	}
	return expr.SQL(), nil
}

// chain compiles seg and, through its SetOp, the rest of the chain. The next
// query is the right operand as a whole: when it carries a set operation of
// its own it renders parenthesized, so a UNION b INTERSECT c means
// a UNION (b INTERSECT c). op names the operation seg is an operand of.
func (c *compilation) chain(parent *scope, seg *Select, mode subqueryMode, op string, seen map[*Select]bool, width *int) (sqldsl.Expr, error) {
	if seg == nil {
		return nil, invalid(op, "set operation requires a next query")
	}
	if seen[seg] {
		return nil, invalid("query", "set operation chain contains a cycle")
	}
	seen[seg] = true

	if mode == subqueryExists && seg.SetOp != nil {
		return nil, invalid("$exists", "set operations are not supported in an existential subquery")
	}
	if mode == subqueryScalar && len(seg.Columns) != 1 {
		return nil, invalid("query", "subquery must project exactly one column, got %d", len(seg.Columns))
	}
	if len(seg.Columns) > 0 {
		if *width >= 0 && len(seg.Columns) != *width {
			return nil, invalid(op, "each query of a set operation must project the same number of columns")
		}
		*width = len(seg.Columns)
	}

	stmt, err := c.segment(parent, seg, mode)
	if err != nil {
		return nil, err
	}
	if seg.SetOp == nil {
		return stmt, nil
	}

	kind := string(seg.SetOp.Kind)
	switch seg.SetOp.Kind {
	case Union, UnionAll, Intersect, Except:
	default:
		return nil, invalid(kind, "unknown set operation")
	}
	right, err := c.chain(parent, seg.SetOp.Next, mode, kind, seen, width)
	if err != nil {
		return nil, err
	}
	return sqldsl.SetOperation{Left: stmt, Op: kind, Right: right}, nil
}
