package query

import (
	"fmt"

	"github.com/pthm/pgquery/internal/sqldsl"
)

// Condition is a WHERE or HAVING tree: Logical, Existential, Matches or Leaf.
type Condition interface {
	condition()
}

// LogicalOp combines sibling conditions.
type LogicalOp string

const (
	OpAnd LogicalOp = "$and"
	OpOr  LogicalOp = "$or"
)

// Logical joins two or more conditions with AND or OR inside one pair of
// parentheses.
type Logical struct {
	Op    LogicalOp
	Conds []Condition
}

// Existential tests a correlated subquery with EXISTS or NOT EXISTS. The
// subquery must carry its own Where; it projects the constant 1.
type Existential struct {
	Negate bool
	Query  *Select
}

// Match pairs a key with the operators applied to it.
type Match struct {
	Key Key
	Ops []Op
}

// Matches applies each Match as an independent leaf and ANDs the results.
// It is the usual way to filter on expressions built by package expr.
type Matches []Match

// Leaf applies one or more operators to a key. Several operators are ANDed.
type Leaf struct {
	Key Key
	Ops []Op
}

func (Logical) condition()     {}
func (Existential) condition() {}
func (Matches) condition()     {}
func (Leaf) condition()        {}

// And combines conditions with AND.
func And(conds ...Condition) Logical { return Logical{Op: OpAnd, Conds: conds} }

// Or combines conditions with OR.
func Or(conds ...Condition) Logical { return Logical{Op: OpOr, Conds: conds} }

// Exists builds an EXISTS test.
func Exists(q *Select) Existential { return Existential{Query: q} }

// NotExists builds a NOT EXISTS test.
func NotExists(q *Select) Existential { return Existential{Negate: true, Query: q} }

// Filter builds a leaf condition on k.
func Filter(k Key, ops ...Op) Leaf { return Leaf{Key: k, Ops: ops} }

// condition compiles a condition tree. Dispatch order is logical,
// existential, match group, leaf.
func (ctx *Context) condition(c Condition) (string, error) {
	switch c := c.(type) {
	case Logical:
		return ctx.logical(c)
	case Existential:
		return ctx.existential(c)
	case Matches:
		return ctx.matches(c)
	case Leaf:
		return ctx.leaf(c.Key, c.Ops)
	case nil:
		return "", invalid("", "missing condition")
	}
	return "", invalid(fmt.Sprintf("%T", c), "unsupported condition type")
}

func (ctx *Context) logical(l Logical) (string, error) {
	if l.Op != OpAnd && l.Op != OpOr {
		return "", invalid(string(l.Op), "unknown logical operator")
	}
	if len(l.Conds) < 2 {
		return "", invalid(string(l.Op), "requires at least two conditions, got %d", len(l.Conds))
	}
	parts := make([]sqldsl.Expr, len(l.Conds))
	for i, c := range l.Conds {
		s, err := ctx.condition(c)
		if err != nil {
			return "", err
		}
		parts[i] = sqldsl.Raw(s)
	}
	if l.Op == OpOr {
		return sqldsl.Or(parts...).SQL(), nil
	}
	return sqldsl.And(parts...).SQL(), nil
}

func (ctx *Context) existential(e Existential) (string, error) {
	key := "$exists"
	if e.Negate {
		key = "$notExists"
	}
	if e.Query == nil {
		return "", invalid(key, "requires a subquery")
	}
	if e.Query.Where == nil {
		return "", invalid(key, "subquery requires a where condition")
	}
	sql, err := ctx.comp.query(ctx.scope, e.Query, subqueryExists)
	if err != nil {
		return "", err
	}
	if e.Negate {
		return sqldsl.NotExists{Query: sqldsl.Raw(sql)}.SQL(), nil
	}
	return sqldsl.Exists{Query: sqldsl.Raw(sql)}.SQL(), nil
}

func (ctx *Context) matches(m Matches) (string, error) {
	if len(m) == 0 {
		return "", invalid("$matches", "requires at least one match")
	}
	if len(m) == 1 {
		return ctx.leaf(m[0].Key, m[0].Ops)
	}
	parts := make([]sqldsl.Expr, len(m))
	for i, match := range m {
		s, err := ctx.leaf(match.Key, match.Ops)
		if err != nil {
			return "", err
		}
		parts[i] = sqldsl.Raw(s)
	}
	return sqldsl.And(parts...).SQL(), nil
}

func (ctx *Context) leaf(k Key, ops []Op) (string, error) {
	name := keyName(k)
	if len(ops) == 0 {
		return "", invalid(name, "condition has no operators")
	}
	if t, ok := k.(Tuple); ok {
		return ctx.tupleLeaf(t, ops)
	}
	lhs, err := ctx.grouped(func() (string, error) { return ctx.Key(k) })
	if err != nil {
		return "", err
	}
	if len(ops) == 1 {
		return ctx.operator(name, lhs, ops[0])
	}
	parts := make([]sqldsl.Expr, len(ops))
	for i, op := range ops {
		s, err := ctx.operator(name, lhs, op)
		if err != nil {
			return "", err
		}
		parts[i] = sqldsl.Raw(s)
	}
	return sqldsl.And(parts...).SQL(), nil
}
