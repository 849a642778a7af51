package query

import "github.com/pthm/pgquery/pkg/schema"

// Select is a query specification. Exactly one of Table and Derived names the
// FROM source; a Derived source must carry an Alias.
type Select struct {
	Table   *schema.Table
	Derived *Select
	Alias   string

	Distinct bool
	// Columns is the projection. Empty selects *.
	Columns []Projection

	Where   Condition
	GroupBy []Key
	Having  Condition
	OrderBy []Order

	// Limit and Offset are bound as placeholders; zero means unset.
	Limit  int
	Offset int

	Joins []Join
	SetOp *SetOp
}

// Then appends a set operation with next to the end of the chain and returns
// s. Each next query is the whole right operand of the one before it, so
// a.Then(Union, b).Then(Except, c) compiles to a UNION (b EXCEPT c).
func (s *Select) Then(kind SetOpKind, next *Select) *Select {
	last := s
	for last.SetOp != nil && last.SetOp.Next != nil {
		last = last.SetOp.Next
	}
	last.SetOp = &SetOp{Kind: kind, Next: next}
	return s
}

// Key identifies the left-hand side of a condition, a grouping term or an
// ordering term. It is one of Col, Tuple, Ref or *Field.
type Key interface {
	key()
}

// Col names a column visible in scope: "email", "u.email", or a JSON path
// such as "profile.address.city" on a json/jsonb column.
type Col string

func (Col) key() {}

// Tuple is a row-valued key, valid only with In/NotIn over literal rows.
type Tuple []Col

func (Tuple) key() {}

// Ref points at the projection with the given index in the same query and
// reuses its rendered expression. It lets HAVING and ORDER BY refer to an
// aggregate defined in Columns.
type Ref int

func (Ref) key() {}

// Projection is one entry of the select list.
type Projection struct {
	Key Key
	As  string
}

// Columns builds a projection of plain columns.
func Columns(names ...string) []Projection {
	out := make([]Projection, len(names))
	for i, n := range names {
		out[i] = Projection{Key: Col(n)}
	}
	return out
}

// As builds an aliased projection.
func As(k Key, alias string) Projection {
	return Projection{Key: k, As: alias}
}

// Nulls selects NULLS FIRST / NULLS LAST ordering.
type Nulls int

const (
	NullsDefault Nulls = iota
	NullsFirst
	NullsLast
)

// Order is one ORDER BY term.
type Order struct {
	Key   Key
	Desc  bool
	Nulls Nulls
}

// Asc orders by k ascending.
func Asc(k Key) Order { return Order{Key: k} }

// Desc orders by k descending.
func Desc(k Key) Order { return Order{Key: k, Desc: true} }

// JoinKind is the type of a join.
type JoinKind string

const (
	InnerJoin     JoinKind = "INNER"
	LeftJoin      JoinKind = "LEFT"
	RightJoin     JoinKind = "RIGHT"
	FullOuterJoin JoinKind = "FULLOUTER"
	// SelfJoin joins the base table to itself under a distinct alias.
	SelfJoin JoinKind = "SELF"
	// CrossJoin carries no predicate and renders ON true.
	CrossJoin JoinKind = "CROSS"
)

// Join describes one joined source. Exactly one of Table and Query is set,
// except for SelfJoin which uses the base table. Query targets need an Alias.
type Join struct {
	Kind  JoinKind
	Table *schema.Table
	Query *Select
	Alias string
	On    []On
}

// On is one equality of a join predicate. Base is validated against the base
// table and earlier joins; Target against the joined source only. When Query
// is set the base column is compared with that scalar subquery instead.
type On struct {
	Base   string
	Target string
	Query  *Select
}

// SetOpKind is a set-operation keyword.
type SetOpKind string

const (
	Union     SetOpKind = "UNION"
	UnionAll  SetOpKind = "UNION ALL"
	Intersect SetOpKind = "INTERSECT"
	Except    SetOpKind = "EXCEPT"
)

// SetOp chains another query onto a Select.
type SetOp struct {
	Kind SetOpKind
	Next *Select
}
