package query

import (
	"reflect"
	"strings"

	"github.com/pthm/pgquery/internal/sqldsl"
)

// Operator names a leaf operator. The names are those accepted by the
// Decoder.
type Operator string

const (
	OpEq  Operator = "eq"
	OpNeq Operator = "neq"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"

	OpLike        Operator = "like"
	OpILike       Operator = "ilike"
	OpNotLike     Operator = "notLike"
	OpNotILike    Operator = "notILike"
	OpStartsWith  Operator = "startsWith"
	OpEndsWith    Operator = "endsWith"
	OpSubstring   Operator = "substring"
	OpIStartsWith Operator = "iStartsWith"
	OpIEndsWith   Operator = "iEndsWith"
	OpISubstring  Operator = "iSubstring"

	OpIsNull     Operator = "isNull"
	OpNotNull    Operator = "notNull"
	OpIsTrue     Operator = "isTrue"
	OpNotTrue    Operator = "notTrue"
	OpIsFalse    Operator = "isFalse"
	OpNotFalse   Operator = "notFalse"
	OpIsUnknown  Operator = "isUnknown"
	OpNotUnknown Operator = "notUnknown"

	OpIn    Operator = "in"
	OpNotIn Operator = "notIn"

	OpBetween    Operator = "between"
	OpNotBetween Operator = "notBetween"

	OpArrayContains    Operator = "arrayContains"
	OpArrayContainedBy Operator = "arrayContainBy"
	OpArrayOverlap     Operator = "arrayOverlap"
)

var comparisonOps = map[Operator]string{
	OpEq:  "=",
	OpNeq: "<>",
	OpGt:  ">",
	OpGte: ">=",
	OpLt:  "<",
	OpLte: "<=",
}

type patternOp struct {
	keyword string
	// leading and trailing add % around the escaped value.
	leading, trailing bool
	escape            bool
}

var patternOps = map[Operator]patternOp{
	OpLike:        {keyword: "LIKE"},
	OpILike:       {keyword: "ILIKE"},
	OpNotLike:     {keyword: "NOT LIKE"},
	OpNotILike:    {keyword: "NOT ILIKE"},
	OpStartsWith:  {keyword: "LIKE", trailing: true, escape: true},
	OpEndsWith:    {keyword: "LIKE", leading: true, escape: true},
	OpSubstring:   {keyword: "LIKE", leading: true, trailing: true, escape: true},
	OpIStartsWith: {keyword: "ILIKE", trailing: true, escape: true},
	OpIEndsWith:   {keyword: "ILIKE", leading: true, escape: true},
	OpISubstring:  {keyword: "ILIKE", leading: true, trailing: true, escape: true},
}

var unaryOps = map[Operator]string{
	OpIsNull:     "IS NULL",
	OpNotNull:    "IS NOT NULL",
	OpIsTrue:     "IS TRUE",
	OpNotTrue:    "IS NOT TRUE",
	OpIsFalse:    "IS FALSE",
	OpNotFalse:   "IS NOT FALSE",
	OpIsUnknown:  "IS UNKNOWN",
	OpNotUnknown: "IS NOT UNKNOWN",
}

var arrayOps = map[Operator]string{
	OpArrayContains:    "@>",
	OpArrayContainedBy: "<@",
	OpArrayOverlap:     "&&",
}

// KnownOperator reports whether op is a leaf operator.
func KnownOperator(op Operator) bool {
	if _, ok := comparisonOps[op]; ok {
		return true
	}
	if _, ok := patternOps[op]; ok {
		return true
	}
	if _, ok := unaryOps[op]; ok {
		return true
	}
	if _, ok := arrayOps[op]; ok {
		return true
	}
	switch op {
	case OpIn, OpNotIn, OpBetween, OpNotBetween:
		return true
	}
	return false
}

// Op is one operator applied to a leaf key.
type Op struct {
	Operator Operator
	Operand  Operand
}

// Operand is the right-hand side of an operator: Value, Values, *Field,
// *Select or Quantified.
type Operand interface {
	operand()
}

// Value is a literal bound as one placeholder.
type Value struct {
	V any
}

// Values is a literal list, used by in, between, the array operators and
// ANY/ALL.
type Values []any

// Quantifier is ANY or ALL.
type Quantifier string

const (
	AnyOf Quantifier = "ANY"
	AllOf Quantifier = "ALL"
)

// Quantified compares against ANY or ALL elements of a literal array or of
// a one-column subquery.
type Quantified struct {
	Quantifier Quantifier
	Operand    Operand
}

func (Value) operand()      {}
func (Values) operand()     {}
func (*Select) operand()    {}
func (Quantified) operand() {}

// Lit wraps a literal so it is bound even when it looks like an operand.
func Lit(v any) Value { return Value{V: v} }

// Any builds = ANY(...) style operands from a slice or a *Select.
func Any(v any) Quantified { return Quantified{Quantifier: AnyOf, Operand: listOperand(v)} }

// All builds = ALL(...) style operands from a slice or a *Select.
func All(v any) Quantified { return Quantified{Quantifier: AllOf, Operand: listOperand(v)} }

func scalarOperand(v any) Operand {
	if o, ok := v.(Operand); ok {
		return o
	}
	return Value{V: v}
}

// listOperand converts slices and arrays to Values and passes operands
// through.
func listOperand(v any) Operand {
	if o, ok := v.(Operand); ok {
		return o
	}
	if vals, ok := sliceValues(v); ok {
		return vals
	}
	return Value{V: v}
}

func sliceValues(v any) (Values, bool) {
	if v == nil {
		return nil, false
	}
	if _, ok := v.([]byte); ok {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make(Values, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func Eq(v any) Op  { return Op{Operator: OpEq, Operand: scalarOperand(v)} }
func Neq(v any) Op { return Op{Operator: OpNeq, Operand: scalarOperand(v)} }
func Gt(v any) Op  { return Op{Operator: OpGt, Operand: scalarOperand(v)} }
func Gte(v any) Op { return Op{Operator: OpGte, Operand: scalarOperand(v)} }
func Lt(v any) Op  { return Op{Operator: OpLt, Operand: scalarOperand(v)} }
func Lte(v any) Op { return Op{Operator: OpLte, Operand: scalarOperand(v)} }

func Like(pattern string) Op     { return Op{Operator: OpLike, Operand: Value{V: pattern}} }
func ILike(pattern string) Op    { return Op{Operator: OpILike, Operand: Value{V: pattern}} }
func NotLike(pattern string) Op  { return Op{Operator: OpNotLike, Operand: Value{V: pattern}} }
func NotILike(pattern string) Op { return Op{Operator: OpNotILike, Operand: Value{V: pattern}} }

// StartsWith matches values beginning with s. LIKE wildcards in s match
// literally.
func StartsWith(s string) Op  { return Op{Operator: OpStartsWith, Operand: Value{V: s}} }
func EndsWith(s string) Op    { return Op{Operator: OpEndsWith, Operand: Value{V: s}} }
func Substring(s string) Op   { return Op{Operator: OpSubstring, Operand: Value{V: s}} }
func IStartsWith(s string) Op { return Op{Operator: OpIStartsWith, Operand: Value{V: s}} }
func IEndsWith(s string) Op   { return Op{Operator: OpIEndsWith, Operand: Value{V: s}} }
func ISubstring(s string) Op  { return Op{Operator: OpISubstring, Operand: Value{V: s}} }

func IsNull() Op     { return Op{Operator: OpIsNull} }
func NotNull() Op    { return Op{Operator: OpNotNull} }
func IsTrue() Op     { return Op{Operator: OpIsTrue} }
func NotTrue() Op    { return Op{Operator: OpNotTrue} }
func IsFalse() Op    { return Op{Operator: OpIsFalse} }
func NotFalse() Op   { return Op{Operator: OpNotFalse} }
func IsUnknown() Op  { return Op{Operator: OpIsUnknown} }
func NotUnknown() Op { return Op{Operator: OpNotUnknown} }

// In accepts a slice of literals, Values, or a one-column *Select.
func In(v any) Op    { return Op{Operator: OpIn, Operand: listOperand(v)} }
func NotIn(v any) Op { return Op{Operator: OpNotIn, Operand: listOperand(v)} }

func Between(lo, hi any) Op    { return Op{Operator: OpBetween, Operand: Values{lo, hi}} }
func NotBetween(lo, hi any) Op { return Op{Operator: OpNotBetween, Operand: Values{lo, hi}} }

func ArrayContains(v any) Op    { return Op{Operator: OpArrayContains, Operand: listOperand(v)} }
func ArrayContainedBy(v any) Op { return Op{Operator: OpArrayContainedBy, Operand: listOperand(v)} }
func ArrayOverlap(v any) Op     { return Op{Operator: OpArrayOverlap, Operand: listOperand(v)} }

// operator renders lhs OP operand.
func (ctx *Context) operator(key, lhs string, op Op) (string, error) {
	if sym, ok := comparisonOps[op.Operator]; ok {
		return ctx.comparison(key, lhs, sym, op)
	}
	if p, ok := patternOps[op.Operator]; ok {
		return ctx.pattern(key, lhs, p, op)
	}
	if kw, ok := unaryOps[op.Operator]; ok {
		if !unaryOperand(op.Operand) {
			return "", invalidValue(string(op.Operator), operandValue(op.Operand), "operator takes no operand")
		}
		return lhs + " " + kw, nil
	}
	if sym, ok := arrayOps[op.Operator]; ok {
		vals, ok := op.Operand.(Values)
		if !ok {
			return "", invalid(string(op.Operator), "requires a list of values")
		}
		arr, err := ctx.array(string(op.Operator), vals)
		if err != nil {
			return "", err
		}
		return lhs + " " + sym + " " + sqldsl.Paren{Expr: sqldsl.Raw(arr)}.SQL(), nil
	}
	switch op.Operator {
	case OpIn, OpNotIn:
		return ctx.membership(lhs, op)
	case OpBetween, OpNotBetween:
		return ctx.between(lhs, op)
	}
	return "", invalid(string(op.Operator), "unknown operator on %s", key)
}

func unaryOperand(o Operand) bool {
	if o == nil {
		return true
	}
	v, ok := o.(Value)
	if !ok {
		return false
	}
	b, isBool := v.V.(bool)
	return v.V == nil || (isBool && b)
}

func operandValue(o Operand) any {
	if v, ok := o.(Value); ok {
		return v.V
	}
	return o
}

func (ctx *Context) comparison(key, lhs, sym string, op Op) (string, error) {
	name := string(op.Operator)
	switch o := op.Operand.(type) {
	case Value:
		if o.V == nil {
			switch op.Operator {
			case OpEq:
				return lhs + " IS NULL", nil
			case OpNeq:
				return lhs + " IS NOT NULL", nil
			}
			return "", invalid(name, "cannot compare %s with NULL", key)
		}
		return lhs + " " + sym + " " + ctx.Bind(o.V), nil
	case *Field:
		rhs, err := ctx.grouped(func() (string, error) { return ctx.Eval(o) })
		if err != nil {
			return "", err
		}
		return lhs + " " + sym + " " + rhs, nil
	case *Select:
		sql, err := ctx.comp.query(ctx.scope, o, subqueryScalar)
		if err != nil {
			return "", err
		}
		return lhs + " " + sym + " (" + sql + ")", nil
	case Quantified:
		rhs, err := ctx.quantified(name, o)
		if err != nil {
			return "", err
		}
		return lhs + " " + sym + " " + rhs, nil
	case Values:
		return "", invalidValue(name, []any(o), "a list operand requires any or all")
	case nil:
		return "", invalid(name, "requires an operand")
	}
	return "", invalid(name, "unsupported operand %T", op.Operand)
}

func (ctx *Context) quantified(key string, q Quantified) (string, error) {
	if q.Quantifier != AnyOf && q.Quantifier != AllOf {
		return "", invalid(key, "unknown quantifier %q", q.Quantifier)
	}
	var inner string
	switch o := q.Operand.(type) {
	case Values:
		arr, err := ctx.array(key, o)
		if err != nil {
			return "", err
		}
		inner = arr
	case *Select:
		sql, err := ctx.comp.query(ctx.scope, o, subqueryScalar)
		if err != nil {
			return "", err
		}
		inner = sql
	default:
		return "", invalid(key, "%s requires a list or a subquery", q.Quantifier)
	}
	return sqldsl.Quantified{Quantifier: string(q.Quantifier), Expr: sqldsl.Raw(inner)}.SQL(), nil
}

func (ctx *Context) pattern(key, lhs string, p patternOp, op Op) (string, error) {
	name := string(op.Operator)
	v, ok := op.Operand.(Value)
	if !ok {
		return "", invalid(name, "requires a string on %s", key)
	}
	s, ok := v.V.(string)
	if !ok {
		return "", invalidValue(name, v.V, "requires a string on %s", key)
	}
	if p.escape {
		s = escapeLike(s)
	}
	if p.leading {
		s = "%" + s
	}
	if p.trailing {
		s += "%"
	}
	return lhs + " " + p.keyword + " " + ctx.Bind(s), nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func (ctx *Context) membership(lhs string, op Op) (string, error) {
	name := string(op.Operator)
	kw := " IN "
	if op.Operator == OpNotIn {
		kw = " NOT IN "
	}
	switch o := op.Operand.(type) {
	case Values:
		if len(o) == 0 {
			return "", invalid(name, "requires a non-empty list")
		}
		list := make(sqldsl.List, len(o))
		for i, v := range o {
			if v == nil {
				return "", invalid(name, "list element %d is NULL", i)
			}
			list[i] = sqldsl.Raw(ctx.Bind(v))
		}
		return lhs + kw + list.SQL(), nil
	case *Select:
		sql, err := ctx.comp.query(ctx.scope, o, subqueryScalar)
		if err != nil {
			return "", err
		}
		return lhs + kw + "(" + sql + ")", nil
	}
	return "", invalidValue(name, operandValue(op.Operand), "requires a list of values or a subquery")
}

func (ctx *Context) between(lhs string, op Op) (string, error) {
	name := string(op.Operator)
	vals, ok := op.Operand.(Values)
	if !ok || len(vals) != 2 {
		return "", invalidValue(name, operandValue(op.Operand), "requires exactly two values")
	}
	kw := " BETWEEN "
	if op.Operator == OpNotBetween {
		kw = " NOT BETWEEN "
	}
	lo := ctx.Bind(vals[0])
	hi := ctx.Bind(vals[1])
	return lhs + kw + lo + " AND " + hi, nil
}

// tupleLeaf renders ("a", "b") IN (($1, $2), ...).
func (ctx *Context) tupleLeaf(t Tuple, ops []Op) (string, error) {
	key := keyName(t)
	if len(t) == 0 {
		return "", invalid(key, "empty row key")
	}
	if len(ops) != 1 || (ops[0].Operator != OpIn && ops[0].Operator != OpNotIn) {
		return "", invalid(key, "row-valued keys are only valid with in/notIn")
	}
	op := ops[0]
	rows, ok := op.Operand.(Values)
	if !ok {
		return "", invalid(key, "row-valued %s requires literal rows", op.Operator)
	}
	if len(rows) == 0 {
		return "", invalid(key, "requires a non-empty list")
	}
	cols := make(sqldsl.List, len(t))
	for i, c := range t {
		s, err := ctx.grouped(func() (string, error) { return ctx.Column(string(c)) })
		if err != nil {
			return "", err
		}
		cols[i] = sqldsl.Raw(s)
	}
	list := make(sqldsl.List, len(rows))
	for i, r := range rows {
		vals, ok := sliceValues(r)
		if !ok || len(vals) != len(t) {
			return "", invalidValue(key, r, "row %d must have %d values", i, len(t))
		}
		row := make(sqldsl.List, len(vals))
		for j, v := range vals {
			row[j] = sqldsl.Raw(ctx.Bind(v))
		}
		list[i] = row
	}
	kw := " IN "
	if op.Operator == OpNotIn {
		kw = " NOT IN "
	}
	return cols.SQL() + kw + list.SQL(), nil
}

// array renders ARRAY[$1, $2]::type[] with the element type inferred from
// the values. Empty and mixed-type lists are rejected.
func (ctx *Context) array(key string, vals Values) (string, error) {
	if len(vals) == 0 {
		return "", invalid(key, "requires a non-empty list")
	}
	typ := ""
	for i, v := range vals {
		t, ok := arrayElemType(v)
		if !ok {
			return "", invalidValue(key, v, "unsupported array element type %T", v)
		}
		if i == 0 {
			typ = t
		} else if t != typ {
			return "", invalidValue(key, []any(vals), "mixed array element types %s and %s", typ, t)
		}
	}
	elems := make([]sqldsl.Expr, len(vals))
	for i, v := range vals {
		elems[i] = sqldsl.Raw(ctx.Bind(v))
	}
	return sqldsl.ArrayLiteral{Elems: elems, Type: typ}.SQL(), nil
}

func arrayElemType(v any) (string, bool) {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return "int", true
	case float32, float64:
		return "numeric", true
	case string:
		return "text", true
	case bool:
		return "boolean", true
	}
	return "", false
}
