package query

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/pthm/pgquery/pkg/schema"
)

// Catalog looks up registered tables. *schema.Registry implements it.
type Catalog interface {
	Table(name string) (*schema.Table, bool)
}

// FunctionSet resolves the function calls of the map form, such as
// {"$count": "id"}, to fields. Arguments are column names (strings), nested
// fields, literals or raw maps.
type FunctionSet interface {
	Call(name string, args []any) (*Field, error)
}

// Decoder turns the map form of a query specification, as produced by
// decoding YAML or JSON, into a *Select, *Insert or Condition.
//
//	table: users
//	alias: u
//	columns: [id, email, {$count: id, as: n}]
//	where:
//	  $or:
//	    - {age: {between: [18, 30]}}
//	    - {email: {endsWith: "@example.com"}, active: true}
//	groupBy: [id, email]
//	having: {"@n": {gt: 1}}
//	orderBy: [-id]
//	limit: 10
//
// Map keys are processed in sorted order. A map with several column keys is
// an AND of its keys; a bare literal means eq.
type Decoder struct {
	Tables    Catalog
	Functions FunctionSet
}

// ParseSelect decodes a YAML or JSON select specification.
func (d *Decoder) ParseSelect(data []byte) (*Select, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing query: %w", err)
	}
	return d.Select(m)
}

// CompileDocument decodes a YAML or JSON document and compiles it. A
// document with a top-level "insert" key is an insert; anything else is a
// select.
func (d *Decoder) CompileDocument(c *Compiler, data []byte) (Statement, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Statement{}, fmt.Errorf("parsing query: %w", err)
	}
	if raw, ok := m["insert"]; ok {
		im, ok := raw.(map[string]any)
		if !ok || len(m) != 1 {
			return Statement{}, invalid("insert", "expected a single insert specification")
		}
		ins, err := d.Insert(im)
		if err != nil {
			return Statement{}, err
		}
		return c.Insert(ins)
	}
	q, err := d.Select(m)
	if err != nil {
		return Statement{}, err
	}
	return c.Select(q)
}

var setOpKeys = map[string]SetOpKind{
	"union":     Union,
	"unionAll":  UnionAll,
	"intersect": Intersect,
	"except":    Except,
}

// Select decodes a select specification.
func (d *Decoder) Select(m map[string]any) (*Select, error) {
	if m == nil {
		return nil, invalid("query", "empty query specification")
	}
	q := &Select{}
	aliases := map[string]int{}

	// table and columns first: other keys may reference projection aliases.
	switch t := m["table"].(type) {
	case string:
		if d.Tables == nil {
			return nil, invalid("table", "no table catalog configured")
		}
		tbl, ok := d.Tables.Table(t)
		if !ok {
			return nil, invalidValue("table", t, "unknown table")
		}
		q.Table = tbl
	case map[string]any:
		derived, err := d.Select(t)
		if err != nil {
			return nil, err
		}
		q.Derived = derived
	case nil:
		return nil, invalid("table", "a query requires a table")
	default:
		return nil, invalidValue("table", t, "expected a table name or a query")
	}
	if raw, ok := m["columns"]; ok {
		cols, err := d.columns(raw, aliases)
		if err != nil {
			return nil, err
		}
		q.Columns = cols
	}

	var setOp string
	for _, k := range sortedKeys(m) {
		v := m[k]
		var err error
		switch k {
		case "table", "columns":
		case "alias":
			q.Alias, err = asString(k, v)
		case "distinct":
			q.Distinct, err = asBool(k, v)
		case "where":
			q.Where, err = d.condition(v, aliases)
		case "having":
			q.Having, err = d.condition(v, aliases)
		case "groupBy":
			q.GroupBy, err = d.keys(k, v, aliases)
		case "orderBy":
			q.OrderBy, err = d.orders(v, aliases)
		case "limit":
			q.Limit, err = asInt(k, v)
		case "offset":
			q.Offset, err = asInt(k, v)
		case "joins":
			q.Joins, err = d.joins(v)
		default:
			if _, ok := setOpKeys[k]; !ok {
				return nil, invalid(k, "unknown query key")
			}
			if setOp != "" {
				return nil, invalid(k, "only one set operation per query; nest further ones (already have %s)", setOp)
			}
			setOp = k
		}
		if err != nil {
			return nil, err
		}
	}

	if setOp != "" {
		var nexts []any
		switch v := m[setOp].(type) {
		case []any:
			nexts = v
		default:
			nexts = []any{v}
		}
		if len(nexts) == 0 {
			return nil, invalid(setOp, "requires a query")
		}
		operands := make([]*Select, len(nexts))
		for i, n := range nexts {
			nm, ok := n.(map[string]any)
			if !ok {
				return nil, invalidValue(setOp, n, "expected a query")
			}
			next, err := d.Select(nm)
			if err != nil {
				return nil, err
			}
			if len(nexts) > 1 && next.SetOp != nil {
				return nil, invalid(setOp, "queries in a list must not carry their own set operation; nest them in a single query")
			}
			operands[i] = next
		}
		q.SetOp = &SetOp{Kind: setOpKeys[setOp], Next: setOpList(setOpKeys[setOp], operands)}
	}
	return q, nil
}

// setOpList builds the right operand of q OP [a, b, ...], which applies OP
// left to right. UNION, UNION ALL and INTERSECT are associative, so the list
// nests as a OP (b OP ...). q EXCEPT a EXCEPT b equals q EXCEPT (a UNION b).
func setOpList(kind SetOpKind, operands []*Select) *Select {
	inner := kind
	if kind == Except {
		inner = Union
	}
	for i := len(operands) - 2; i >= 0; i-- {
		operands[i].SetOp = &SetOp{Kind: inner, Next: operands[i+1]}
	}
	return operands[0]
}

func (d *Decoder) columns(raw any, aliases map[string]int) ([]Projection, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, invalidValue("columns", raw, "expected a list")
	}
	out := make([]Projection, 0, len(list))
	for i, entry := range list {
		var p Projection
		switch e := entry.(type) {
		case string:
			p.Key = Col(e)
		case map[string]any:
			rest := map[string]any{}
			for k, v := range e {
				if k == "as" {
					s, err := asString("as", v)
					if err != nil {
						return nil, err
					}
					p.As = s
					continue
				}
				rest[k] = v
			}
			if len(rest) != 1 {
				return nil, invalidValue("columns", e, "expected one column or function per entry")
			}
			if col, ok := rest["column"]; ok {
				s, err := asString("column", col)
				if err != nil {
					return nil, err
				}
				p.Key = Col(s)
				break
			}
			f, err := d.function(rest)
			if err != nil {
				return nil, err
			}
			p.Key = f
		default:
			return nil, invalidValue("columns", entry, "expected a column name or a function")
		}
		if p.As != "" {
			aliases[p.As] = i
		}
		out = append(out, p)
	}
	return out, nil
}

func (d *Decoder) keys(name string, raw any, aliases map[string]int) ([]Key, error) {
	list, ok := raw.([]any)
	if !ok {
		list = []any{raw}
	}
	out := make([]Key, len(list))
	for i, v := range list {
		k, err := d.key(v, aliases)
		if err != nil {
			return nil, err
		}
		out[i] = k
	}
	if len(out) == 0 {
		return nil, invalid(name, "requires at least one key")
	}
	return out, nil
}

// key decodes a column name, an @alias projection reference or a function.
func (d *Decoder) key(v any, aliases map[string]int) (Key, error) {
	switch v := v.(type) {
	case string:
		return refOrCol(v, aliases)
	case map[string]any:
		return d.function(v)
	}
	return nil, invalidValue("key", v, "expected a column name or a function")
}

func refOrCol(s string, aliases map[string]int) (Key, error) {
	if !strings.HasPrefix(s, "@") {
		return Col(s), nil
	}
	name := s[1:]
	if idx, ok := aliases[name]; ok {
		return Ref(idx), nil
	}
	if n, err := strconv.Atoi(name); err == nil {
		return Ref(n), nil
	}
	return nil, invalid(s, "no projection with this alias")
}

func (d *Decoder) orders(raw any, aliases map[string]int) ([]Order, error) {
	list, ok := raw.([]any)
	if !ok {
		list = []any{raw}
	}
	out := make([]Order, 0, len(list))
	for _, v := range list {
		var o Order
		switch e := v.(type) {
		case string:
			if strings.HasPrefix(e, "-") {
				o.Desc = true
				e = e[1:]
			}
			k, err := refOrCol(e, aliases)
			if err != nil {
				return nil, err
			}
			o.Key = k
		case map[string]any:
			by, ok := e["by"]
			if !ok {
				return nil, invalidValue("orderBy", e, "expected a \"by\" key")
			}
			k, err := d.key(by, aliases)
			if err != nil {
				return nil, err
			}
			o.Key = k
			for _, mk := range sortedKeys(e) {
				switch mk {
				case "by":
				case "desc":
					if o.Desc, err = asBool(mk, e[mk]); err != nil {
						return nil, err
					}
				case "nulls":
					s, _ := e[mk].(string)
					switch strings.ToLower(s) {
					case "first":
						o.Nulls = NullsFirst
					case "last":
						o.Nulls = NullsLast
					default:
						return nil, invalidValue(mk, e[mk], "expected first or last")
					}
				default:
					return nil, invalid(mk, "unknown orderBy key")
				}
			}
		default:
			return nil, invalidValue("orderBy", v, "expected a column name or a map")
		}
		out = append(out, o)
	}
	return out, nil
}

var joinKinds = map[string]JoinKind{
	"inner":     InnerJoin,
	"left":      LeftJoin,
	"right":     RightJoin,
	"fullouter": FullOuterJoin,
	"self":      SelfJoin,
	"cross":     CrossJoin,
}

func (d *Decoder) joins(raw any) ([]Join, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, invalidValue("joins", raw, "expected a list")
	}
	out := make([]Join, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			return nil, invalidValue("joins", entry, "expected a map")
		}
		var j Join
		for _, k := range sortedKeys(m) {
			v := m[k]
			switch k {
			case "kind":
				s, err := asString(k, v)
				if err != nil {
					return nil, err
				}
				kind, ok := joinKinds[strings.ToLower(strings.ReplaceAll(s, " ", ""))]
				if !ok {
					return nil, invalid(s, "unknown join kind")
				}
				j.Kind = kind
			case "alias":
				s, err := asString(k, v)
				if err != nil {
					return nil, err
				}
				j.Alias = s
			case "table":
				switch t := v.(type) {
				case string:
					if d.Tables == nil {
						return nil, invalid("table", "no table catalog configured")
					}
					tbl, ok := d.Tables.Table(t)
					if !ok {
						return nil, invalidValue("table", t, "unknown table")
					}
					j.Table = tbl
				case map[string]any:
					sub, err := d.Select(t)
					if err != nil {
						return nil, err
					}
					j.Query = sub
				default:
					return nil, invalidValue("table", v, "expected a table name or a query")
				}
			case "on":
				on, ok := v.(map[string]any)
				if !ok {
					return nil, invalidValue("on", v, "expected a map of base column to target column")
				}
				for _, base := range sortedKeys(on) {
					switch t := on[base].(type) {
					case string:
						j.On = append(j.On, On{Base: base, Target: t})
					case map[string]any:
						sub, err := d.Select(t)
						if err != nil {
							return nil, err
						}
						j.On = append(j.On, On{Base: base, Query: sub})
					default:
						return nil, invalidValue(base, t, "expected a target column or a subquery")
					}
				}
			default:
				return nil, invalid(k, "unknown join key")
			}
		}
		if j.Kind == "" {
			j.Kind = InnerJoin
		}
		out = append(out, j)
	}
	return out, nil
}

// Condition decodes a condition tree.
func (d *Decoder) Condition(v any) (Condition, error) {
	return d.condition(v, nil)
}

func (d *Decoder) condition(v any, aliases map[string]int) (Condition, error) {
	switch v := v.(type) {
	case map[string]any:
		if len(v) == 0 {
			return nil, invalid("where", "empty condition")
		}
		keys := sortedKeys(v)
		conds := make([]Condition, 0, len(keys))
		for _, k := range keys {
			c, err := d.conditionKey(k, v[k], aliases)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		}
		if len(conds) == 1 {
			return conds[0], nil
		}
		return And(conds...), nil
	case []any:
		return d.logical(OpAnd, v, aliases)
	}
	return nil, invalidValue("where", v, "expected a condition map")
}

func (d *Decoder) conditionKey(k string, v any, aliases map[string]int) (Condition, error) {
	switch k {
	case string(OpAnd), string(OpOr):
		list, ok := v.([]any)
		if !ok {
			return nil, invalidValue(k, v, "expected a list of conditions")
		}
		return d.logical(LogicalOp(k), list, aliases)
	case "$exists", "$notExists":
		m, ok := v.(map[string]any)
		if !ok {
			return nil, invalidValue(k, v, "expected a subquery")
		}
		sub, err := d.Select(m)
		if err != nil {
			return nil, err
		}
		return Existential{Negate: k == "$notExists", Query: sub}, nil
	case "$matches":
		return d.matches(v, aliases)
	}
	if strings.HasPrefix(k, "$") {
		return nil, invalid(k, "unknown condition operator")
	}
	key, err := refOrCol(k, aliases)
	if err != nil {
		return nil, err
	}
	ops, err := d.ops(k, v)
	if err != nil {
		return nil, err
	}
	return Leaf{Key: key, Ops: ops}, nil
}

// logical decodes the siblings of $and/$or. A sibling map with several keys
// is an AND group of its own keys.
func (d *Decoder) logical(op LogicalOp, list []any, aliases map[string]int) (Condition, error) {
	conds := make([]Condition, len(list))
	for i, item := range list {
		c, err := d.condition(item, aliases)
		if err != nil {
			return nil, err
		}
		conds[i] = c
	}
	return Logical{Op: op, Conds: conds}, nil
}

func (d *Decoder) matches(v any, aliases map[string]int) (Condition, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, invalidValue("$matches", v, "expected a list of [field, conditions] pairs")
	}
	out := make(Matches, len(list))
	for i, item := range list {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return nil, invalidValue("$matches", item, "expected a [field, conditions] pair")
		}
		key, err := d.key(pair[0], aliases)
		if err != nil {
			return nil, err
		}
		ops, err := d.ops(keyName(key), pair[1])
		if err != nil {
			return nil, err
		}
		out[i] = Match{Key: key, Ops: ops}
	}
	return out, nil
}

// ops decodes the operator map of a leaf. Anything that is not an operator
// map is shorthand for eq.
func (d *Decoder) ops(key string, v any) ([]Op, error) {
	m, ok := v.(map[string]any)
	if !ok || isFunctionMap(m) || isQuantifierMap(m) || m["table"] != nil {
		operand, err := d.operand(v)
		if err != nil {
			return nil, err
		}
		return []Op{{Operator: OpEq, Operand: operand}}, nil
	}
	if len(m) == 0 {
		return nil, invalid(key, "empty operator map")
	}
	ops := make([]Op, 0, len(m))
	for _, name := range sortedKeys(m) {
		op := Operator(name)
		if !KnownOperator(op) {
			return nil, invalid(name, "unknown operator on %s", key)
		}
		operand, err := d.operand(m[name])
		if err != nil {
			return nil, err
		}
		if _, unary := unaryOps[op]; unary {
			if !unaryOperand(operand) {
				return nil, invalidValue(name, m[name], "operator takes no operand")
			}
			operand = nil
		}
		ops = append(ops, Op{Operator: op, Operand: operand})
	}
	return ops, nil
}

func (d *Decoder) operand(v any) (Operand, error) {
	switch v := v.(type) {
	case []any:
		vals := make(Values, len(v))
		for i, e := range v {
			if inner, ok := e.([]any); ok {
				row := make([]any, len(inner))
				for j, x := range inner {
					row[j] = normalize(x)
				}
				vals[i] = row
				continue
			}
			vals[i] = normalize(e)
		}
		return vals, nil
	case map[string]any:
		switch {
		case isFunctionMap(v):
			return d.function(v)
		case isQuantifierMap(v):
			for k, inner := range v {
				operand, err := d.operand(inner)
				if err != nil {
					return nil, err
				}
				return Quantified{Quantifier: Quantifier(strings.ToUpper(k)), Operand: operand}, nil
			}
		case v["table"] != nil:
			return d.Select(v)
		}
		return nil, invalidValue("operand", v, "expected a literal, a list, a function, any/all or a subquery")
	}
	return Value{V: normalize(v)}, nil
}

func isFunctionMap(m map[string]any) bool {
	if len(m) != 1 {
		return false
	}
	for k := range m {
		return strings.HasPrefix(k, "$")
	}
	return false
}

func isQuantifierMap(m map[string]any) bool {
	if len(m) != 1 {
		return false
	}
	for k := range m {
		switch strings.ToLower(k) {
		case "any", "all":
			return true
		}
	}
	return false
}

// function decodes {"$name": args}.
func (d *Decoder) function(m map[string]any) (*Field, error) {
	if !isFunctionMap(m) {
		return nil, invalidValue("function", m, "expected a single {$name: args} entry")
	}
	if d.Functions == nil {
		return nil, invalid("function", "no function set configured")
	}
	for k, raw := range m {
		var list []any
		switch a := raw.(type) {
		case []any:
			list = a
		case nil:
		default:
			list = []any{a}
		}
		args := make([]any, len(list))
		for i, a := range list {
			if am, ok := a.(map[string]any); ok && isFunctionMap(am) {
				f, err := d.function(am)
				if err != nil {
					return nil, err
				}
				args[i] = f
				continue
			}
			args[i] = normalize(a)
		}
		return d.Functions.Call(k[1:], args)
	}
	return nil, nil
}

// normalize turns whole float64 values, as produced by JSON and YAML
// decoding, into int64.
func normalize(v any) any {
	f, ok := v.(float64)
	if !ok {
		return v
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func asString(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", invalidValue(key, v, "expected a string")
	}
	return s, nil
}

func asBool(key string, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, invalidValue(key, v, "expected a boolean")
	}
	return b, nil
}

func asInt(key string, v any) (int, error) {
	switch n := normalize(v).(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	}
	return 0, invalidValue(key, v, "expected an integer")
}

// Insert decodes an insert specification:
//
//	table: users
//	rows: [{email: a@example.com}, {email: b@example.com, active: false}]
//	returning: [id]
func (d *Decoder) Insert(m map[string]any) (*Insert, error) {
	ins := &Insert{}
	for _, k := range sortedKeys(m) {
		v := m[k]
		switch k {
		case "table":
			name, err := asString(k, v)
			if err != nil {
				return nil, err
			}
			if d.Tables == nil {
				return nil, invalid("table", "no table catalog configured")
			}
			tbl, ok := d.Tables.Table(name)
			if !ok {
				return nil, invalidValue("table", name, "unknown table")
			}
			ins.Table = tbl
		case "columns", "returning":
			list, ok := v.([]any)
			if !ok {
				return nil, invalidValue(k, v, "expected a list of column names")
			}
			names := make([]string, len(list))
			for i, e := range list {
				s, err := asString(k, e)
				if err != nil {
					return nil, err
				}
				names[i] = s
			}
			if k == "columns" {
				ins.Columns = names
			} else {
				ins.Returning = names
			}
		case "rows", "values":
			list, ok := v.([]any)
			if !ok {
				list = []any{v}
			}
			for _, e := range list {
				rm, ok := e.(map[string]any)
				if !ok {
					return nil, invalidValue(k, e, "expected a map of column to value")
				}
				row := Row{}
				for col, val := range rm {
					if vm, ok := val.(map[string]any); ok && isFunctionMap(vm) {
						if _, isDefault := vm["$default"]; isDefault {
							row[col] = Default
							continue
						}
						f, err := d.function(vm)
						if err != nil {
							return nil, err
						}
						row[col] = f
						continue
					}
					row[col] = normalize(val)
				}
				ins.Rows = append(ins.Rows, row)
			}
		default:
			return nil, invalid(k, "unknown insert key")
		}
	}
	return ins, nil
}
