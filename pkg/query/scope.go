package query

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pthm/pgquery/internal/sqldsl"
)

// source is one FROM or JOIN entry of a scope: its qualifier and the column
// names it exposes.
type source struct {
	qualifier string
	columns   []string
}

// scope is the allow-list of one query segment. Bare names resolve to the
// base source only; qualified names resolve to any visible source and,
// for correlated subqueries, to the qualified names of enclosing scopes.
type scope struct {
	parent *scope

	sources []source
	// visible limits qualified lookups to sources[:visible]. Join predicates
	// see only the base and the joins before them.
	visible int
	// qualify renders bare base columns as "q"."col".
	qualify bool

	bare   map[string]struct{}
	dotted map[string]int

	groupBy     map[string]struct{}
	projections []projection
	outputs     map[string]struct{}

	// paths memoizes JSON path renderings so a path used twice in one
	// scope reuses its placeholders and renders identical text.
	paths map[string]string
}

type projection struct {
	text       string
	aggregated bool
}

func newScope(parent *scope) *scope {
	return &scope{
		parent:  parent,
		bare:    make(map[string]struct{}),
		dotted:  make(map[string]int),
		groupBy: make(map[string]struct{}),
		outputs: make(map[string]struct{}),
		paths:   make(map[string]string),
	}
}

// resolveScope computes the allow-list of q from its base source and joins.
// It binds no values: derived tables and join targets are inspected for the
// names they expose and compiled later, in textual order.
func resolveScope(parent *scope, q *Select) (*scope, error) {
	sc := newScope(parent)

	var base source
	switch {
	case q.Table != nil && q.Derived != nil:
		return nil, invalid("table", "a query has either a table or a derived table, not both")
	case q.Table != nil:
		base = source{qualifier: q.Table.Name(), columns: q.Table.Columns()}
		if q.Alias != "" {
			base.qualifier = q.Alias
		}
	case q.Derived != nil:
		if q.Alias == "" {
			return nil, invalid("alias", "a derived table requires an alias")
		}
		cols, err := exposedColumns(q.Derived)
		if err != nil {
			return nil, err
		}
		base = source{qualifier: q.Alias, columns: cols}
	default:
		return nil, invalid("table", "a query requires a table")
	}
	if q.Alias != "" && !validAlias(q.Alias) {
		return nil, invalidValue("alias", q.Alias, "malformed alias")
	}
	if err := sc.add(base); err != nil {
		return nil, err
	}
	for _, c := range base.columns {
		sc.bare[c] = struct{}{}
	}
	sc.qualify = q.Alias != "" || len(q.Joins) > 0

	for _, j := range q.Joins {
		src, err := joinSource(q, j)
		if err != nil {
			return nil, err
		}
		if err := sc.add(src); err != nil {
			return nil, err
		}
	}
	return sc, nil
}

func (s *scope) add(src source) error {
	for _, existing := range s.sources {
		if existing.qualifier == src.qualifier {
			return invalid(src.qualifier, "table name or alias specified more than once")
		}
	}
	idx := len(s.sources)
	s.sources = append(s.sources, src)
	s.visible = len(s.sources)
	for _, c := range src.columns {
		s.dotted[src.qualifier+"."+c] = idx
	}
	return nil
}

func joinSource(q *Select, j Join) (source, error) {
	kind := string(j.Kind)
	switch j.Kind {
	case InnerJoin, LeftJoin, RightJoin, FullOuterJoin, SelfJoin, CrossJoin:
	default:
		return source{}, invalid(kind, "unknown join kind")
	}
	if j.Alias != "" && !validAlias(j.Alias) {
		return source{}, invalidValue("alias", j.Alias, "malformed alias")
	}
	if j.Kind == CrossJoin && len(j.On) > 0 {
		return source{}, invalid(kind, "cross joins take no predicate")
	}
	if j.Kind != CrossJoin && len(j.On) == 0 {
		return source{}, invalid(kind, "join requires a predicate")
	}

	if j.Kind == SelfJoin {
		if q.Table == nil {
			return source{}, invalid(kind, "self join requires a base table")
		}
		if j.Query != nil || (j.Table != nil && j.Table != q.Table) {
			return source{}, invalid(kind, "self join target must be the base table")
		}
		if j.Alias == "" {
			return source{}, invalid(kind, "self join requires an alias")
		}
		return source{qualifier: j.Alias, columns: q.Table.Columns()}, nil
	}

	switch {
	case j.Table != nil && j.Query != nil:
		return source{}, invalid(kind, "join target is either a table or a query, not both")
	case j.Table != nil:
		src := source{qualifier: j.Table.Name(), columns: j.Table.Columns()}
		if j.Alias != "" {
			src.qualifier = j.Alias
		}
		return src, nil
	case j.Query != nil:
		if j.Alias == "" {
			return source{}, invalid(kind, "joined subquery requires an alias")
		}
		cols, err := exposedColumns(j.Query)
		if err != nil {
			return source{}, err
		}
		return source{qualifier: j.Alias, columns: cols}, nil
	}
	return source{}, invalid(kind, "join requires a target")
}

// exposedColumns lists the column names a query exposes when used as a
// derived table. Unaliased fields expose nothing.
func exposedColumns(q *Select) ([]string, error) {
	if len(q.Columns) == 0 {
		switch {
		case q.Table != nil:
			return q.Table.Columns(), nil
		case q.Derived != nil:
			return exposedColumns(q.Derived)
		}
		return nil, invalid("table", "a query requires a table")
	}
	var cols []string
	for _, p := range q.Columns {
		name := p.As
		if name == "" {
			switch k := p.Key.(type) {
			case Col:
				segs := strings.Split(string(k), ".")
				name = segs[len(segs)-1]
			case *Field:
				if k != nil {
					name = k.Alias()
				}
			}
		}
		if name != "" {
			cols = append(cols, name)
		}
	}
	return cols, nil
}

// view returns a copy of s in which only the first n sources are visible.
func (s *scope) view(n int) *scope {
	v := *s
	v.visible = n
	return &v
}

// sourceScope returns the scope of source i on its own, with no parent.
func (s *scope) sourceScope(i int) *scope {
	src := s.sources[i]
	sc := newScope(nil)
	sc.sources = []source{src}
	sc.visible = 1
	sc.qualify = true
	for _, c := range src.columns {
		sc.bare[c] = struct{}{}
		sc.dotted[src.qualifier+"."+c] = 0
	}
	return sc
}

// lookup resolves name without the JSON fallback.
func (s *scope) lookup(name string) (string, bool) {
	if !strings.Contains(name, ".") {
		if _, ok := s.bare[name]; ok {
			if s.qualify {
				return sqldsl.Qualified(s.sources[0].qualifier, name), true
			}
			return sqldsl.Ident(name).SQL(), true
		}
		return "", false
	}
	for sc := s; sc != nil; sc = sc.parent {
		if idx, ok := sc.dotted[name]; ok && idx < sc.visible {
			return sqldsl.QuoteDotted(name), true
		}
	}
	return "", false
}

// resolve validates name against the allow-list (and custom names) and
// returns its SQL. When the name is not allowed but its first two, or first,
// segments name an allowed column, the remaining segments become a JSON path
// with each key bound as a placeholder. Repeating a path in the same scope
// reuses the placeholders of its first rendering.
func (s *scope) resolve(p *params, name string, asJSON bool, custom map[string]struct{}) (string, error) {
	if !sqldsl.ValidIdent(name) {
		return "", invalidValue(name, nil, "malformed identifier")
	}
	if sql, ok := s.lookup(name); ok {
		return sql, nil
	}
	if _, ok := custom[name]; ok {
		return sqldsl.Ident(name).SQL(), nil
	}
	segs := strings.Split(name, ".")
	for _, n := range []int{2, 1} {
		if len(segs) <= n {
			continue
		}
		if col, ok := s.lookup(strings.Join(segs[:n], ".")); ok {
			key := col + "." + strings.Join(segs[n:], ".")
			if asJSON {
				key += "->"
			}
			if sql, ok := s.paths[key]; ok {
				return sql, nil
			}
			sql := jsonPath(p, col, segs[n:], asJSON)
			s.paths[key] = sql
			return sql, nil
		}
	}
	return "", &ValidationError{Key: name, Reason: "unknown identifier", Allowed: s.allowed()}
}

func jsonPath(p *params, col string, path []string, asJSON bool) string {
	var sb strings.Builder
	sb.WriteString("(")
	sb.WriteString(col)
	for i, seg := range path {
		if i == len(path)-1 && !asJSON {
			sb.WriteString("->>")
		} else {
			sb.WriteString("->")
		}
		if idx, ok := arrayIndex(seg); ok {
			sb.WriteString(p.bind(idx, "int"))
		} else {
			sb.WriteString(p.bind(seg, "text"))
		}
	}
	sb.WriteString(")")
	return sb.String()
}

// arrayIndex reports whether a path segment is a JSON array index.
func arrayIndex(seg string) (int, bool) {
	if len(seg) > 9 {
		return 0, false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(seg)
	return n, err == nil
}

func (s *scope) allowed() []string {
	out := make([]string, 0, len(s.bare)+len(s.dotted))
	for c := range s.bare {
		out = append(out, c)
	}
	for c, idx := range s.dotted {
		if idx < s.visible {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

func (s *scope) hasQualifier(q string) bool {
	for i := 0; i < s.visible; i++ {
		if s.sources[i].qualifier == q {
			return true
		}
	}
	return false
}

func (s *scope) qualifierNames() []string {
	out := make([]string, 0, s.visible)
	for i := 0; i < s.visible; i++ {
		out = append(out, s.sources[i].qualifier)
	}
	sort.Strings(out)
	return out
}

func (s *scope) inGroupBy(text string) bool {
	_, ok := s.groupBy[text]
	return ok
}

func (s *scope) projection(i int) (projection, bool) {
	if i < 0 || i >= len(s.projections) {
		return projection{}, false
	}
	return s.projections[i], true
}

func validAlias(name string) bool {
	return sqldsl.ValidIdent(name) && !strings.Contains(name, ".")
}
