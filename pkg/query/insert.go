package query

import (
	"sort"

	"github.com/pthm/pgquery/internal/sqldsl"
	"github.com/pthm/pgquery/pkg/schema"
)

// Row maps column names to values. Values may be literals, *Field, Value or
// Default.
type Row map[string]any

// DefaultValue renders the DEFAULT keyword in an INSERT row.
type DefaultValue struct{}

// Default is the DEFAULT marker for Row values.
var Default = DefaultValue{}

// Insert is an INSERT specification for one or more rows. When Columns is
// empty it is the sorted union of the row keys; a row without a value for a
// column inserts DEFAULT.
type Insert struct {
	Table     *schema.Table
	Columns   []string
	Rows      []Row
	Returning []string
}

// Insert compiles an INSERT ... VALUES ... RETURNING statement.
func (c *Compiler) Insert(ins *Insert) (Statement, error) {
	comp := c.begin()
	sql, err := comp.insert(ins)
	return comp.finish("insert", sql, err)
}

func (c *compilation) insert(ins *Insert) (string, error) {
	if ins == nil || ins.Table == nil {
		return "", invalid("table", "insert requires a table")
	}
	if len(ins.Rows) == 0 {
		return "", invalid("rows", "insert requires at least one row")
	}
	sc, err := resolveScope(nil, &Select{Table: ins.Table})
	if err != nil {
		return "", err
	}

	cols := ins.Columns
	if len(cols) == 0 {
		seen := map[string]struct{}{}
		for _, r := range ins.Rows {
			for k := range r {
				if _, ok := seen[k]; !ok {
					seen[k] = struct{}{}
					cols = append(cols, k)
				}
			}
		}
		sort.Strings(cols)
	}
	if len(cols) == 0 {
		return "", invalid("columns", "insert requires at least one column")
	}

	set := make(map[string]struct{}, len(cols))
	quoted := make([]string, len(cols))
	for i, col := range cols {
		if !ins.Table.HasColumn(col) {
			return "", &ValidationError{Key: col, Reason: "unknown column", Allowed: ins.Table.Columns()}
		}
		if _, dup := set[col]; dup {
			return "", invalid(col, "column listed more than once")
		}
		set[col] = struct{}{}
		quoted[i] = sqldsl.Ident(col).SQL()
	}

	rows := make([][]string, len(ins.Rows))
	for i, r := range ins.Rows {
		for k := range r {
			if _, ok := set[k]; !ok {
				return "", invalidValue(k, r[k], "row %d has a value for a column that is not inserted", i)
			}
		}
		vals := make([]string, len(cols))
		for j, col := range cols {
			v, ok := r[col]
			if !ok {
				vals[j] = "DEFAULT"
				continue
			}
			s, err := c.insertValue(sc, v)
			if err != nil {
				return "", err
			}
			vals[j] = s
		}
		rows[i] = vals
	}

	var returning []string
	for _, col := range ins.Returning {
		if col == "*" {
			returning = append(returning, "*")
			continue
		}
		s, err := c.context(sc, clauseValues).Column(col)
		if err != nil {
			return "", err
		}
		returning = append(returning, s)
	}

	return sqldsl.InsertStmt{
		Table:     ins.Table.Name(),
		Columns:   quoted,
		Rows:      rows,
		Returning: returning,
	}.SQL(), nil
}

func (c *compilation) insertValue(sc *scope, v any) (string, error) {
	switch v := v.(type) {
	case DefaultValue:
		return "DEFAULT", nil
	case *Field:
		return c.context(sc, clauseValues).Eval(v)
	case Value:
		return c.params.bind(v.V, ""), nil
	}
	return c.params.bind(v, ""), nil
}
