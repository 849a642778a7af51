package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pthm/pgquery/internal/sqldsl"
)

// DDL renders the statements creating every registered table, in
// registration order. Enum types precede the table that uses them.
// Statements are idempotent.
func (r *Registry) DDL() []string {
	var stmts []string
	for _, t := range r.Tables() {
		stmts = append(stmts, t.DDL()...)
	}
	return stmts
}

// DDL renders CREATE TYPE statements for the table's enum columns followed by
// its CREATE TABLE statement.
func (t *Table) DDL() []string {
	var stmts []string
	for _, col := range t.columns {
		def := t.defs[col]
		if len(def.Enum) == 0 {
			continue
		}
		stmts = append(stmts, enumDDL(t.EnumType(col), def.Enum))
	}
	return append(stmts, t.createTableDDL())
}

func enumDDL(typeName string, values []string) string {
	labels := make([]string, len(values))
	for i, v := range values {
		labels[i] = sqldsl.Lit(v).SQL()
	}
	return fmt.Sprintf(
		"DO $$ BEGIN CREATE TYPE %s AS ENUM (%s); EXCEPTION WHEN duplicate_object THEN NULL; END $$",
		sqldsl.Ident(typeName).SQL(), strings.Join(labels, ", "))
}

// orderedColumns returns primary key columns first, then the rest by name.
func (t *Table) orderedColumns() []string {
	cols := t.Columns()
	sort.SliceStable(cols, func(i, j int) bool {
		pi, pj := t.defs[cols[i]].PrimaryKey, t.defs[cols[j]].PrimaryKey
		return pi && !pj
	})
	return cols
}

func (t *Table) createTableDDL() string {
	var parts []string
	composite := len(t.primary) > 1
	for _, col := range t.orderedColumns() {
		parts = append(parts, t.columnDDL(col, !composite))
	}
	if composite {
		parts = append(parts, "PRIMARY KEY ("+quoteList(t.primary)+")")
	}
	for _, fk := range t.fks {
		c := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			sqldsl.Ident(fk.Column).SQL(), sqldsl.Ident(fk.Table).SQL(), sqldsl.Ident(fk.RefColumn).SQL())
		if fk.OnDelete != "" {
			c += " ON DELETE " + strings.ToUpper(fk.OnDelete)
		}
		parts = append(parts, c)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sqldsl.Ident(t.name).SQL(), strings.Join(parts, ", "))
}

func (t *Table) columnDDL(col string, inlinePK bool) string {
	def := t.defs[col]
	typ := def.Type
	if len(def.Enum) > 0 {
		typ = sqldsl.Ident(t.EnumType(col)).SQL()
	}
	s := sqldsl.Ident(col).SQL() + " " + typ
	if def.PrimaryKey && inlinePK {
		s += " PRIMARY KEY"
	} else if def.NotNull {
		s += " NOT NULL"
	}
	if def.Unique {
		s += " UNIQUE"
	}
	if d := defaultSQL(def); d != "" {
		s += " DEFAULT " + d
	}
	return s
}

func defaultSQL(def Column) string {
	if def.DefaultExpr != "" {
		return strings.ToLower(def.DefaultExpr)
	}
	switch v := def.Default.(type) {
	case string:
		return sqldsl.Lit(v).SQL()
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = sqldsl.Ident(n).SQL()
	}
	return strings.Join(quoted, ", ")
}
