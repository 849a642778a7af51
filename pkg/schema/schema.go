package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pthm/pgquery/internal/sqldsl"
)

// Column defines one column of a table.
type Column struct {
	// Type is the PostgreSQL type, e.g. "bigint", "varchar(255)", "text[]".
	// Leave empty for enum columns.
	Type       string `json:"type,omitempty"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
	NotNull    bool   `json:"not_null,omitempty"`
	Unique     bool   `json:"unique,omitempty"`

	// Default is a literal default (string, number or bool).
	Default any `json:"default,omitempty"`

	// DefaultExpr is one of the recognised SQL default expressions, e.g. "now()".
	DefaultExpr string `json:"default_expr,omitempty"`

	// Enum declares an enum column. The type is created as <table>_<column>.
	Enum []string `json:"enum,omitempty"`
}

// ForeignKey references a column of another (or the same) table.
type ForeignKey struct {
	Column    string `json:"column"`
	Table     string `json:"table"`
	RefColumn string `json:"references"`
	OnDelete  string `json:"on_delete,omitempty"`
}

// Table is an immutable table descriptor.
type Table struct {
	name    string
	columns []string
	set     map[string]struct{}
	defs    map[string]Column
	primary []string
	fks     []ForeignKey
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Columns returns the column names in sorted order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// HasColumn reports whether the table has a column with the given name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.set[name]
	return ok
}

// Column returns the definition of the named column.
func (t *Table) Column(name string) (Column, bool) {
	c, ok := t.defs[name]
	return c, ok
}

// PrimaryKey returns the primary key columns in sorted order.
func (t *Table) PrimaryKey() []string {
	out := make([]string, len(t.primary))
	copy(out, t.primary)
	return out
}

// ForeignKeys returns the declared foreign keys.
func (t *Table) ForeignKeys() []ForeignKey {
	out := make([]ForeignKey, len(t.fks))
	copy(out, t.fks)
	return out
}

// EnumType returns the name of the enum type created for column.
func (t *Table) EnumType(column string) string {
	return t.name + "_" + column
}

// Registry holds the table descriptors of one application schema.
type Registry struct {
	tables map[string]*Table
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]*Table)}
}

// Table looks up a registered table by name.
func (r *Registry) Table(name string) (*Table, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// Tables returns the registered tables in registration order.
func (r *Registry) Tables() []*Table {
	out := make([]*Table, len(r.order))
	for i, name := range r.order {
		out[i] = r.tables[name]
	}
	return out
}

// MustRegister is like Register but panics on error. Intended for
// package-level table variables initialised at startup.
func (r *Registry) MustRegister(name string, columns map[string]Column, fks ...ForeignKey) *Table {
	t, err := r.Register(name, columns, fks...)
	if err != nil {
		panic(err)
	}
	return t
}

// Register validates a column-definition map and records the table.
// Foreign keys may reference the table itself or any table registered before it.
func (r *Registry) Register(name string, columns map[string]Column, fks ...ForeignKey) (*Table, error) {
	if !plainIdent(name) {
		return nil, &RegistrationError{Table: name, Err: ErrInvalidName}
	}
	if _, exists := r.tables[name]; exists {
		return nil, &RegistrationError{Table: name, Err: ErrDuplicateTable}
	}

	t := &Table{
		name: name,
		set:  make(map[string]struct{}, len(columns)),
		defs: make(map[string]Column, len(columns)),
	}
	for col, def := range columns {
		if !plainIdent(col) {
			return nil, &RegistrationError{Table: name, Column: col, Err: ErrInvalidName}
		}
		if err := validateColumn(def); err != nil {
			return nil, &RegistrationError{Table: name, Column: col, Err: err}
		}
		t.columns = append(t.columns, col)
		t.set[col] = struct{}{}
		t.defs[col] = def
		if def.PrimaryKey {
			t.primary = append(t.primary, col)
		}
	}
	sort.Strings(t.columns)
	sort.Strings(t.primary)

	if len(t.primary) == 0 {
		return nil, &RegistrationError{Table: name, Err: ErrNoPrimaryKey}
	}

	for _, fk := range fks {
		if err := r.validateForeignKey(t, fk); err != nil {
			return nil, err
		}
		t.fks = append(t.fks, fk)
	}

	r.tables[name] = t
	r.order = append(r.order, name)
	return t, nil
}

func (r *Registry) validateForeignKey(t *Table, fk ForeignKey) error {
	if !t.HasColumn(fk.Column) {
		return &RegistrationError{Table: t.name, Column: fk.Column,
			Err: fmt.Errorf("%w: foreign key column not declared", ErrUnknownReference)}
	}
	target := t
	if fk.Table != t.name {
		var ok bool
		target, ok = r.tables[fk.Table]
		if !ok {
			return &RegistrationError{Table: t.name, Column: fk.Column,
				Err: fmt.Errorf("%w: table %s", ErrUnknownReference, fk.Table)}
		}
	}
	if !target.HasColumn(fk.RefColumn) {
		return &RegistrationError{Table: t.name, Column: fk.Column,
			Err: fmt.Errorf("%w: column %s.%s", ErrUnknownReference, fk.Table, fk.RefColumn)}
	}
	if _, ok := onDeleteActions[strings.ToUpper(fk.OnDelete)]; !ok {
		return &RegistrationError{Table: t.name, Column: fk.Column,
			Err: fmt.Errorf("unsupported ON DELETE action %q", fk.OnDelete)}
	}
	return nil
}

var onDeleteActions = map[string]struct{}{
	"":            {},
	"CASCADE":     {},
	"SET NULL":    {},
	"SET DEFAULT": {},
	"RESTRICT":    {},
	"NO ACTION":   {},
}

// defaultExprs are the SQL expressions accepted as column defaults.
var defaultExprs = map[string]struct{}{
	"now()":                   {},
	"current_timestamp":       {},
	"current_date":            {},
	"gen_random_uuid()":       {},
	"transaction_timestamp()": {},
}

var typePattern = regexp.MustCompile(`(?i)^[a-z][a-z0-9_]*( [a-z][a-z0-9_]*)*(\(\d+(, ?\d+)?\))?(\[\])?$`)

// ValidType reports whether typ is an acceptable column type spelling.
func ValidType(typ string) bool {
	return typePattern.MatchString(typ)
}

func validateColumn(def Column) error {
	if len(def.Enum) > 0 {
		if def.Type != "" {
			return fmt.Errorf("%w: enum columns must not declare a type", ErrInvalidType)
		}
	} else if !ValidType(def.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidType, def.Type)
	}
	if def.DefaultExpr != "" {
		if def.Default != nil {
			return fmt.Errorf("default and default_expr are mutually exclusive")
		}
		if _, ok := defaultExprs[strings.ToLower(def.DefaultExpr)]; !ok {
			return fmt.Errorf("unsupported default expression %q", def.DefaultExpr)
		}
	}
	switch def.Default.(type) {
	case nil, string, bool, int, int32, int64, float64:
	default:
		return fmt.Errorf("unsupported default value %v (%T)", def.Default, def.Default)
	}
	return nil
}

func plainIdent(name string) bool {
	return sqldsl.ValidIdent(name) && !strings.Contains(name, ".")
}
