package query

import "sync/atomic"

// FieldFunc renders one expression. It receives the live compilation
// context and must return a Fragment emitted by that context. Columns go
// through ctx.Column, literals through ctx.Bind and nested fields through
// ctx.Eval; a FieldFunc never splices caller-provided text into the SQL.
type FieldFunc func(ctx *Context) (Fragment, error)

// Field is a single-use expression thunk. The compiler invokes it exactly
// once; a second invocation, or an invocation outside a running compilation,
// fails with a validation error. Build a new Field for every use.
type Field struct {
	name  string
	fn    FieldFunc
	alias string
	used  atomic.Bool
}

// NewField wraps fn. The name identifies the field in errors and traces.
func NewField(name string, fn FieldFunc) *Field {
	return &Field{name: name, fn: fn}
}

// As sets the output alias of the field and returns it.
func (f *Field) As(alias string) *Field {
	f.alias = alias
	return f
}

// Name returns the name given to NewField.
func (f *Field) Name() string { return f.name }

// Alias returns the alias set with As.
func (f *Field) Alias() string { return f.alias }

func (*Field) key()     {}
func (*Field) operand() {}

func (f *Field) invoke(ctx *Context) (Fragment, error) {
	if f == nil || f.fn == nil {
		return Fragment{}, invalid("", "nil field")
	}
	if err := ctx.live(f.name); err != nil {
		return Fragment{}, err
	}
	if !f.used.CompareAndSwap(false, true) {
		return Fragment{}, invalid(f.name, "field already invoked; fields are single use")
	}
	frag, err := f.fn(ctx)
	if err != nil {
		return Fragment{}, err
	}
	if frag.proof == nil || frag.proof != ctx.comp {
		return Fragment{}, invalid(f.name, "fragment was not emitted by this compilation")
	}
	if f.alias != "" {
		frag.alias = f.alias
	}
	ctx.comp.tracef("field", f.name, frag.sql)
	return frag, nil
}

// Fragment is the output of a FieldFunc. Only Context.Emit creates valid
// fragments.
type Fragment struct {
	sql   string
	alias string
	proof *compilation
}

// SQL returns the rendered expression.
func (f Fragment) SQL() string { return f.sql }

// Alias returns the output alias, if any.
func (f Fragment) Alias() string { return f.alias }

// As returns a copy of the fragment with the given output alias. An alias set
// on the Field takes precedence.
func (f Fragment) As(alias string) Fragment {
	f.alias = alias
	return f
}
