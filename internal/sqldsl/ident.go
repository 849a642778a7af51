package sqldsl

import (
	"regexp"
	"strings"
)

// MaxIdentLen is the longest identifier PostgreSQL keeps without truncation
// (NAMEDATALEN - 1).
const MaxIdentLen = 63

// identPattern matches a plain or dotted identifier.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z0-9_$]*)*$`)

// ValidIdent reports whether name is a syntactically valid, optionally dotted
// identifier whose segments are each 1-63 bytes long.
func ValidIdent(name string) bool {
	if name == "" || !identPattern.MatchString(name) {
		return false
	}
	for _, seg := range strings.Split(name, ".") {
		if seg == "" || len(seg) > MaxIdentLen {
			return false
		}
	}
	return true
}

// Ident renders a single identifier in double quotes, doubling embedded quotes.
type Ident string

// SQL renders the quoted identifier.
func (i Ident) SQL() string {
	return `"` + strings.ReplaceAll(string(i), `"`, `""`) + `"`
}

// Qualified quotes each part and joins them with dots: "u"."id".
func Qualified(parts ...string) string {
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = Ident(p).SQL()
	}
	return strings.Join(quoted, ".")
}

// QuoteDotted splits a dotted name and quotes each segment.
func QuoteDotted(name string) string {
	return Qualified(strings.Split(name, ".")...)
}

// Lit renders a string literal in single quotes. It is reserved for DDL,
// where PostgreSQL does not accept bound parameters.
type Lit string

// SQL renders the literal with single quotes doubled.
func (l Lit) SQL() string {
	return "'" + strings.ReplaceAll(string(l), "'", "''") + "'"
}
