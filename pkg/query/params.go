package query

import (
	"regexp"
	"strconv"
)

// params is the prepared-value set of one compile call. The placeholder for
// allocation k is always "$" + (k+1); len(values) is the next index.
type params struct {
	values         []any
	numericStrings bool
}

var numericPattern = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// bind appends v and returns its placeholder, followed by "::sqlType" when a
// type is given. Allocations are never removed or reordered.
func (p *params) bind(v any, sqlType string) string {
	if p.numericStrings {
		if s, ok := v.(string); ok {
			v = coerceNumeric(s)
		}
	}
	p.values = append(p.values, v)
	ph := "$" + strconv.Itoa(len(p.values))
	if sqlType != "" {
		ph += "::" + sqlType
	}
	return ph
}

// coerceNumeric turns numeric-looking strings into int64 or float64. Other
// strings are returned unchanged.
func coerceNumeric(s string) any {
	if !numericPattern.MatchString(s) {
		return s
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
