package query

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation is matched by every error the compiler reports for an invalid
// query specification. Validation errors abort the compile; no partial SQL is
// returned.
var ErrValidation = errors.New("pgquery: validation failed")

// IsValidationErr returns true if err is or wraps ErrValidation.
func IsValidationErr(err error) bool {
	return errors.Is(err, ErrValidation)
}

// ValidationError describes why a query specification was rejected.
type ValidationError struct {
	// Key is the offending identifier, operator or specification key.
	Key string
	// Value is the offending operand, when there is one.
	Value any
	// Allowed lists the identifiers visible in scope, for unknown identifiers.
	Allowed []string
	// Reason is a short human readable explanation.
	Reason string
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("pgquery: ")
	if e.Key != "" {
		fmt.Fprintf(&sb, "%q: ", e.Key)
	}
	sb.WriteString(e.Reason)
	if e.Value != nil {
		fmt.Fprintf(&sb, " (value %v)", e.Value)
	}
	if len(e.Allowed) > 0 {
		sb.WriteString("; allowed: ")
		sb.WriteString(strings.Join(e.Allowed, ", "))
	}
	return sb.String()
}

// Is makes errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(key, format string, args ...any) *ValidationError {
	return &ValidationError{Key: key, Reason: fmt.Sprintf(format, args...)}
}

func invalidValue(key string, value any, format string, args ...any) *ValidationError {
	return &ValidationError{Key: key, Value: value, Reason: fmt.Sprintf(format, args...)}
}
