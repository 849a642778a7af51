package schema

import (
	"errors"
	"fmt"
)

// Sentinel errors for schema registration failures. All of them are fatal at
// startup: a registry that failed to register a table must not be used.
var (
	// ErrNoPrimaryKey is returned when a table declares no primary key column.
	ErrNoPrimaryKey = errors.New("pgquery/schema: no primary key declared")

	// ErrDuplicateTable is returned when a table name is registered twice.
	ErrDuplicateTable = errors.New("pgquery/schema: duplicate table")

	// ErrInvalidName is returned for table or column names that are not plain identifiers.
	ErrInvalidName = errors.New("pgquery/schema: invalid name")

	// ErrInvalidType is returned for column types outside the accepted spelling.
	ErrInvalidType = errors.New("pgquery/schema: invalid column type")

	// ErrUnknownReference is returned when a foreign key targets an unknown table or column.
	ErrUnknownReference = errors.New("pgquery/schema: unknown reference")
)

// RegistrationError annotates a registration failure with the table and,
// when relevant, the column involved.
type RegistrationError struct {
	Table  string
	Column string
	Err    error
}

func (e *RegistrationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("registering table %s: column %s: %v", e.Table, e.Column, e.Err)
	}
	return fmt.Sprintf("registering table %s: %v", e.Table, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// IsNoPrimaryKeyErr returns true if err is or wraps ErrNoPrimaryKey.
func IsNoPrimaryKeyErr(err error) bool {
	return errors.Is(err, ErrNoPrimaryKey)
}

// IsUnknownReferenceErr returns true if err is or wraps ErrUnknownReference.
func IsUnknownReferenceErr(err error) bool {
	return errors.Is(err, ErrUnknownReference)
}
