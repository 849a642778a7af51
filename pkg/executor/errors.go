package executor

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ExecutionError is returned when PostgreSQL rejects or fails a statement.
type ExecutionError struct {
	// SQL is the statement that failed.
	SQL string
	// Code is the SQLSTATE, when the server reported one.
	Code string
	// Message is the server's primary message, or the driver error text.
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("pgquery: executing statement: %s (SQLSTATE %s)", e.Message, e.Code)
	}
	return fmt.Sprintf("pgquery: executing statement: %s", e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsExecutionErr returns true if err is or wraps an *ExecutionError.
func IsExecutionErr(err error) bool {
	var e *ExecutionError
	return errors.As(err, &e)
}

// annotate wraps a driver error, lifting the SQLSTATE out of pgx and lib/pq
// errors.
func annotate(sql string, err error) error {
	if err == nil {
		return nil
	}
	e := &ExecutionError{SQL: sql, Message: err.Error(), Err: err}
	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr):
		e.Code, e.Message = pgErr.Code, pgErr.Message
	case errors.As(err, &pqErr):
		e.Code, e.Message = string(pqErr.Code), pqErr.Message
	}
	return e
}
