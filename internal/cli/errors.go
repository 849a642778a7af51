// Package cli provides shared configuration and utilities for the pgquery CLI.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/pthm/pgquery/pkg/executor"
	"github.com/pthm/pgquery/pkg/query"
)

// Exit codes.
const (
	ExitSuccess     = 0
	ExitGeneral     = 1
	ExitConfig      = 2
	ExitSchemaParse = 3
	ExitDBConnect   = 4
	ExitValidation  = 5
	ExitExecution   = 6
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitWithError prints the error and exits with the appropriate code.
func ExitWithError(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(ExitCode(err))
}

// ExitCode returns the exit code for err. An *ExitError carries its own
// code; validation and execution errors that reach the top level unwrapped
// map to ExitValidation and ExitExecution.
func ExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.Code
	case query.IsValidationErr(err):
		return ExitValidation
	case executor.IsExecutionErr(err):
		return ExitExecution
	}
	return ExitGeneral
}

// ConfigError creates an ExitError with ExitConfig code.
func ConfigError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitConfig, Message: msg, Err: err}
}

// SchemaParseError creates an ExitError with ExitSchemaParse code.
func SchemaParseError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitSchemaParse, Message: msg, Err: err}
}

// DBConnectError creates an ExitError with ExitDBConnect code.
func DBConnectError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitDBConnect, Message: msg, Err: err}
}

// GeneralError creates an ExitError with ExitGeneral code.
func GeneralError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitGeneral, Message: msg, Err: err}
}

// ValidationError creates an ExitError with ExitValidation code.
func ValidationError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitValidation, Message: msg, Err: err}
}

// ExecutionError creates an ExitError with ExitExecution code.
func ExecutionError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitExecution, Message: msg, Err: err}
}
