package common

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Error kinds. Callers branch with errors.Is, never by message matching.
var (
	ErrValidation     = errors.New("validation failed")
	ErrAuthentication = errors.New("authentication failed")
	ErrConflict       = errors.New("operation invalid for current state")
	ErrNotFound       = errors.New("requested resource not found")
	ErrDatabase       = errors.New("database operation failed")
)

// ValidationError carries every violated rule, not just the first one,
// so a caller sees the complete set of problems in one response.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Violations, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError returns nil when no rules were violated.
func NewValidationError(violations ...string) error {
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

// DatabaseError wraps the underlying persistence failure with the
// operation that hit it.
type DatabaseError struct {
	Op    string
	Cause error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database operation %q failed: %v", e.Op, e.Cause)
}

func (e *DatabaseError) Is(target error) bool {
	return target == ErrDatabase
}

func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

func NewDatabaseError(op string, cause error) error {
	return &DatabaseError{Op: op, Cause: cause}
}

// ErrorKind returns the wire name for an error's kind.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrAuthentication):
		return "AuthenticationError"
	case errors.Is(err, ErrConflict):
		return "ConflictError"
	case errors.Is(err, ErrNotFound):
		return "NotFoundError"
	case errors.Is(err, ErrDatabase):
		return "DatabaseError"
	default:
		return "InternalError"
	}
}

// HTTPStatusFromError maps domain errors to HTTP status codes.
func HTTPStatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, ErrValidation) {
		return http.StatusBadRequest
	}
	if errors.Is(err, ErrAuthentication) {
		return http.StatusUnauthorized
	}
	if errors.Is(err, ErrConflict) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" { // unique violation
			return http.StatusConflict
		}
	}

	return http.StatusInternalServerError
}

// Errorf creates a new error with formatting, useful for wrapping a kind
// with context, e.g. Errorf("%w: contest already frozen", ErrConflict).
func Errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
