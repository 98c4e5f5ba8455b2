package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates the requested row does not exist, or belongs
	// to another tenant, which callers cannot tell apart.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates an idempotency conflict on insert.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrNoTenant indicates an operation was attempted without a tenant
	// identity in the context.
	ErrNoTenant = errors.New("operation requires a tenant identity")

	// ErrInvalidTransition indicates a state change outside the legal graph.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ValidationError reports malformed input rejected before reaching the
// database.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for a field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
