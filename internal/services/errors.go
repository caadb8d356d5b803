package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/example/userdirectory/internal/database"
)

var (
	// ErrUserNotFound is returned when the requested user id does not exist.
	ErrUserNotFound = errors.New("User not found")

	// ErrTransient is a retryable store failure (timeout, connection loss).
	ErrTransient = database.ErrTransient
)

// ValidationError collects every violated field of a request together.
type ValidationError struct {
	Fields map[string][]string
}

// NewValidationError returns an empty ValidationError ready for Add.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: map[string][]string{}}
}

// Add records message against field.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], message)
}

// Has reports whether field already carries a message.
func (e *ValidationError) Has(field string) bool {
	return len(e.Fields[field]) > 0
}

// Empty reports whether no field was rejected.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// OrNil returns e when it carries messages and nil otherwise.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], "; ")))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// ConflictError is raised by a write when the store rejects a value that is
// already taken. It is surfaced to callers as a ValidationError on Field.
type ConflictError struct {
	Field string
	Value string
	Err   error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already taken: %v", e.Field, e.Value, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// Validation converts the conflict into the field-level error callers see.
func (e *ConflictError) Validation() *ValidationError {
	verr := NewValidationError()
	verr.Add(e.Field, takenMessage(e.Field))
	return verr
}

// normalizeError turns store conflicts into ValidationError and leaves everything else alone.
func normalizeError(err error) error {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict.Validation()
	}
	return err
}
