package events

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidInput    = errors.New("invalid input")
)

// FieldError reports a field left empty once markup was stripped. It matches
// ErrInvalidInput with errors.Is.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e FieldError) Is(target error) bool {
	return target == ErrInvalidInput
}

func requireText(field, value string) error {
	if value == "" {
		return FieldError{Field: field, Message: "must contain text"}
	}
	return nil
}

// ConflictError reports a rejected edit. It matches ErrVersionConflict with
// errors.Is.
type ConflictError struct {
	Kind     Kind
	ID       int64
	Expected int64
	Actual   int64
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %d: expected version %d, stored version %d", e.Kind, e.ID, e.Expected, e.Actual)
}

func (e ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

func notFound(kind Kind, id int64) error {
	return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
}
