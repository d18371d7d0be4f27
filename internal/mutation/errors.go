package mutation

import (
	"errors"
	"fmt"

	"github.com/eventboard/server/internal/domain/events"
	"github.com/eventboard/server/internal/domain/users"
	"github.com/go-playground/validator/v10"
)

// Error codes reported in errors[].extensions.code.
const (
	CodeVersionConflict = "VERSION_CONFLICT"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeBadUserInput    = "BAD_USER_INPUT"
	CodeAlreadyExists   = "ALREADY_EXISTS"
	CodeInternal        = "INTERNAL_SERVER_ERROR"
	CodeOK              = "OK"
)

var ErrUnauthenticated = errors.New("authentication required")

// InputError reports arguments that could not be decoded or failed
// validation.
type InputError struct {
	Field   string
	Message string
}

func (e InputError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Code classifies err into one of the client visible error codes. Anything
// unrecognised is an internal error.
func Code(err error) string {
	if err == nil {
		return CodeOK
	}

	var (
		inputErr      InputError
		validationErr validator.ValidationErrors
	)
	switch {
	case errors.Is(err, events.ErrVersionConflict):
		return CodeVersionConflict
	case errors.Is(err, events.ErrNotFound), errors.Is(err, users.ErrUserNotFound):
		return CodeNotFound
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, users.ErrInvalidCredentials):
		return CodeUnauthenticated
	case errors.Is(err, events.ErrAlreadyExists), errors.Is(err, users.ErrEmailTaken):
		return CodeAlreadyExists
	case errors.As(err, &inputErr), errors.As(err, &validationErr), errors.Is(err, events.ErrInvalidInput):
		return CodeBadUserInput
	}
	return CodeInternal
}

// Extensions returns extra, code specific details for the error payload.
func Extensions(err error) map[string]any {
	ext := map[string]any{"code": Code(err)}

	var conflict events.ConflictError
	if errors.As(err, &conflict) {
		ext["entity"] = string(conflict.Kind)
		ext["id"] = conflict.ID
		ext["expectedVersion"] = conflict.Expected
		ext["currentVersion"] = conflict.Actual
	}

	var validationErr validator.ValidationErrors
	if errors.As(err, &validationErr) {
		fields := make(map[string]string, len(validationErr))
		for _, fe := range validationErr {
			fields[fe.Field()] = fe.Tag()
		}
		ext["fields"] = fields
	}

	var fieldErr events.FieldError
	if errors.As(err, &fieldErr) {
		ext["fields"] = map[string]string{fieldErr.Field: "text"}
	}
	return ext
}
