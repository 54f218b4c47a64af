package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/FilPassOps/FilPass-sub000/internal/store"
	"github.com/FilPassOps/FilPass-sub000/internal/validation"
)

const genericFailureMessage = "Something went wrong, please try again later"

// Error is the failure shape every use case returns. Status follows HTTP
// semantics; Errors is set for validation failures only.
type Error struct {
	Status  int               `json:"status"`
	Message string            `json:"message,omitempty"`
	Errors  validation.Errors `json:"errors,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if len(e.Errors) > 0 {
		return e.Errors.Error()
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func ValidationError(errs validation.Errors) *Error {
	return &Error{Status: http.StatusBadRequest, Errors: errs}
}

func fieldError(field, message string) *Error {
	return ValidationError(validation.Errors{field: {Message: message}})
}

func NotFound(message string) *Error {
	return &Error{Status: http.StatusNotFound, Message: message}
}

// Conflict reports a status-guard violation.
func Conflict(message string) *Error {
	return &Error{Status: http.StatusBadRequest, Message: message}
}

func Internal(err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Message: genericFailureMessage, cause: err}
}

// AsError translates any error returned from the store or a collaborator into
// an *Error. Unknown errors become a generic 500.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, store.ErrTransferRequestNotFound):
		return &Error{Status: http.StatusNotFound, Message: "Transfer request not found", cause: err}
	case errors.Is(err, store.ErrProgramNotFound):
		return &Error{Status: http.StatusNotFound, Message: "Program not found", cause: err}
	case errors.Is(err, store.ErrUserNotFound):
		return &Error{Status: http.StatusNotFound, Message: "User not found", cause: err}
	case errors.Is(err, store.ErrDuplicateApproval):
		return &Error{Status: http.StatusConflict, Message: "Approval already recorded", cause: err}
	default:
		return Internal(err)
	}
}

// IsRetryable reports whether a failed operation may succeed if repeated.
func IsRetryable(err error) bool {
	appErr := AsError(err)
	return appErr != nil && appErr.Status >= http.StatusInternalServerError
}

var errInvalidPayload = errors.New("outbox payload is not valid JSON")
