package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest       = "BAD_REQUEST"
	ErrUnauthorized     = "UNAUTHORIZED"
	ErrForbidden        = "FORBIDDEN"
	ErrNotFound         = "NOT_FOUND"
	ErrConflict         = "CONFLICT"
	ErrValidationError  = "VALIDATION_ERROR"
	ErrInternalError    = "INTERNAL_ERROR"
	ErrStoreUnavailable = "STORE_UNAVAILABLE"
)

// Detail-form specific error codes.
const (
	ErrMalformedPath   = "MALFORMED_PATH"
	ErrNestingTooDeep  = "NESTING_TOO_DEEP"
	ErrUnknownRelation = "UNKNOWN_RELATION"
	ErrOutOfScope      = "OUT_OF_SCOPE"
)

// ErrorEnvelope is the standard error value returned by the service.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewStoreUnavailableError returns a STORE_UNAVAILABLE error.
func NewStoreUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrStoreUnavailable,
		Message: "The record store is temporarily unavailable",
	}
}

// NewMalformedPathError returns a MALFORMED_PATH error for an item request
// suffix that does not follow the item grammar.
func NewMalformedPathError(path string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrMalformedPath,
		Message: fmt.Sprintf("no handler for %q", path),
	}
}

// NewNestingTooDeepError returns a NESTING_TOO_DEEP error.
func NewNestingTooDeepError(limit int) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrNestingTooDeep,
		Message: fmt.Sprintf("nested forms are limited to %d levels", limit),
	}
}

// NewUnknownRelationError returns an UNKNOWN_RELATION error.
func NewUnknownRelationError(typeName, relation string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrUnknownRelation,
		Message: fmt.Sprintf("type %q has no relation %q", typeName, relation),
	}
}

// NewOutOfScopeError returns an OUT_OF_SCOPE error. It never reaches the
// client: item requests convert it into a redirect to the grid listing.
func NewOutOfScopeError(gridName string, id int64) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrOutOfScope,
		Message: fmt.Sprintf("record %d is not listed by grid %q", id, gridName),
	}
}

// EnvelopeFrom extracts an *ErrorEnvelope from err, following wrapped errors.
func EnvelopeFrom(err error) (*ErrorEnvelope, bool) {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// IsCode reports whether err carries an ErrorEnvelope with the given code.
func IsCode(err error, code string) bool {
	ee, ok := EnvelopeFrom(err)
	return ok && ee.Code == code
}
