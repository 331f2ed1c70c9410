package errors

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrValidation        = errors.New("validation failed")
	ErrMandateNotFound   = errors.New("mandate not found")
	ErrPayerNotFound     = errors.New("payer not found")
	ErrDuplicateMandate  = errors.New("duplicate mandate")
	ErrUnknownMandate    = errors.New("event references unknown mandate")
	ErrInvalidReturnCode = errors.New("return code must be present iff the event was returned")
)

// BusinessError represents a business logic error
type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// NewBusinessError creates a new business error
func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeMandateNotFound = "MANDATE_NOT_FOUND"
	ErrCodePayerNotFound   = "PAYER_NOT_FOUND"
	ErrCodeDatabaseError   = "DATABASE_ERROR"
	ErrCodeCacheError      = "CACHE_ERROR"
)

// ValidationError is the boundary rejection for malformed input. It always
// unwraps to ErrValidation so callers can test with errors.Is.
type ValidationError struct {
	MandateID string
	Field     string
	Reason    string
	Err       error
}

func (e *ValidationError) Error() string {
	if e.MandateID == "" {
		return fmt.Sprintf("%s: %s %s", ErrCodeValidation, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: mandate %s: %s %s", ErrCodeValidation, e.MandateID, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

// NewValidationError creates a validation error for one mandate
func NewValidationError(mandateID, field, reason string, err error) *ValidationError {
	return &ValidationError{
		MandateID: mandateID,
		Field:     field,
		Reason:    reason,
		Err:       err,
	}
}

// IsValidation reports whether err is a boundary validation failure
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// Wrap common errors with business context
func WrapMandateNotFound(mandateID string) *BusinessError {
	return NewBusinessError(
		ErrCodeMandateNotFound,
		fmt.Sprintf("Mandate with ID %s not found", mandateID),
		ErrMandateNotFound,
	)
}

func WrapPayerNotFound(payerID string) *BusinessError {
	return NewBusinessError(
		ErrCodePayerNotFound,
		fmt.Sprintf("Payer with ID %s has no mandates", payerID),
		ErrPayerNotFound,
	)
}

func WrapValidation(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeValidation,
		"request validation failed",
		err,
	)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeDatabaseError,
		"database operation failed",
		err,
	)
}

func WrapCacheError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeCacheError,
		"Cache operation failed",
		err,
	)
}

// CodeOf extracts the business code from err, or "" when err carries none
func CodeOf(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	if IsValidation(err) {
		return ErrCodeValidation
	}
	return ""
}
