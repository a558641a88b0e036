package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers use these instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationInvalidSignature ErrorCode = "validation_invalid_signature"
	ErrCodeValidationMalformedPayload ErrorCode = "validation_malformed_payload"
	ErrCodeValidationPayloadTooLarge  ErrorCode = "validation_payload_too_large"

	// Not Found (404)
	ErrCodeNotFoundSubscription ErrorCode = "not_found_subscription"

	// Internal (500)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeInternalCodec      ErrorCode = "internal_payload_codec_error"
)

// HTTPStatus maps an ErrorCode to its HTTP status code.
// Unrecognized codes map to 500.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case s == string(ErrCodeValidationPayloadTooLarge):
		return http.StatusRequestEntityTooLarge // 413
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type. Repository and handler
// failures are expressed as AppError so the API layer can map them to a
// consistent response envelope.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
