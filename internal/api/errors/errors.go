// Package errors provides the stable error taxonomy and response helpers for
// the gateway boundary. Callers and tests match on the code tag, never on
// message text.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error codes for structured API responses.
const (
	CodeMissingCredential    = "MISSING_CREDENTIAL"
	CodeInvalidCredential    = "INVALID_CREDENTIAL"
	CodeRateLimited          = "RATE_LIMITED"
	CodeUpstreamVerification = "UPSTREAM_VERIFICATION_FAILED"
	CodeInvalidAddress       = "INVALID_ADDRESS"
	CodeContentNotFound      = "CONTENT_NOT_FOUND"
	CodeUpstreamUnavailable  = "UPSTREAM_UNAVAILABLE"
	CodeConfigurationError   = "CONFIGURATION_ERROR"

	// Codes for the secret lifecycle surface, outside the core taxonomy.
	CodeValidationError = "VALIDATION_ERROR"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeInternalError   = "INTERNAL_ERROR"
)

// APIError represents a structured API error response.
type APIError struct {
	Code       string `json:"error"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"` // seconds, set on rate-limit denials
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates a new APIError with the given code and message.
func New(code, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

// NewRateLimited creates a rate-limit error with a retry hint in seconds.
func NewRateLimited(message string, retryAfter int) *APIError {
	return &APIError{
		Code:       CodeRateLimited,
		Message:    message,
		RetryAfter: retryAfter,
	}
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *APIError) HTTPStatusCode() int {
	switch e.Code {
	case CodeMissingCredential, CodeInvalidCredential:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUpstreamVerification, CodeUpstreamUnavailable:
		return http.StatusBadGateway
	case CodeInvalidAddress, CodeValidationError:
		return http.StatusBadRequest
	case CodeContentNotFound, CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeConfigurationError, CodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes an APIError as a JSON response.
func WriteError(w http.ResponseWriter, err *APIError) {
	WriteJSON(w, err.HTTPStatusCode(), err)
}
