package domain

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	// ErrUnauthorized is returned when the CMS rejects a request as unauthenticated (HTTP 401).
	ErrUnauthorized = errors.New("cms credentials expired or missing")
	// ErrLoginRejected is returned when the guest-login endpoint answers with a non-2xx status.
	ErrLoginRejected = errors.New("guest login rejected")
	// ErrUpstream covers every other non-2xx answer from the CMS.
	ErrUpstream = errors.New("cms upstream error")
	// ErrInvalidEnvelope is returned when a CMS body is not a {success, data} envelope or success is false.
	ErrInvalidEnvelope = errors.New("invalid cms response envelope")
	// ErrInvalidInput is returned when a caller-supplied argument is missing or malformed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when a lookup has no result.
	ErrNotFound = errors.New("not found")
	// ErrStorageUnavailable is returned by session storage backends that cannot be reached.
	ErrStorageUnavailable = errors.New("session storage unavailable")
	// ErrStorageMiss is returned by session storage backends when a key is absent.
	ErrStorageMiss = errors.New("session storage key not found")
)

// ErrorCode represents a specific error condition on the local HTTP surface.
type ErrorCode string

const (
	ErrCodeBadRequest      ErrorCode = "BadRequest"          // HTTP 400
	ErrCodeUnauthenticated ErrorCode = "Unauthenticated"     // HTTP 401
	ErrCodeNotFound        ErrorCode = "NotFound"            // HTTP 404
	ErrCodeUpstream        ErrorCode = "UpstreamError"       // HTTP 502
	ErrCodeInternal        ErrorCode = "InternalServerError" // HTTP 500
)

// ErrorResponse is the standard error format returned by the local HTTP surface.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// NewErrorResponse creates a new ErrorResponse struct.
func NewErrorResponse(code ErrorCode, message string, details string) ErrorResponse {
	return ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WriteJSON sends an ErrorResponse as JSON with the given HTTP status code.
func (er ErrorResponse) WriteJSON(w http.ResponseWriter, httpStatusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)
	json.NewEncoder(w).Encode(er) // Best effort, error from Encode is not handled here.
}
