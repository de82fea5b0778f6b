// Package httpx holds the JSON response helpers shared by every HTTP surface.
package httpx

import (
	"encoding/json"
	"net/http"
	"time"
)

// Error types carried in the "error" field of the envelope.
const (
	ErrTypeValidation   = "validation_error"
	ErrTypeUnauthorized = "unauthorized"
	ErrTypeRateLimited  = "rate_limited"
	ErrTypeNotFound     = "not_found"
	ErrTypeInternal     = "internal_error"
	ErrTypeBadRequest   = "bad_request"
	ErrTypeConflict     = "conflict"
	ErrTypeMediaType    = "unsupported_media_type"
)

// ErrorBody is the envelope every error response uses.
type ErrorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	Details   any    `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, errType, message string) {
	WriteJSON(w, status, ErrorBody{Error: errType, Message: message, Timestamp: time.Now().Unix()})
}

// WriteErrorDetails is WriteError with a machine-readable details payload.
func WriteErrorDetails(w http.ResponseWriter, status int, errType, message string, details any) {
	WriteJSON(w, status, ErrorBody{Error: errType, Message: message, Timestamp: time.Now().Unix(), Details: details})
}
