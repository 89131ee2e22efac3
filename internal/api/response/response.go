// Package response writes the JSON envelopes returned by the generation API.
package response

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"
)

// Code is the machine readable error code carried in an error envelope.
type Code string

const (
	CodeInvalidRequest    Code = "INVALID_REQUEST"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeInvalidToken      Code = "INVALID_TOKEN"
	CodeForbidden         Code = "FORBIDDEN"
	CodeNotFound          Code = "NOT_FOUND"
	CodeDocumentCompleted Code = "DOCUMENT_COMPLETED"
	CodeQueueFull         Code = "QUEUE_FULL"
	CodeRateLimited       Code = "RATE_LIMIT_EXCEEDED"
	CodeNotImplemented    Code = "NOT_IMPLEMENTED"
	CodeDegraded          Code = "DEGRADED"
	CodeInternal          Code = "INTERNAL_ERROR"
)

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes data with 200 OK.
func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

// Accepted writes data with 202 Accepted. Generation requests answer with
// this since the work itself runs in the background.
func Accepted(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusAccepted, envelope{Data: data})
}

func Error(w http.ResponseWriter, status int, code Code, message string) {
	ErrorWithDetails(w, status, code, message, nil)
}

func ErrorWithDetails(w http.ResponseWriter, status int, code Code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// RetryLater writes an error with a Retry-After header, rounded up to whole
// seconds.
func RetryLater(w http.ResponseWriter, status int, code Code, message string, after time.Duration) {
	secs := int(math.Ceil(after.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	Error(w, status, code, message)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
