package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/lexcoverzy/policy-upload/core/infra/logging"
)

// isoMillis renders timestamps with millisecond precision in UTC.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// apiError is a client-facing failure. Extra fields are merged into the JSON body
// next to error and hint.
type apiError struct {
	status  int
	message string
	hint    string
	details string
	extra   map[string]any
}

func (e *apiError) Error() string { return e.message }

func badRequest(message, hint string) *apiError {
	return &apiError{status: http.StatusBadRequest, message: message, hint: hint}
}

func notFound(message string, extra map[string]any) *apiError {
	return &apiError{status: http.StatusNotFound, message: message, extra: extra}
}

func unauthorized(message, hint string) *apiError {
	return &apiError{status: http.StatusUnauthorized, message: message, hint: hint}
}

func internalError(message, details string) *apiError {
	return &apiError{status: http.StatusInternalServerError, message: message, details: details}
}

type successBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("gateway", "encode response failed", "error", err)
	}
}

func writeSuccess(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, successBody{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, e *apiError) {
	body := map[string]any{
		"success": false,
		"error":   e.message,
	}
	if e.hint != "" {
		body["hint"] = e.hint
	}
	if e.details != "" {
		body["details"] = e.details
	}
	for k, v := range e.extra {
		body[k] = v
	}
	writeJSON(w, e.status, body)
}

func timestamp(t time.Time) string {
	return t.UTC().Format(isoMillis)
}
