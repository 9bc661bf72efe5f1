package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Error is the JSON body of every failed request: {code, message}.
// Internal detail never leaks here; unexpected failures carry the
// opaque "unexpected" code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// OK writes a 200 response with the given body.
func OK(w http.ResponseWriter, body any) {
	JSON(w, http.StatusOK, body)
}

// Err writes an error response.
func Err(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, Error{Code: code, Message: message})
}

// Unexpected writes an opaque 500. The cause is logged server-side
// only.
func Unexpected(w http.ResponseWriter, err error) {
	slog.Error("unexpected error", "error", err)
	Err(w, http.StatusInternalServerError, "unexpected", "an unexpected error occurred")
}
