package middleware

import (
	"log/slog"
	"net/http"

	"github.com/appy-one/acebase-server-sub001/internal/api/response"
)

// Recovery converts panics into opaque 500 responses. Stack detail
// stays server-side.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered", "error", err, "request_id", GetRequestID(r.Context()), "path", r.URL.Path)
				response.Err(w, http.StatusInternalServerError, "unexpected", "an unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
