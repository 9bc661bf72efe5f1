package handler

import (
	"net/http"
	"strconv"

	"github.com/appy-one/acebase-server-sub001/internal/api/response"
	"github.com/appy-one/acebase-server-sub001/internal/audit"
)

// LogsHandler handles GET /logs/{db}: admin-only retrieval of recent
// audit events. Only available when the durable Postgres sink is
// configured. Like export, this route accepts the bearer token as a
// query parameter.
type LogsHandler struct {
	sink *audit.PostgresSink
}

// NewLogsHandler creates a new LogsHandler. sink may be nil when no
// durable audit backend is configured.
func NewLogsHandler(sink *audit.PostgresSink) *LogsHandler {
	return &LogsHandler{sink: sink}
}

// ServeHTTP returns recent audit entries, newest first.
func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.sink == nil {
		response.Err(w, http.StatusNotFound, "not_available", "no durable audit log is configured")
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	entries, err := h.sink.Query(r.Context(), q.Get("action"), limit)
	if err != nil {
		response.Unexpected(w, err)
		return
	}
	response.OK(w, map[string]any{"entries": entries})
}
