package handler

import (
	"net/http"

	"github.com/appy-one/acebase-server-sub001/internal/api/response"
	"github.com/appy-one/acebase-server-sub001/internal/ws"
)

// HealthHandler handles the GET /health endpoint.
type HealthHandler struct {
	dbName   string
	version  string
	registry *ws.Registry
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(dbName, version string, registry *ws.Registry) *HealthHandler {
	return &HealthHandler{dbName: dbName, version: version, registry: registry}
}

type healthData struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Database    string `json:"database"`
	Connections int    `json:"connections"`
}

// ServeHTTP handles the health check request.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connections := 0
	if h.registry != nil {
		connections = h.registry.Count()
	}
	response.OK(w, healthData{
		Status:      "healthy",
		Version:     h.version,
		Database:    h.dbName,
		Connections: connections,
	})
}
