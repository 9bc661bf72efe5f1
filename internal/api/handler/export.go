package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/appy-one/acebase-server-sub001/internal/api/middleware"
	"github.com/appy-one/acebase-server-sub001/internal/api/response"
	"github.com/appy-one/acebase-server-sub001/internal/rules"
	"github.com/appy-one/acebase-server-sub001/internal/storage"
)

// ExportHandler handles GET /export/{db}: a bulk JSON dump of a
// subtree. This route accepts the bearer token as a query parameter so
// plain browser downloads work.
type ExportHandler struct {
	store  storage.Store
	engine *rules.Engine
}

// NewExportHandler creates a new ExportHandler.
func NewExportHandler(store storage.Store, engine *rules.Engine) *ExportHandler {
	return &ExportHandler{store: store, engine: engine}
}

// ServeHTTP exports the subtree at the path query parameter.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")

	var authCtx *rules.AuthContext
	if user := middleware.GetUser(r.Context()); user != nil {
		authCtx = &rules.AuthContext{UID: user.UID}
	}
	if result := h.engine.UserHasAccess(authCtx, path, false); !result.Allow {
		response.Err(w, http.StatusForbidden, result.Code, "read access denied")
		return
	}

	value, err := h.store.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, storage.ErrNodeNotFound) {
			response.Err(w, http.StatusNotFound, "not_found", "path does not exist")
			return
		}
		response.Unexpected(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="export.json"`)
	if err := json.NewEncoder(w).Encode(storage.Serialize(value)); err != nil {
		// Headers are gone; nothing sane left to send.
		return
	}
}
