package api

import (
	"errors"
	"net/http"

	"github.com/relai-dev/relai/internal/config"
	"github.com/relai-dev/relai/internal/log"
)

// ReloadHandler triggers behavior-configuration reloads.
type ReloadHandler struct {
	store  *config.Store
	logger log.Logger
}

// NewReloadHandler creates a reload handler.
func NewReloadHandler(store *config.Store, logger log.Logger) *ReloadHandler {
	return &ReloadHandler{store: store, logger: logger}
}

// RegisterRoutes registers reload routes on the given mux.
func (h *ReloadHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/reload", h.reload)
	// GET is accepted for curl convenience; the operation is idempotent
	// from the caller's point of view.
	mux.HandleFunc("GET /api/reload", h.reload)
}

// reload runs a reload of the requested source(s) and reports per-source
// outcomes. Sources apply independently; any failed source keeps its part
// of the previous configuration and turns the response into a 502 so
// operators notice. The report body carries the details either way.
func (h *ReloadHandler) reload(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")

	report, err := h.store.Reload(r.Context(), source)
	switch {
	case errors.Is(err, config.ErrInvalidSource):
		writeError(w, h.logger, http.StatusBadRequest, "invalid source",
			"source must be one of: local, remote, both")
	case err != nil:
		writeJSON(w, h.logger, http.StatusBadGateway, report)
	default:
		writeJSON(w, h.logger, http.StatusOK, report)
	}
}
