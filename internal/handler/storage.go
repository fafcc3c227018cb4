package handler

import (
	"net/http"

	"github.com/leca/imagevault/internal/api"
)

// StorageHealth handles GET /api/v1/storage/health -- availability and
// default status of every registered backend, without re-probing.
func (h *Handler) StorageHealth(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(map[string]interface{}{
		"backends": h.Store.HealthReport(),
	}))
}
