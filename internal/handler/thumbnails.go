package handler

import (
	"net/http"

	"github.com/leca/imagevault/internal/api"
	"github.com/leca/imagevault/internal/model"
)

// GenerateThumbnails handles POST /api/v1/images/{image_id}/thumbnails --
// synchronous regeneration of the derivative ladder.
func (h *Handler) GenerateThumbnails(w http.ResponseWriter, r *http.Request) {
	id, err := imageIDParam(r)
	if err != nil {
		api.BadRequest(w, "invalid image id")
		return
	}
	if _, err := h.DB.GetImage(id); err != nil {
		api.NotFound(w, "image not found")
		return
	}

	thumbs := h.Uploads.ProcessImage(r.Context(), id)
	if len(thumbs) == 0 {
		api.InternalError(w, "failed to create thumbnails")
		return
	}
	api.WriteJSON(w, http.StatusCreated, api.SuccessResponse(map[string]interface{}{"thumbnails": thumbs}))
}

// ListThumbnails handles GET /api/v1/images/{image_id}/thumbnails.
func (h *Handler) ListThumbnails(w http.ResponseWriter, r *http.Request) {
	id, err := imageIDParam(r)
	if err != nil {
		api.BadRequest(w, "invalid image id")
		return
	}
	if _, err := h.DB.GetImage(id); err != nil {
		api.NotFound(w, "image not found")
		return
	}

	thumbs, err := h.DB.ListThumbnails(id)
	if err != nil {
		api.InternalError(w, "failed to list thumbnails")
		return
	}
	if thumbs == nil {
		thumbs = []*model.Thumbnail{}
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(map[string]interface{}{"thumbnails": thumbs}))
}
