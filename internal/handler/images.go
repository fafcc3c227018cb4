package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/leca/imagevault/internal/api"
	"github.com/leca/imagevault/internal/database"
	"github.com/leca/imagevault/internal/model"
	"github.com/leca/imagevault/internal/upload"
)

func imageIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "image_id"), 10, 64)
}

// GetImage handles GET /api/v1/images/{image_id}.
func (h *Handler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, err := imageIDParam(r)
	if err != nil {
		api.BadRequest(w, "invalid image id")
		return
	}

	img, err := h.DB.GetImage(id)
	if err != nil {
		api.NotFound(w, "image not found")
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(img))
}

// ListImages handles GET /api/v1/images with pagination and an optional
// owner filter.
func (h *Handler) ListImages(w http.ResponseWriter, r *http.Request) {
	page := 1
	perPage := 50

	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		if pp, err := strconv.Atoi(v); err == nil && pp > 0 {
			if pp > 1000 {
				pp = 1000
			}
			perPage = pp
		}
	}

	var ownerID *int64
	if v := r.URL.Query().Get("owner_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			api.BadRequest(w, "invalid owner_id")
			return
		}
		ownerID = &id
	}

	images, total, err := h.DB.ListImages(ownerID, (page-1)*perPage, perPage)
	if err != nil {
		api.InternalError(w, "failed to list images")
		return
	}
	if images == nil {
		images = []*model.Image{}
	}

	totalPages := 0
	if perPage > 0 {
		totalPages = (total + perPage - 1) / perPage
	}
	info := api.ResultInfo{
		Page:       page,
		PerPage:    perPage,
		Count:      len(images),
		TotalCount: total,
		TotalPages: totalPages,
	}
	api.WriteJSON(w, http.StatusOK, api.PaginatedResponse(map[string]interface{}{"images": images}, info))
}

// UpdateImage handles PATCH /api/v1/images/{image_id}. Only the description
// is client-mutable; storage fields are owned by the upload workflow.
func (h *Handler) UpdateImage(w http.ResponseWriter, r *http.Request) {
	id, err := imageIDParam(r)
	if err != nil {
		api.BadRequest(w, "invalid image id")
		return
	}

	img, err := h.DB.GetImage(id)
	if err != nil {
		api.NotFound(w, "image not found")
		return
	}

	var body struct {
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.BadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if body.Description != nil {
		img.Description = *body.Description
	}

	if err := h.DB.UpdateImage(img); err != nil {
		api.InternalError(w, "failed to update image")
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(img))
}

// DeleteImage handles DELETE /api/v1/images/{image_id}. Bytes are removed
// before metadata; a backend refusing the delete keeps the record.
func (h *Handler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	id, err := imageIDParam(r)
	if err != nil {
		api.BadRequest(w, "invalid image id")
		return
	}

	if err := h.Uploads.Delete(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			api.NotFound(w, "image not found")
		case errors.Is(err, upload.ErrStorageDelete):
			api.ServiceUnavailable(w, err.Error())
		default:
			api.InternalError(w, "failed to delete image")
		}
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(struct{}{}))
}

// GetStats handles GET /api/v1/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	count, err := h.DB.CountImages()
	if err != nil {
		api.InternalError(w, "failed to count images")
		return
	}

	result := map[string]interface{}{
		"count": map[string]interface{}{
			"current": count,
		},
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(result))
}
