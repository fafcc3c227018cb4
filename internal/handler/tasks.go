package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/leca/imagevault/internal/api"
	"github.com/leca/imagevault/internal/database"
	"github.com/leca/imagevault/internal/model"
	"github.com/leca/imagevault/internal/upload"
)

// CreateTask handles POST /api/v1/images/{image_id}/tasks. The task is
// validated and recorded, then executed synchronously.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	id, err := imageIDParam(r)
	if err != nil {
		api.BadRequest(w, "invalid image id")
		return
	}

	var body struct {
		Kind   model.TaskKind   `json:"task_type"`
		Params model.TaskParams `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.BadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	task, err := h.Uploads.CreateTask(id, body.Kind, body.Params)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			api.NotFound(w, "image not found")
		case errors.Is(err, upload.ErrInvalidFile):
			api.UnprocessableEntity(w, err.Error())
		default:
			api.InternalError(w, "failed to create task")
		}
		return
	}

	// Failures are recorded on the task row; either way the client gets
	// the row's final state.
	_ = h.Pipeline.RunTask(r.Context(), task.ID)
	if reloaded, loadErr := h.DB.GetTask(task.ID); loadErr == nil {
		task = reloaded
	}

	api.WriteJSON(w, http.StatusCreated, api.SuccessResponse(task))
}

// GetTask handles GET /api/v1/tasks/{task_id} by public task identifier.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")

	task, err := h.DB.GetTaskByTaskID(taskID)
	if err != nil {
		api.NotFound(w, "task not found")
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(task))
}
