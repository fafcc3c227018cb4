package handler

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/leca/imagevault/internal/api"
	"github.com/leca/imagevault/internal/model"
	"github.com/leca/imagevault/internal/upload"
)

// uploadParams are the form fields shared by the single and batch upload
// endpoints.
type uploadParams struct {
	storageType   model.StorageType
	description   string
	autoThumbnail bool
}

func parseUploadParams(r *http.Request) (uploadParams, error) {
	p := uploadParams{
		storageType:   model.StorageLocal,
		autoThumbnail: true,
	}
	if v := r.FormValue("storage_type"); v != "" {
		p.storageType = model.StorageType(v)
		if !p.storageType.Valid() {
			return p, errors.New("unknown storage_type: " + v)
		}
	}
	p.description = r.FormValue("description")
	if v := r.FormValue("auto_thumbnail"); v == "false" || v == "0" {
		p.autoThumbnail = false
	}
	return p, nil
}

func fileFromHeader(fh *multipart.FileHeader) (upload.File, func(), error) {
	f, err := fh.Open()
	if err != nil {
		return upload.File{}, nil, err
	}
	return upload.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Reader:      f,
	}, func() { f.Close() }, nil
}

// brokenPart stands in for a multipart part that failed to open. Feeding it
// through the batch keeps the part counted as a failed attempt, so the
// session total still matches the request.
type brokenPart struct{ err error }

func (b brokenPart) Read([]byte) (int, error) { return 0, b.err }

// writeUploadError maps orchestrator errors onto the envelope.
func writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, upload.ErrInvalidFile):
		api.UnprocessableEntity(w, err.Error())
	case errors.Is(err, upload.ErrStorageUpload):
		api.ServiceUnavailable(w, err.Error())
	default:
		api.InternalError(w, "upload failed: "+err.Error())
	}
}

// UploadImage handles POST /api/v1/upload -- single multipart file upload.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.Config.MaxFileSize + (1 << 20)); err != nil {
		api.BadRequest(w, "invalid multipart form: "+err.Error())
		return
	}

	params, err := parseUploadParams(r)
	if err != nil {
		api.BadRequest(w, err.Error())
		return
	}

	_, fh, err := r.FormFile("file")
	if err != nil {
		api.BadRequest(w, "missing required field: file")
		return
	}

	f, closeFile, err := fileFromHeader(fh)
	if err != nil {
		api.BadRequest(w, "unreadable file part: "+err.Error())
		return
	}
	defer closeFile()

	img, err := h.Uploads.Upload(r.Context(), f, api.GetUserID(r.Context()),
		params.storageType, params.description, params.autoThumbnail)
	if err != nil {
		writeUploadError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusCreated, api.SuccessResponse(img))
}

// UploadBatch handles POST /api/v1/upload/batch -- multiple files under the
// "files" field, uploaded independently with session bookkeeping.
func (h *Handler) UploadBatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.Config.MaxFileSize * 4); err != nil {
		api.BadRequest(w, "invalid multipart form: "+err.Error())
		return
	}

	params, err := parseUploadParams(r)
	if err != nil {
		api.BadRequest(w, err.Error())
		return
	}

	if r.MultipartForm == nil || len(r.MultipartForm.File["files"]) == 0 {
		api.BadRequest(w, "missing required field: files")
		return
	}
	headers := r.MultipartForm.File["files"]

	var (
		files   []upload.File
		closers []func()
	)
	defer func() {
		for _, c := range closers {
			c()
		}
	}()
	for _, fh := range headers {
		f, closeFile, err := fileFromHeader(fh)
		if err != nil {
			files = append(files, upload.File{
				Name:        fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Reader:      brokenPart{err: err},
			})
			continue
		}
		closers = append(closers, closeFile)
		files = append(files, f)
	}

	result, err := h.Uploads.BatchUpload(r.Context(), files, api.GetUserID(r.Context()),
		params.storageType, params.description, params.autoThumbnail)
	if err != nil {
		api.InternalError(w, "batch upload failed: "+err.Error())
		return
	}

	if result.Uploaded == nil {
		result.Uploaded = []*model.Image{}
	}
	if result.Failed == nil {
		result.Failed = []string{}
	}
	api.WriteJSON(w, http.StatusCreated, api.SuccessResponse(result))
}
