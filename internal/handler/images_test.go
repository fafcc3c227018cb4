package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leca/imagevault/internal/config"
	"github.com/leca/imagevault/internal/database"
	"github.com/leca/imagevault/internal/handler"
	"github.com/leca/imagevault/internal/imageproc"
	"github.com/leca/imagevault/internal/router"
	"github.com/leca/imagevault/internal/storage"
	"github.com/leca/imagevault/internal/upload"
)

func newTestServer(t *testing.T) (*httptest.Server, *database.SQLiteDB) {
	t.Helper()
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	uploadDir := t.TempDir()
	cfg := &config.Config{
		AuthToken:         "",
		UploadDir:         uploadDir,
		MaxFileSize:       4 << 20,
		AllowedExtensions: []string{"jpg", "jpeg", "png", "gif"},
	}

	m := storage.NewManager()
	m.Register(storage.NameLocal, storage.NewLocal(uploadDir), true)

	pipeline := imageproc.NewPipeline(db, m, uploadDir)
	svc := upload.NewService(db, m, pipeline, cfg, nil)

	h := &handler.Handler{DB: db, Store: m, Uploads: svc, Pipeline: pipeline, Config: cfg}
	srv := httptest.NewServer(router.New(h, cfg).Router)
	t.Cleanup(srv.Close)
	return srv, db
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	data, err := imageproc.Encode(imaging.New(w, h, image.White.C), "png")
	require.NoError(t, err)
	return data
}

// multipartUpload builds a single-file upload request body.
func multipartUpload(t *testing.T, field, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename)}
	hdr["Content-Type"] = []string{"image/png"}
	part, err := w.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)

	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func doRequest(t *testing.T, method, url string, body *bytes.Buffer, contentType string) *http.Response {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("X-User-ID", "1")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeResult(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Result  json.RawMessage `json:"result"`
		Success bool            `json:"success"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.True(t, envelope.Success)
	if out != nil {
		require.NoError(t, json.Unmarshal(envelope.Result, out))
	}
}

func uploadTestImage(t *testing.T, srv *httptest.Server, filename string) int64 {
	t.Helper()
	body, ct := multipartUpload(t, "file", filename, pngBytes(t, 400, 300), map[string]string{
		"auto_thumbnail": "false",
	})
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/upload", body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var img struct {
		ID int64 `json:"id"`
	}
	decodeResult(t, resp, &img)
	require.NotZero(t, img.ID)
	return img.ID
}

func TestUploadEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	body, ct := multipartUpload(t, "file", "photo.png", pngBytes(t, 640, 480), map[string]string{
		"description":    "test upload",
		"auto_thumbnail": "false",
	})
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/upload", body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var img struct {
		ID            int64  `json:"id"`
		OriginalName  string `json:"original_filename"`
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		StorageType   string `json:"storage_type"`
		URL           string `json:"url"`
		Description   string `json:"description"`
		ProcessStatus string `json:"process_status"`
	}
	decodeResult(t, resp, &img)
	assert.Equal(t, "photo.png", img.OriginalName)
	assert.Equal(t, 640, img.Width)
	assert.Equal(t, 480, img.Height)
	assert.Equal(t, "local", img.StorageType)
	assert.Equal(t, "test upload", img.Description)
	assert.Equal(t, "pending", img.ProcessStatus)
	assert.NotEmpty(t, img.URL)

	// The stored bytes are served at the returned URL.
	static := doRequest(t, http.MethodGet, srv.URL+img.URL, nil, "")
	defer static.Body.Close()
	assert.Equal(t, http.StatusOK, static.StatusCode)
}

func TestUploadEndpointRejectsInvalidFile(t *testing.T) {
	srv, _ := newTestServer(t)

	body, ct := multipartUpload(t, "file", "not-an-image.png", []byte("junk"), nil)
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/upload", body, ct)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestUploadEndpointRejectsUnknownStorageType(t *testing.T) {
	srv, _ := newTestServer(t)

	body, ct := multipartUpload(t, "file", "p.png", pngBytes(t, 10, 10), map[string]string{
		"storage_type": "tape",
	})
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/upload", body, ct)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	body, ct := multipartUpload(t, "file", "p.png", pngBytes(t, 10, 10), nil)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/upload", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", ct)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGetListUpdateDeleteImage(t *testing.T) {
	srv, db := newTestServer(t)
	id := uploadTestImage(t, srv, "crud.png")

	// Get.
	resp := doRequest(t, http.MethodGet, fmt.Sprintf("%s/api/v1/images/%d", srv.URL, id), nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var img struct {
		ID int64 `json:"id"`
	}
	decodeResult(t, resp, &img)
	assert.Equal(t, id, img.ID)

	// List.
	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/images?page=1&per_page=10", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listBody struct {
		Result struct {
			Images []json.RawMessage `json:"images"`
		} `json:"result"`
		ResultInfo struct {
			TotalCount int `json:"total_count"`
		} `json:"result_info"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listBody))
	resp.Body.Close()
	assert.Len(t, listBody.Result.Images, 1)
	assert.Equal(t, 1, listBody.ResultInfo.TotalCount)

	// Patch description.
	patch := bytes.NewBufferString(`{"description":"updated"}`)
	resp = doRequest(t, http.MethodPatch, fmt.Sprintf("%s/api/v1/images/%d", srv.URL, id), patch, "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var patched struct {
		Description string `json:"description"`
	}
	decodeResult(t, resp, &patched)
	assert.Equal(t, "updated", patched.Description)

	// Delete.
	resp = doRequest(t, http.MethodDelete, fmt.Sprintf("%s/api/v1/images/%d", srv.URL, id), nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	_, err := db.GetImage(id)
	assert.ErrorIs(t, err, database.ErrNotFound)

	resp = doRequest(t, http.MethodGet, fmt.Sprintf("%s/api/v1/images/%d", srv.URL, id), nil, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestThumbnailEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	id := uploadTestImage(t, srv, "thumbs.png")

	resp := doRequest(t, http.MethodPost, fmt.Sprintf("%s/api/v1/images/%d/thumbnails", srv.URL, id), nil, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Thumbnails []struct {
			Size   string `json:"size"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
		} `json:"thumbnails"`
	}
	decodeResult(t, resp, &created)
	assert.Len(t, created.Thumbnails, 3)

	resp = doRequest(t, http.MethodGet, fmt.Sprintf("%s/api/v1/images/%d/thumbnails", srv.URL, id), nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Thumbnails []json.RawMessage `json:"thumbnails"`
	}
	decodeResult(t, resp, &listed)
	assert.Len(t, listed.Thumbnails, 3)
}

func TestTaskEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	id := uploadTestImage(t, srv, "tasked.png")

	taskBody := bytes.NewBufferString(`{"task_type":"resize","params":{"resize":{"width":100,"height":80}}}`)
	resp := doRequest(t, http.MethodPost, fmt.Sprintf("%s/api/v1/images/%d/tasks", srv.URL, id), taskBody, "application/json")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var task struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	decodeResult(t, resp, &task)
	require.NotEmpty(t, task.TaskID)
	assert.Equal(t, "completed", task.Status)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/tasks/"+task.TaskID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched struct {
		Status string `json:"status"`
	}
	decodeResult(t, resp, &fetched)
	assert.Equal(t, "completed", fetched.Status)

	// Unknown kinds are rejected.
	badBody := bytes.NewBufferString(`{"task_type":"sharpen","params":{}}`)
	resp = doRequest(t, http.MethodPost, fmt.Sprintf("%s/api/v1/images/%d/tasks", srv.URL, id), badBody, "application/json")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestBatchUploadEndpoint(t *testing.T) {
	srv, db := newTestServer(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for i, name := range []string{"a.png", "b.png", "c.txt"} {
		hdr := make(map[string][]string)
		hdr["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="files"; filename=%q`, name)}
		hdr["Content-Type"] = []string{"image/png"}
		part, err := w.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write(pngBytes(t, 20+i, 20))
		require.NoError(t, err)
	}
	require.NoError(t, w.WriteField("auto_thumbnail", "false"))
	require.NoError(t, w.Close())

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/upload/batch", &buf, w.FormDataContentType())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Uploaded []json.RawMessage `json:"uploaded_images"`
		Failed   []string          `json:"failed_files"`
		Session  struct {
			ID             int64  `json:"id"`
			TotalFiles     int    `json:"total_files"`
			ProcessedFiles int    `json:"processed_files"`
			Status         string `json:"status"`
		} `json:"session"`
	}
	decodeResult(t, resp, &result)

	assert.Len(t, result.Uploaded, 2)
	assert.Equal(t, []string{"c.txt"}, result.Failed)
	assert.Equal(t, 3, result.Session.TotalFiles)
	assert.Equal(t, 3, result.Session.ProcessedFiles)
	assert.Equal(t, "completed", result.Session.Status)

	count, err := db.CountImages()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStorageHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/storage/health", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Backends map[string]struct {
			Available bool `json:"available"`
			IsDefault bool `json:"is_default"`
		} `json:"backends"`
	}
	decodeResult(t, resp, &health)
	require.Contains(t, health.Backends, "local")
	assert.True(t, health.Backends["local"].Available)
	assert.True(t, health.Backends["local"].IsDefault)
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	uploadTestImage(t, srv, "counted.png")

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/stats", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats struct {
		Count struct {
			Current int `json:"current"`
		} `json:"count"`
	}
	decodeResult(t, resp, &stats)
	assert.Equal(t, 1, stats.Count.Current)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}
