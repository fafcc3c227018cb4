package upload

import (
	"bytes"
	"context"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leca/imagevault/internal/config"
	"github.com/leca/imagevault/internal/database"
	"github.com/leca/imagevault/internal/imageproc"
	"github.com/leca/imagevault/internal/model"
	"github.com/leca/imagevault/internal/storage"
)

// brokenBackend reports available but refuses every operation.
type brokenBackend struct{}

func (brokenBackend) Upload(context.Context, io.Reader, string, storage.UploadOptions) bool {
	return false
}
func (brokenBackend) UploadFromPath(context.Context, string, string) bool { return false }
func (brokenBackend) URL(string) (string, bool)                           { return "", false }
func (brokenBackend) Download(context.Context, string) ([]byte, bool)     { return nil, false }
func (brokenBackend) Delete(context.Context, string) bool                 { return false }
func (brokenBackend) Exists(context.Context, string) bool                 { return false }
func (brokenBackend) Available() bool                                     { return true }

// recordEnqueuer captures enqueued image IDs.
type recordEnqueuer struct {
	ids []int64
}

func (r *recordEnqueuer) Enqueue(imageID int64) {
	r.ids = append(r.ids, imageID)
}

func newTestService(t *testing.T) (*Service, *database.SQLiteDB, *storage.Manager, string) {
	t.Helper()
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	uploadDir := t.TempDir()
	m := storage.NewManager()
	m.Register(storage.NameLocal, storage.NewLocal(uploadDir), true)

	cfg := &config.Config{
		UploadDir:         uploadDir,
		MaxFileSize:       1 << 20,
		AllowedExtensions: []string{"jpg", "jpeg", "png", "gif"},
	}
	pipeline := imageproc.NewPipeline(db, m, uploadDir)
	return NewService(db, m, pipeline, cfg, nil), db, m, uploadDir
}

func pngFile(t *testing.T, name string, w, h int) File {
	t.Helper()
	data, err := imageproc.Encode(imaging.New(w, h, image.White.C), "png")
	require.NoError(t, err)
	return File{Name: name, ContentType: "image/png", Reader: bytes.NewReader(data)}
}

func imageCount(t *testing.T, db database.Database) int {
	t.Helper()
	n, err := db.CountImages()
	require.NoError(t, err)
	return n
}

func TestUploadLocal(t *testing.T) {
	svc, db, _, uploadDir := newTestService(t)

	img, err := svc.Upload(context.Background(), pngFile(t, "photo.png", 640, 480), 7, model.StorageLocal, "a photo", false)
	require.NoError(t, err)

	assert.NotZero(t, img.ID)
	assert.Equal(t, "photo.png", img.OriginalFilename)
	assert.Equal(t, model.StorageLocal, img.StorageType)
	assert.Equal(t, 640, img.Width)
	assert.Equal(t, 480, img.Height)
	assert.Equal(t, "image/png", img.FileType)
	assert.Equal(t, int64(7), img.OwnerID)
	assert.Equal(t, "a photo", img.Description)
	assert.Equal(t, model.StatusPending, img.ProcessStatus)
	assert.True(t, strings.HasPrefix(img.StorageKey, "uploads/"))
	assert.True(t, strings.HasPrefix(img.URL, "/static/uploads/"))

	// Bytes landed on disk under the upload dir.
	_, statErr := os.Stat(filepath.Join(uploadDir, filepath.FromSlash(img.StorageKey)))
	assert.NoError(t, statErr)
	assert.Equal(t, img.FilePath, filepath.Join(uploadDir, filepath.FromSlash(img.StorageKey)))

	// Persisted.
	got, err := db.GetImage(img.ID)
	require.NoError(t, err)
	assert.Equal(t, img.StorageKey, got.StorageKey)
}

func TestUploadRejectsBadExtension(t *testing.T) {
	svc, db, _, _ := newTestService(t)

	f := pngFile(t, "document.pdf", 10, 10)
	_, err := svc.Upload(context.Background(), f, 1, model.StorageLocal, "", false)
	assert.ErrorIs(t, err, ErrInvalidFile)
	assert.Equal(t, 0, imageCount(t, db))
}

func TestUploadRejectsNonImageContentType(t *testing.T) {
	svc, db, _, _ := newTestService(t)

	f := pngFile(t, "photo.png", 10, 10)
	f.ContentType = "application/octet-stream"
	_, err := svc.Upload(context.Background(), f, 1, model.StorageLocal, "", false)
	assert.ErrorIs(t, err, ErrInvalidFile)
	assert.Equal(t, 0, imageCount(t, db))
}

func TestUploadRejectsOversize(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	svc.Cfg.MaxFileSize = 64

	_, err := svc.Upload(context.Background(), pngFile(t, "big.png", 200, 200), 1, model.StorageLocal, "", false)
	assert.ErrorIs(t, err, ErrInvalidFile)
	assert.Equal(t, 0, imageCount(t, db))
}

func TestUploadRejectsUndecodableContent(t *testing.T) {
	svc, db, _, _ := newTestService(t)

	// No recognizable magic bytes: rejected by the sniff before decoding.
	f := File{
		Name:        "fake.png",
		ContentType: "image/png",
		Reader:      strings.NewReader("this is not a png"),
	}
	_, err := svc.Upload(context.Background(), f, 1, model.StorageLocal, "", false)
	assert.ErrorIs(t, err, ErrInvalidFile)
	assert.Contains(t, err.Error(), "unrecognized image format")

	// Valid PNG magic over a truncated body: passes the sniff, fails the
	// full decode.
	f = File{
		Name:        "truncated.png",
		ContentType: "image/png",
		Reader: bytes.NewReader([]byte{
			0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0xDE, 0xAD,
		}),
	}
	_, err = svc.Upload(context.Background(), f, 1, model.StorageLocal, "", false)
	assert.ErrorIs(t, err, ErrInvalidFile)
	assert.NotContains(t, err.Error(), "unrecognized image format")

	assert.Equal(t, 0, imageCount(t, db))
}

func TestUploadRejectsUnknownStorageType(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Upload(context.Background(), pngFile(t, "p.png", 10, 10), 1, model.StorageType("tape"), "", false)
	assert.ErrorIs(t, err, ErrInvalidFile)
}

func TestUploadStorageFailureCompensates(t *testing.T) {
	svc, db, m, _ := newTestService(t)
	m.Register(storage.NameObjectStore, brokenBackend{}, false)

	_, err := svc.Upload(context.Background(), pngFile(t, "p.png", 10, 10), 1, model.StorageObjectStore, "", false)
	assert.ErrorIs(t, err, ErrStorageUpload)

	// The metadata row created before the storage step is gone again.
	assert.Equal(t, 0, imageCount(t, db))
}

func TestUploadAutoThumbnailEnqueues(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	enq := &recordEnqueuer{}
	svc.Thumbs = enq

	img, err := svc.Upload(context.Background(), pngFile(t, "p.png", 40, 30), 1, model.StorageLocal, "", true)
	require.NoError(t, err)

	require.Len(t, enq.ids, 1)
	assert.Equal(t, img.ID, enq.ids[0])

	got, err := db.GetImage(img.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.ProcessStatus)
}

func TestBatchUploadIndependentFailures(t *testing.T) {
	svc, db, _, _ := newTestService(t)

	files := []File{
		pngFile(t, "one.png", 20, 20),
		pngFile(t, "nope.txt", 20, 20),
		pngFile(t, "three.png", 20, 20),
	}
	result, err := svc.BatchUpload(context.Background(), files, 1, model.StorageLocal, "", false)
	require.NoError(t, err)

	assert.Len(t, result.Uploaded, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "nope.txt", result.Failed[0])
	assert.Equal(t, 2, imageCount(t, db))

	// Session advanced on every attempt and completed at the total.
	sess, err := db.GetSession(result.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, sess.TotalFiles)
	assert.Equal(t, 3, sess.ProcessedFiles)
	assert.Equal(t, model.SessionCompleted, sess.Status)
	require.NotNil(t, sess.CompletedAt)
}

// failingReader errors on the first read, like a multipart part that could
// not be opened.
type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestBatchUploadCountsUnreadableFiles(t *testing.T) {
	svc, db, _, _ := newTestService(t)

	files := []File{
		pngFile(t, "good.png", 20, 20),
		{Name: "dead.png", ContentType: "image/png", Reader: failingReader{}},
	}
	result, err := svc.BatchUpload(context.Background(), files, 1, model.StorageLocal, "", false)
	require.NoError(t, err)

	assert.Len(t, result.Uploaded, 1)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "dead.png", result.Failed[0])
	assert.Equal(t, 1, imageCount(t, db))

	// The unreadable file still counts toward the session total.
	sess, err := db.GetSession(result.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, sess.TotalFiles)
	assert.Equal(t, 2, sess.ProcessedFiles)
	assert.Equal(t, model.SessionCompleted, sess.Status)
}

func TestBatchUploadEmptyNameFallsBackToPlaceholder(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	f := File{Name: "", ContentType: "image/png", Reader: strings.NewReader("junk")}
	result, err := svc.BatchUpload(context.Background(), []File{f}, 1, model.StorageLocal, "", false)
	require.NoError(t, err)

	require.Len(t, result.Failed, 1)
	assert.Equal(t, "unknown", result.Failed[0])
}

func TestDeleteRemovesBytesThumbnailsAndRow(t *testing.T) {
	svc, db, m, _ := newTestService(t)
	ctx := context.Background()

	img, err := svc.Upload(ctx, pngFile(t, "victim.png", 400, 300), 1, model.StorageLocal, "", false)
	require.NoError(t, err)
	svc.ProcessImage(ctx, img.ID)

	thumbs, err := db.ListThumbnails(img.ID)
	require.NoError(t, err)
	require.Len(t, thumbs, 3)

	require.NoError(t, svc.Delete(ctx, img.ID))

	_, err = db.GetImage(img.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	remaining, err := db.ListThumbnails(img.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 0)

	assert.False(t, m.Exists(ctx, img.StorageKey, storage.NameLocal))
	for _, th := range thumbs {
		assert.False(t, m.Exists(ctx, th.StorageKey, storage.NameLocal), "thumbnail %s", th.Size)
	}
}

func TestDeleteBackendFailureKeepsRow(t *testing.T) {
	svc, db, m, _ := newTestService(t)
	m.Register(storage.NameObjectStore, brokenBackend{}, false)

	// Plant a row claiming bytes live on the broken backend.
	img := &model.Image{
		Filename:         "stuck.png",
		OriginalFilename: "stuck.png",
		FileType:         "image/png",
		StorageType:      model.StorageObjectStore,
		StorageKey:       "images/stuck.png",
		ProcessStatus:    model.StatusPending,
		OwnerID:          1,
	}
	require.NoError(t, db.CreateImage(img))

	err := svc.Delete(context.Background(), img.ID)
	assert.ErrorIs(t, err, ErrStorageDelete)

	// Metadata never outlives its bytes in the wrong direction: the row stays.
	_, err = db.GetImage(img.ID)
	assert.NoError(t, err)
}

func TestDeleteMissingImage(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	err := svc.Delete(context.Background(), 42424)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestProcessImageOutcomes(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	ctx := context.Background()

	img, err := svc.Upload(ctx, pngFile(t, "ok.png", 400, 300), 1, model.StorageLocal, "", false)
	require.NoError(t, err)

	thumbs := svc.ProcessImage(ctx, img.ID)
	assert.Len(t, thumbs, 3)

	got, err := db.GetImage(img.ID)
	require.NoError(t, err)
	assert.True(t, got.IsProcessed)
	assert.Equal(t, model.StatusCompleted, got.ProcessStatus)
	assert.Empty(t, got.ProcessError)

	// An image with no reachable bytes fails processing.
	orphan := &model.Image{
		Filename:      "orphan.png",
		FileType:      "image/png",
		StorageType:   model.StorageLocal,
		ProcessStatus: model.StatusProcessing,
		OwnerID:       1,
	}
	require.NoError(t, db.CreateImage(orphan))

	thumbs = svc.ProcessImage(ctx, orphan.ID)
	assert.Len(t, thumbs, 0)

	failed, err := db.GetImage(orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, failed.ProcessStatus)
	assert.NotEmpty(t, failed.ProcessError)
}

func TestCreateTaskValidation(t *testing.T) {
	svc, db, _, _ := newTestService(t)

	img, err := svc.Upload(context.Background(), pngFile(t, "t.png", 40, 30), 1, model.StorageLocal, "", false)
	require.NoError(t, err)

	// Unknown kinds are rejected at creation.
	_, err = svc.CreateTask(img.ID, model.TaskKind("sharpen"), model.TaskParams{})
	assert.ErrorIs(t, err, ErrInvalidFile)

	// Params must match the kind.
	_, err = svc.CreateTask(img.ID, model.TaskResize, model.TaskParams{})
	assert.ErrorIs(t, err, ErrInvalidFile)

	// Missing image.
	_, err = svc.CreateTask(99999, model.TaskResize,
		model.TaskParams{Resize: &model.ResizeParams{Width: 10, Height: 10}})
	assert.ErrorIs(t, err, database.ErrNotFound)

	// A valid task lands pending with a public id.
	task, err := svc.CreateTask(img.ID, model.TaskResize,
		model.TaskParams{Resize: &model.ResizeParams{Width: 10, Height: 10}})
	require.NoError(t, err)
	assert.NotEmpty(t, task.TaskID)
	assert.Equal(t, model.StatusPending, task.Status)

	byPublic, err := db.GetTaskByTaskID(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, byPublic.ID)
}
