package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leca/imagevault/internal/config"
	"github.com/leca/imagevault/internal/database"
	"github.com/leca/imagevault/internal/imageproc"
	"github.com/leca/imagevault/internal/model"
	"github.com/leca/imagevault/internal/storage"
)

var (
	// ErrInvalidFile marks client input that failed validation: bad
	// extension, wrong content type, oversize, or undecodable content.
	ErrInvalidFile = errors.New("invalid image file")

	// ErrStorageUpload marks a backend/infrastructure failure while
	// storing bytes. The image metadata row has already been removed.
	ErrStorageUpload = errors.New("storage upload failed")

	// ErrStorageDelete marks a backend refusing to delete stored bytes;
	// the metadata row is kept so bytes are never orphaned by a delete.
	ErrStorageDelete = errors.New("storage delete failed")
)

// File is one incoming upload: the content reader plus the client-declared
// name and content type.
type File struct {
	Name        string
	ContentType string
	Reader      io.Reader
}

// Enqueuer hands an image off for background thumbnail generation.
type Enqueuer interface {
	Enqueue(imageID int64)
}

// fidSource is implemented by backends whose native id must be recorded on
// the image row (the blob store).
type fidSource interface {
	FID(key string) (string, bool)
}

// Service runs the end-to-end upload workflow across storage backends:
// validate, persist metadata, store bytes, update metadata, and hand off
// derivative generation.
type Service struct {
	DB       database.Database
	Store    *storage.Manager
	Pipeline *imageproc.Pipeline
	Cfg      *config.Config
	Thumbs   Enqueuer
}

func NewService(db database.Database, store *storage.Manager, pipeline *imageproc.Pipeline, cfg *config.Config, thumbs Enqueuer) *Service {
	return &Service{DB: db, Store: store, Pipeline: pipeline, Cfg: cfg, Thumbs: thumbs}
}

// validate reads and checks the file, returning its content. Validation
// does a full decode, not just header sniffing.
func (s *Service) validate(f File) ([]byte, int, int, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(f.Name)), ".")
	allowed := false
	for _, a := range s.Cfg.AllowedExtensions {
		if ext == a {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, 0, 0, fmt.Errorf("%w: extension %q not allowed", ErrInvalidFile, ext)
	}

	if !strings.HasPrefix(f.ContentType, "image/") {
		return nil, 0, 0, fmt.Errorf("%w: content type %q is not an image", ErrInvalidFile, f.ContentType)
	}

	// Read one byte past the limit to detect oversize without buffering
	// arbitrarily large bodies.
	data, err := io.ReadAll(io.LimitReader(f.Reader, s.Cfg.MaxFileSize+1))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: reading content: %v", ErrInvalidFile, err)
	}
	if int64(len(data)) > s.Cfg.MaxFileSize {
		return nil, 0, 0, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidFile, s.Cfg.MaxFileSize)
	}

	// Cheap magic-byte sniff before paying for a full decode.
	if imageproc.DetectFormat(data) == "" {
		return nil, 0, 0, fmt.Errorf("%w: unrecognized image format", ErrInvalidFile)
	}

	img, _, err := imageproc.Decode(data)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	return data, img.Bounds().Dx(), img.Bounds().Dy(), nil
}

// storageKey builds the backend-specific unique key for an image's bytes,
// namespaced by storage type.
func storageKey(st model.StorageType, imageID int64, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	token := strings.ReplaceAll(uuid.New().String(), "-", "")
	switch st {
	case model.StorageObjectStore:
		return fmt.Sprintf("images/%d_%s%s", imageID, token, ext)
	case model.StorageBlobStore:
		return fmt.Sprintf("seaweed/%d_%s%s", imageID, token, ext)
	default:
		return fmt.Sprintf("uploads/%d_%s%s", imageID, token, ext)
	}
}

// Upload runs the single-file workflow. On a storage failure the
// just-created metadata row is deleted before the error is returned, so no
// metadata ever references bytes that were not durably stored.
func (s *Service) Upload(ctx context.Context, f File, userID int64, st model.StorageType, description string, autoThumbnail bool) (*model.Image, error) {
	if !st.Valid() {
		return nil, fmt.Errorf("%w: unknown storage type %q", ErrInvalidFile, st)
	}

	data, width, height, err := s.validate(f)
	if err != nil {
		return nil, err
	}

	originalName := f.Name
	if originalName == "" {
		originalName = "unknown.jpg"
	}
	ext := strings.ToLower(filepath.Ext(originalName))
	filename := uuid.New().String() + ext

	img := &model.Image{
		Filename:         filename,
		OriginalFilename: originalName,
		FileSize:         int64(len(data)),
		FileType:         f.ContentType,
		Width:            width,
		Height:           height,
		Description:      description,
		StorageType:      st,
		ProcessStatus:    model.StatusPending,
		OwnerID:          userID,
	}
	if err := s.DB.CreateImage(img); err != nil {
		return nil, fmt.Errorf("create image record: %w", err)
	}

	// Local storage writes synchronously as part of record creation;
	// remote backends get a separate upload step with compensation.
	key := storageKey(st, img.ID, originalName)
	backendName := string(st)

	if !s.Store.Upload(ctx, bytes.NewReader(data), key, backendName, storage.UploadOptions{ContentType: f.ContentType}) {
		s.compensate(img)
		return nil, fmt.Errorf("%w: backend %s", ErrStorageUpload, backendName)
	}

	img.StorageKey = key
	if url, ok := s.Store.URL(key, backendName); ok {
		img.URL = url
	}
	if st == model.StorageLocal {
		img.FilePath = filepath.Join(s.Cfg.UploadDir, filepath.FromSlash(key))
	}
	if st == model.StorageBlobStore {
		if b := s.Store.Resolve(backendName); b != nil {
			if fs, ok := b.(fidSource); ok {
				if fid, ok := fs.FID(key); ok {
					img.BlobFID = fid
				}
			}
		}
	}
	if err := s.DB.UpdateImage(img); err != nil {
		s.compensate(img)
		return nil, fmt.Errorf("update image record: %w", err)
	}

	if autoThumbnail && s.Thumbs != nil {
		img.ProcessStatus = model.StatusProcessing
		if err := s.DB.UpdateImage(img); err != nil {
			slog.Warn("mark processing failed", "image_id", img.ID, "error", err)
		}
		s.Thumbs.Enqueue(img.ID)
	}

	slog.Info("uploaded image", "image_id", img.ID, "storage", st, "key", key, "size", len(data))
	return img, nil
}

// compensate removes the metadata row after a failed storage step. If the
// delete itself fails the row is left behind and logged for an operator;
// retrying inline would re-run the same failing statement.
func (s *Service) compensate(img *model.Image) {
	if err := s.DB.DeleteImage(img.ID); err != nil {
		slog.Error("compensating delete failed, orphaned image row",
			"image_id", img.ID, "error", err)
	}
}

// BatchResult summarises a batch upload.
type BatchResult struct {
	Uploaded []*model.Image       `json:"uploaded_images"`
	Failed   []string             `json:"failed_files"`
	Session  *model.UploadSession `json:"session"`
}

// BatchUpload uploads every file independently: one file's failure never
// aborts the batch. The session's processed counter advances on every
// attempt, success or failure, and the session completes when it reaches
// the total.
func (s *Service) BatchUpload(ctx context.Context, files []File, userID int64, st model.StorageType, description string, autoThumbnail bool) (*BatchResult, error) {
	sess := &model.UploadSession{
		SessionID:  uuid.New().String(),
		UserID:     userID,
		TotalFiles: len(files),
		Status:     model.SessionInProgress,
	}
	if err := s.DB.CreateSession(sess); err != nil {
		return nil, fmt.Errorf("create upload session: %w", err)
	}

	result := &BatchResult{Session: sess}
	for _, f := range files {
		img, err := s.Upload(ctx, f, userID, st, description, autoThumbnail)
		if err != nil {
			name := f.Name
			if name == "" {
				name = "unknown"
			}
			slog.Error("batch upload failed for file", "filename", name, "error", err)
			result.Failed = append(result.Failed, name)
		} else {
			result.Uploaded = append(result.Uploaded, img)
		}

		if err := s.advanceSession(sess); err != nil {
			slog.Error("advance upload session failed", "session_id", sess.ID, "error", err)
		}
	}

	return result, nil
}

// advanceSession bumps the processed counter and completes the session at
// the total. The counter never decrements.
func (s *Service) advanceSession(sess *model.UploadSession) error {
	sess.ProcessedFiles++
	if sess.ProcessedFiles >= sess.TotalFiles && sess.Status != model.SessionCompleted {
		sess.Status = model.SessionCompleted
		now := time.Now().UTC()
		sess.CompletedAt = &now
	}
	return s.DB.UpdateSession(sess)
}

// Delete removes an image's bytes from its backend, then its thumbnails,
// then the metadata row. A backend refusing the byte delete keeps the row:
// the mirror image of the upload path's compensating delete.
func (s *Service) Delete(ctx context.Context, imageID int64) error {
	img, err := s.DB.GetImage(imageID)
	if err != nil {
		return err
	}

	if img.StorageKey != "" {
		if !s.Store.Delete(ctx, img.StorageKey, string(img.StorageType)) {
			return fmt.Errorf("%w: backend %s key %s", ErrStorageDelete, img.StorageType, img.StorageKey)
		}
	}

	thumbs, err := s.DB.ListThumbnails(imageID)
	if err != nil {
		slog.Warn("list thumbnails for delete failed", "image_id", imageID, "error", err)
	}
	for _, t := range thumbs {
		if t.StorageKey == "" {
			continue
		}
		if !s.Store.Delete(ctx, t.StorageKey, string(t.StorageType)) {
			slog.Warn("thumbnail byte delete failed", "image_id", imageID, "key", t.StorageKey)
		}
	}
	if err := s.DB.DeleteThumbnails(imageID); err != nil {
		slog.Warn("thumbnail row delete failed", "image_id", imageID, "error", err)
	}

	if err := s.DB.DeleteImage(imageID); err != nil {
		return fmt.Errorf("delete image row: %w", err)
	}

	slog.Info("deleted image", "image_id", imageID, "storage", img.StorageType)
	return nil
}

// ProcessImage runs the thumbnail pipeline for an image and records the
// outcome on its processing status. An empty pipeline result is a failure.
func (s *Service) ProcessImage(ctx context.Context, imageID int64) []*model.Thumbnail {
	thumbs, err := s.Pipeline.GenerateThumbnails(ctx, imageID)

	img, loadErr := s.DB.GetImage(imageID)
	if loadErr != nil {
		slog.Error("load image after processing failed", "image_id", imageID, "error", loadErr)
		return thumbs
	}

	switch {
	case err != nil:
		img.ProcessStatus = model.StatusFailed
		img.ProcessError = err.Error()
	case len(thumbs) == 0:
		img.ProcessStatus = model.StatusFailed
		img.ProcessError = "failed to create thumbnails"
	default:
		img.IsProcessed = true
		img.ProcessStatus = model.StatusCompleted
		img.ProcessError = ""
	}
	if err := s.DB.UpdateImage(img); err != nil {
		slog.Error("record processing outcome failed", "image_id", imageID, "error", err)
	}

	return thumbs
}

// CreateTask validates and records a processing task. Unknown kinds and
// malformed params are rejected here, not at execution time.
func (s *Service) CreateTask(imageID int64, kind model.TaskKind, params model.TaskParams) (*model.ProcessingTask, error) {
	if _, err := s.DB.GetImage(imageID); err != nil {
		return nil, err
	}
	if err := params.Validate(kind); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	encoded, err := params.Encode()
	if err != nil {
		return nil, err
	}
	task := &model.ProcessingTask{
		TaskID:  uuid.New().String(),
		ImageID: imageID,
		Kind:    kind,
		Status:  model.StatusPending,
		Params:  encoded,
	}
	if err := s.DB.CreateTask(task); err != nil {
		return nil, err
	}
	return task, nil
}
