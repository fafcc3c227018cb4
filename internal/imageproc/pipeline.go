package imageproc

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/leca/imagevault/internal/database"
	"github.com/leca/imagevault/internal/model"
	"github.com/leca/imagevault/internal/storage"
)

// SizeSpec is one rung of the derivative ladder.
type SizeSpec struct {
	Size   model.ThumbnailSize
	Width  int
	Height int
}

// DefaultSizes is the fixed ladder every processed image gets.
var DefaultSizes = []SizeSpec{
	{Size: model.SizeSmall, Width: 150, Height: 150},
	{Size: model.SizeMedium, Width: 300, Height: 300},
	{Size: model.SizeLarge, Width: 600, Height: 600},
}

// fidSource is implemented by backends whose native id must be recorded
// alongside the key (the blob store).
type fidSource interface {
	FID(key string) (string, bool)
}

// Pipeline produces resized derivatives for stored images. Source bytes are
// re-fetched through the storage manager when not locally present, and each
// derivative is uploaded to the same backend as its source image, falling
// back to local storage when the remote upload fails.
type Pipeline struct {
	DB        database.Database
	Store     *storage.Manager
	UploadDir string
	Sizes     []SizeSpec
}

func NewPipeline(db database.Database, store *storage.Manager, uploadDir string) *Pipeline {
	return &Pipeline{DB: db, Store: store, UploadDir: uploadDir, Sizes: DefaultSizes}
}

// GenerateThumbnails produces the ladder for the image and records one
// Thumbnail row per successfully produced size. A single size failing is
// logged and skipped; an empty result tells the caller the whole run failed
// and the image's processing status should be marked failed.
func (p *Pipeline) GenerateThumbnails(ctx context.Context, imageID int64) ([]*model.Thumbnail, error) {
	img, err := p.DB.GetImage(imageID)
	if err != nil {
		return nil, fmt.Errorf("load image %d: %w", imageID, err)
	}

	srcPath, err := p.ensureLocal(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("fetch source for image %d: %w", imageID, err)
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return nil, fmt.Errorf("read source %s: %w", srcPath, err)
	}
	src, format, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode source for image %d: %w", imageID, err)
	}

	var thumbs []*model.Thumbnail
	for _, spec := range p.Sizes {
		t, err := p.generateOne(ctx, img, src, format, spec)
		if err != nil {
			slog.Error("thumbnail generation failed", "image_id", imageID, "size", spec.Size, "error", err)
			continue
		}
		thumbs = append(thumbs, t)
	}
	return thumbs, nil
}

// ensureLocal returns a local path holding the image's source bytes,
// downloading them from the image's backend if needed and recording the
// path on the image row for reuse.
func (p *Pipeline) ensureLocal(ctx context.Context, img *model.Image) (string, error) {
	if img.FilePath != "" {
		if _, err := os.Stat(img.FilePath); err == nil {
			return img.FilePath, nil
		}
	}

	if img.StorageKey == "" {
		return "", fmt.Errorf("image %d has no storage key", img.ID)
	}

	data, ok := p.Store.Download(ctx, img.StorageKey, string(img.StorageType))
	if !ok {
		return "", fmt.Errorf("download from %s failed for key %s", img.StorageType, img.StorageKey)
	}

	local := filepath.Join(p.UploadDir, img.Filename)
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	if err := os.WriteFile(local, data, 0644); err != nil {
		return "", fmt.Errorf("write scratch file: %w", err)
	}

	img.FilePath = local
	if err := p.DB.UpdateImage(img); err != nil {
		slog.Warn("record local path failed", "image_id", img.ID, "error", err)
	}
	return local, nil
}

// generateOne renders a single size, stores it on the source image's
// backend, and records the Thumbnail row.
func (p *Pipeline) generateOne(ctx context.Context, img *model.Image, src image.Image, format string, spec SizeSpec) (*model.Thumbnail, error) {
	resized := Thumbnail(src, spec.Width, spec.Height)
	encoded, err := Encode(resized, format)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", spec.Size, err)
	}

	thumbKey := fmt.Sprintf("thumbnails/%d_%s_%s", img.ID, spec.Size, img.Filename)

	// Scratch copy on local disk; doubles as the fallback destination.
	if !p.Store.Upload(ctx, bytes.NewReader(encoded), thumbKey, storage.NameLocal, storage.UploadOptions{ContentType: img.FileType}) {
		return nil, fmt.Errorf("write local scratch for %s", spec.Size)
	}

	t := &model.Thumbnail{
		ImageID:     img.ID,
		Size:        spec.Size,
		Width:       resized.Bounds().Dx(),
		Height:      resized.Bounds().Dy(),
		FilePath:    filepath.Join(p.UploadDir, filepath.FromSlash(thumbKey)),
		StorageType: model.StorageLocal,
		StorageKey:  thumbKey,
	}

	// Same backend as the source; a remote failure degrades to the local
	// copy instead of failing the size.
	if img.StorageType != model.StorageLocal {
		backendName := string(img.StorageType)
		if p.Store.Upload(ctx, bytes.NewReader(encoded), thumbKey, backendName, storage.UploadOptions{ContentType: img.FileType}) {
			t.StorageType = img.StorageType
			if url, ok := p.Store.URL(thumbKey, backendName); ok {
				t.URL = url
			}
			if b := p.Store.Resolve(backendName); b != nil {
				if fs, ok := b.(fidSource); ok {
					if fid, ok := fs.FID(thumbKey); ok {
						t.BlobFID = fid
					}
				}
			}
		} else {
			slog.Warn("thumbnail remote upload failed, keeping local copy",
				"image_id", img.ID, "size", spec.Size, "backend", backendName)
		}
	}

	if t.URL == "" {
		if url, ok := p.Store.URL(thumbKey, storage.NameLocal); ok {
			t.URL = url
		}
	}

	if err := p.DB.CreateThumbnail(t); err != nil {
		return nil, fmt.Errorf("record thumbnail %s: %w", spec.Size, err)
	}

	slog.Info("created thumbnail", "image_id", img.ID, "size", spec.Size,
		"width", t.Width, "height", t.Height, "storage", t.StorageType)
	return t, nil
}
