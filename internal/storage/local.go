package storage

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Compile-time check that Local implements Backend.
var _ Backend = (*Local)(nil)

// Local stores files under a single upload directory, addressed by key as a
// relative path. URLs point at the static-file route serving that directory.
type Local struct {
	dir       string
	available bool
}

// NewLocal creates the upload directory if needed and probes write
// permission. A failed probe leaves the backend registered but unavailable.
func NewLocal(dir string) *Local {
	l := &Local{dir: dir}

	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("local storage: create upload dir failed", "dir", dir, "error", err)
		return l
	}

	probe := filepath.Join(dir, "probe-"+uuid.New().String()+".tmp")
	if err := os.WriteFile(probe, []byte("probe"), 0644); err != nil {
		slog.Error("local storage: write probe failed", "dir", dir, "error", err)
		return l
	}
	os.Remove(probe)

	l.available = true
	slog.Info("local storage initialized", "dir", dir)
	return l
}

// Path returns the absolute filesystem path for key, or ok=false when the
// file does not exist. Used by the pipeline to reuse already-local bytes.
func (l *Local) Path(key string) (string, bool) {
	if !l.available {
		return "", false
	}
	path := filepath.Join(l.dir, filepath.FromSlash(key))
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

func (l *Local) Upload(ctx context.Context, r io.Reader, key string, opts UploadOptions) bool {
	if !l.available {
		slog.Warn("local storage unavailable")
		return false
	}
	if key == "" {
		key = DeriveKey("uploads", "")
	}

	dst := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		slog.Error("local storage: create dir failed", "key", key, "error", err)
		return false
	}

	// Write via a temp file in the same directory so the rename is atomic.
	tmp, err := os.CreateTemp(filepath.Dir(dst), "upload-*")
	if err != nil {
		slog.Error("local storage: create temp failed", "key", key, "error", err)
		return false
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		slog.Error("local storage: write failed", "key", key, "error", err)
		return false
	}
	if err := tmp.Close(); err != nil {
		slog.Error("local storage: close temp failed", "key", key, "error", err)
		return false
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		slog.Error("local storage: rename failed", "key", key, "error", err)
		return false
	}
	tmpPath = ""

	slog.Info("uploaded to local storage", "key", key)
	return true
}

func (l *Local) UploadFromPath(ctx context.Context, path, key string) bool {
	if !l.available {
		slog.Warn("local storage unavailable")
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		slog.Error("local storage: open source failed", "path", path, "error", err)
		return false
	}
	defer f.Close()

	if key == "" {
		key = DeriveKey("uploads", filepath.Base(path))
	}
	return l.Upload(ctx, f, key, UploadOptions{})
}

func (l *Local) URL(key string) (string, bool) {
	if !l.available {
		return "", false
	}
	u := url.URL{Path: "/static/uploads/" + key}
	return u.EscapedPath(), true
}

func (l *Local) Download(ctx context.Context, key string) ([]byte, bool) {
	if !l.available {
		slog.Warn("local storage unavailable")
		return nil, false
	}
	data, err := os.ReadFile(filepath.Join(l.dir, filepath.FromSlash(key)))
	if err != nil {
		slog.Warn("local storage: read failed", "key", key, "error", err)
		return nil, false
	}
	return data, true
}

func (l *Local) Delete(ctx context.Context, key string) bool {
	if !l.available {
		slog.Warn("local storage unavailable")
		return false
	}
	path := filepath.Join(l.dir, filepath.FromSlash(key))
	if _, err := os.Stat(path); err != nil {
		slog.Warn("local storage: delete of missing key", "key", key)
		return false
	}
	if err := os.Remove(path); err != nil {
		slog.Error("local storage: delete failed", "key", key, "error", err)
		return false
	}

	// Prune the key's directory if now empty.
	if dir := filepath.Dir(path); dir != l.dir {
		os.Remove(dir)
	}

	slog.Info("deleted from local storage", "key", key)
	return true
}

func (l *Local) Exists(ctx context.Context, key string) bool {
	if !l.available {
		return false
	}
	_, err := os.Stat(filepath.Join(l.dir, filepath.FromSlash(key)))
	return err == nil
}

func (l *Local) Available() bool {
	return l.available
}
