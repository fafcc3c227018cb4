package storage

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Backend name constants; these are the identifiers stored in storage_type
// columns and used to resolve backends through the Manager.
const (
	NameLocal       = "local"
	NameObjectStore = "s3"
	NameBlobStore   = "seaweedfs"
)

// UploadOptions carries optional per-upload hints.
type UploadOptions struct {
	ContentType string
}

// Backend is the uniform storage contract. Keys are opaque strings; each
// backend translates them into whatever its native API needs (filesystem
// path, object key, or blob FID via a mapping table).
//
// Failures are absorbed: operations log their cause and return false or a
// false ok-flag instead of an error, so callers can treat any backend
// uniformly and decide themselves whether a failure is fatal. Availability
// is probed once at construction; there is no automatic re-probe.
type Backend interface {
	// Upload stores the reader's content under key. An empty key makes the
	// backend derive one ("uploads/<token><ext>" from opts' content, with no
	// extension when none can be derived). Returns false on any failure.
	Upload(ctx context.Context, r io.Reader, key string, opts UploadOptions) bool

	// UploadFromPath stores the file at path under key, deriving a key from
	// the file's name when key is empty.
	UploadFromPath(ctx context.Context, path, key string) bool

	// URL returns the public URL for key, or ok=false if the backend is
	// unavailable or the key is unknown.
	URL(key string) (string, bool)

	// Download fetches the full content addressed by key.
	Download(ctx context.Context, key string) ([]byte, bool)

	// Delete removes the stored bytes. False if the key is unknown or the
	// backend is unavailable.
	Delete(ctx context.Context, key string) bool

	// Exists is a best-effort existence probe.
	Exists(ctx context.Context, key string) bool

	// Available reports the last-known availability without re-probing.
	Available() bool
}

// DeriveKey builds a random unique key under prefix, preserving the
// extension of the original filename. All upload entry points use this when
// the caller does not supply a key.
func DeriveKey(prefix, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return prefix + "/" + uuid.New().String() + ext
}
