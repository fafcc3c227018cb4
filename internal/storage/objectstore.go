package storage

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Compile-time check that ObjectStore implements Backend.
var _ Backend = (*ObjectStore)(nil)

// ObjectStoreConfig holds S3-compatible endpoint settings. Public controls
// URL generation: public buckets get direct path-style URLs, private ones
// get presigned GETs.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Public    bool
}

// presignExpiry bounds how long a private-bucket URL stays valid.
const presignExpiry = time.Hour

// ObjectStore stores files as objects in an S3-compatible bucket, addressed
// by key as the object name.
type ObjectStore struct {
	client    *minio.Client
	cfg       ObjectStoreConfig
	available bool
}

// NewObjectStore builds the client and probes the bucket, creating it if it
// does not exist. Any probe failure leaves the backend unavailable.
func NewObjectStore(ctx context.Context, cfg ObjectStoreConfig) *ObjectStore {
	o := &ObjectStore{cfg: cfg}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		slog.Error("object store: client init failed", "endpoint", cfg.Endpoint, "error", err)
		return o
	}
	o.client = client

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		slog.Error("object store: bucket probe failed", "bucket", cfg.Bucket, "error", err)
		return o
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			slog.Error("object store: create bucket failed", "bucket", cfg.Bucket, "error", err)
			return o
		}
		slog.Info("object store: created bucket", "bucket", cfg.Bucket)
	}

	o.available = true
	slog.Info("object store initialized", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return o
}

func (o *ObjectStore) Upload(ctx context.Context, r io.Reader, key string, opts UploadOptions) bool {
	if !o.available {
		slog.Warn("object store unavailable")
		return false
	}
	if key == "" {
		key = DeriveKey("uploads", "")
	}

	// PutObject needs a known size for non-seekable readers; buffer the
	// content since uploads are bounded by the configured max file size.
	data, err := io.ReadAll(r)
	if err != nil {
		slog.Error("object store: read source failed", "key", key, "error", err)
		return false
	}

	putOpts := minio.PutObjectOptions{ContentType: opts.ContentType}
	if _, err := o.client.PutObject(ctx, o.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), putOpts); err != nil {
		slog.Error("object store: upload failed", "key", key, "error", err)
		return false
	}

	slog.Info("uploaded to object store", "key", key, "size", len(data))
	return true
}

func (o *ObjectStore) UploadFromPath(ctx context.Context, path, key string) bool {
	if !o.available {
		slog.Warn("object store unavailable")
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		slog.Error("object store: open source failed", "path", path, "error", err)
		return false
	}
	defer f.Close()

	if key == "" {
		key = DeriveKey("uploads", filepath.Base(path))
	}
	return o.Upload(ctx, f, key, UploadOptions{})
}

// URL returns the direct path-style object URL for public buckets, or a
// presigned GET for private ones.
func (o *ObjectStore) URL(key string) (string, bool) {
	if !o.available {
		return "", false
	}
	if !o.cfg.Public {
		return o.PresignedURL(context.Background(), key, presignExpiry)
	}
	scheme := "http"
	if o.cfg.UseSSL {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: o.cfg.Endpoint, Path: "/" + o.cfg.Bucket + "/" + key}
	return u.String(), true
}

// PresignedURL returns a time-limited GET URL for key.
func (o *ObjectStore) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, bool) {
	if !o.available {
		return "", false
	}
	u, err := o.client.PresignedGetObject(ctx, o.cfg.Bucket, key, expiry, url.Values{})
	if err != nil {
		slog.Error("object store: presign failed", "key", key, "error", err)
		return "", false
	}
	return u.String(), true
}

func (o *ObjectStore) Download(ctx context.Context, key string) ([]byte, bool) {
	if !o.available {
		slog.Warn("object store unavailable")
		return nil, false
	}
	obj, err := o.client.GetObject(ctx, o.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		slog.Error("object store: get failed", "key", key, "error", err)
		return nil, false
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		slog.Warn("object store: read failed", "key", key, "error", err)
		return nil, false
	}
	return data, true
}

func (o *ObjectStore) Delete(ctx context.Context, key string) bool {
	if !o.available {
		slog.Warn("object store unavailable")
		return false
	}
	if err := o.client.RemoveObject(ctx, o.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		slog.Error("object store: delete failed", "key", key, "error", err)
		return false
	}
	slog.Info("deleted from object store", "key", key)
	return true
}

func (o *ObjectStore) Exists(ctx context.Context, key string) bool {
	if !o.available {
		return false
	}
	if _, err := o.client.StatObject(ctx, o.cfg.Bucket, key, minio.StatObjectOptions{}); err != nil {
		return false
	}
	return true
}

func (o *ObjectStore) Available() bool {
	return o.available
}
