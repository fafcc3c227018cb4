package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Compile-time check that Blob implements Backend.
var _ Backend = (*Blob)(nil)

// MappingStore is the durable key -> FID table the blob backend needs: the
// store's native FID is handed out at assign time and cannot be re-derived
// from the key, so every read and delete starts with a lookup here.
type MappingStore interface {
	PutMapping(key, fid string) error
	GetMapping(key string) (string, error)
	DeleteMapping(key string) error
}

// Blob stores files in a SeaweedFS-style distributed blob store. Writes go
// through the master's assign endpoint to a volume server; reads resolve
// the FID's volume through the master's lookup endpoint.
type Blob struct {
	masterURL string
	mappings  MappingStore
	client    *http.Client
	available bool
}

// NewBlob probes master connectivity; a failed probe marks the backend
// unavailable rather than optimistically serving requests.
func NewBlob(ctx context.Context, masterURL string, mappings MappingStore) *Blob {
	b := &Blob{
		masterURL: strings.TrimRight(masterURL, "/"),
		mappings:  mappings,
		client:    &http.Client{Timeout: 30 * time.Second},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.masterURL+"/dir/status", nil)
	if err != nil {
		slog.Error("blob store: probe request failed", "master", masterURL, "error", err)
		return b
	}
	resp, err := b.client.Do(req)
	if err != nil {
		slog.Error("blob store: master unreachable", "master", masterURL, "error", err)
		return b
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Error("blob store: master probe rejected", "master", masterURL, "status", resp.StatusCode)
		return b
	}

	b.available = true
	slog.Info("blob store initialized", "master", masterURL)
	return b
}

type assignResult struct {
	FID       string `json:"fid"`
	URL       string `json:"url"`
	PublicURL string `json:"publicUrl"`
	Error     string `json:"error"`
}

type lookupResult struct {
	Locations []struct {
		URL       string `json:"url"`
		PublicURL string `json:"publicUrl"`
	} `json:"locations"`
	Error string `json:"error"`
}

// assign asks the master for a new FID and the volume server to write to.
func (b *Blob) assign(ctx context.Context) (*assignResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.masterURL+"/dir/assign", nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var res assignResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode assign response: %w", err)
	}
	if res.Error != "" {
		return nil, fmt.Errorf("assign: %s", res.Error)
	}
	if res.FID == "" {
		return nil, fmt.Errorf("assign returned no fid")
	}
	return &res, nil
}

// splitFID parses the two-part FID "volume,needle" handed out at assign
// time. Both halves are needed: the volume id routes the lookup, the full
// FID addresses the needle on the volume server.
func splitFID(fid string) (volume, needle string, err error) {
	i := strings.IndexByte(fid, ',')
	if i <= 0 || i == len(fid)-1 {
		return "", "", fmt.Errorf("malformed fid %q", fid)
	}
	return fid[:i], fid[i+1:], nil
}

// fileURL resolves fid to a volume-server URL via the master's lookup.
func (b *Blob) fileURL(ctx context.Context, fid string) (string, error) {
	volume, _, err := splitFID(fid)
	if err != nil {
		return "", err
	}

	lookup := b.masterURL + "/dir/lookup?volumeId=" + url.QueryEscape(volume)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookup, nil)
	if err != nil {
		return "", err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var res lookupResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("decode lookup response: %w", err)
	}
	if res.Error != "" {
		return "", fmt.Errorf("lookup volume %s: %s", volume, res.Error)
	}
	if len(res.Locations) == 0 {
		return "", fmt.Errorf("no locations for volume %s", volume)
	}

	loc := res.Locations[0].PublicURL
	if loc == "" {
		loc = res.Locations[0].URL
	}
	if !strings.Contains(loc, "://") {
		loc = "http://" + loc
	}
	return strings.TrimRight(loc, "/") + "/" + fid, nil
}

// store uploads content to the assigned volume server and records the
// key -> FID mapping. The mapping write is the commit point: without it the
// blob would be unreachable, so a failed write is a failed upload.
func (b *Blob) store(ctx context.Context, r io.Reader, key, filename string) bool {
	assign, err := b.assign(ctx)
	if err != nil {
		slog.Error("blob store: assign failed", "key", key, "error", err)
		return false
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		slog.Error("blob store: build upload body failed", "key", key, "error", err)
		return false
	}
	if _, err := io.Copy(part, r); err != nil {
		slog.Error("blob store: read source failed", "key", key, "error", err)
		return false
	}
	if err := w.Close(); err != nil {
		slog.Error("blob store: finalize upload body failed", "key", key, "error", err)
		return false
	}

	target := assign.URL
	if !strings.Contains(target, "://") {
		target = "http://" + target
	}
	target = strings.TrimRight(target, "/") + "/" + assign.FID

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &body)
	if err != nil {
		slog.Error("blob store: build upload request failed", "key", key, "error", err)
		return false
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := b.client.Do(req)
	if err != nil {
		slog.Error("blob store: volume upload failed", "key", key, "error", err)
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		slog.Error("blob store: volume rejected upload", "key", key, "status", resp.StatusCode)
		return false
	}

	if err := b.mappings.PutMapping(key, assign.FID); err != nil {
		slog.Error("blob store: record mapping failed", "key", key, "fid", assign.FID, "error", err)
		return false
	}

	slog.Info("uploaded to blob store", "key", key, "fid", assign.FID)
	return true
}

func (b *Blob) Upload(ctx context.Context, r io.Reader, key string, opts UploadOptions) bool {
	if !b.available {
		slog.Warn("blob store unavailable")
		return false
	}
	if key == "" {
		key = DeriveKey("uploads", "")
	}
	return b.store(ctx, r, key, filepath.Base(key))
}

func (b *Blob) UploadFromPath(ctx context.Context, path, key string) bool {
	if !b.available {
		slog.Warn("blob store unavailable")
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		slog.Error("blob store: open source failed", "path", path, "error", err)
		return false
	}
	defer f.Close()

	if key == "" {
		key = DeriveKey("uploads", filepath.Base(path))
	}
	return b.store(ctx, f, key, filepath.Base(path))
}

// FID returns the recorded native id for key, if any. The orchestrator
// persists it onto the Image record after a successful upload.
func (b *Blob) FID(key string) (string, bool) {
	fid, err := b.mappings.GetMapping(key)
	if err != nil {
		return "", false
	}
	return fid, true
}

func (b *Blob) URL(key string) (string, bool) {
	if !b.available {
		return "", false
	}
	fid, err := b.mappings.GetMapping(key)
	if err != nil {
		slog.Warn("blob store: no mapping for key", "key", key)
		return "", false
	}
	u, err := b.fileURL(context.Background(), fid)
	if err != nil {
		slog.Error("blob store: resolve url failed", "key", key, "fid", fid, "error", err)
		return "", false
	}
	return u, true
}

func (b *Blob) Download(ctx context.Context, key string) ([]byte, bool) {
	if !b.available {
		slog.Warn("blob store unavailable")
		return nil, false
	}
	fid, err := b.mappings.GetMapping(key)
	if err != nil {
		slog.Warn("blob store: no mapping for key", "key", key)
		return nil, false
	}
	u, err := b.fileURL(ctx, fid)
	if err != nil {
		slog.Error("blob store: resolve url failed", "key", key, "fid", fid, "error", err)
		return nil, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		slog.Error("blob store: build download request failed", "key", key, "error", err)
		return nil, false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		slog.Error("blob store: download failed", "key", key, "error", err)
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Warn("blob store: download rejected", "key", key, "status", resp.StatusCode)
		return nil, false
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("blob store: read body failed", "key", key, "error", err)
		return nil, false
	}
	return data, true
}

func (b *Blob) Delete(ctx context.Context, key string) bool {
	if !b.available {
		slog.Warn("blob store unavailable")
		return false
	}
	fid, err := b.mappings.GetMapping(key)
	if err != nil {
		slog.Warn("blob store: no mapping for key", "key", key)
		return false
	}
	u, err := b.fileURL(ctx, fid)
	if err != nil {
		slog.Error("blob store: resolve url failed", "key", key, "fid", fid, "error", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		slog.Error("blob store: build delete request failed", "key", key, "error", err)
		return false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		slog.Error("blob store: delete failed", "key", key, "error", err)
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		slog.Error("blob store: delete rejected", "key", key, "status", resp.StatusCode)
		return false
	}

	if err := b.mappings.DeleteMapping(key); err != nil {
		slog.Error("blob store: remove mapping failed", "key", key, "error", err)
	}

	slog.Info("deleted from blob store", "key", key, "fid", fid)
	return true
}

// Exists downloads the blob; the store offers no cheaper probe that also
// verifies the mapping still points at live bytes.
func (b *Blob) Exists(ctx context.Context, key string) bool {
	_, ok := b.Download(ctx, key)
	return ok
}

func (b *Blob) Available() bool {
	return b.available
}
