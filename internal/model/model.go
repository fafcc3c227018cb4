package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// StorageType identifies which backend holds an image's bytes. Exactly one
// addressing scheme (local path, object key, or blob FID) is authoritative
// per type.
type StorageType string

const (
	StorageLocal       StorageType = "local"
	StorageObjectStore StorageType = "s3"
	StorageBlobStore   StorageType = "seaweedfs"
)

// Valid reports whether t is one of the known storage types.
func (t StorageType) Valid() bool {
	switch t {
	case StorageLocal, StorageObjectStore, StorageBlobStore:
		return true
	}
	return false
}

// ProcessStatus tracks derivative generation and task execution.
type ProcessStatus string

const (
	StatusPending    ProcessStatus = "pending"
	StatusProcessing ProcessStatus = "processing"
	StatusCompleted  ProcessStatus = "completed"
	StatusFailed     ProcessStatus = "failed"
)

// Image is an uploaded source image and its storage descriptor.
type Image struct {
	ID               int64  `json:"id"`
	Filename         string `json:"filename"`
	OriginalFilename string `json:"original_filename"`
	FilePath         string `json:"file_path,omitempty"` // local path, when bytes are on disk
	FileSize         int64  `json:"file_size"`
	FileType         string `json:"file_type"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	Description      string `json:"description,omitempty"`

	StorageType StorageType `json:"storage_type"`
	StorageKey  string      `json:"storage_key,omitempty"`
	BlobFID     string      `json:"blob_fid,omitempty"`
	URL         string      `json:"url,omitempty"`

	IsProcessed   bool          `json:"is_processed"`
	ProcessStatus ProcessStatus `json:"process_status"`
	ProcessError  string        `json:"process_error,omitempty"`

	OwnerID   int64     `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ThumbnailSize is the label of one rung of the derivative ladder.
type ThumbnailSize string

const (
	SizeSmall  ThumbnailSize = "small"
	SizeMedium ThumbnailSize = "medium"
	SizeLarge  ThumbnailSize = "large"
)

// Thumbnail is a resized derivative of an Image. Rows are created only by
// the pipeline and never updated; they are removed when the image is deleted.
type Thumbnail struct {
	ID      int64         `json:"id"`
	ImageID int64         `json:"image_id"`
	Size    ThumbnailSize `json:"size"`
	Width   int           `json:"width"`
	Height  int           `json:"height"`

	FilePath    string      `json:"file_path,omitempty"`
	StorageType StorageType `json:"storage_type"`
	StorageKey  string      `json:"storage_key,omitempty"`
	BlobFID     string      `json:"blob_fid,omitempty"`
	URL         string      `json:"url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TaskKind enumerates the one-off processing operations.
type TaskKind string

const (
	TaskResize    TaskKind = "resize"
	TaskCrop      TaskKind = "crop"
	TaskFilter    TaskKind = "filter"
	TaskRotate    TaskKind = "rotate"
	TaskThumbnail TaskKind = "thumbnail"
)

// TaskParams is a tagged union: exactly the field matching the task kind is
// set. Unknown kinds are rejected when the task is created, not when it runs.
type TaskParams struct {
	Resize    *ResizeParams    `json:"resize,omitempty"`
	Crop      *CropParams      `json:"crop,omitempty"`
	Filter    *FilterParams    `json:"filter,omitempty"`
	Rotate    *RotateParams    `json:"rotate,omitempty"`
	Thumbnail *ThumbnailParams `json:"thumbnail,omitempty"`
}

type ResizeParams struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CropParams is the crop box: left/upper is the top-left corner,
// right/lower the bottom-right, in source pixels.
type CropParams struct {
	Left  int `json:"left"`
	Upper int `json:"upper"`
	Right int `json:"right"`
	Lower int `json:"lower"`
}

type FilterParams struct {
	FilterType string `json:"filter_type"`
}

type RotateParams struct {
	Angle float64 `json:"angle"`
}

type ThumbnailParams struct {
	Size   ThumbnailSize `json:"size"`
	Width  int           `json:"width"`
	Height int           `json:"height"`
}

// Validate checks that params carries exactly the variant kind requires.
func (p TaskParams) Validate(kind TaskKind) error {
	switch kind {
	case TaskResize:
		if p.Resize == nil {
			return fmt.Errorf("resize task requires resize params")
		}
		if p.Resize.Width <= 0 || p.Resize.Height <= 0 {
			return fmt.Errorf("resize dimensions must be positive")
		}
	case TaskCrop:
		if p.Crop == nil {
			return fmt.Errorf("crop task requires crop params")
		}
		if p.Crop.Right <= p.Crop.Left || p.Crop.Lower <= p.Crop.Upper {
			return fmt.Errorf("crop box is empty")
		}
	case TaskFilter:
		if p.Filter == nil {
			return fmt.Errorf("filter task requires filter params")
		}
	case TaskRotate:
		if p.Rotate == nil {
			return fmt.Errorf("rotate task requires rotate params")
		}
	case TaskThumbnail:
		if p.Thumbnail == nil {
			return fmt.Errorf("thumbnail task requires thumbnail params")
		}
		if p.Thumbnail.Width <= 0 || p.Thumbnail.Height <= 0 {
			return fmt.Errorf("thumbnail dimensions must be positive")
		}
	default:
		return fmt.Errorf("unknown task kind: %s", kind)
	}
	return nil
}

// Encode serialises params for storage.
func (p TaskParams) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal task params: %w", err)
	}
	return string(b), nil
}

// DecodeTaskParams is the inverse of TaskParams.Encode.
func DecodeTaskParams(s string) (TaskParams, error) {
	var p TaskParams
	if s == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return p, fmt.Errorf("unmarshal task params: %w", err)
	}
	return p, nil
}

// ProcessingTask is one processing request. It transitions
// pending -> processing -> {completed, failed} exactly once.
type ProcessingTask struct {
	ID          int64         `json:"id"`
	TaskID      string        `json:"task_id"` // public identifier
	ImageID     int64         `json:"image_id"`
	Kind        TaskKind      `json:"task_type"`
	Status      ProcessStatus `json:"status"`
	Params      string        `json:"params,omitempty"` // TaskParams JSON
	Result      string        `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// SessionStatus tracks batch upload progress.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
)

// UploadSession tracks a batch upload. TotalFiles is fixed at creation;
// ProcessedFiles advances on every attempt, success or failure, and the
// session completes once it reaches TotalFiles.
type UploadSession struct {
	ID             int64         `json:"id"`
	SessionID      string        `json:"session_id"` // public identifier
	UserID         int64         `json:"user_id"`
	TotalFiles     int           `json:"total_files"`
	ProcessedFiles int           `json:"processed_files"`
	Status         SessionStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// User is the owner of uploaded images. Authentication happens outside this
// system; the record exists for ownership references.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	IsActive  bool      `json:"is_active"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// FileMapping pairs an opaque storage key with the blob store's native FID.
// The FID is not derivable from the key, so every read and delete on the
// blob backend goes through this table.
type FileMapping struct {
	Key       string    `json:"key"`
	FID       string    `json:"fid"`
	CreatedAt time.Time `json:"created_at"`
}
