package database

import (
	"errors"

	"github.com/leca/imagevault/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Database defines the persistence interface for all domain objects.
type Database interface {
	// Images
	CreateImage(img *model.Image) error
	GetImage(id int64) (*model.Image, error)
	ListImages(ownerID *int64, offset, limit int) ([]*model.Image, int, error)
	UpdateImage(img *model.Image) error
	DeleteImage(id int64) error
	CountImages() (int, error)

	// Thumbnails (cascade handled explicitly on image delete)
	CreateThumbnail(t *model.Thumbnail) error
	ListThumbnails(imageID int64) ([]*model.Thumbnail, error)
	DeleteThumbnails(imageID int64) error

	// Processing tasks
	CreateTask(task *model.ProcessingTask) error
	GetTask(id int64) (*model.ProcessingTask, error)
	GetTaskByTaskID(taskID string) (*model.ProcessingTask, error)
	UpdateTask(task *model.ProcessingTask) error

	// Upload sessions
	CreateSession(s *model.UploadSession) error
	GetSession(id int64) (*model.UploadSession, error)
	UpdateSession(s *model.UploadSession) error

	// Users
	CreateUser(u *model.User) error
	GetUser(id int64) (*model.User, error)

	// Blob-store key -> FID mapping. Must be read-after-write consistent
	// per key; no cross-key guarantees needed.
	PutMapping(key, fid string) error
	GetMapping(key string) (string, error)
	DeleteMapping(key string) error

	Close() error
}
