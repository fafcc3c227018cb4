package handler

import (
	"github.com/leca/imagevault/internal/config"
	"github.com/leca/imagevault/internal/database"
	"github.com/leca/imagevault/internal/imageproc"
	"github.com/leca/imagevault/internal/storage"
	"github.com/leca/imagevault/internal/upload"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	DB       database.Database
	Store    *storage.Manager
	Uploads  *upload.Service
	Pipeline *imageproc.Pipeline
	Config   *config.Config
}
