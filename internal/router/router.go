package router

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/leca/imagevault/internal/api"
	"github.com/leca/imagevault/internal/config"
	"github.com/leca/imagevault/internal/handler"
)

// Server holds the application dependencies and HTTP router.
type Server struct {
	Config *config.Config
	Router chi.Router
}

// New creates a new Server with a fully configured chi router.
func New(h *handler.Handler, cfg *config.Config) *Server {
	s := &Server{Config: cfg}

	r := chi.NewRouter()

	// CORS — must be before other middleware to handle preflight OPTIONS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check (no auth required).
	r.Get("/health", s.Health)

	// API routes.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(api.AuthMiddleware(cfg.AuthToken))
		r.Use(api.UserIDMiddleware)

		r.Post("/upload", h.UploadImage)
		r.Post("/upload/batch", h.UploadBatch)

		r.Get("/images", h.ListImages)
		r.Get("/images/{image_id}", h.GetImage)
		r.Patch("/images/{image_id}", h.UpdateImage)
		r.Delete("/images/{image_id}", h.DeleteImage)

		r.Post("/images/{image_id}/thumbnails", h.GenerateThumbnails)
		r.Get("/images/{image_id}/thumbnails", h.ListThumbnails)

		r.Post("/images/{image_id}/tasks", h.CreateTask)
		r.Get("/tasks/{task_id}", h.GetTask)

		r.Get("/storage/health", h.StorageHealth)
		r.Get("/stats", h.GetStats)
	})

	// Locally stored bytes are served directly (no auth required).
	fs := http.StripPrefix("/static/uploads/", http.FileServer(http.Dir(cfg.UploadDir)))
	r.Get("/static/uploads/*", fs.ServeHTTP)

	s.Router = r
	return s
}

// Health returns a simple health-check response.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		slog.Error("encode health response failed", "error", err)
	}
}
