package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/leca/imagevault/internal/config"
	"github.com/leca/imagevault/internal/database"
	"github.com/leca/imagevault/internal/handler"
	"github.com/leca/imagevault/internal/imageproc"
	"github.com/leca/imagevault/internal/router"
	"github.com/leca/imagevault/internal/storage"
	"github.com/leca/imagevault/internal/upload"
	"github.com/leca/imagevault/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()
	ctx := context.Background()

	db, err := database.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Local first so it is the default and always present as the fallback
	// destination. Remote backends probe on construction and may come up
	// unavailable; they are still registered so health reports cover them.
	store := storage.NewManager()
	store.Register(storage.NameLocal, storage.NewLocal(cfg.UploadDir), true)
	store.Register(storage.NameObjectStore, storage.NewObjectStore(ctx, storage.ObjectStoreConfig{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
		Public:    cfg.S3Public,
	}), false)
	store.Register(storage.NameBlobStore, storage.NewBlob(ctx, cfg.WeedMasterURL, db), false)

	pipeline := imageproc.NewPipeline(db, store, cfg.UploadDir)

	svc := upload.NewService(db, store, pipeline, cfg, nil)
	pool := worker.New(cfg.ThumbnailWorkers, func(ctx context.Context, imageID int64) {
		svc.ProcessImage(ctx, imageID)
	})
	svc.Thumbs = pool
	pool.Start(ctx)
	defer pool.Stop()

	h := &handler.Handler{
		DB:       db,
		Store:    store,
		Uploads:  svc,
		Pipeline: pipeline,
		Config:   cfg,
	}
	srv := router.New(h, cfg)

	slog.Info("starting server", "addr", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, srv.Router); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
