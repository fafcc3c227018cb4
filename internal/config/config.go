package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ListenAddr string
	DBPath     string
	BaseURL    string
	AuthToken  string

	// Upload validation.
	UploadDir         string
	MaxFileSize       int64
	AllowedExtensions []string

	// Object store (S3-compatible).
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool
	S3Public    bool

	// Distributed blob store (SeaweedFS).
	WeedMasterURL string

	ThumbnailWorkers int
}

func Load() *Config {
	return &Config{
		ListenAddr: getEnv("IV_LISTEN_ADDR", ":8080"),
		DBPath:     getEnv("IV_DB_PATH", "/data/db/imagevault.db"),
		BaseURL:    getEnv("IV_BASE_URL", "http://localhost:8080"),
		AuthToken:  getEnv("IV_AUTH_TOKEN", ""),

		UploadDir:         getEnv("IV_UPLOAD_DIR", "/data/uploads"),
		MaxFileSize:       getEnvInt64("IV_MAX_FILE_SIZE", 10<<20),
		AllowedExtensions: getEnvList("IV_ALLOWED_EXTENSIONS", []string{"jpg", "jpeg", "png", "gif"}),

		S3Endpoint:  getEnv("IV_S3_ENDPOINT", "localhost:9000"),
		S3AccessKey: getEnv("IV_S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey: getEnv("IV_S3_SECRET_KEY", "minioadmin"),
		S3Bucket:    getEnv("IV_S3_BUCKET", "images"),
		S3Region:    getEnv("IV_S3_REGION", "us-east-1"),
		S3UseSSL:    getEnv("IV_S3_USE_SSL", "") == "true",
		S3Public:    getEnv("IV_S3_PUBLIC", "true") == "true",

		WeedMasterURL: getEnv("IV_WEED_MASTER_URL", "http://localhost:9333"),

		ThumbnailWorkers: int(getEnvInt64("IV_THUMBNAIL_WORKERS", 2)),
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultValue
	}
	return n
}

// getEnvList parses a comma-separated list, lowercasing each entry.
func getEnvList(key string, defaultValue []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
