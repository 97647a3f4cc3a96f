// Package config loads application configuration from environment variables.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the service.
type Config struct {
	Port        string
	AppEnv      string
	ProjectName string

	// JWT secret guarding the administrative endpoints (pruning).
	AdminJWTSecret string

	// Metadata store selection: DatabaseURL enables the Postgres backend,
	// RedisAddr the Redis backend. With neither set the service runs
	// storeless (metadata, verification, URL caching and pruning disabled).
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Object storage (S3-compatible: MinIO locally, ArvanCloud or AWS in production)
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string // derived from project + env when unset
	StorageRegion    string
	StorageUseSSL    bool

	// Upload grant defaults; per-type policies override these.
	MaxUploadSizeBytes            int64
	UploadExpirationSeconds       int
	VerifyAssets                  bool
	VerifyAssetsExpirationSeconds int
	PresignedURLExpirationSeconds int
}

// Load reads configuration from a .env file (if present) and environment variables.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, reading from environment")
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		AppEnv:      getEnv("APP_ENV", "development"),
		ProjectName: getEnv("PROJECT_NAME", "upgate"),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", "change_me_in_production"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		StorageEndpoint:  getEnv("STORAGE_ENDPOINT", "localhost:9000"),
		StorageAccessKey: getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
		StorageSecretKey: getEnv("STORAGE_SECRET_KEY", "minioadmin"),
		StorageBucket:    getEnv("STORAGE_BUCKET", ""),
		StorageRegion:    getEnv("STORAGE_REGION", "us-east-1"),
		StorageUseSSL:    getEnv("STORAGE_USE_SSL", "false") == "true",

		MaxUploadSizeBytes:            getEnvInt64("MAX_UPLOAD_SIZE_BYTES", 10<<20),
		UploadExpirationSeconds:       getEnvInt("UPLOAD_EXPIRATION_SECONDS", 300),
		VerifyAssets:                  getEnv("VERIFY_ASSETS", "false") == "true",
		VerifyAssetsExpirationSeconds: getEnvInt("VERIFY_ASSETS_EXPIRATION_SECONDS", 0),
		PresignedURLExpirationSeconds: getEnvInt("PRESIGNED_URL_EXPIRATION_SECONDS", 3600),
	}

	if cfg.StorageBucket == "" {
		cfg.StorageBucket = BucketName(cfg.ProjectName, cfg.AppEnv)
	}

	return cfg
}

// IsProduction returns true when the app is running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// BucketName derives the default bucket name from the deployment identity,
// e.g. ("upgate", "development") -> "upgate-development". Purely a naming
// convention: S3 bucket names must be lowercase DNS labels, so anything else
// is folded to '-'.
func BucketName(project, env string) string {
	return slug(project) + "-" + slug(env)
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("invalid %s=%q, using %d", key, v, fallback)
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		log.Printf("invalid %s=%q, using %d", key, v, fallback)
	}
	return fallback
}
