//	@title			Upgate API
//	@version		1.0
//	@description	Presigned upload grant service: mints time-bounded upload credentials against an S3-compatible store and tracks asset lifecycle.
//
//	@host		localhost:8080
//	@BasePath	/api/v1
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT Bearer token. Format: **Bearer {token}**

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/upgate/service/internal/asset"
	"github.com/upgate/service/internal/config"
	"github.com/upgate/service/internal/db"
	appMiddleware "github.com/upgate/service/internal/middleware"
	"github.com/upgate/service/internal/storage"

	_ "github.com/upgate/service/docs/swagger"
)

func main() {
	cfg := config.Load()

	store, err := newStore(cfg)
	if err != nil {
		log.Fatalf("metadata store init failed: %v", err)
	}

	objects, err := storage.NewMinioStorage(
		cfg.StorageEndpoint,
		cfg.StorageAccessKey,
		cfg.StorageSecretKey,
		cfg.StorageUseSSL,
	)
	if err != nil {
		log.Fatalf("object storage init failed: %v", err)
	}

	svc := asset.NewService(objects, store, asset.Config{
		Bucket:                        cfg.StorageBucket,
		Region:                        cfg.StorageRegion,
		MaxSizeBytes:                  cfg.MaxUploadSizeBytes,
		ExpirationSeconds:             cfg.UploadExpirationSeconds,
		VerifyAssets:                  cfg.VerifyAssets,
		VerifyAssetsExpirationSeconds: cfg.VerifyAssetsExpirationSeconds,
		PresignedURLExpirationSeconds: cfg.PresignedURLExpirationSeconds,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := svc.Init(ctx); err != nil {
		cancel()
		log.Fatalf("bucket bootstrap failed: %v", err)
	}
	cancel()
	log.Printf("bucket %q ready", cfg.StorageBucket)

	assetHandler := asset.NewHandler(svc)

	// Router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Swagger UI — available at http://localhost:8080/swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/assets", func(r chi.Router) {
			r.Post("/grants", assetHandler.IssueGrant)
			r.Post("/verify", assetHandler.Verify)
			r.Post("/access", assetHandler.ResolveAccess)
			r.Post("/delete", assetHandler.Delete)
		})

		// Administrative reconciliation sweep, meant for a periodic caller.
		r.Route("/admin", func(r chi.Router) {
			r.Use(appMiddleware.RequireAdmin(cfg.AdminJWTSecret))
			r.Post("/prune", assetHandler.Prune)
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine; wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("server listening on :%s (env=%s)", cfg.Port, cfg.AppEnv)
		log.Printf("swagger UI at http://localhost:%s/swagger/", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}

	log.Println("server stopped")
}

// newStore picks the metadata store backend from configuration: Postgres
// when DATABASE_URL is set, Redis when REDIS_ADDR is set, none otherwise.
// Running storeless is legal — features that need the store fail per call.
func newStore(cfg *config.Config) (asset.Store, error) {
	switch {
	case cfg.DatabaseURL != "":
		pool, err := db.Connect(context.Background(), cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		return asset.NewPostgresStore(pool), nil

	case cfg.RedisAddr != "":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return nil, err
		}
		log.Println("connected to redis")
		return asset.NewRedisStore(rdb), nil

	default:
		log.Println("no metadata store configured, running storeless")
		return nil, nil
	}
}
