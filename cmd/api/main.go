// cmd/api/main.go
// Main entry point for the matchmaking service
// This file bootstraps all components and starts the server

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	// Internal packages
	"github.com/imadgeboyega/kiekky-matchmaking/internal/auth"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/database"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/logger"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/utils"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/config"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/dating"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/learning"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/notification"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
)

var startTime = time.Now()

// storage is the set of backends selected by STORAGE_DRIVER
type storage struct {
	users   profile.Repository
	samples learning.SampleRepository
	models  learning.ModelStore
	queue   dating.Queue
	tokens  notification.TokenRepository
	close   func()
}

func main() {
	// 1. Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found (%v), using environment variables", err)
	}

	// 2. Load configuration
	cfg := config.Load()

	appLog, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("❌ Failed to create logger: %v", err)
	}
	defer appLog.Sync()

	appLog.Info("🚀 Starting Kiekky matchmaking API", "environment", cfg.Environment)

	// 3. Validate configuration
	if err := cfg.Validate(); err != nil {
		appLog.Fatal("❌ Invalid configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Model weight blobs
	var blobs learning.BlobStore
	if cfg.UseS3 {
		blobs, err = learning.NewS3BlobStore(learning.S3Config{
			Bucket:          cfg.S3BucketName,
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			appLog.Fatal("❌ Failed to initialize S3", "error", err)
		}
		appLog.Info("✅ Model weights stored in S3", "bucket", cfg.S3BucketName)
	}

	// 5. Storage
	store, err := openStorage(ctx, cfg, blobs, appLog)
	if err != nil {
		appLog.Fatal("❌ Failed to open storage", "driver", cfg.StorageDriver, "error", err)
	}
	defer store.close()

	// 6. Learning pipeline
	learningService := learning.NewService(store.users, store.samples, store.models, cfg.ML, appLog)
	defer learningService.Close()

	if err := learningService.EnsureReady(ctx); err != nil {
		// rule-based scoring keeps working without a model
		appLog.Error("⚠️  Model bootstrap failed", "error", err)
	}
	learning.NewScheduler(learningService, cfg.ML.CheckInterval, appLog).Start(ctx)
	appLog.Info("✅ Learning pipeline ready", "model_loaded", learningService.Predictor().Ready())

	// 7. Push notifications
	var push notification.PushService
	if cfg.PushEnabled {
		fcm, err := notification.NewFCMPushService(ctx, notification.FCMConfig{
			CredentialsPath: cfg.FirebaseCredentialsPath,
			CredentialsJSON: cfg.FirebaseCredentialsJSON,
		})
		if err != nil {
			appLog.Fatal("❌ Failed to initialize FCM", "error", err)
		}
		push = fcm
		appLog.Info("✅ FCM push notifications enabled")
	}
	notificationService := notification.NewService(store.tokens, push, appLog)

	// 8. Match coordination
	hub := dating.NewHub(store.queue, store.users, appLog)
	notifier := notification.NewPushNotifier(hub, hub, notificationService)
	datingService := dating.NewService(store.users, learningService, notifier, appLog)
	appLog.Info("✅ Match coordination ready")

	// 9. Routes
	authMiddleware := auth.NewMiddleware(cfg.JWTSecret)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(appLog))
	router.Use(corsMiddleware)

	router.Get("/health", healthCheck(learningService, hub))
	router.Handle("/metrics", promhttp.Handler())

	learning.RegisterRoutes(router, learning.NewHandler(learningService), authMiddleware)
	datingHandler := dating.NewHandler(datingService, hub)
	if cfg.IsProduction() {
		datingHandler.RestrictOrigins(cfg.AllowedOrigins)
	}
	dating.RegisterRoutes(router, datingHandler, authMiddleware)
	notification.RegisterRoutes(router, notification.NewHandler(notificationService), authMiddleware)

	// 10. Create and start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // synchronous training requests
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLog.Info("🚀 Server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("❌ Failed to start server", "error", err)
		}
	}()

	<-ctx.Done()
	appLog.Info("⚠️  Shutdown signal received")

	hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("❌ Server forced to shutdown", "error", err)
	}

	appLog.Info("✅ Server exited gracefully")
}

// openStorage wires the repositories for the configured driver
func openStorage(ctx context.Context, cfg *config.Config, blobs learning.BlobStore, log *logger.Logger) (*storage, error) {
	switch cfg.StorageDriver {
	case "memory":
		users, err := loadMemoryUsers(ctx, cfg.MemorySeedFile)
		if err != nil {
			return nil, err
		}
		if blobs == nil {
			blobs = learning.NewMemoryBlobStore()
		}
		log.Info("✅ Using in-memory storage", "seed", cfg.MemorySeedFile)
		return &storage{
			users:   users,
			samples: learning.NewMemorySampleRepository(),
			models:  learning.NewMemoryModelStore(cfg.ML.ModelName, blobs),
			queue:   dating.NewMemoryQueue(),
			tokens:  notification.NewMemoryTokenRepository(),
			close:   func() {},
		}, nil

	default:
		db, err := database.NewPostgresDBFromURL(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Info("✅ Connected to PostgreSQL")

		if err := database.RunMigrations(ctx, db, log); err != nil {
			db.Close()
			return nil, err
		}

		s := &storage{
			users:   profile.NewPostgresRepository(db),
			samples: learning.NewPostgresSampleRepository(db),
			models:  learning.NewPostgresModelStore(db, cfg.ML.ModelName, blobs),
			queue:   dating.NewPostgresQueue(db),
			tokens:  notification.NewPostgresTokenRepository(db),
		}

		var rdb *redis.Client
		if cfg.RedisURL != "" {
			rdb, err = database.NewRedisClientFromURL(ctx, cfg.RedisURL)
			if err != nil {
				// the Postgres queue still works
				log.Warn("⚠️  Redis unavailable, queueing offline events in PostgreSQL", "error", err)
			} else {
				s.queue = dating.NewRedisQueue(rdb)
				log.Info("✅ Connected to Redis")
			}
		}

		s.close = closeAll(db, rdb)
		return s, nil
	}
}

func loadMemoryUsers(ctx context.Context, path string) (*profile.MemoryRepository, error) {
	if path == "" {
		return profile.NewMemoryRepository(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile seed: %w", err)
	}
	defer f.Close()
	return profile.LoadMemoryRepository(ctx, f)
}

func closeAll(db *sqlx.DB, rdb *redis.Client) func() {
	return func() {
		if rdb != nil {
			rdb.Close()
		}
		db.Close()
	}
}

// healthCheck returns server health status
func healthCheck(learningService *learning.Service, hub *dating.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"status":      "healthy",
			"timestamp":   time.Now().Format(time.RFC3339),
			"uptime":      time.Since(startTime).String(),
			"model_ready": learningService.Predictor().Ready(),
			"training":    learningService.Training(),
			"connections": hub.Connections(),
		})
	}
}

// requestLogger logs every request with its status and duration
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
