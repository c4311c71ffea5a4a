// Package main is the entry point for the civic report server.
// It provides a REST API for citizens to report local issues with a photo
// and location, vote on reports nearby, and confirm that an issue an
// administrator marked as fixed has really been resolved.
//
// Architecture:
//   - Submissions are classified by an external AI service, with a
//     default verdict whenever it is unavailable
//   - Nearby reports of the same category are folded into one
//   - Community votes drive verification, rejection and priority
//   - Resolution claims close only after peer approvals
//   - Rejected reports are soft-deleted by a background sweeper
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/civicaudit/report-server/internal/classifier"
	"github.com/civicaudit/report-server/internal/config"
	"github.com/civicaudit/report-server/internal/database"
	"github.com/civicaudit/report-server/internal/handlers"
	"github.com/civicaudit/report-server/internal/metrics"
	"github.com/civicaudit/report-server/internal/middleware"
	"github.com/civicaudit/report-server/internal/notify"
	"github.com/civicaudit/report-server/internal/services"
	"github.com/civicaudit/report-server/internal/storage"
	"github.com/civicaudit/report-server/internal/store"
)

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger, _ := zap.NewProduction()
	if cfg.Environment == "development" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	sugar.Infow("Starting civic report server",
		"port", cfg.Port,
		"env", cfg.Environment,
		"store", cfg.StoreDriver,
		"storage", cfg.StorageDriver,
		"classifier_enabled", cfg.ClassifierURL != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	images, err := openImageStore(ctx, cfg)
	if err != nil {
		sugar.Fatalf("Failed to open image storage: %v", err)
	}

	// Redis backs live notification delivery and the sweeper lock
	var (
		publisher notify.Publisher
		locker    *redislock.Client
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			sugar.Fatalf("Invalid REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			sugar.Warnw("Redis unreachable, continuing without live delivery", "error", err)
		}
		publisher = notify.NewRedisPublisher(rdb)
		locker = redislock.New(rdb)
	}

	// Notification fan-out runs on its own context so queued jobs drain on shutdown
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatcher := notify.NewDispatcher(st, publisher, notify.Config{
		Workers:          cfg.NotifyWorkers,
		QueueSize:        cfg.NotifyQueueSize,
		NearbyRadius:     cfg.NearbyRadiusMeters,
		ResolutionRadius: cfg.ResolutionRadiusMeters,
	}, sugar)
	dispatcher.Start(dispatchCtx)

	// Initialize services
	activitySvc := services.NewActivityLogService(st, sugar)
	reportSvc := services.NewReportService(
		st,
		services.NewDuplicateDetector(st, cfg.DuplicateRadiusMeters),
		classifier.New(cfg.ClassifierURL, cfg.ClassifierTimeout, sugar),
		images,
		dispatcher,
		activitySvc,
		services.ReportConfig{NearbyRadius: cfg.NearbyRadiusMeters},
		sugar,
	)
	voteSvc := services.NewVoteService(st, dispatcher, activitySvc, sugar)
	resolutionSvc := services.NewResolutionService(st, st, dispatcher, activitySvc, services.ResolutionConfig{
		RequiredApprovals: cfg.RequiredApprovals,
		Radius:            cfg.ResolutionRadiusMeters,
	}, sugar)
	adminSvc := services.NewAdminService(st, sugar)
	sweeper := services.NewSweeperWorker(st, activitySvc, locker, cfg.RejectedRetention, sugar)

	// Start background sweeper (soft-deletes expired rejected reports)
	go sweeper.Start(ctx, cfg.SweepInterval)

	// Initialize handlers
	api := &handlers.API{
		Reports:       handlers.NewReportHandler(reportSvc, voteSvc, resolutionSvc, sugar),
		Activity:      handlers.NewActivityHandler(activitySvc, reportSvc, sugar),
		Admin:         handlers.NewAdminHandler(adminSvc, resolutionSvc, sugar),
		Notifications: handlers.NewNotificationHandler(services.NewNotificationService(st), sugar),
		Profile:       handlers.NewProfileHandler(services.NewCitizenService(st, sugar), sugar),
		Health:        handlers.NewHealthHandler(st, sugar),
	}

	// Build router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(metrics.Middleware)

	// Authenticated routes are rate limited per user inside Mount
	api.Mount(r, cfg.JWTSecret, cfg.RateLimitRPM)
	r.Handle("/metrics", promhttp.Handler())

	if local, ok := images.(*storage.LocalStore); ok {
		r.Handle(storage.URLPrefix+"*", http.StripPrefix(storage.URLPrefix, http.FileServer(http.Dir(local.Dir()))))
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sugar.Infof("Server listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("Forced shutdown", "error", err)
	}

	stopDispatch()
	dispatcher.Wait()

	sugar.Info("Server stopped")
}

// openStore connects the configured persistence backend
func openStore(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (store.Store, error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("Using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), nil
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return store.NewPostgresStore(pool, logger), nil
}

// openImageStore returns the configured report image backend
func openImageStore(ctx context.Context, cfg *config.Config) (storage.ImageStore, error) {
	if cfg.StorageDriver == "s3" {
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			EndpointURL:     cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PublicBaseURL:   cfg.PublicBaseURL,
		})
	}
	return storage.NewLocalStore(cfg.UploadDir)
}
