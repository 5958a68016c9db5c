// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/stocklens/countd/internal/adapters/db"
	redis_a "github.com/stocklens/countd/internal/adapters/redis_adapter"
	"github.com/stocklens/countd/internal/adapters/storage"
	"github.com/stocklens/countd/internal/core/domain"
	"github.com/stocklens/countd/internal/core/ports"
	"github.com/stocklens/countd/internal/core/services"
	"github.com/stocklens/countd/internal/handlers"
	"github.com/stocklens/countd/internal/handlers/middleware"
	"github.com/stocklens/countd/internal/pkg/config"
	"github.com/stocklens/countd/internal/pkg/logger"
)

// Build information injected at compile time
var (
	Version   = "dev"
	BuildTime = "unknown"
	GoVersion = "unknown"
)

func main() {
	slogger := logger.SetupLogger("debug", "json")

	slogger.Info("starting countd capture service",
		slog.String("version", Version),
		slog.String("build_time", BuildTime),
		slog.String("go_version", GoVersion),
	)

	cfg, err := config.Load(slogger.Logger)
	if err != nil {
		slogger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Reconfigure logger with loaded settings
	slogger = logger.SetupLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	slogger.Info("configuration loaded",
		slog.String("environment", cfg.App.Environment),
		slog.String("log_level", cfg.App.LogLevel),
	)

	ctx := context.Background()

	deps, err := initializeDependencies(ctx, cfg, slogger.Logger)
	if err != nil {
		slogger.Error("failed to initialize dependencies", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer deps.cleanup()

	if cfg.App.Environment != "production" {
		if err := runMigrations(ctx, cfg, slogger.Logger); err != nil {
			slogger.Error("failed to run migrations", slog.String("error", err.Error()))
			// Don't exit in development, just warn
		}
	}

	// Evict sessions that went quiet; their photo orphans get swept too.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	go runSessionSweeper(sweepCtx, deps.registry, cfg.Capture.SweepInterval, slogger.Logger)

	server := setupHTTPServer(cfg, deps, slogger)

	serverErrors := make(chan error, 1)
	go func() {
		slogger.Info("starting HTTP server",
			slog.String("address", cfg.GetServerAddress()),
			slog.Bool("tls", cfg.Server.TLSEnabled),
		)

		if cfg.Server.TLSEnabled {
			serverErrors <- server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogger.Error("server error", slog.String("error", err.Error()))
		}
	case sig := <-shutdown:
		slogger.Info("shutdown signal received",
			slog.String("signal", sig.String()),
		)

		stopSweep()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slogger.Error("failed to gracefully shutdown server", slog.String("error", err.Error()))
			server.Close()
		}

		if deps.asynqClient != nil {
			if err := deps.asynqClient.Close(); err != nil {
				slogger.Error("failed to close Asynq client", slog.String("error", err.Error()))
			}
		}

		slogger.Info("server shutdown complete")
	}
	stopSweep()
}

// dependencies holds all application dependencies
type dependencies struct {
	database       ports.Database
	redisClient    *redis.Client
	redisCache     ports.CacheRepository
	photoStore     *storage.S3PhotoStore
	asynqClient    *asynq.Client
	asynqInspector *asynq.Inspector
	registry       *services.SessionRegistry
	countHandler   *handlers.CountHandler
	healthHandler  *handlers.HealthHandler
}

func (d *dependencies) cleanup() {
	if d.database != nil {
		d.database.Close()
	}
	if d.redisClient != nil {
		d.redisClient.Close()
	}
	if d.asynqClient != nil {
		d.asynqClient.Close()
	}
}

func initializeDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*dependencies, error) {
	deps := &dependencies{}

	logger.Info("connecting to database",
		slog.String("host", cfg.Database.Host),
		slog.String("database", cfg.Database.Name),
	)

	database, err := db.NewDatabase(ctx, &db.Config{
		Host:               cfg.Database.Host,
		Port:               cfg.Database.Port,
		User:               cfg.Database.User,
		Password:           cfg.Database.Password,
		Database:           cfg.Database.Name,
		SSLMode:            cfg.Database.SSLMode,
		MaxConnections:     cfg.Database.MaxConnections,
		MinConnections:     cfg.Database.MinConnections,
		MaxConnLifetime:    cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:    cfg.Database.MaxConnIdleTime,
		HealthCheckPeriod:  cfg.Database.HealthCheckPeriod,
		ConnectTimeout:     cfg.Database.ConnectTimeout,
		EnableQueryLogging: cfg.Database.EnableQueryLogging,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	deps.database = database

	logger.Info("connecting to Redis",
		slog.String("host", cfg.Redis.Host),
		slog.String("port", cfg.Redis.Port),
	)

	redisClient := redis.NewClient(&redis.Options{
		Addr:            fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
		Password:        cfg.Redis.Password,
		DB:              cfg.Redis.DB,
		MaxRetries:      cfg.Redis.MaxRetries,
		MinRetryBackoff: cfg.Redis.MinRetryBackoff,
		MaxRetryBackoff: cfg.Redis.MaxRetryBackoff,
		DialTimeout:     cfg.Redis.DialTimeout,
		ReadTimeout:     cfg.Redis.ReadTimeout,
		WriteTimeout:    cfg.Redis.WriteTimeout,
		PoolSize:        cfg.Redis.PoolSize,
		MinIdleConns:    cfg.Redis.MinIdleConns,
		PoolTimeout:     cfg.Redis.PoolTimeout,
	})

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	deps.redisClient = redisClient
	deps.redisCache = redis_a.NewCache(redisClient, cfg.Redis.TTL, logger)

	logger.Info("initializing photo store",
		slog.String("bucket", cfg.AWS.S3Bucket),
		slog.String("region", cfg.AWS.Region),
	)

	photoStore, err := storage.NewS3PhotoStore(ctx, &storage.S3Config{
		Region:          cfg.AWS.Region,
		Bucket:          cfg.AWS.S3Bucket,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		Endpoint:        cfg.AWS.S3Endpoint,
		UsePathStyle:    cfg.AWS.UsePathStyle,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize photo store: %w", err)
	}
	deps.photoStore = photoStore

	logger.Info("initializing Asynq client")

	asynqRedisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Asynq.RedisAddr,
		Password: cfg.Asynq.RedisPassword,
		DB:       cfg.Asynq.RedisDB,
	}
	deps.asynqClient = asynq.NewClient(asynqRedisOpt)
	deps.asynqInspector = asynq.NewInspector(asynqRedisOpt)

	// Repositories and workflow collaborators
	catalogRepo := db.NewCatalogRepository(database, logger)
	lineRepo := db.NewCountLineRepository(database, logger)
	tasks := services.NewTaskClient(deps.asynqClient, logger)

	wfConfig := services.WorkflowConfig{
		ScanWindow:     cfg.Capture.ScanWindow,
		ScanLimit:      cfg.Capture.ScanLimit,
		ScanDebounce:   cfg.Capture.ScanDebounce,
		SearchDebounce: cfg.Capture.SearchDebounce,
		LookupCooldown: cfg.Capture.LookupCooldown,
		SubmitRetries:  cfg.Capture.SubmitRetries,
		SubmitBackoff:  cfg.Capture.SubmitBackoff,
		PhotoCapture:   cfg.Capture.PhotoCapture,
	}

	factory := func(session domain.Session) *services.Workflow {
		resolver := services.NewItemResolver(catalogRepo, lineRepo, deps.redisCache, wfConfig.LookupCooldown, logger)
		return services.NewWorkflow(
			session,
			wfConfig,
			resolver,
			services.NewMRPNormalizer(logger),
			services.NewSubmissionGate(wfConfig.PhotoCapture, logger),
			lineRepo, photoStore, deps.redisCache, tasks,
			logger,
		)
	}
	deps.registry = services.NewSessionRegistry(factory, cfg.Capture.SessionIdleTTL, logger)

	deps.countHandler = handlers.NewCountHandler(deps.registry, logger)
	deps.healthHandler = handlers.NewHealthHandler(
		database,
		redisClient,
		deps.asynqInspector,
		deps.registry,
		cfg,
		logger,
	)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

func setupHTTPServer(cfg *config.Config, deps *dependencies, slogger *logger.Logger) *http.Server {
	mux := http.NewServeMux()

	var handler http.Handler = mux

	// Apply middleware in reverse order (innermost first)
	if cfg.App.Environment != "test" {
		handler = middleware.RequestID(handler)
		handler = middleware.Logger(slogger)(handler)
		handler = middleware.Recovery(slogger.Logger)(handler)
	}

	if cfg.Security.RateLimitRequests > 0 {
		handler = middleware.RateLimit(cfg.Security.RateLimitRequests, cfg.Security.RateLimitDuration)(handler)
	}

	if len(cfg.Security.AllowedOrigins) > 0 {
		handler = middleware.CORS(cfg.Security.AllowedOrigins)(handler)
	}

	if cfg.Security.SecureHeaders {
		handler = middleware.SecureHeaders(handler)
	}

	registerRoutes(mux, deps, cfg)

	return &http.Server{
		Addr:           cfg.GetServerAddress(),
		Handler:        handler,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(slogger.Handler(), slog.LevelError),
	}
}

func registerRoutes(mux *http.ServeMux, deps *dependencies, cfg *config.Config) {
	apiV1 := "/api/v1"

	if cfg.Server.EnableHealthCheck {
		mux.HandleFunc("GET /health", deps.healthHandler.Health)
		mux.HandleFunc("GET /ready", deps.healthHandler.Readiness)
		mux.HandleFunc("GET "+apiV1+"/health", deps.healthHandler.Health)
	}

	count := deps.countHandler
	sessions := apiV1 + "/sessions"

	// Session lifecycle
	mux.HandleFunc("POST "+sessions, count.OpenSession)
	mux.HandleFunc("GET "+sessions+"/{id}", count.GetProjection)
	mux.HandleFunc("DELETE "+sessions+"/{id}", count.CloseSession)

	// Item identification
	mux.HandleFunc("POST "+sessions+"/{id}/scan", count.Scan)
	mux.HandleFunc("POST "+sessions+"/{id}/search", count.Search)
	mux.HandleFunc("POST "+sessions+"/{id}/select", count.SelectResult)
	mux.HandleFunc("POST "+sessions+"/{id}/retry-lookup", count.RetryLookup)
	mux.HandleFunc("POST "+sessions+"/{id}/scan-pause/ack", count.AcknowledgePause)
	mux.HandleFunc("POST "+sessions+"/{id}/duplicate", count.ResolveDuplicate)
	mux.HandleFunc("GET "+sessions+"/{id}/recent", count.RecentScans)

	// Draft capture
	mux.HandleFunc("PATCH "+sessions+"/{id}/draft", count.UpdateDraft)
	mux.HandleFunc("POST "+sessions+"/{id}/refresh", count.RefreshItem)
	mux.HandleFunc("GET "+sessions+"/{id}/reasons", count.ListReasons)

	// Serial slots
	mux.HandleFunc("POST "+sessions+"/{id}/serial-capture", count.ToggleSerialCapture)
	mux.HandleFunc("POST "+sessions+"/{id}/serials", count.AddSerialSlot)
	mux.HandleFunc("DELETE "+sessions+"/{id}/serials/{slotID}", count.RemoveSerialSlot)
	mux.HandleFunc("PUT "+sessions+"/{id}/serials/{slotID}", count.SetSerialValue)
	mux.HandleFunc("POST "+sessions+"/{id}/serials/{slotID}/target", count.SetScanTarget)

	// Photo proofs
	mux.HandleFunc("POST "+sessions+"/{id}/photos", count.CapturePhoto)
	mux.HandleFunc("GET "+sessions+"/{id}/photos/{photoID}", count.GetPhoto)
	mux.HandleFunc("DELETE "+sessions+"/{id}/photos/{photoID}", count.RemovePhoto)

	// Submission
	mux.HandleFunc("POST "+sessions+"/{id}/submit", count.Submit)
	mux.HandleFunc("POST "+sessions+"/{id}/cancel", count.Cancel)

	// pprof endpoints (development only)
	if cfg.Server.EnablePprof && cfg.IsDevelopment() {
		mux.HandleFunc("GET /debug/pprof/", http.HandlerFunc(http.DefaultServeMux.ServeHTTP))
	}
}

// runSessionSweeper evicts idle sessions on a fixed interval.
func runSessionSweeper(ctx context.Context, registry *services.SessionRegistry, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := registry.Sweep(now); removed > 0 {
				logger.Info("idle sessions swept",
					slog.Int("removed", removed),
					slog.Int("remaining", registry.Count()))
			}
		}
	}
}

func runMigrations(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("running database migrations")

	migrationConfig := &db.MigrationConfig{
		DatabaseURL: cfg.GetDatabaseURL(),
		SourcePath:  cfg.Database.MigrationPath,
		TableName:   "schema_migrations",
		SchemaName:  "public",
	}

	return db.RunMigrationsWithRetry(ctx, migrationConfig, logger, 3)
}
