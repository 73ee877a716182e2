package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mediaqueue/internal/adapter/repo"
	"mediaqueue/internal/cache"
	"mediaqueue/internal/domain"
	"mediaqueue/internal/http/handlers"
	httpapi "mediaqueue/internal/http/httpapi"
	"mediaqueue/internal/infra"
	"mediaqueue/internal/providers/remote"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/session"
	"mediaqueue/internal/storage"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := infra.InitTelemetry(ctx, cfg.OTelEnabled, os.Stdout, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init telemetry")
	}

	kv, err := cache.OpenSQLite(cfg.CachePath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.CachePath).Msg("failed to open cache")
	}
	results := cache.NewResultCache(kv, &logger)

	var analytics domain.GenerationRepository = repo.NopGenerationRepository{}
	if cfg.DatabaseURL != "" {
		dbpool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer dbpool.Close()
		analytics = repo.NewGenerationRepository(infra.NewSQLRunner(dbpool, logger))
	} else {
		logger.Info().Msg("DATABASE_URL not set, generation analytics disabled")
	}

	var uploader storage.Uploader
	staticDir := ""
	switch cfg.StorageDriver {
	case "supabase":
		uploader, err = storage.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseBucket)
	default:
		var files *storage.FileStore
		files, err = storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
		uploader = files
		staticDir = files.BasePath()
	}
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("failed to init storage")
	}

	sess := session.NewStore(cfg.AccessToken, false)
	client, err := remote.NewClient(remote.Options{
		BaseURL:         cfg.APIBaseURL,
		SecondaryVendor: cfg.SecondaryVendor,
		ImageVendor:     cfg.ImageVendor,
		HTTPClient:      infra.NewHTTPClient(cfg.RemoteTimeout),
		Tokens:          sess,
		Logger:          &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build api client")
	}

	metrics, err := queue.NewMetrics()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to register queue metrics")
	}
	engine := queue.NewEngine(queue.Options{
		MaxParallel:     cfg.MaxParallel,
		DuplicateWindow: cfg.DuplicateWindow,
		PersistDebounce: cfg.PersistDebounce,
		Cache:           results,
		Logger:          &logger,
		Metrics:         metrics,
	})
	if err := engine.Hydrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to hydrate queue")
	}

	gate := queue.NewGate(engine, client, analytics, &logger)
	poller := queue.NewPoller(engine, client, queue.PollerOptions{
		MaxDuration: cfg.PollMaxDuration,
		Analytics:   analytics,
		Logger:      &logger,
	})
	scheduler := queue.NewScheduler(engine, gate, poller, cfg.GateInterval, cfg.PollInterval, &logger)

	schedulerDone := make(chan error, 1)
	go func() {
		schedulerDone <- scheduler.Run(ctx)
	}()

	app := handlers.NewApp(engine, uploader, sess, logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		CORSOrigins:     cfg.CORSAllowedOrigin,
		RateLimitPerMin: cfg.RateLimitPerMin,
		StaticDir:       staticDir,
	})
	server := infra.NewHTTPServer(ctx, cfg, router)

	go func() {
		logger.Info().Str("port", cfg.Port).Int("max_parallel", cfg.MaxParallel).Msg("API listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := <-schedulerDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("scheduler stopped with error")
	}
	if err := engine.Flush(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to flush queue state")
	}
	if err := kv.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close cache")
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown telemetry")
	}
	logger.Info().Msg("server stopped")
}
