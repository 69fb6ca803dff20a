package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-rivu-backend/activity"
	"ai-rivu-backend/auth"
	"ai-rivu-backend/cache"
	"ai-rivu-backend/config"
	"ai-rivu-backend/email"
	"ai-rivu-backend/handler"
	"ai-rivu-backend/llm"
	appLogger "ai-rivu-backend/logger"
	"ai-rivu-backend/metrics"
	"ai-rivu-backend/middleware"
	"ai-rivu-backend/model"
	"ai-rivu-backend/quota"
	"ai-rivu-backend/ratelimit"
	redisClient "ai-rivu-backend/redis"
	"ai-rivu-backend/stats"
	"ai-rivu-backend/storage"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// @title AI Rivu Backend API
// @version 1.0
// @description Exam-paper generation API with sliding-window rate limiting, paper quotas, activity logging and usage analytics.

// @BasePath /
// @schemes http https

// @tag.name Papers
// @tag.description Question paper generation and download

// @tag.name Admin
// @tag.description Usage analytics and activity log (requires admin key)

// @tag.name System
// @tag.description Health checks and system metrics

func main() {
	// Load configuration
	cfg := config.MustLoadConfig()

	// Initialize logger
	appLogger.Initialize(cfg.Logging)
	log.Info().Msg("Configuration loaded successfully")

	// Initialize Redis client (optional)
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		var err error
		rdb, err = redisClient.NewClient(cfg.Redis)
		if err != nil {
			if cfg.RateLimit.Store == "redis" {
				log.Fatal().Err(err).Msg("Redis is required by ratelimit.store=redis")
			}
			log.Warn().Err(err).Msg("Redis unavailable, continuing with file storage only")
			rdb = nil
		}
	}

	// Initialize cache (if enabled)
	var cacheClient *cache.Cache
	if cfg.Cache.Enabled {
		var err error
		cacheClient, err = cache.New(cfg.Cache)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize cache")
		}
	} else {
		log.Info().Msg("Cache disabled in configuration")
	}

	metricsRecorder := metrics.New()

	// Activity log feeds the statistics aggregator and metrics in append order
	activityLog := activity.NewLog(activity.WithMemoryLimit(cfg.Storage.ActivityMemoryLimit))
	aggregator := stats.NewAggregator()
	activityLog.Subscribe(aggregator.OnEvent)
	activityLog.Subscribe(metricsRecorder.OnEvent)

	notifier := email.NewNotifier(cfg.Email, cfg.Quota.ContactEmail)
	activityLog.Subscribe(notifier.OnEvent)

	// Admission controller
	var windowStore ratelimit.WindowStore = ratelimit.NewMemoryWindowStore()
	if cfg.RateLimit.Store == "redis" && rdb != nil {
		windowStore = ratelimit.NewRedisWindowStore(rdb)
	}

	var flusher *storage.Flusher
	controller, err := ratelimit.NewController(
		windowStore,
		ratelimit.LimitsFromConfig(cfg.RateLimit.Limits),
		ratelimit.WithAdmitHook(func(key model.AdmissionKey) { flusher.RecordAdmission(key) }),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize admission controller")
	}

	// Durability backend
	fileBackend, err := storage.NewFileBackend(cfg.Storage.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize file storage")
	}
	var backend storage.Backend = fileBackend
	var mirror *storage.MirrorBackend
	if cfg.Storage.MirrorToRedis && rdb != nil {
		redisBackend := storage.NewRedisBackend(rdb, time.Duration(cfg.Redis.OperationTimeout)*time.Second)
		mirror = storage.NewMirrorBackend(fileBackend, redisBackend, metricsRecorder)
		backend = mirror
	}

	flusher = storage.NewFlusher(backend, controller, activityLog, aggregator, metricsRecorder, storage.FlusherConfig{
		EveryAdmissions: cfg.Storage.FlushEveryAdmissions,
		Interval:        time.Duration(cfg.Storage.FlushIntervalSeconds) * time.Second,
	})

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	if err := flusher.Load(loadCtx); err != nil {
		log.Error().Err(err).Msg("Failed to restore persisted state, flushing disabled until restart")
	}
	cancelLoad()

	runCtx, stopRun := context.WithCancel(context.Background())
	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		flusher.Run(runCtx)
	}()

	ledger := quota.NewLedger(cfg.Quota, aggregator, activityLog)

	// Paper generator (optional)
	var generator llm.Generator
	if gemini, err := llm.NewGeminiGenerator(context.Background(), cfg.LLM); err != nil {
		log.Warn().Err(err).Msg("Paper generator disabled")
	} else {
		generator = gemini
		log.Info().Str("model", gemini.Model()).Msg("Paper generator initialized")
	}

	verifier := auth.NewVerifier(cfg.Auth.Users)
	log.Info().Int("users", verifier.Users()).Msg("Credential verifier initialized")

	// Create handler with dependency injection
	deps := handler.Dependencies{
		Config:     cfg,
		Activity:   activityLog,
		Statistics: aggregator,
		Verifier:   verifier,
		Generator:  generator,
		Cache:      cacheClient,
		Flusher:    flusher,
		Redis:      rdb,
		Metrics:    metricsRecorder,
	}
	if mirror != nil {
		deps.Mirror = mirror
	}
	h := handler.NewHandler(deps)

	burstGuard := middleware.NewBurstGuard(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, metricsRecorder)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				burstGuard.Cleanup(3 * time.Minute)
			}
		}
	}()

	router := handler.NewRouter(h, handler.RouterConfig{
		Governor:      middleware.NewGovernor(controller, ledger, activityLog, metricsRecorder),
		Burst:         burstGuard,
		Admin:         middleware.NewAdminAuth(cfg.Admin.APIKey, cfg.Admin.Enabled),
		Metrics:       metricsRecorder.Handler(),
		AllowedOrigin: cfg.WebServer.AllowedOrigin,
	})

	// Configure HTTP server
	serverAddress := fmt.Sprintf("%s:%s", cfg.WebServer.IP, cfg.WebServer.Port)
	server := &http.Server{
		Addr:         serverAddress,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.WebServer.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WebServer.WriteTimeout) * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("address", serverAddress).
			Str("backend", backend.Name()).
			Str("window_store", cfg.RateLimit.Store).
			Msg("Starting server")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.WebServer.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop background flushing, then persist whatever is left
	stopRun()
	<-flushDone
	if err := flusher.Flush(ctx, storage.TriggerShutdown); err != nil {
		log.Error().Err(err).Msg("Final flush failed")
	}
	if err := backend.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close storage backend")
	}

	notifier.Wait()

	// Close cache
	if cacheClient != nil {
		cacheClient.Close()
	}

	// Close Redis connection
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close Redis connection")
		}
	}

	log.Info().Msg("Server stopped gracefully")
}
