package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/location-analysis-service/internal/app"
	"github.com/kjstillabower/location-analysis-service/internal/auth"
	"github.com/kjstillabower/location-analysis-service/internal/cache"
	"github.com/kjstillabower/location-analysis-service/internal/config"
	"github.com/kjstillabower/location-analysis-service/internal/health"
	httphandler "github.com/kjstillabower/location-analysis-service/internal/http"
	"github.com/kjstillabower/location-analysis-service/internal/observability"
	"github.com/kjstillabower/location-analysis-service/internal/store"
	"github.com/kjstillabower/location-analysis-service/internal/validation"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if len(cfg.JWTSecret) < 32 {
		logger.Fatal("JWT_SECRET required (at least 32 bytes, env or config/secrets.yaml jwt_secret)")
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	db, err := store.Open(rootCtx, cfg.DatabasePath)
	if err != nil {
		logger.Fatal("database", zap.Error(err), zap.String("path", cfg.DatabasePath))
	}

	pipeline, err := app.NewPipeline(rootCtx, cfg, logger, db)
	if err != nil {
		logger.Fatal("pipeline", zap.Error(err))
	}
	pipeline.StartSweepers(rootCtx, cfg)
	if cfg.CircuitBreakerEnabled {
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenExpiry)
	if err != nil {
		logger.Fatal("token service", zap.Error(err))
	}
	authSvc := auth.NewService(store.NewUserStore(db), auth.NewBcryptHasher(cfg.BcryptCost), tokens)

	tracker := health.NewTracker()
	monitor := health.NewMonitor(health.Config{
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		IdleWindow:           cfg.IdleWindow,
		IdleThreshold:        cfg.IdleThresholdReqPerMin,
		MinimumLifespan:      cfg.MinimumLifespan,
		StartTime:            time.Now(),
	}, tracker, logger)
	monitor.AddProbe("weatherApi", pipeline.Weather.ValidateAPIKey)
	monitor.AddProbe("database", db.PingContext)
	if pipeline.CachePing != nil {
		monitor.AddProbe("cache", pipeline.CachePing)
	}

	recoverer := health.NewRecoverer(pipeline.Weather.ValidateAPIKey, health.RecovererConfig{
		Initial: cfg.DegradedRetryInitial,
		Max:     cfg.DegradedRetryMax,
		OnRecovered: func() {
			tracker.ResetErrors()
			logger.Info("upstream recovered, error window cleared")
		},
		OnExhausted: func() {
			logger.Error("upstream recovery exhausted, marking service for shutdown")
			monitor.SetShuttingDown(true)
		},
	}, logger)
	monitor.SetRecoverer(recoverer)
	recoverer.Start(rootCtx)

	observability.RegisterWindowGauges(
		func() int { return tracker.RequestCount(cfg.OverloadWindow) },
		func() int { return tracker.DenialCount(cfg.OverloadWindow) },
	)
	if len(cfg.TrackedLocations) > 0 {
		observability.SetTrackedLocations(cfg.TrackedLocations)
	}

	if len(cfg.WarmLocations) > 0 {
		warmer := cache.NewCacheWarmer(pipeline.Service, logger, cfg.WarmConcurrency)
		warmCtx, warmCancel := context.WithTimeout(rootCtx, 30*time.Second)
		if err := warmer.Warm(warmCtx, cfg.WarmLocations); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(rootCtx, cfg.WarmLocations, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	inFlight := &httphandler.InFlightTracker{}

	handler := httphandler.NewHandler(pipeline.Service, authSvc, monitor,
		validation.New(cfg.LocationMinLength, cfg.LocationMaxLength), logger, version)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Logger:         logger,
		Limiter:        limiter,
		Tracker:        tracker,
		InFlight:       inFlight,
		RequestTimeout: cfg.RequestTimeout,
		CORSOrigins:    cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	monitor.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight.Count()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := inFlight.WaitForZero(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}
	cancelRoot()

	closers := map[string]io.Closer{"database": db}
	if pipeline.CacheCloser != nil {
		closers["cache"] = pipeline.CacheCloser
	}
	if err := observability.FlushTelemetry(context.Background(), logger, closers); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
