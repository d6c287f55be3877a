package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/kjstillabower/location-analysis-service/internal/app"
	"github.com/kjstillabower/location-analysis-service/internal/cli"
	"github.com/kjstillabower/location-analysis-service/internal/client"
	"github.com/kjstillabower/location-analysis-service/internal/config"
	"github.com/kjstillabower/location-analysis-service/internal/observability"
)

type upstreamChecker struct {
	weather   *client.OpenWeatherClient
	transport *client.Transport
}

func (c upstreamChecker) ValidateAPIKey(ctx context.Context) error {
	return c.weather.ValidateAPIKey(ctx)
}

func (c upstreamChecker) BreakerStates() map[string]string {
	return c.transport.BreakerStates()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

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

	// The CLI never shares a database, so sqlite falls back to the in-memory cache.
	if cfg.CacheBackend == "sqlite" {
		cfg.CacheBackend = "in_memory"
	}
	pipeline, err := app.NewPipeline(ctx, cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipeline: %v\n", err)
		os.Exit(1)
	}
	if pipeline.CacheCloser != nil {
		defer pipeline.CacheCloser.Close()
	}

	cmd, err := cli.New(pipeline.Service, upstreamChecker{weather: pipeline.Weather, transport: pipeline.Transport})
	if err != nil {
		fmt.Fprintf(os.Stderr, "new cli: %v\n", err)
		os.Exit(1)
	}
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
