// Package app builds the analysis pipeline from configuration. Shared by the
// service and the locctl CLI so both run the same adapters and policies.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/location-analysis-service/internal/cache"
	"github.com/kjstillabower/location-analysis-service/internal/circuitbreaker"
	"github.com/kjstillabower/location-analysis-service/internal/client"
	"github.com/kjstillabower/location-analysis-service/internal/config"
	"github.com/kjstillabower/location-analysis-service/internal/service"
)

// Pipeline is the wired analysis stack.
type Pipeline struct {
	Transport *client.Transport
	Weather   *client.OpenWeatherClient
	Cache     cache.Cache
	Service   *service.AnalysisService

	// CachePing checks the cache backend; nil for backends without a remote dependency.
	CachePing func(ctx context.Context) error
	// CacheCloser releases the cache backend; nil when there is nothing to close.
	CacheCloser io.Closer
}

// NewTransport returns the shared upstream transport, with per-provider breakers when enabled.
func NewTransport(cfg *config.Config, logger *zap.Logger) *client.Transport {
	tc := client.TransportConfig{
		Timeout:        cfg.UpstreamTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		UserAgent:      cfg.UserAgent,
	}
	if cfg.CircuitBreakerEnabled {
		tc.Breaker = &circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				logger.Warn("circuit breaker state change",
					zap.String("provider", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}
	}
	return client.NewTransport(tc)
}

// NewCache selects the cache backend. db is required for the sqlite backend.
func NewCache(ctx context.Context, cfg *config.Config, db *sql.DB) (cache.Cache, func(context.Context) error, io.Closer, error) {
	switch cfg.CacheBackend {
	case "memcached":
		mc := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		return mc, mc.Ping, mc, nil
	case "sqlite":
		if db == nil {
			return nil, nil, nil, fmt.Errorf("sqlite cache backend requires a database")
		}
		sc, err := cache.NewSQLiteCache(ctx, db)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("sqlite cache: %w", err)
		}
		return sc, sc.Ping, nil, nil
	default:
		return cache.NewInMemoryCache(), nil, nil, nil
	}
}

// NewPipeline wires adapters, cache and the analysis service from cfg.
func NewPipeline(ctx context.Context, cfg *config.Config, logger *zap.Logger, db *sql.DB) (*Pipeline, error) {
	transport := NewTransport(cfg, logger)

	geo := client.NewGeocoder(transport, client.GeocodingConfig{
		ViaCEPURL:               cfg.ViaCEPURL,
		NominatimURL:            cfg.NominatimURL,
		UserAgent:               cfg.UserAgent,
		EmptyResult:             client.EmptyResultPolicy(cfg.GeocodingEmptyResult),
		EnrichPostalCoordinates: cfg.EnrichPostalCoordinates,
	})
	econ := client.NewBCBClient(transport, client.EconomicConfig{
		BaseURL: cfg.BCBURL,
		Policy:  client.FailurePolicy(cfg.EconomicFailurePolicy),
	})
	weather, err := client.NewOpenWeatherClient(transport, cfg.WeatherAPIKey, cfg.OpenWeatherURL)
	if err != nil {
		return nil, fmt.Errorf("weather client: %w", err)
	}

	c, ping, closer, err := NewCache(ctx, cfg, db)
	if err != nil {
		return nil, err
	}
	logger.Info("cache backend selected", zap.String("backend", cfg.CacheBackend))

	svc := service.NewAnalysisService(geo, econ, weather, c, service.Options{
		TTL:                cfg.CacheTTL,
		CoalesceEnabled:    cfg.CoalesceEnabled,
		CoalesceTimeout:    cfg.CoalesceTimeout,
		MissingCoordinates: service.MissingCoordinatesPolicy(cfg.ClimateMissingCoordinates),
	})

	return &Pipeline{
		Transport:   transport,
		Weather:     weather,
		Cache:       c,
		Service:     svc,
		CachePing:   ping,
		CacheCloser: closer,
	}, nil
}

// StartSweepers runs the expiry sweeper of cache backends that need one until ctx is done.
func (p *Pipeline) StartSweepers(ctx context.Context, cfg *config.Config) {
	type sweeper interface {
		StartSweeper(ctx context.Context, interval time.Duration)
	}
	if s, ok := p.Cache.(sweeper); ok {
		s.StartSweeper(ctx, cfg.CacheSweepInterval)
	}
}
