package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/location-analysis-service/internal/cache"
	"github.com/kjstillabower/location-analysis-service/internal/client"
	"github.com/kjstillabower/location-analysis-service/internal/models"
	"github.com/kjstillabower/location-analysis-service/internal/observability"
)

const cacheType = "analysis"

// MissingCoordinatesPolicy decides the climate field when geography has no coordinates.
type MissingCoordinatesPolicy string

const (
	MissingCoordinatesPlaceholder MissingCoordinatesPolicy = "placeholder"
	MissingCoordinatesOmit        MissingCoordinatesPolicy = "omit"
)

// Options configures AnalysisService. Zero values: 1h TTL, no coalescing, placeholder climate.
type Options struct {
	TTL                time.Duration
	CoalesceEnabled    bool
	CoalesceTimeout    time.Duration
	MissingCoordinates MissingCoordinatesPolicy
}

// AnalysisService builds LocationAnalysis composites. Geography is resolved first and is
// mandatory; economics and climate then run concurrently. Results are cached as JSON.
type AnalysisService struct {
	geo             client.GeoResolver
	econ            client.EconomicSource
	climate         client.ClimateSource
	cache           cache.Cache
	ttl             time.Duration
	missingCoords   MissingCoordinatesPolicy
	stampedeTracker *stampedeTracker
	coalescer       *requestCoalescer
	now             func() time.Time
}

func NewAnalysisService(geo client.GeoResolver, econ client.EconomicSource, climate client.ClimateSource, c cache.Cache, opts Options) *AnalysisService {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.MissingCoordinates == "" {
		opts.MissingCoordinates = MissingCoordinatesPlaceholder
	}
	var coalescer *requestCoalescer
	if opts.CoalesceEnabled && opts.CoalesceTimeout > 0 {
		coalescer = newRequestCoalescer(opts.CoalesceTimeout)
	}
	return &AnalysisService{
		geo:             geo,
		econ:            econ,
		climate:         climate,
		cache:           c,
		ttl:             opts.TTL,
		missingCoords:   opts.MissingCoordinates,
		stampedeTracker: newStampedeTracker(),
		coalescer:       coalescer,
		now:             time.Now,
	}
}

// CacheKey returns the cache key for a location query.
func CacheKey(location string) string {
	return "location:" + normalizeLocation(location)
}

// normalizeLocation trims whitespace and lowercases so equivalent queries share a cache entry.
func normalizeLocation(location string) string {
	return strings.ToLower(strings.TrimSpace(location))
}

// Analyze returns the composite for location, from cache when a live entry exists.
// Errors are ErrInvalidInput or *UpstreamError.
func (s *AnalysisService) Analyze(ctx context.Context, location string) (models.LocationAnalysis, error) {
	start := time.Now()
	logger := observability.LoggerFromContext(ctx)

	if strings.TrimSpace(location) == "" {
		observability.RecordAnalysis(location, "invalid_input")
		return models.LocationAnalysis{}, fmt.Errorf("%w: location must not be blank", ErrInvalidInput)
	}

	key := CacheKey(location)
	if cached, ok := s.lookup(ctx, key); ok {
		observability.RecordAnalysis(location, "cache_hit")
		logger.Debug("analysis served", zap.String("key", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		return cached, nil
	}
	observability.CacheMissesTotal.WithLabelValues(cacheType).Inc()

	concurrent, done := s.stampedeTracker.begin(key)
	defer done()
	if concurrent > 1 {
		locLabel := observability.MetricLocationLabel(location)
		observability.CacheStampedeDetectedTotal.WithLabelValues(locLabel).Inc()
		observability.CacheStampedeConcurrency.WithLabelValues(locLabel).Observe(float64(concurrent))
	}
	logger.Debug("cache miss, resolving upstreams", zap.String("key", key))

	var raw []byte
	var err error
	if s.coalescer != nil {
		var shared bool
		raw, shared, err = s.coalescer.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
			return s.build(ctx, location, key)
		})
		if shared && err == nil {
			observability.RequestCoalescingHitsTotal.WithLabelValues(observability.MetricLocationLabel(location)).Inc()
		}
	} else {
		raw, err = s.build(ctx, location, key)
	}
	if err != nil {
		observability.RecordAnalysis(location, "upstream_error")
		logger.Warn("analysis failed", zap.String("key", key), zap.Error(err))
		return models.LocationAnalysis{}, err
	}

	var analysis models.LocationAnalysis
	if err := json.Unmarshal(raw, &analysis); err != nil {
		return models.LocationAnalysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	observability.RecordAnalysis(location, "success")
	logger.Debug("analysis served", zap.String("key", key), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	return analysis, nil
}

// lookup reads and decodes a cached analysis. Read errors and undecodable entries count as misses.
func (s *AnalysisService) lookup(ctx context.Context, key string) (models.LocationAnalysis, bool) {
	logger := observability.LoggerFromContext(ctx)

	getStart := time.Now()
	raw, ok, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return models.LocationAnalysis{}, false
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
	if !ok {
		return models.LocationAnalysis{}, false
	}

	var analysis models.LocationAnalysis
	if err := json.Unmarshal(raw, &analysis); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("decode", "corrupt").Inc()
		logger.Warn("dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		_ = s.cache.Delete(ctx, key)
		return models.LocationAnalysis{}, false
	}
	observability.CacheHitsTotal.WithLabelValues(cacheType).Inc()
	return analysis, true
}

// build resolves every upstream, merges the composite and writes it to the cache.
func (s *AnalysisService) build(ctx context.Context, location, key string) ([]byte, error) {
	geo, err := s.geo.Resolve(ctx, location)
	if err != nil {
		return nil, &UpstreamError{Provider: "geocoding", Err: err}
	}

	var econ models.EconomicRecord
	var climate *models.ClimateRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rec, err := s.econ.Indicators(gctx)
		if err != nil {
			return &UpstreamError{Provider: "economic", Err: err}
		}
		econ = rec
		return nil
	})
	g.Go(func() error {
		climate = s.resolveClimate(gctx, geo.Coordinates)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	analysis := models.LocationAnalysis{
		Location:   location,
		Geographic: &geo,
		Economic:   &econ,
		Climate:    climate,
		AnalyzedAt: s.now().UTC(),
	}
	raw, err := json.Marshal(analysis)
	if err != nil {
		return nil, fmt.Errorf("encode analysis: %w", err)
	}

	s.store(ctx, key, raw)
	return raw, nil
}

// resolveClimate never fails: a weather failure yields the placeholder record.
func (s *AnalysisService) resolveClimate(ctx context.Context, coords models.Coordinates) *models.ClimateRecord {
	logger := observability.LoggerFromContext(ctx)

	if !coords.Valid() {
		if s.missingCoords == MissingCoordinatesOmit {
			return nil
		}
		observability.DegradationsTotal.WithLabelValues("climate_no_coordinates").Inc()
		placeholder := client.PlaceholderClimate(s.now())
		return &placeholder
	}

	var (
		wg         sync.WaitGroup
		current    models.ClimateRecord
		currentErr error
		airQuality models.AirQualityRecord
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		current, currentErr = s.climate.Current(ctx, coords)
	}()
	go func() {
		defer wg.Done()
		airQuality = s.climate.AirQuality(ctx, coords)
	}()
	wg.Wait()

	if currentErr != nil {
		observability.DegradationsTotal.WithLabelValues("weather").Inc()
		logger.Warn("weather unavailable, using placeholder",
			zap.String("category", string(client.CategorizeError(currentErr))),
			zap.Error(currentErr))
		placeholder := client.PlaceholderClimate(s.now())
		return &placeholder
	}

	current.AirQuality = airQuality
	return &current
}

// store writes raw to the cache. Failures are logged and counted, never returned.
func (s *AnalysisService) store(ctx context.Context, key string, raw []byte) {
	setStart := time.Now()
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		observability.LoggerFromContext(ctx).Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
