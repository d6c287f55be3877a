package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/location-analysis-service/internal/models"
	"github.com/kjstillabower/location-analysis-service/internal/observability"
)

// Analyzer is implemented by the service layer. Analyze fills the cache on a miss,
// so warming is a plain call per location.
type Analyzer interface {
	Analyze(ctx context.Context, location string) (models.LocationAnalysis, error)
}

// CacheWarmer prefetches analyses for a fixed list of locations.
type CacheWarmer struct {
	analyzer    Analyzer
	logger      *zap.Logger
	concurrency int
}

// NewCacheWarmer creates a CacheWarmer. At most concurrency analyses run at once (0 = 4).
func NewCacheWarmer(analyzer Analyzer, logger *zap.Logger, concurrency int) *CacheWarmer {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{analyzer: analyzer, logger: logger, concurrency: concurrency}
}

// Warm analyzes each location and returns the joined errors of the failures.
func (w *CacheWarmer) Warm(ctx context.Context, locations []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("locations", len(locations)))

	var mu sync.Mutex
	var errs []error
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, loc := range locations {
		loc := loc
		g.Go(func() error {
			if _, err := w.analyzer.Analyze(gctx, loc); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", loc, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("locations", len(locations)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return errors.Join(errs...)
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then again every interval until ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, locations []string, interval time.Duration) error {
	if err := w.Warm(ctx, locations); err != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, locations); err != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
