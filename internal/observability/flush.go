package observability

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// FlushTelemetry closes the given resources (cache, database) and then
// flushes logs. Call during graceful shutdown after in-flight requests have drained.
// Metrics are pull-based and need no flush.
func FlushTelemetry(ctx context.Context, logger *zap.Logger, closers map[string]io.Closer) error {
	var errs []error
	for name, c := range closers {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, ctx.Err()))
			continue
		}
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	if logger != nil {
		if err := logger.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("flush logs: %w", err))
		}
	}
	return errors.Join(errs...)
}
