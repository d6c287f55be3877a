package service

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// requestCoalescer collapses concurrent misses for the same key into one build.
// The shared build runs detached from any single caller's cancellation and is
// bounded by timeout; each caller still stops waiting when its own ctx ends.
type requestCoalescer struct {
	group   singleflight.Group
	timeout time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{timeout: timeout}
}

// Do returns fn's result for key. shared reports whether the result was also
// delivered to other callers.
func (rc *requestCoalescer) Do(ctx context.Context, key string, fn func(ctx context.Context) ([]byte, error)) (raw []byte, shared bool, err error) {
	ch := rc.group.DoChan(key, func() (any, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
		defer cancel()
		return fn(buildCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.([]byte), res.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
