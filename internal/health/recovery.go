package health

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ValidateFunc probes whether the degraded dependency is usable again. Nil means recovered.
type ValidateFunc func(ctx context.Context) error

// Recoverer re-validates a degraded dependency on a Fibonacci schedule
// (initial, 2x, 3x, 5x ... up to max). Notify is non-blocking and at most one
// recovery runs at a time.
type Recoverer struct {
	validate    ValidateFunc
	initial     time.Duration
	max         time.Duration
	attemptTime time.Duration
	onRecovered func()
	onExhausted func()
	logger      *zap.Logger

	notify  chan struct{}
	running atomic.Bool
}

type RecovererConfig struct {
	Initial time.Duration
	Max     time.Duration
	// AttemptTimeout bounds each validate call. Default 10s.
	AttemptTimeout time.Duration
	OnRecovered    func()
	OnExhausted    func()
}

func NewRecoverer(validate ValidateFunc, cfg RecovererConfig, logger *zap.Logger) *Recoverer {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if cfg.OnRecovered == nil {
		cfg.OnRecovered = func() {}
	}
	if cfg.OnExhausted == nil {
		cfg.OnExhausted = func() {}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recoverer{
		validate:    validate,
		initial:     cfg.Initial,
		max:         cfg.Max,
		attemptTime: cfg.AttemptTimeout,
		onRecovered: cfg.OnRecovered,
		onExhausted: cfg.OnExhausted,
		logger:      logger,
		notify:      make(chan struct{}, 1),
	}
}

// Start listens for Notify until ctx is done.
func (r *Recoverer) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.notify:
				if r.running.Swap(true) {
					continue
				}
				go func() {
					defer r.running.Store(false)
					r.Run(ctx)
				}()
			}
		}
	}()
}

// Notify requests a recovery run. Safe to call from handlers.
func (r *Recoverer) Notify() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Running reports whether a recovery run is in progress.
func (r *Recoverer) Running() bool {
	return r.running.Load()
}

// Run waits out each delay and validates. It returns after the first success,
// after the last failed attempt (calling onExhausted), or when ctx is done.
func (r *Recoverer) Run(ctx context.Context) {
	delays := fibDelays(r.initial, r.max)
	for i, d := range delays {
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTime)
		err := r.validate(attemptCtx)
		cancel()
		if err == nil {
			r.logger.Info("dependency recovered", zap.Int("attempt", i+1))
			r.onRecovered()
			return
		}
		r.logger.Warn("recovery attempt failed", zap.Int("attempt", i+1), zap.Error(err))
		if i == len(delays)-1 {
			r.logger.Error("recovery attempts exhausted", zap.Int("attempts", len(delays)))
			r.onExhausted()
			return
		}
	}
}

func fibDelays(initial, max time.Duration) []time.Duration {
	if initial <= 0 || max < initial {
		return nil
	}
	var out []time.Duration
	for a, b := time.Duration(1), time.Duration(2); a*initial <= max; a, b = b, a+b {
		out = append(out, a*initial)
	}
	return out
}
