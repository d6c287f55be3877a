package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusOverloaded   = "overloaded"
	StatusIdle         = "idle"
	StatusShuttingDown = "shutting-down"

	checkHealthy   = "healthy"
	checkUnhealthy = "unhealthy"
)

// Probe reports whether a dependency is reachable. Nil means healthy.
type Probe func(ctx context.Context) error

// Config holds health thresholds. A zero window or percentage disables that rule.
type Config struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int

	IdleWindow      time.Duration
	IdleThreshold   int
	MinimumLifespan time.Duration
	StartTime       time.Time
	ProbeTimeout    time.Duration
}

// Report is the outcome of one evaluation.
type Report struct {
	Status     string
	StatusCode int
	Reason     string
	Checks     map[string]string
}

// Monitor computes service health from dependency probes and the outcome tracker.
type Monitor struct {
	cfg       Config
	tracker   *Tracker
	recoverer *Recoverer
	logger    *zap.Logger

	mu     sync.Mutex
	probes map[string]Probe
	prev   string

	shuttingDown atomic.Bool
	now          func() time.Time
}

func NewMonitor(cfg Config, tracker *Tracker, logger *zap.Logger) *Monitor {
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if tracker == nil {
		tracker = NewTracker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:     cfg,
		tracker: tracker,
		logger:  logger,
		probes:  make(map[string]Probe),
		now:     time.Now,
	}
}

// AddProbe registers a named dependency check (e.g. weatherApi, cache, database).
func (m *Monitor) AddProbe(name string, p Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[name] = p
}

// SetRecoverer attaches a recoverer that is notified whenever the service evaluates as degraded.
func (m *Monitor) SetRecoverer(r *Recoverer) {
	m.recoverer = r
}

func (m *Monitor) Tracker() *Tracker {
	return m.tracker
}

// SetShuttingDown sets the drain flag. Evaluate reports shutting-down while true.
func (m *Monitor) SetShuttingDown(v bool) {
	m.shuttingDown.Store(v)
}

func (m *Monitor) IsShuttingDown() bool {
	return m.shuttingDown.Load()
}

// Evaluate runs every probe and applies the rules in priority order:
// shutting-down > failed probe > overloaded > degraded error rate > idle > healthy.
func (m *Monitor) Evaluate(ctx context.Context) Report {
	checks := m.runProbes(ctx)
	report := m.decide(checks)
	report.Checks = checks

	m.mu.Lock()
	if m.prev != "" && m.prev != report.Status {
		m.logger.Info("health status transition",
			zap.String("previous_status", m.prev),
			zap.String("current_status", report.Status),
			zap.String("reason", report.Reason))
	}
	m.prev = report.Status
	m.mu.Unlock()

	if report.Status == StatusDegraded && m.recoverer != nil {
		m.recoverer.Notify()
	}
	return report
}

func (m *Monitor) runProbes(ctx context.Context) map[string]string {
	m.mu.Lock()
	probes := make(map[string]Probe, len(m.probes))
	for k, v := range m.probes {
		probes[k] = v
	}
	m.mu.Unlock()

	type result struct {
		name string
		err  error
	}
	results := make(chan result, len(probes))
	for name, p := range probes {
		go func(name string, p Probe) {
			pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
			defer cancel()
			results <- result{name: name, err: p(pctx)}
		}(name, p)
	}

	checks := make(map[string]string, len(probes))
	for range probes {
		r := <-results
		if r.err != nil {
			m.logger.Debug("health probe failed", zap.String("check", r.name), zap.Error(r.err))
			checks[r.name] = checkUnhealthy
			continue
		}
		checks[r.name] = checkHealthy
	}
	return checks
}

func (m *Monitor) decide(checks map[string]string) Report {
	if m.IsShuttingDown() {
		return Report{Status: StatusShuttingDown, StatusCode: http.StatusServiceUnavailable, Reason: "signal"}
	}
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if checks[name] == checkUnhealthy {
			return Report{Status: StatusDegraded, StatusCode: http.StatusServiceUnavailable, Reason: name + "_unhealthy"}
		}
	}

	cfg := m.cfg
	if cfg.OverloadWindow > 0 && cfg.OverloadThresholdPct > 0 && cfg.RateLimitRPS > 0 {
		threshold := float64(cfg.RateLimitRPS) * cfg.OverloadWindow.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(m.tracker.RequestCount(cfg.OverloadWindow)) > threshold {
			return Report{Status: StatusOverloaded, StatusCode: http.StatusServiceUnavailable, Reason: "overload_threshold"}
		}
	}
	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		errs, total := m.tracker.ErrorRate(cfg.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			return Report{Status: StatusDegraded, StatusCode: http.StatusServiceUnavailable, Reason: "error_rate_breach"}
		}
	}
	if cfg.IdleWindow > 0 && cfg.MinimumLifespan > 0 && m.now().Sub(cfg.StartTime) >= cfg.MinimumLifespan {
		if m.tracker.RequestCount(cfg.IdleWindow) < cfg.IdleThreshold {
			return Report{Status: StatusIdle, StatusCode: http.StatusOK, Reason: "low_traffic"}
		}
	}
	return Report{Status: StatusHealthy, StatusCode: http.StatusOK}
}
