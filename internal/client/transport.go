package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kjstillabower/location-analysis-service/internal/circuitbreaker"
	"github.com/kjstillabower/location-analysis-service/internal/observability"
)

// Request describes one upstream call. Provider labels metrics and selects the circuit breaker.
type Request struct {
	Provider string
	Method   string
	URL      string
	Query    url.Values
	Headers  map[string]string
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Sender performs upstream requests. Adapters depend on this rather than on Transport.
type Sender interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// TransportConfig configures retries and timeouts. Zero values use defaults
// (10s timeout, 3 attempts, 1s base delay, no delay cap).
type TransportConfig struct {
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	UserAgent      string
	// Breaker enables a circuit breaker per provider when non-nil.
	Breaker *circuitbreaker.Config
}

// Transport is the shared HTTP client for every upstream. It retries transport
// failures with exponential backoff and never retries a received response.
type Transport struct {
	http           *resty.Client
	timeout        time.Duration
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration

	breakerCfg *circuitbreaker.Config
	breakersMu sync.Mutex
	breakers   map[string]*circuitbreaker.CircuitBreaker
}

// errServerStatus marks a 5xx response inside the breaker so it counts as a failure.
var errServerStatus = errors.New("server status")

func NewTransport(cfg TransportConfig) *Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}

	rc := resty.New().
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		rc.SetHeader("User-Agent", cfg.UserAgent)
	}

	return &Transport{
		http:           rc,
		timeout:        cfg.Timeout,
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		retryMaxDelay:  cfg.RetryMaxDelay,
		breakerCfg:     cfg.Breaker,
		breakers:       make(map[string]*circuitbreaker.CircuitBreaker),
	}
}

// Send performs req, retrying transport failures. A received response is
// returned as-is whatever its status; the caller interprets it.
func (t *Transport) Send(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	var lastErr error
	for attempt := 0; attempt < t.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.WithLabelValues(req.Provider).Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(t.calculateBackoff(attempt)):
			}
		}

		resp, err := t.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) || ctx.Err() != nil {
			break
		}
	}

	observability.UpstreamErrorsTotal.WithLabelValues(req.Provider, string(CategorizeError(lastErr))).Inc()
	return nil, fmt.Errorf("%s: %w", req.Provider, lastErr)
}

func (t *Transport) attempt(ctx context.Context, req Request) (*Response, error) {
	cb := t.breakerFor(req.Provider)
	if cb == nil {
		return t.do(ctx, req)
	}

	var resp *Response
	err := cb.Call(ctx, func() error {
		r, err := t.do(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		if r.StatusCode >= 500 {
			return errServerStatus
		}
		return nil
	})
	switch {
	case errors.Is(err, errServerStatus):
		return resp, nil
	case errors.Is(err, circuitbreaker.ErrOpen):
		return nil, ErrCircuitOpen
	}
	return resp, err
}

func (t *Transport) do(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	r := t.http.R().SetContext(reqCtx)
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		r.SetHeader("X-Correlation-ID", corrID)
	}
	if len(req.Headers) > 0 {
		r.SetHeaders(req.Headers)
	}
	if len(req.Query) > 0 {
		r.SetQueryParamsFromValues(req.Query)
	}

	res, err := r.Execute(req.Method, req.URL)
	duration := time.Since(start).Seconds()
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(req.Provider, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(req.Provider, "error").Observe(duration)
		return nil, classifyTransportError(err)
	}

	status := statusLabel(res.StatusCode())
	observability.UpstreamCallsTotal.WithLabelValues(req.Provider, status).Inc()
	observability.UpstreamDuration.WithLabelValues(req.Provider, status).Observe(duration)

	return &Response{StatusCode: res.StatusCode(), Body: res.Body()}, nil
}

func (t *Transport) breakerFor(provider string) *circuitbreaker.CircuitBreaker {
	if t.breakerCfg == nil {
		return nil
	}
	t.breakersMu.Lock()
	defer t.breakersMu.Unlock()
	cb, ok := t.breakers[provider]
	if !ok {
		cfg := *t.breakerCfg
		userHook := cfg.OnStateChange
		cfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
			observability.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			if userHook != nil {
				userHook(name, from, to)
			}
		}
		cb = circuitbreaker.New(provider, cfg)
		t.breakers[provider] = cb
	}
	return cb
}

// BreakerStates reports the state of every breaker created so far.
func (t *Transport) BreakerStates() map[string]string {
	t.breakersMu.Lock()
	defer t.breakersMu.Unlock()
	states := make(map[string]string, len(t.breakers))
	for name, cb := range t.breakers {
		states[name] = cb.State().String()
	}
	return states
}

// calculateBackoff returns base*2^(attempt-1) plus up to 10% jitter, capped at retryMaxDelay when set.
func (t *Transport) calculateBackoff(attempt int) time.Duration {
	delay := float64(t.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if t.retryMaxDelay > 0 && delay > float64(t.retryMaxDelay) {
		delay = float64(t.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func classifyTransportError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %w", ErrUpstreamTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrUpstreamConnection, err)
	}
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
