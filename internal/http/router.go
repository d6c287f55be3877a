package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/location-analysis-service/internal/health"
	"github.com/kjstillabower/location-analysis-service/internal/observability"
)

// RouterConfig holds the cross-cutting settings applied by NewRouter.
type RouterConfig struct {
	Logger         *zap.Logger
	Limiter        *rate.Limiter // nil disables rate limiting
	Tracker        *health.Tracker
	InFlight       *InFlightTracker
	RequestTimeout time.Duration
	CORSOrigins    []string
}

// NewRouter wires routes and middleware:
//
//	all:           correlation ID, metrics, CORS, in-flight
//	/api:          rate limit
//	/api/location: timeout, bearer auth
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	r := mux.NewRouter()
	r.NotFoundHandler = CorrelationIDMiddleware(logger)(http.HandlerFunc(h.NotFound))
	r.MethodNotAllowedHandler = CorrelationIDMiddleware(logger)(http.HandlerFunc(h.MethodNotAllowed))

	r.Use(CorrelationIDMiddleware(logger))
	r.Use(MetricsMiddleware)
	r.Use(CORSMiddleware(cfg.CORSOrigins))
	if cfg.InFlight != nil {
		r.Use(cfg.InFlight.Middleware)
	}

	r.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	r.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter, cfg.Tracker))
	api.HandleFunc("/auth/register", h.Register).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost, http.MethodOptions)

	location := api.PathPrefix("/location").Subrouter()
	if cfg.RequestTimeout > 0 {
		location.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	location.Use(AuthMiddleware(h.auth))
	location.HandleFunc("/analyze", h.Analyze).Methods(http.MethodPost, http.MethodOptions)

	return r
}
