package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/location-analysis-service/internal/auth"
	"github.com/kjstillabower/location-analysis-service/internal/health"
	"github.com/kjstillabower/location-analysis-service/internal/models"
	"github.com/kjstillabower/location-analysis-service/internal/validation"
)

const (
	serviceName = "location-analysis-service"
	maxBodySize = 1 << 20
)

// Analyzer produces location analyses.
type Analyzer interface {
	Analyze(ctx context.Context, location string) (models.LocationAnalysis, error)
}

// Authenticator registers users, logs them in and resolves bearer tokens.
type Authenticator interface {
	Register(ctx context.Context, email, name, password string) (models.User, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
	Authenticate(ctx context.Context, token string) (models.User, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	analyzer  Analyzer
	auth      Authenticator
	monitor   *health.Monitor
	validator *validation.Validator
	logger    *zap.Logger
	version   string
}

// NewHandler returns a new Handler. monitor may be nil, in which case /health always reports healthy.
func NewHandler(analyzer Analyzer, authn Authenticator, monitor *health.Monitor, validator *validation.Validator, logger *zap.Logger, version string) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if version == "" {
		version = "dev"
	}
	return &Handler{
		analyzer:  analyzer,
		auth:      authn,
		monitor:   monitor,
		validator: validator,
		logger:    logger,
		version:   version,
	}
}

type loginResponse struct {
	Token     string      `json:"token"`
	User      models.User `json:"user"`
	ExpiresIn int64       `json:"expires_in"`
}

// Register handles POST /api/auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req validation.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.auth.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "User registered successfully", map[string]any{"user": user})
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req validation.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	session, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Login successful", loginResponse{
		Token:     session.Token,
		User:      session.User,
		ExpiresIn: int64(session.ExpiresIn / time.Second),
	})
}

// Analyze handles POST /api/location/analyze.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req validation.AnalyzeRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.analyzer.Analyze(r.Context(), strings.TrimSpace(req.Location))
	if err != nil {
		if h.monitor != nil && countsAsFailure(r, err) {
			h.monitor.Tracker().RecordError()
		}
		writeServiceError(w, r, err)
		return
	}
	if h.monitor != nil {
		h.monitor.Tracker().RecordSuccess()
	}
	writeSuccess(w, http.StatusOK, "Location analysis completed", result)
}

// countsAsFailure reports whether err reflects service health rather than a bad request.
func countsAsFailure(r *http.Request, err error) bool {
	return classifyError(r, err).status >= http.StatusInternalServerError
}

// decode reads a JSON body into dst and validates it. On failure it writes the response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(dst); err != nil {
		msg := "Request body must be valid JSON"
		if errors.Is(err, io.EOF) {
			msg = "Request body is required"
		}
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", msg)
		return false
	}
	if h.validator != nil {
		if err := h.validator.Struct(dst); err != nil {
			writeServiceError(w, r, err)
			return false
		}
	}
	return true
}

type healthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Reason    string            `json:"reason,omitempty"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	report := health.Report{Status: health.StatusHealthy, StatusCode: http.StatusOK, Checks: map[string]string{}}
	if h.monitor != nil {
		report = h.monitor.Evaluate(r.Context())
	}
	writeJSON(w, report.StatusCode, healthResponse{
		Status:    report.Status,
		Service:   serviceName,
		Version:   h.version,
		Reason:    report.Reason,
		Checks:    report.Checks,
		Timestamp: timestamp(),
	})
}

// NotFound answers unknown routes with the error envelope.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Route not found")
}

// MethodNotAllowed answers known routes hit with the wrong method.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
}
