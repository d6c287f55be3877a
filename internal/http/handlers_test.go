package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/location-analysis-service/internal/auth"
	"github.com/kjstillabower/location-analysis-service/internal/client"
	"github.com/kjstillabower/location-analysis-service/internal/health"
	"github.com/kjstillabower/location-analysis-service/internal/models"
	"github.com/kjstillabower/location-analysis-service/internal/service"
	"github.com/kjstillabower/location-analysis-service/internal/validation"
)

const testToken = "valid-token"

type fakeAnalyzer struct {
	mu     sync.Mutex
	result models.LocationAnalysis
	err    error
	block  bool // wait for ctx.Done()
	calls  []string
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, location string) (models.LocationAnalysis, error) {
	f.mu.Lock()
	f.calls = append(f.calls, location)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return models.LocationAnalysis{}, &service.UpstreamError{Provider: "geocoding", Err: ctx.Err()}
	}
	if f.err != nil {
		return models.LocationAnalysis{}, f.err
	}
	res := f.result
	res.Location = location
	return res, nil
}

type fakeAuth struct {
	users map[string]models.User // by email
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{users: map[string]models.User{
		"ana@example.com": {ID: "u-1", Email: "ana@example.com", Name: "Ana"},
	}}
}

func (f *fakeAuth) Register(ctx context.Context, email, name, password string) (models.User, error) {
	if _, ok := f.users[email]; ok {
		return models.User{}, auth.ErrEmailTaken
	}
	u := models.User{ID: "u-" + email, Email: email, Name: name, PasswordHash: "hash"}
	f.users[email] = u
	return u, nil
}

func (f *fakeAuth) Login(ctx context.Context, email, password string) (auth.Session, error) {
	u, ok := f.users[email]
	if !ok || password != "correct-password" {
		return auth.Session{}, auth.ErrInvalidCredentials
	}
	return auth.Session{Token: testToken, User: u, ExpiresIn: time.Hour}, nil
}

func (f *fakeAuth) Authenticate(ctx context.Context, token string) (models.User, error) {
	switch token {
	case testToken:
		return f.users["ana@example.com"], nil
	case "expired-token":
		return models.User{}, auth.ErrExpiredToken
	default:
		return models.User{}, auth.ErrInvalidToken
	}
}

type testServer struct {
	router   http.Handler
	analyzer *fakeAnalyzer
	monitor  *health.Monitor
}

func newTestServer(t *testing.T, cfg RouterConfig) *testServer {
	t.Helper()
	analyzer := &fakeAnalyzer{result: models.LocationAnalysis{
		Geographic: &models.GeographicRecord{City: "São Paulo", State: "SP", Source: "nominatim"},
	}}
	monitor := health.NewMonitor(health.Config{}, health.NewTracker(), zap.NewNop())
	h := NewHandler(analyzer, newFakeAuth(), monitor, validation.New(2, 200), zap.NewNop(), "test")
	if cfg.Tracker == nil {
		cfg.Tracker = monitor.Tracker()
	}
	return &testServer{router: NewRouter(h, cfg), analyzer: analyzer, monitor: monitor}
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type decodedEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	} `json:"error"`
	Timestamp string `json:"timestamp"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) decodedEnvelope {
	t.Helper()
	var env decodedEnvelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if env.Timestamp == "" {
		t.Error("response missing timestamp")
	}
	return env
}

func assertError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Errorf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	env := decodeEnvelope(t, w)
	if env.Success {
		t.Error("success = true on error response")
	}
	if env.Error == nil {
		t.Fatal("error response missing 'error' field")
	}
	if env.Error.Code != code {
		t.Errorf("error.code = %q, want %q", env.Error.Code, code)
	}
	if env.Error.RequestID == "" {
		t.Error("error.requestId empty, want correlation ID")
	}
}

func TestHandler_Register(t *testing.T) {
	s := newTestServer(t, RouterConfig{})

	w := s.do(t, http.MethodPost, "/api/auth/register",
		map[string]string{"email": "bia@example.com", "name": "Bia", "password": "long-enough"}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}
	env := decodeEnvelope(t, w)
	if !env.Success {
		t.Error("success = false, want true")
	}
	var data struct {
		User map[string]any `json:"user"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.User["email"] != "bia@example.com" {
		t.Errorf("user.email = %v, want bia@example.com", data.User["email"])
	}
	if _, leaked := data.User["PasswordHash"]; leaked {
		t.Error("password hash must not be serialized")
	}
}

func TestHandler_RegisterErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"duplicate email", map[string]string{"email": "ana@example.com", "name": "Ana", "password": "long-enough"}, http.StatusConflict, "EMAIL_TAKEN"},
		{"bad email", map[string]string{"email": "nope", "name": "Ana", "password": "long-enough"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"short password", map[string]string{"email": "x@example.com", "name": "X", "password": "short"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"empty body", nil, http.StatusBadRequest, "INVALID_JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, RouterConfig{})
			w := s.do(t, http.MethodPost, "/api/auth/register", tt.body, "")
			assertError(t, w, tt.status, tt.code)
		})
	}
}

func TestHandler_Login(t *testing.T) {
	s := newTestServer(t, RouterConfig{})

	w := s.do(t, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "ana@example.com", "password": "correct-password"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	env := decodeEnvelope(t, w)
	var data loginResponse
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.Token != testToken {
		t.Errorf("token = %q, want %q", data.Token, testToken)
	}
	if data.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d, want 3600", data.ExpiresIn)
	}

	w = s.do(t, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "ana@example.com", "password": "wrong-password"}, "")
	assertError(t, w, http.StatusUnauthorized, "INVALID_CREDENTIALS")
}

func TestHandler_AnalyzeRequiresToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing", "", "UNAUTHORIZED"},
		{"wrong scheme", "Basic abc", "UNAUTHORIZED"},
		{"invalid", "Bearer garbage", "INVALID_TOKEN"},
		{"expired", "Bearer expired-token", "TOKEN_EXPIRED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, RouterConfig{})
			req := httptest.NewRequest(http.MethodPost, "/api/location/analyze", bytes.NewBufferString(`{"location":"São Paulo"}`))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)

			assertError(t, w, http.StatusUnauthorized, tt.code)
			if len(s.analyzer.calls) != 0 {
				t.Errorf("analyzer called %d times without a valid token", len(s.analyzer.calls))
			}
		})
	}
}

func TestHandler_AnalyzeSuccess(t *testing.T) {
	s := newTestServer(t, RouterConfig{})

	w := s.do(t, http.MethodPost, "/api/location/analyze", map[string]string{"location": "  São Paulo  "}, testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	env := decodeEnvelope(t, w)
	var data models.LocationAnalysis
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.Location != "São Paulo" {
		t.Errorf("location = %q, want trimmed input", data.Location)
	}
	if data.Geographic == nil || data.Geographic.City != "São Paulo" {
		t.Errorf("geographic = %+v, want São Paulo", data.Geographic)
	}
	if errs, total := s.monitor.Tracker().ErrorRate(time.Minute); errs != 0 || total != 1 {
		t.Errorf("tracker = %d errors / %d total, want 0/1", errs, total)
	}
}

func TestHandler_AnalyzeValidation(t *testing.T) {
	tests := []struct {
		name     string
		location string
	}{
		{"blank", "   "},
		{"too short", "a"},
		{"control character", "Reci\x00fe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, RouterConfig{})
			w := s.do(t, http.MethodPost, "/api/location/analyze", map[string]string{"location": tt.location}, testToken)
			assertError(t, w, http.StatusBadRequest, "VALIDATION_ERROR")
			if len(s.analyzer.calls) != 0 {
				t.Error("analyzer called for invalid input")
			}
		})
	}
}

func TestHandler_AnalyzeErrorMapping(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		status        int
		code          string
		countsAsError bool
	}{
		{"invalid input", fmt.Errorf("%w: blank", service.ErrInvalidInput), http.StatusBadRequest, "INVALID_INPUT", false},
		{"not found", &service.UpstreamError{Provider: "geocoding", Err: client.ErrLocationNotFound}, http.StatusNotFound, "LOCATION_NOT_FOUND", false},
		{"upstream", &service.UpstreamError{Provider: "geocoding", Err: client.ErrUpstreamServerError}, http.StatusBadGateway, "EXTERNAL_SERVICE_ERROR", true},
		{"deadline", fmt.Errorf("geocode: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "TIMEOUT", true},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, RouterConfig{})
			s.analyzer.err = tt.err
			w := s.do(t, http.MethodPost, "/api/location/analyze", map[string]string{"location": "Recife"}, testToken)
			assertError(t, w, tt.status, tt.code)

			errs, _ := s.monitor.Tracker().ErrorRate(time.Minute)
			if (errs == 1) != tt.countsAsError {
				t.Errorf("tracker errors = %d, countsAsError = %v", errs, tt.countsAsError)
			}
		})
	}
}

func TestHandler_AnalyzeTimeout(t *testing.T) {
	s := newTestServer(t, RouterConfig{RequestTimeout: 20 * time.Millisecond})
	s.analyzer.block = true

	w := s.do(t, http.MethodPost, "/api/location/analyze", map[string]string{"location": "Recife"}, testToken)
	assertError(t, w, http.StatusGatewayTimeout, "TIMEOUT")
}

func TestHandler_Health(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	s.monitor.AddProbe("weatherApi", func(ctx context.Context) error { return nil })
	s.monitor.AddProbe("database", func(ctx context.Context) error { return nil })

	w := s.do(t, http.MethodGet, "/health", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != health.StatusHealthy {
		t.Errorf("status = %q, want healthy", resp.Status)
	}
	if resp.Service != "location-analysis-service" || resp.Version != "test" {
		t.Errorf("service/version = %q/%q", resp.Service, resp.Version)
	}
	if resp.Checks["weatherApi"] != "healthy" || resp.Checks["database"] != "healthy" {
		t.Errorf("checks = %v, want all healthy", resp.Checks)
	}
}

func TestHandler_HealthDegradedAndShuttingDown(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	s.monitor.AddProbe("weatherApi", func(ctx context.Context) error { return client.ErrInvalidAPIKey })

	w := s.do(t, http.MethodGet, "/health", nil, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	var resp healthResponse
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != health.StatusDegraded || resp.Checks["weatherApi"] != "unhealthy" {
		t.Errorf("resp = %+v, want degraded with weatherApi unhealthy", resp)
	}

	s.monitor.SetShuttingDown(true)
	w = s.do(t, http.MethodGet, "/health", nil, "")
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != health.StatusShuttingDown {
		t.Errorf("status = %q, want shutting-down", resp.Status)
	}
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, RouterConfig{})

	assertError(t, s.do(t, http.MethodGet, "/nope", nil, ""), http.StatusNotFound, "NOT_FOUND")
	assertError(t, s.do(t, http.MethodGet, "/api/auth/login", nil, ""), http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
}

func TestRouter_RateLimit(t *testing.T) {
	tracker := health.NewTracker()
	s := newTestServer(t, RouterConfig{Limiter: rate.NewLimiter(0, 1), Tracker: tracker})

	body := map[string]string{"email": "ana@example.com", "password": "correct-password"}
	if w := s.do(t, http.MethodPost, "/api/auth/login", body, ""); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w.Code)
	}
	assertError(t, s.do(t, http.MethodPost, "/api/auth/login", body, ""), http.StatusTooManyRequests, "RATE_LIMITED")
	if got := tracker.DenialCount(time.Minute); got != 1 {
		t.Errorf("DenialCount = %d, want 1", got)
	}

	// /health is outside /api and never limited.
	if w := s.do(t, http.MethodGet, "/health", nil, ""); w.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", w.Code)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	s := newTestServer(t, RouterConfig{CORSOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/location/analyze", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if w.Code >= 300 {
		t.Errorf("preflight status = %d, want 2xx", w.Code)
	}
	if len(s.analyzer.calls) != 0 {
		t.Error("preflight reached the analyzer")
	}
}
