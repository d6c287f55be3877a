package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/location-analysis-service/internal/auth"
	"github.com/kjstillabower/location-analysis-service/internal/client"
	"github.com/kjstillabower/location-analysis-service/internal/observability"
	"github.com/kjstillabower/location-analysis-service/internal/service"
	"github.com/kjstillabower/location-analysis-service/internal/validation"
)

// envelope is the body of every /api response.
type envelope struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message,omitempty"`
	Data      any        `json:"data,omitempty"`
	Error     *errorBody `json:"error,omitempty"`
	Timestamp string     `json:"timestamp"`
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data, Timestamp: timestamp()})
}

// writeError writes the error envelope. requestId is the correlation ID, if any.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, envelope{
		Success: false,
		Error: &errorBody{
			Code:      code,
			Message:   message,
			RequestID: observability.CorrelationID(r.Context()),
		},
		Timestamp: timestamp(),
	})
}

// apiError is the status, code and client-safe message for a failure.
type apiError struct {
	status  int
	code    string
	message string
}

// classifyError maps domain errors to status codes. Validation messages are safe to echo;
// everything else gets a fixed message.
func classifyError(r *http.Request, err error) apiError {
	var fieldErr *validation.FieldError
	var upstreamErr *service.UpstreamError
	switch {
	case errors.As(err, &fieldErr):
		return apiError{http.StatusBadRequest, "VALIDATION_ERROR", fieldErr.Error()}
	case errors.Is(err, service.ErrInvalidInput):
		return apiError{http.StatusBadRequest, "INVALID_INPUT", "location must not be blank"}
	case errors.Is(err, auth.ErrExpiredToken):
		return apiError{http.StatusUnauthorized, "TOKEN_EXPIRED", "Authentication token has expired"}
	case errors.Is(err, auth.ErrInvalidToken):
		return apiError{http.StatusUnauthorized, "INVALID_TOKEN", "Invalid authentication token"}
	case errors.Is(err, auth.ErrInvalidCredentials):
		return apiError{http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password"}
	case errors.Is(err, auth.ErrEmailTaken):
		return apiError{http.StatusConflict, "EMAIL_TAKEN", "Email already registered"}
	case errors.Is(err, client.ErrNotFound):
		return apiError{http.StatusNotFound, "LOCATION_NOT_FOUND", "Location not found"}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(r.Context().Err(), context.DeadlineExceeded):
		return apiError{http.StatusGatewayTimeout, "TIMEOUT", "Request timed out"}
	case errors.As(err, &upstreamErr):
		return apiError{http.StatusBadGateway, "EXTERNAL_SERVICE_ERROR", "Unable to fetch location data"}
	default:
		return apiError{http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"}
	}
}

// writeServiceError writes the classified error. The underlying error is logged, never echoed.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	e := classifyError(r, err)
	logger := observability.LoggerFromContext(r.Context())
	switch {
	case e.status == http.StatusInternalServerError:
		logger.Error("unhandled error", zap.Error(err))
	case e.status >= http.StatusInternalServerError:
		logger.Debug("upstream error", zap.String("code", e.code), zap.Error(err))
	}
	writeError(w, r, e.status, e.code, e.message)
}
