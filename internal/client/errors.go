package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/kjstillabower/location-analysis-service/internal/circuitbreaker"
)

// Transport-level failures. No response was received.
var (
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamTimeout     = fmt.Errorf("%w: timeout", ErrUpstreamUnavailable)
	ErrUpstreamConnection  = fmt.Errorf("%w: connection failed", ErrUpstreamUnavailable)
	ErrCircuitOpen         = fmt.Errorf("%w: %w", ErrUpstreamUnavailable, circuitbreaker.ErrOpen)
)

// Upstream answered, but not with something usable.
var (
	ErrUpstreamRejected    = errors.New("upstream rejected request")
	ErrInvalidAPIKey       = fmt.Errorf("%w: invalid API key", ErrUpstreamRejected)
	ErrRateLimited         = fmt.Errorf("%w: rate limited", ErrUpstreamRejected)
	ErrUpstreamServerError = fmt.Errorf("%w: server error", ErrUpstreamRejected)
	ErrMalformedResponse   = fmt.Errorf("%w: malformed response", ErrUpstreamRejected)
)

// Domain failures.
var (
	ErrNotFound           = errors.New("not found")
	ErrPostalCodeNotFound = fmt.Errorf("postal code %w", ErrNotFound)
	ErrLocationNotFound   = fmt.Errorf("location %w", ErrNotFound)
	ErrMissingCoordinates = errors.New("missing coordinates")
)

// statusError maps a non-2xx status without provider-specific meaning to a typed error.
func statusError(statusCode int) error {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", ErrRateLimited, statusCode)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamServerError, statusCode)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamRejected, statusCode)
	}
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
