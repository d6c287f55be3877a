package client

import (
	"context"
	"errors"
	"strings"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as metric labels (upstreamErrorsTotal).
const (
	ErrorCategoryTimeout            ErrorCategory = "timeout"
	ErrorCategoryNetwork            ErrorCategory = "network"
	ErrorCategoryCircuitOpen        ErrorCategory = "circuit_open"
	ErrorCategoryInvalidAPIKey      ErrorCategory = "invalid_api_key"
	ErrorCategoryNotFound           ErrorCategory = "not_found"
	ErrorCategoryRateLimited        ErrorCategory = "rate_limited"
	ErrorCategoryUpstream5xx        ErrorCategory = "upstream_5xx"
	ErrorCategoryRejected           ErrorCategory = "rejected"
	ErrorCategoryParsing            ErrorCategory = "parsing"
	ErrorCategoryMissingCoordinates ErrorCategory = "missing_coordinates"
	ErrorCategoryUnknown            ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
// Typed errors are matched first; message heuristics only cover foreign errors.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, ErrUpstreamTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	case errors.Is(err, ErrUpstreamConnection):
		return ErrorCategoryNetwork
	case errors.Is(err, ErrInvalidAPIKey):
		return ErrorCategoryInvalidAPIKey
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrUpstreamServerError):
		return ErrorCategoryUpstream5xx
	case errors.Is(err, ErrMalformedResponse):
		return ErrorCategoryParsing
	case errors.Is(err, ErrUpstreamRejected):
		return ErrorCategoryRejected
	case errors.Is(err, ErrNotFound):
		return ErrorCategoryNotFound
	case errors.Is(err, ErrMissingCoordinates):
		return ErrorCategoryMissingCoordinates
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return ErrorCategoryTimeout
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return ErrorCategoryNetwork
	}
	if strings.Contains(errStr, "parse") || strings.Contains(errStr, "unmarshal") {
		return ErrorCategoryParsing
	}
	return ErrorCategoryUnknown
}
