package service

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is returned for blank locations. No cache or upstream call is made.
var ErrInvalidInput = errors.New("invalid input")

// UpstreamError wraps a failure of a mandatory upstream (geocoding, or economics under the strict policy).
type UpstreamError struct {
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream failed: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
