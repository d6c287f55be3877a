package auth

import "errors"

var (
	// ErrInvalidToken covers malformed tokens, bad signatures, unexpected algorithms
	// and tokens for users that no longer exist.
	ErrInvalidToken = errors.New("invalid authentication token")

	ErrExpiredToken = errors.New("authentication token has expired")

	// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid email or password")

	ErrEmailTaken = errors.New("email already registered")
)
