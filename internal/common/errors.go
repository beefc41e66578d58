// Package common defines shared constants and sentinel errors used across
// recordguard components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")

	// Input and cryptographic faults.
	ErrInvalidInput = errors.New("invalid input")
	ErrCrypto       = errors.New("crypto error")

	// Authentication flow signals. These are expected outcomes, not faults.
	ErrAccountLocked   = errors.New("account locked")
	ErrPasswordExpired = errors.New("password expired")
	ErrSessionExpired  = errors.New("session expired")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
