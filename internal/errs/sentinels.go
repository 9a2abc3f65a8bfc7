// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service/session layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSessionNotFound indicates an unknown, mismatching, expired or already consumed connection token.
	ErrSessionNotFound = errors.New("session not found")

	// ErrCommandApplication indicates the command executor rejected a command sequence.
	ErrCommandApplication = errors.New("command application error")

	// ErrProtocolViolation indicates a message that can never legally arrive from its source.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrUnknownOperation indicates a message whose type has no registered processor.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary handshake lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")
)
