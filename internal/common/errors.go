// Package common defines shared sentinel errors used across the export
// service. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Validation errors.
	ErrorUnknownExportKind = errors.New("unknown export kind")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
)
