package http

import "errors"

var (
	// ErrUnauthorized is returned when the bearer token is missing or wrong.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotConfigured is returned by the user routes when no object store
	// is configured.
	ErrNotConfigured = errors.New("no object store configured")
)
