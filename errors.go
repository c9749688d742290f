package stowfs

import "errors"

var (
	// ErrNotFound is returned when an object, cache entry or preference does not exist
	ErrNotFound = errors.New("not found")
	// ErrUnavailable is returned when a backend cannot be reached
	ErrUnavailable = errors.New("backend unavailable")
	// ErrAuthFailure is returned when a backend rejects the supplied credentials
	ErrAuthFailure = errors.New("authentication failed")
	// ErrConfiguration is returned for invalid or inconsistent store configuration
	ErrConfiguration = errors.New("invalid configuration")
	// ErrConsistency is returned when cache and backend disagree after an operation
	ErrConsistency = errors.New("consistency violation")

	ErrExists       = errors.New("already exists")
	ErrNotDirectory = errors.New("not a directory")
	ErrIsDirectory  = errors.New("is a directory")
	ErrInvalidPath  = errors.New("invalid path")
	ErrReadOnly     = errors.New("read only")
	ErrNotSupported = errors.New("not supported")
)
