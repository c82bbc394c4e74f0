package cache

import "errors"

// Cache errors. Callers treat every one of them as a miss.
var (
	// ErrCacheFull is returned by bounded backends at capacity.
	ErrCacheFull = errors.New("cache is full")

	// ErrInvalidKey is returned for an empty key.
	ErrInvalidKey = errors.New("invalid cache key")

	// ErrConnectionFailed wraps backend connectivity failures.
	ErrConnectionFailed = errors.New("cache connection failed")

	// ErrOperationTimeout wraps deadline and timeout failures.
	ErrOperationTimeout = errors.New("cache operation timeout")
)
