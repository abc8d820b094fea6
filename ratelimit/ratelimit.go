package ratelimit

import (
	"errors"
	"time"
)

// Common errors.
var (
	ErrClosed = errors.New("limiter closed")
)

// Limiter throttles consumer calls per resource, usually per account.
type Limiter interface {
	// TryAcquire takes a token without blocking. Returns false when the
	// resource is exhausted or the limiter is closed.
	TryAcquire(resource string) bool

	// RetryAfter estimates how long until the next token for resource.
	RetryAfter(resource string) time.Duration

	// Close shuts down the limiter.
	Close() error
}

// Capacity describes the rate limit state of a resource.
type Capacity struct {
	// Resource is the unique identifier for the rate-limited resource.
	Resource string

	// Available is the current number of available tokens.
	Available int

	// Total is the maximum capacity (tokens per window).
	Total int

	// Window is the refill period.
	Window time.Duration
}
