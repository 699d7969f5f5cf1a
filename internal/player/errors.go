package player

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	// ErrNoActiveItem is returned when the provider reports no playing item.
	ErrNoActiveItem = errors.New("no active playback item")

	// ErrNoPlaybackDevice is returned when the user has no device to play on.
	ErrNoPlaybackDevice = errors.New("no playback device available")
)

// RateLimitedError is a provider 429 with its retry-after hint. It is
// surfaced to callers, never retried here.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("provider rate limited, retry after %s", e.RetryAfter)
}

// HTTPStatus implements the status-carrying error contract.
func (e *RateLimitedError) HTTPStatus() int { return 429 }

// StatusError is any other provider failure carrying an HTTP status.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Status, e.Message)
}

// HTTPStatus implements the status-carrying error contract.
func (e *StatusError) HTTPStatus() int { return e.Status }
