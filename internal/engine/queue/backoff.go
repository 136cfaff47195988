package queue

import (
	"math"
	"time"
)

// RetryStrategy decides the re-enqueue delay between polling attempts.
type RetryStrategy interface {
	// GetDelay returns the delay for the given attempt (0-indexed).
	GetDelay(attempt int) time.Duration
}

// ExponentialBackoff implements a standard backoff strategy.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultBackoff returns sensible defaults for chain status polling.
// 5s, 10s, 20s, 40s ... capped at 5m.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: 5 * time.Second,
		MaxDelay:     5 * time.Minute,
	}
}

// GetDelay calculates delay: InitialDelay * 2^attempt
func (s *ExponentialBackoff) GetDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}
