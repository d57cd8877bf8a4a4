package jobs

import "time"

const (
	// DefaultInitialBackoff is the delay before the first retry.
	DefaultInitialBackoff = time.Second
	// DefaultMaxBackoff caps the retry delay.
	DefaultMaxBackoff = 60 * time.Second
)

// Backoff returns the retry delay after the given number of failed attempts:
// min(1s * 2^(attempt-1), 60s). Attempts below 1 are treated as 1.
func Backoff(attempt int) time.Duration {
	return exponentialBackoff(attempt, DefaultInitialBackoff, DefaultMaxBackoff)
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	if attempt <= 0 {
		attempt = 1
	}

	backoff := initial
	for idx := 1; idx < attempt; idx++ {
		if backoff >= max/2 {
			return max
		}
		backoff *= 2
	}
	if backoff > max {
		return max
	}
	return backoff
}
