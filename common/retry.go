package common

import (
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

// Retry calls fn every period until it succeeds or maxWait has elapsed.
func Retry(fn func() error, period, maxWait time.Duration) error {
	return RetryIncreasing(fn, period, period, maxWait)
}

// RetryIncreasing is Retry with a delay that grows tenfold per attempt, capped
// at maxDelay. The last error is returned on timeout.
func RetryIncreasing(fn func() error, initialDelay, maxDelay, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	delay := initialDelay

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Wrapf(err, "retry timeout after %d attempts", attempt)
		}
		slog.Debug("retrying", "attempt", attempt, "delay", delay, "error", err)
		time.Sleep(delay)

		delay *= 10
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
