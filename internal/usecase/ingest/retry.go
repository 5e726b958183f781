package ingest

import (
	"context"
	"time"
)

// retryWithBackoff runs op up to maxAttempts times, sleeping baseDelay * 2^(attempt-1)
// between attempts. The wait is aborted when ctx ends; op itself runs under its own context.
func retryWithBackoff(ctx context.Context, maxAttempts int, baseDelay time.Duration, op func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || attempt == maxAttempts {
			break
		}

		delay := baseDelay << (attempt - 1)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}
