package services

import (
	"context"
	"net/http"
	"time"

	apperrors "orders-service/common/errors"
)

// RetryConfig configures exponential backoff between attempts.
type RetryConfig struct {
	Attempts   int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

func DefaultRetryConfig(attempts int) RetryConfig {
	if attempts < 1 {
		attempts = 1
	}
	return RetryConfig{
		Attempts:   attempts,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Multiplier: 2,
	}
}

// retryWithBackoff runs fn until it succeeds, returns an error retryable
// rejects, or the attempts run out. The last error is returned.
func retryWithBackoff[T any](ctx context.Context, cfg RetryConfig, retryable func(error) bool, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := cfg.BaseDelay

	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryable(err) || attempt == cfg.Attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return zero, lastErr
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * cfg.Multiplier)
			if backoff > cfg.MaxDelay {
				backoff = cfg.MaxDelay
			}
		}
	}

	return zero, lastErr
}

// isTransient reports whether a collaborator failure may succeed on retry:
// timeouts and no-responder errors.
func isTransient(err error) bool {
	appErr := apperrors.From(err)
	switch appErr.Kind {
	case apperrors.KindTimeout:
		return true
	case apperrors.KindUpstream:
		return appErr.Status == http.StatusServiceUnavailable
	}
	return false
}
