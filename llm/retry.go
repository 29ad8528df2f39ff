package llm

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures retry behavior with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int           // total attempts, including the initial one
	BaseDelay   time.Duration // delay before the first retry
	MaxDelay    time.Duration // ceiling on the delay between attempts
	Multiplier  float64       // exponential backoff factor
	Jitter      bool          // add random jitter to prevent thundering herd
	Retryable   func(error) bool
	OnRetry     func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns the default policy: three total attempts with
// 1s base delay doubling up to 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// Delay calculates the delay before retry n (0-indexed). The MaxDelay cap
// applies after jitter, so no wait ever exceeds it.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if p.Jitter {
		// +/- 50% jitter
		delay = delay * (0.5 + rand.Float64())
	}
	if d := time.Duration(delay); d < p.MaxDelay {
		return d
	}
	return p.MaxDelay
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsRetryable(err)
}

// Retry executes fn under the policy. Only retryable errors are retried; a
// non-retryable error, context cancellation, or exhaustion of MaxAttempts
// returns the last error unchanged (wrapped in AbortError for cancellation).
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	result, err := fn(ctx)
	if err == nil {
		return result, nil
	}

	for attempt := 0; attempt < policy.MaxAttempts-1; attempt++ {
		if !policy.retryable(err) {
			return zero, err
		}

		// A Retry-After hint overrides backoff, unless it exceeds the cap.
		delay := policy.Delay(attempt)
		if rl, ok := err.(*RateLimitError); ok && rl.RetryAfter != nil {
			hinted := time.Duration(*rl.RetryAfter * float64(time.Second))
			if hinted > policy.MaxDelay {
				return zero, err
			}
			delay = hinted
		}

		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}

		select {
		case <-ctx.Done():
			return zero, &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: ctx.Err()}}
		case <-time.After(delay):
		}

		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
	}

	return zero, err
}
