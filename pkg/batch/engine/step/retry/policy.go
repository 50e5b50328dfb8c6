// Package retry implements the backoff policy applied to upstream calls.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

// RetryPolicy is an interface that defines retry logic.
// This interface provides methods to determine if a specific error is retryable,
// and to determine the backoff interval between retries.
type RetryPolicy interface {
	// ShouldRetry determines if a given error is retryable.
	// err: The error to evaluate.
	// Returns: true if the error is retryable, false otherwise.
	ShouldRetry(err error) bool
	// GetBackoffInterval returns the waiting time before the attempt following attempt.
	// attempt: The attempt that just failed (starting from 1).
	GetBackoffInterval(attempt int) time.Duration
	// GetMaxAttempts returns the total number of attempts, including the first.
	GetMaxAttempts() int
}

// DefaultRetryPolicyFactory is a factory for creating RetryPolicy.
type DefaultRetryPolicyFactory struct{}

// NewDefaultRetryPolicyFactory creates a new DefaultRetryPolicyFactory.
func NewDefaultRetryPolicyFactory() *DefaultRetryPolicyFactory {
	return &DefaultRetryPolicyFactory{}
}

// Create creates a new RetryPolicy from the retry configuration.
// retryableExceptions lists additional error names (see exception.IsErrorOfType) treated as retryable.
func (f *DefaultRetryPolicyFactory) Create(cfg config.RetryConfig, retryableExceptions []string) RetryPolicy {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	factor := cfg.Factor
	if factor < 1 {
		factor = 1
	}
	jitter := math.Min(math.Max(cfg.Jitter, 0), 1)
	return &defaultRetryPolicy{
		maxAttempts:         maxAttempts,
		initialInterval:     time.Duration(cfg.InitialInterval) * time.Millisecond,
		maxInterval:         time.Duration(cfg.MaxInterval) * time.Millisecond,
		factor:              factor,
		jitter:              jitter,
		retryableExceptions: retryableExceptions,
		rnd:                 rand.Float64,
	}
}

// defaultRetryPolicy is an exponential backoff with proportional jitter.
type defaultRetryPolicy struct {
	maxAttempts         int
	initialInterval     time.Duration
	maxInterval         time.Duration
	factor              float64
	jitter              float64
	retryableExceptions []string
	rnd                 func() float64
}

// GetMaxAttempts returns the maximum number of attempts.
func (p *defaultRetryPolicy) GetMaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry determines if an error is retryable.
// Temporary errors (exception.IsTemporary) and errors matching the configured
// list are retried; caller cancellation never is.
func (p *defaultRetryPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if exception.IsTemporary(err) {
		return true
	}
	for _, typeName := range p.retryableExceptions {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}
	return false
}

// GetBackoffInterval returns initial * factor^(attempt-1), capped at the max interval,
// with up to ±jitter of it randomized.
func (p *defaultRetryPolicy) GetBackoffInterval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	interval := float64(p.initialInterval) * math.Pow(p.factor, float64(attempt-1))
	if p.maxInterval > 0 && interval > float64(p.maxInterval) {
		interval = float64(p.maxInterval)
	}
	if p.jitter > 0 {
		interval += interval * p.jitter * (2*p.rnd() - 1)
	}
	return time.Duration(interval)
}

// Verify interfaces
var _ RetryPolicy = (*defaultRetryPolicy)(nil)

// OnRetryFunc is called before each backoff wait with the failed attempt number and its error.
type OnRetryFunc func(attempt int, err error, wait time.Duration)

// Do runs fn until it succeeds, returns a non-retryable error, or runs out of attempts.
// The backoff wait is abandoned as soon as ctx is done.
//
// Parameters:
//
//	ctx: Bounds the whole retry loop.
//	policy: Decides which errors are retried and how long to wait.
//	onRetry: Optional hook invoked before each wait.
//	fn: The operation; it receives the 1-based attempt number.
//
// Returns:
//
//	The number of attempts made and the last error (nil on success).
func Do(ctx context.Context, policy RetryPolicy, onRetry OnRetryFunc, fn func(ctx context.Context, attempt int) error) (int, error) {
	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err == nil {
				err = ctxErr
			}
			return attempt - 1, err
		}
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if attempt >= policy.GetMaxAttempts() || !policy.ShouldRetry(err) {
			return attempt, err
		}

		wait := policy.GetBackoffInterval(attempt)
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
		logger.Warnf("Retry: attempt %d/%d failed (%v). Retrying in %s.", attempt, policy.GetMaxAttempts(), err, wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, err
		case <-timer.C:
		}
	}
}
