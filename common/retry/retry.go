package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds how often and how long an operation is retried.
// Intervals grow exponentially with randomized jitter.
type Policy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is used for store and completion calls unless overridden.
func DefaultPolicy(maxTries uint) Policy {
	return Policy{
		MaxTries:        maxTries,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Classifier decides whether an error is worth another attempt.
type Classifier func(ctx context.Context, err error) bool

// Transient treats every error as retryable except context cancellation.
func Transient(_ context.Context, err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Do runs op until it succeeds, returns a non-retryable error, or the policy is exhausted.
// The returned error is the last error returned by op.
func Do[T any](ctx context.Context, p Policy, name string, retryable Classifier, op func(ctx context.Context) (T, error)) (T, error) {
	tries := p.MaxTries
	if tries == 0 {
		tries = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err != nil && !retryable(ctx, err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.WarnContext(ctx, "retrying after error",
				"operation", name,
				"attempt", attempt,
				"wait_ms", wait.Milliseconds(),
				"error", err)
		}),
	)
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, name string, retryable Classifier, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, name, retryable, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
