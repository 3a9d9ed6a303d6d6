// Package retry wraps github.com/cenkalti/backoff/v5 for callers of the
// persistence store. The store never retries on its own; idempotent reads and
// migration rows are retried here, and only for transient failures.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chat-history/internal/repo"
	"github.com/tbourn/go-chat-history/internal/services"
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxTries counts the first attempt; values below 1 mean a single try.
	MaxTries uint
	// MaxElapsed caps the total time spent, including waits. Zero disables
	// the cap.
	MaxElapsed time.Duration
	// InitialInterval is the first wait; it grows exponentially with jitter.
	InitialInterval time.Duration
	// Retryable decides whether an error is worth another attempt. Nil means
	// IsTransient.
	Retryable func(error) bool
}

// DefaultPolicy matches RETRY_MAX_TRIES / RETRY_MAX_ELAPSED defaults.
func DefaultPolicy() Policy {
	return Policy{MaxTries: 3, MaxElapsed: 2 * time.Second, InitialInterval: 50 * time.Millisecond}
}

// IsTransient reports whether err is a store error that may succeed on retry:
// either already classified by services or a raw driver error repo recognises.
func IsTransient(err error) bool {
	return errors.Is(err, services.ErrTransientStore) || repo.IsTransient(err)
}

// Do runs op until it succeeds, returns a non-retryable error, or the policy
// is exhausted. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, name string, op func() (T, error)) (T, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	tries := p.MaxTries
	if tries < 1 {
		tries = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn().Err(err).Str("op", name).Dur("wait", wait).Msg("transient store error, retrying")
		}),
	}
	if p.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsed))
	}

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, name string, op func() error) error {
	_, err := Do(ctx, p, name, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}
