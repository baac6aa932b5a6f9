// Package retry runs an operation again with exponential backoff and jitter.
// It adds a retry predicate and attempt-numbered callbacks on top of
// cenkalti/backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as worth another attempt under the default predicate.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// Permanent stops retrying and returns err unwrapped, whatever the predicate.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts counts the first call. Default 3.
	MaxAttempts uint

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// Jitter randomizes each delay by +/- this fraction.
	Jitter float64

	// RetryIf decides which errors are retried. Nil retries only errors
	// wrapped with Retryable.
	RetryIf func(error) bool

	// OnRetry runs before the wait that follows failed attempt n.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Option adjusts a Policy.
type Option func(*Policy)

func defaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       0.1,
	}
}

func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.MaxAttempts = uint(n)
		}
	}
}

func WithInitialDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.InitialDelay = d
		}
	}
}

func WithRetryIf(fn func(error) bool) Option {
	return func(p *Policy) { p.RetryIf = fn }
}

func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(p *Policy) { p.OnRetry = fn }
}

// Startup is the policy for reaching a database or cache at boot: every
// error is retried for roughly half a minute.
func Startup(onRetry func(attempt int, err error, delay time.Duration)) []Option {
	return []Option{
		func(p *Policy) {
			p.MaxAttempts = 6
			p.InitialDelay = 500 * time.Millisecond
			p.MaxDelay = 10 * time.Second
			p.Jitter = 0.2
		},
		WithRetryIf(func(error) bool { return true }),
		WithOnRetry(onRetry),
	}
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	_, err := DoWithData(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}

// DoWithData is Do for operations that return a value.
func DoWithData[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	p := defaultPolicy()
	for _, opt := range opts {
		opt(&p)
	}
	retryIf := p.RetryIf
	if retryIf == nil {
		retryIf = func(err error) bool {
			var r *retryableError
			return errors.As(err, &r)
		}
	}

	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}

	attempt := 0
	res, err := backoff.Retry(ctx,
		func() (T, error) {
			attempt++
			v, err := op(ctx)
			if err != nil && !isPermanent(err) && !retryIf(err) {
				return v, backoff.Permanent(err)
			}
			return v, err
		},
		backoff.WithBackOff(&backoff.ExponentialBackOff{
			InitialInterval:     p.InitialDelay,
			RandomizationFactor: p.Jitter,
			Multiplier:          p.Multiplier,
			MaxInterval:         p.MaxDelay,
		}),
		backoff.WithMaxTries(p.MaxAttempts),
		backoff.WithNotify(func(err error, d time.Duration) {
			if p.OnRetry != nil {
				p.OnRetry(attempt, unwrap(err), d)
			}
		}),
	)
	return res, unwrap(err)
}

func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// unwrap strips the retry markers so callers see the operation's own error.
func unwrap(err error) error {
	for {
		var perm *backoff.PermanentError
		var r *retryableError
		switch {
		case errors.As(err, &perm) && error(perm) == err:
			err = perm.Err
		case errors.As(err, &r) && error(r) == err:
			err = r.err
		default:
			return err
		}
	}
}
