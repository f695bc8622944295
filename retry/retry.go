package retry

import (
	"context"
	"math/rand"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseWait   = 250 * time.Millisecond
	DefaultMaxWait    = 10 * time.Second
)

type options struct {
	maxRetries int
	baseWait   time.Duration
	maxWait    time.Duration
	onRetry    func(attempt int, err error)
}

// Option configures Do.
type Option func(*options)

// WithMaxRetries sets how many times a recoverable failure is retried. The
// function always runs at least once.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.maxRetries = n
	}
}

// WithBaseWait sets the wait before the first retry. Later waits double.
func WithBaseWait(d time.Duration) Option {
	return func(o *options) {
		o.baseWait = d
	}
}

// WithMaxWait caps the wait between attempts.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) {
		o.maxWait = d
	}
}

// WithOnRetry registers a function called before each retry.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(o *options) {
		o.onRetry = fn
	}
}

// Do calls fn until it succeeds, returns an error that is not recoverable, or
// the retry budget is exhausted. The last error is returned as is.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	o := options{
		maxRetries: DefaultMaxRetries,
		baseWait:   DefaultBaseWait,
		maxWait:    DefaultMaxWait,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= o.maxRetries || !IsRecoverable(err) {
			return err
		}
		if o.onRetry != nil {
			o.onRetry(attempt+1, err)
		}
		timer := time.NewTimer(backoff(attempt, o.baseWait, o.maxWait))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

// backoff returns an exponential wait with up to 20% jitter.
func backoff(attempt int, base, max time.Duration) time.Duration {
	wait := base << attempt
	if wait <= 0 || (max > 0 && wait > max) {
		wait = max
	}
	if wait <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int63n(int64(wait)/5 + 1))
	return wait + jitter
}
