// Package dispatch hands units of work to an executor that runs them after a
// delay, detached from the caller's goroutine, context and locks.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.jetify.com/typeid"
)

// ErrRejected is returned by Schedule when the destination executor is
// saturated or shutting down. Nothing has been scheduled when it is returned.
var ErrRejected = errors.New("dispatch rejected")

// ErrInvalidDelay is returned by Schedule for negative delays.
var ErrInvalidDelay = errors.New("delay must not be negative")

// ErrAbandoned is reported for scheduled work that never ran because the
// executor was forced to stop before the work became due.
var ErrAbandoned = errors.New("scheduled work abandoned at shutdown")

// ErrCancelled is reported on the handle of work withdrawn with Cancel.
var ErrCancelled = errors.New("scheduled work cancelled")

// Work is a deferred unit of computation. The context passed in belongs to the
// executor, never to the code that scheduled the work.
type Work func(ctx context.Context) error

// Gateway schedules work on a destination executor. Schedule returns as soon
// as the work is accepted and never waits for the work to run.
type Gateway interface {
	Schedule(ctx context.Context, work Work, delay time.Duration, opts ...ScheduleOption) (*Handle, error)

	// Cancel withdraws work that has not been handed to a worker yet and
	// reports whether it did. Work already running is never interrupted.
	Cancel(handle *Handle) bool
}

// ScheduleOption customizes a single Schedule call.
type ScheduleOption func(*scheduleOptions)

type scheduleOptions struct {
	key string
}

// WithKey attaches a correlation key (typically an execution ID) to the work.
// The key is carried on the handle and on any failure report.
func WithKey(key string) ScheduleOption {
	return func(o *scheduleOptions) {
		o.key = key
	}
}

func applyScheduleOptions(opts []ScheduleOption) scheduleOptions {
	var o scheduleOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewHandleID returns a new identifier for a unit of scheduled work.
func NewHandleID() string {
	id, err := typeid.WithPrefix("work")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Handle identifies a unit of scheduled work. The engine never waits on a
// handle; it exists for logging, tests and operational tooling.
type Handle struct {
	ID          string
	Key         string
	ScheduledAt time.Time
	RunAt       time.Time

	done     chan struct{}
	doneOnce sync.Once
	mutex    sync.Mutex
	err      error
}

func newHandle(key string, scheduledAt time.Time, delay time.Duration) *Handle {
	return &Handle{
		ID:          NewHandleID(),
		Key:         key,
		ScheduledAt: scheduledAt,
		RunAt:       scheduledAt.Add(delay),
		done:        make(chan struct{}),
	}
}

// Done is closed once the work has finished running, was cancelled or was
// abandoned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the outcome of the work once Done is closed.
func (h *Handle) Err() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.err
}

func (h *Handle) finish(err error) {
	h.doneOnce.Do(func() {
		h.mutex.Lock()
		h.err = err
		h.mutex.Unlock()
		close(h.done)
	})
}
