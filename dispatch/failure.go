package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Failure describes work that failed after Schedule had already returned.
// These failures are never reported to the scheduling code.
type Failure struct {
	HandleID    string
	Key         string
	Err         error
	Panic       any
	Stack       []byte
	ScheduledAt time.Time
	FailedAt    time.Time
}

func (f *Failure) Error() string {
	if f.Panic != nil {
		return fmt.Sprintf("work %s panicked: %v", f.HandleID, f.Panic)
	}
	return fmt.Sprintf("work %s failed: %v", f.HandleID, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// FailureSink receives failures raised inside dispatched work.
type FailureSink interface {
	ReportFailure(ctx context.Context, failure *Failure)
}

// FailureSinkFunc adapts a function to the FailureSink interface.
type FailureSinkFunc func(ctx context.Context, failure *Failure)

func (f FailureSinkFunc) ReportFailure(ctx context.Context, failure *Failure) {
	f(ctx, failure)
}

// LogFailures returns a sink that writes each failure to the given logger.
func LogFailures(logger *slog.Logger) FailureSink {
	return FailureSinkFunc(func(ctx context.Context, failure *Failure) {
		attrs := []any{
			"handle_id", failure.HandleID,
			"key", failure.Key,
			"scheduled_at", failure.ScheduledAt,
		}
		if failure.Panic != nil {
			attrs = append(attrs, "panic", failure.Panic, "stack", string(failure.Stack))
		} else {
			attrs = append(attrs, "error", failure.Err)
		}
		logger.Error("dispatched work failed", attrs...)
	})
}

// MultiSink fans a failure out to several sinks.
func MultiSink(sinks ...FailureSink) FailureSink {
	return FailureSinkFunc(func(ctx context.Context, failure *Failure) {
		for _, sink := range sinks {
			if sink != nil {
				sink.ReportFailure(ctx, failure)
			}
		}
	})
}

// FailureRecorder keeps failures in memory so they can be correlated with
// executions that are parked in a wait state.
type FailureRecorder struct {
	mutex    sync.RWMutex
	failures []*Failure
	limit    int
}

// NewFailureRecorder returns a recorder keeping at most limit failures. A
// limit of zero or less keeps everything.
func NewFailureRecorder(limit int) *FailureRecorder {
	return &FailureRecorder{limit: limit}
}

func (r *FailureRecorder) ReportFailure(ctx context.Context, failure *Failure) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.failures = append(r.failures, failure)
	if r.limit > 0 && len(r.failures) > r.limit {
		r.failures = r.failures[len(r.failures)-r.limit:]
	}
}

// Failures returns all recorded failures, oldest first.
func (r *FailureRecorder) Failures() []*Failure {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	failures := make([]*Failure, len(r.failures))
	copy(failures, r.failures)
	return failures
}

// FailuresFor returns the recorded failures carrying the given key.
func (r *FailureRecorder) FailuresFor(key string) []*Failure {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var failures []*Failure
	for _, f := range r.failures {
		if f.Key == key {
			failures = append(failures, f)
		}
	}
	return failures
}
