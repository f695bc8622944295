package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ManualGateway is a Gateway driven by a virtual clock. Scheduled work only
// runs when Advance or RunAll is called, on the caller's goroutine. It is
// meant for tests that need deterministic control over when dispatched work
// executes.
type ManualGateway struct {
	mutex    sync.Mutex
	now      time.Time
	tasks    []*task
	closed   bool
	failures FailureSink
	handles  []*Handle
}

// NewManualGateway returns a gateway whose virtual clock starts at start.
func NewManualGateway(start time.Time, failures FailureSink) *ManualGateway {
	if failures == nil {
		failures = NewFailureRecorder(0)
	}
	return &ManualGateway{now: start, failures: failures}
}

func (g *ManualGateway) Schedule(ctx context.Context, work Work, delay time.Duration, opts ...ScheduleOption) (*Handle, error) {
	if work == nil {
		return nil, fmt.Errorf("work is required")
	}
	if delay < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDelay, delay)
	}
	o := applyScheduleOptions(opts)

	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.closed {
		return nil, fmt.Errorf("%w: gateway is shut down", ErrRejected)
	}
	t := &task{handle: newHandle(o.key, g.now, delay), work: work}
	g.tasks = append(g.tasks, t)
	g.handles = append(g.handles, t.handle)
	return t.handle, nil
}

// Cancel removes a task that has not run yet.
func (g *ManualGateway) Cancel(handle *Handle) bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	for i, t := range g.tasks {
		if t.handle == handle {
			g.tasks = append(g.tasks[:i], g.tasks[i+1:]...)
			handle.finish(ErrCancelled)
			return true
		}
	}
	return false
}

// Now returns the current virtual time.
func (g *ManualGateway) Now() time.Time {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return g.now
}

// Pending returns the number of tasks that have not run yet.
func (g *ManualGateway) Pending() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return len(g.tasks)
}

// Handles returns every handle issued so far.
func (g *ManualGateway) Handles() []*Handle {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	handles := make([]*Handle, len(g.handles))
	copy(handles, g.handles)
	return handles
}

// Advance moves the virtual clock forward by d and runs every task that became
// due, in order of their due time. It returns the number of tasks run.
func (g *ManualGateway) Advance(ctx context.Context, d time.Duration) int {
	g.mutex.Lock()
	g.now = g.now.Add(d)
	due := g.takeDue(g.now)
	g.mutex.Unlock()

	for _, t := range due {
		if failure := runWork(ctx, t.handle, t.work); failure != nil {
			g.failures.ReportFailure(ctx, failure)
			t.handle.finish(failure.Err)
			continue
		}
		t.handle.finish(nil)
	}
	return len(due)
}

// RunAll advances the clock to the latest due time and runs everything.
func (g *ManualGateway) RunAll(ctx context.Context) int {
	g.mutex.Lock()
	var latest time.Time
	for _, t := range g.tasks {
		if t.handle.RunAt.After(latest) {
			latest = t.handle.RunAt
		}
	}
	var d time.Duration
	if latest.After(g.now) {
		d = latest.Sub(g.now)
	}
	g.mutex.Unlock()

	return g.Advance(ctx, d)
}

// Shutdown makes subsequent Schedule calls fail with ErrRejected. Tasks that
// were already accepted can still be run with Advance.
func (g *ManualGateway) Shutdown() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.closed = true
}

func (g *ManualGateway) takeDue(now time.Time) []*task {
	var due, rest []*task
	for _, t := range g.tasks {
		if !t.handle.RunAt.After(now) {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	g.tasks = rest
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].handle.RunAt.Before(due[j].handle.RunAt)
	})
	return due
}
