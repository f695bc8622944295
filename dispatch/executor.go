package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 1024
)

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// Workers is the number of goroutines running due work.
	Workers int

	// QueueSize bounds the amount of accepted work that has not finished yet,
	// including work still waiting for its delay to elapse. Schedule rejects
	// work beyond this bound.
	QueueSize int

	Logger   *slog.Logger
	Failures FailureSink
}

// Executor is a Gateway backed by timers and a fixed pool of worker
// goroutines. Work runs with the executor's own context, which is cancelled
// only when a Shutdown deadline expires.
type Executor struct {
	queue    chan *task
	stop     chan struct{}
	baseCtx  context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger
	failures FailureSink
	capacity int

	mutex    sync.Mutex
	closed   bool
	pending  int
	timers   map[*task]*time.Timer
	inflight sync.WaitGroup
	workers  sync.WaitGroup
	stopOnce sync.Once
}

type task struct {
	handle *Handle
	work   Work
}

// NewExecutor creates an Executor and starts its workers.
func NewExecutor(opts ExecutorOptions) *Executor {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Failures == nil {
		opts.Failures = LogFailures(opts.Logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		queue:    make(chan *task, opts.QueueSize),
		stop:     make(chan struct{}),
		baseCtx:  ctx,
		cancel:   cancel,
		logger:   opts.Logger,
		failures: opts.Failures,
		capacity: opts.QueueSize,
		timers:   map[*task]*time.Timer{},
	}
	for i := 0; i < opts.Workers; i++ {
		e.workers.Add(1)
		go e.worker()
	}
	return e
}

// Schedule accepts work to run no earlier than delay from now. It returns
// ErrRejected if the executor is saturated or shutting down.
func (e *Executor) Schedule(ctx context.Context, work Work, delay time.Duration, opts ...ScheduleOption) (*Handle, error) {
	if work == nil {
		return nil, fmt.Errorf("work is required")
	}
	if delay < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDelay, delay)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o := applyScheduleOptions(opts)

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.closed {
		return nil, fmt.Errorf("%w: executor is shutting down", ErrRejected)
	}
	if e.pending >= e.capacity {
		return nil, fmt.Errorf("%w: executor saturated (%d pending)", ErrRejected, e.pending)
	}

	t := &task{handle: newHandle(o.key, time.Now(), delay), work: work}
	e.pending++
	e.inflight.Add(1)

	// The queue is sized to capacity, so this send never blocks.
	if delay == 0 {
		e.queue <- t
	} else {
		e.timers[t] = time.AfterFunc(delay, func() { e.release(t) })
	}

	e.logger.Debug("work scheduled",
		"handle_id", t.handle.ID,
		"key", t.handle.Key,
		"delay", delay)

	return t.handle, nil
}

// Cancel withdraws work whose delay has not elapsed yet. Work already on the
// run queue is left alone.
func (e *Executor) Cancel(handle *Handle) bool {
	if handle == nil {
		return false
	}
	e.mutex.Lock()
	var cancelled *task
	for t, timer := range e.timers {
		if t.handle == handle {
			timer.Stop()
			delete(e.timers, t)
			cancelled = t
			break
		}
	}
	if cancelled == nil {
		e.mutex.Unlock()
		return false
	}
	e.pending--
	e.mutex.Unlock()

	e.logger.Debug("work cancelled", "handle_id", handle.ID, "key", handle.Key)
	handle.finish(ErrCancelled)
	e.inflight.Done()
	return true
}

// Pending returns the amount of accepted work that has not finished.
func (e *Executor) Pending() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	return e.pending
}

// Closed reports whether Shutdown has been called.
func (e *Executor) Closed() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	return e.closed
}

// Shutdown stops accepting work and waits for accepted work to finish. If ctx
// expires first, work that has not started is abandoned and reported to the
// failure sink, the context of running work is cancelled and ctx.Err() is
// returned.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mutex.Lock()
	e.closed = true
	e.mutex.Unlock()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		e.stopOnce.Do(func() { close(e.stop) })
		e.workers.Wait()
		return nil
	case <-ctx.Done():
		e.abandonPending()
		e.cancel()
		e.stopOnce.Do(func() { close(e.stop) })
		return ctx.Err()
	}
}

// release moves a task whose delay elapsed onto the run queue.
func (e *Executor) release(t *task) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if _, ok := e.timers[t]; !ok {
		return // abandoned
	}
	delete(e.timers, t)
	e.queue <- t
}

func (e *Executor) abandonPending() {
	var abandoned []*task

	e.mutex.Lock()
	for t, timer := range e.timers {
		timer.Stop()
		delete(e.timers, t)
		abandoned = append(abandoned, t)
	}
drain:
	for {
		select {
		case t := <-e.queue:
			abandoned = append(abandoned, t)
		default:
			break drain
		}
	}
	e.pending -= len(abandoned)
	e.mutex.Unlock()

	for _, t := range abandoned {
		e.failures.ReportFailure(e.baseCtx, &Failure{
			HandleID:    t.handle.ID,
			Key:         t.handle.Key,
			Err:         ErrAbandoned,
			ScheduledAt: t.handle.ScheduledAt,
			FailedAt:    time.Now(),
		})
		t.handle.finish(ErrAbandoned)
		e.inflight.Done()
	}
}

func (e *Executor) worker() {
	defer e.workers.Done()
	for {
		select {
		case t := <-e.queue:
			e.run(t)
		case <-e.stop:
			return
		}
	}
}

func (e *Executor) run(t *task) {
	defer func() {
		e.mutex.Lock()
		e.pending--
		e.mutex.Unlock()
		e.inflight.Done()
	}()

	failure := runWork(e.baseCtx, t.handle, t.work)
	if failure != nil {
		e.failures.ReportFailure(e.baseCtx, failure)
		t.handle.finish(failure.Err)
		return
	}
	t.handle.finish(nil)
}

// runWork invokes work, converting both returned errors and panics into a
// Failure.
func runWork(ctx context.Context, handle *Handle, work Work) (failure *Failure) {
	defer func() {
		if r := recover(); r != nil {
			failure = &Failure{
				HandleID:    handle.ID,
				Key:         handle.Key,
				Err:         fmt.Errorf("panic: %v", r),
				Panic:       r,
				Stack:       debug.Stack(),
				ScheduledAt: handle.ScheduledAt,
				FailedAt:    time.Now(),
			}
		}
	}()
	if err := work(ctx); err != nil {
		return &Failure{
			HandleID:    handle.ID,
			Key:         handle.Key,
			Err:         err,
			ScheduledAt: handle.ScheduledAt,
			FailedAt:    time.Now(),
		}
	}
	return nil
}
