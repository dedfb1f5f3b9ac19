// Package background runs fire-and-forget tasks off the request path. Task
// failures never reach the submitter; they are logged and counted.
package background

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a unit of background work.
type Task = func(ctx context.Context) error

// Config configures a Runner.
type Config struct {
	Workers     int           // Default: 4
	QueueSize   int           // Default: 64
	TaskTimeout time.Duration // Default: 30 seconds
	Logger      *slog.Logger
}

// Stats are cumulative task counters.
type Stats struct {
	Submitted int64
	Succeeded int64
	Failed    int64
	Dropped   int64
	Panicked  int64
}

type job struct {
	name string
	fn   Task
}

// Runner executes tasks on a fixed pool of workers fed by a bounded queue.
type Runner struct {
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	panicked  atomic.Int64
}

// New starts a Runner.
func New(cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		logger:  cfg.Logger,
		timeout: cfg.TaskTimeout,
		queue:   make(chan job, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	r.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go r.work()
	}
	return r
}

// Go queues fn without blocking. It reports false when the task was dropped
// because the queue is full or the runner is closed.
func (r *Runner) Go(name string, fn Task) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	r.submitted.Add(1)
	if r.closed {
		r.dropped.Add(1)
		r.logger.Warn("background task dropped: runner closed", "task", name)
		return false
	}
	select {
	case r.queue <- job{name: name, fn: fn}:
		return true
	default:
		r.dropped.Add(1)
		r.logger.Warn("background task dropped: queue full", "task", name)
		return false
	}
}

func (r *Runner) work() {
	defer r.wg.Done()
	for j := range r.queue {
		r.run(j)
	}
}

func (r *Runner) run(j job) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := safeCall(ctx, j.fn)
	switch {
	case err == nil:
		r.succeeded.Add(1)
		return
	case isPanic(err):
		r.panicked.Add(1)
	default:
		r.failed.Add(1)
	}
	r.logger.Error("background task failed", "task", j.name, "elapsed", time.Since(start), "err", err)
}

type panicError struct{ value any }

func (p panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

func isPanic(err error) bool {
	_, ok := err.(panicError)
	return ok
}

func safeCall(ctx context.Context, fn Task) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = panicError{value: v}
		}
	}()
	return fn(ctx)
}

// Close stops accepting tasks and waits for queued ones to finish. When ctx
// expires first, running tasks are cancelled and ctx's error is returned.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	defer func() {
		s := r.Stats()
		r.logger.Info("background runner stopped",
			"submitted", s.Submitted, "succeeded", s.Succeeded, "failed", s.Failed,
			"dropped", s.Dropped, "panicked", s.Panicked)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats returns a snapshot of the counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Submitted: r.submitted.Load(),
		Succeeded: r.succeeded.Load(),
		Failed:    r.failed.Load(),
		Dropped:   r.dropped.Load(),
		Panicked:  r.panicked.Load(),
	}
}
