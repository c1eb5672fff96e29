// Package async runs save jobs in the background on a bounded worker pool.
// Callers get a Task handle back instead of fire-and-forget, so completion
// and failure stay observable.
package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TaskState describes where a task is in its lifecycle.
type TaskState string

const (
	StatePending   TaskState = "pending"
	StateRunning   TaskState = "running"
	StateSucceeded TaskState = "succeeded"
	StateFailed    TaskState = "failed"
)

// ErrQueueFull is returned by Submit when the backlog is at capacity.
var ErrQueueFull = errors.New("task queue is full")

// ErrShuttingDown is returned by Submit after Shutdown has started.
var ErrShuttingDown = errors.New("dispatcher is shutting down")

// Task is a handle to one submitted job.
type Task struct {
	Name string

	mu    sync.Mutex
	state TaskState
	err   error
	done  chan struct{}

	fn func(ctx context.Context) error
}

// Done is closed when the task finishes, in either state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// State returns the task's current lifecycle state.
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the task's failure, nil until it fails.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Wait blocks until the task finishes or the context expires, then returns
// the task error.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) setState(state TaskState, err error) {
	t.mu.Lock()
	t.state = state
	t.err = err
	t.mu.Unlock()
	if state == StateSucceeded || state == StateFailed {
		close(t.done)
	}
}

// Config tunes the dispatcher pool.
type Config struct {
	// Workers is the number of concurrent job runners.
	Workers int

	// QueueSize bounds the pending backlog.
	QueueSize int

	// JobTimeout caps each job's run time. Zero means no limit.
	JobTimeout time.Duration
}

// DefaultConfig matches the save pipeline's shape: serial indexing with a
// modest backlog.
func DefaultConfig() Config {
	return Config{Workers: 1, QueueSize: 64}
}

// Dispatcher owns the worker pool.
type Dispatcher struct {
	cfg    Config
	queue  chan *Task
	logger *slog.Logger

	mu       sync.Mutex
	stopped  bool
	draining sync.WaitGroup
}

// NewDispatcher starts the workers immediately.
func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		cfg:    cfg,
		queue:  make(chan *Task, cfg.QueueSize),
		logger: logger,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.draining.Add(1)
		go d.worker()
	}
	return d
}

// Submit queues a job. It never blocks: a full queue fails fast so the
// caller can surface backpressure instead of hanging a request.
func (d *Dispatcher) Submit(name string, fn func(ctx context.Context) error) (*Task, error) {
	task := &Task{
		Name:  name,
		state: StatePending,
		done:  make(chan struct{}),
		fn:    fn,
	}

	// The send stays under the lock so Shutdown cannot close the queue
	// between the stopped check and the enqueue.
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil, ErrShuttingDown
	}
	select {
	case d.queue <- task:
		return task, nil
	default:
		return nil, fmt.Errorf("%w: %d tasks pending", ErrQueueFull, len(d.queue))
	}
}

func (d *Dispatcher) worker() {
	defer d.draining.Done()
	for task := range d.queue {
		d.run(task)
	}
}

func (d *Dispatcher) run(task *Task) {
	task.setState(StateRunning, nil)
	start := time.Now()

	ctx := context.Background()
	if d.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.JobTimeout)
		defer cancel()
	}

	err := task.fn(ctx)
	if err != nil {
		task.setState(StateFailed, err)
		d.logger.Error("task_failed",
			slog.String("task", task.Name),
			slog.String("error", err.Error()),
			slog.Duration("took", time.Since(start)))
		return
	}
	task.setState(StateSucceeded, nil)
	d.logger.Debug("task_completed",
		slog.String("task", task.Name),
		slog.Duration("took", time.Since(start)))
}

// Shutdown stops accepting work and waits for queued tasks to drain, up to
// the context deadline.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.draining.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
