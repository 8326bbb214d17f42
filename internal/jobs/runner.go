package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrRunnerStopped is returned by Submit after Stop has been called.
var ErrRunnerStopped = errors.New("background runner stopped")

// ErrQueueFull is returned by Submit when the task queue has no room.
var ErrQueueFull = errors.New("background queue full")

// Task is a unit of fire-and-forget work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// TaskError reports a failed background task.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("background task %s: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// ErrorHandler receives every task failure. It must not block.
type ErrorHandler func(ctx context.Context, err *TaskError)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

// DefaultRunnerConfig returns the default runner configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Workers:     4,
		QueueSize:   256,
		TaskTimeout: 30 * time.Second,
	}
}

// Runner executes submitted tasks on a fixed pool of goroutines, decoupled
// from the request that submitted them.
type Runner struct {
	cfg     RunnerConfig
	logger  *zap.Logger
	onError ErrorHandler

	tasks chan Task
	wg    sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
	cancel  context.CancelFunc
}

// NewRunner creates a Runner. Call Start before submitting.
func NewRunner(cfg RunnerConfig, logger *zap.Logger, onError ErrorHandler) *Runner {
	defaults := DefaultRunnerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaults.TaskTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:     cfg,
		logger:  logger,
		onError: onError,
		tasks:   make(chan Task, cfg.QueueSize),
	}
}

// Start launches the worker goroutines. Tasks run under a context derived
// from ctx, not from the submitting request.
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for task := range r.tasks {
				r.run(ctx, task)
			}
		}()
	}
	r.logger.Info("background runner started", zap.Int("workers", r.cfg.Workers), zap.Int("queue_size", r.cfg.QueueSize))
}

// Submit enqueues a task without blocking.
func (r *Runner) Submit(name string, run func(ctx context.Context) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return ErrRunnerStopped
	}
	select {
	case r.tasks <- Task{Name: name, Run: run}:
		return nil
	default:
		r.logger.Warn("background queue full, dropping task", zap.String("task", name))
		return ErrQueueFull
	}
}

// Stop stops accepting tasks and waits for queued ones to drain, up to the
// deadline of ctx. Remaining tasks are cancelled when ctx expires.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.tasks)
	cancel := r.cancel
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if cancel != nil {
			cancel()
		}
		r.logger.Info("background runner drained")
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
		return fmt.Errorf("background runner drain: %w", ctx.Err())
	}
}

func (r *Runner) run(parent context.Context, task Task) {
	ctx, cancel := context.WithTimeout(parent, r.cfg.TaskTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			r.fail(ctx, task.Name, fmt.Errorf("panic: %v", p))
		}
	}()

	if err := task.Run(ctx); err != nil {
		r.fail(ctx, task.Name, err)
	}
}

func (r *Runner) fail(ctx context.Context, name string, err error) {
	r.logger.Warn("background task failed", zap.String("task", name), zap.Error(err))
	if r.onError != nil {
		r.onError(ctx, &TaskError{Task: name, Err: err})
	}
}
