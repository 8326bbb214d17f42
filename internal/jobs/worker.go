package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PeriodicTask is maintenance work run on a fixed interval.
type PeriodicTask interface {
	Name() string
	Tick(ctx context.Context) error
}

// Worker runs one PeriodicTask until stopped. A failing or panicking tick is
// logged and the next tick runs as scheduled.
type Worker struct {
	task     PeriodicTask
	interval time.Duration
	logger   *zap.Logger
	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

func NewWorker(task PeriodicTask, interval time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		task:     task,
		interval: interval,
		logger:   logger.With(zap.String("task", task.Name())),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start blocks, ticking until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.doneChan)
	if w.interval <= 0 {
		w.logger.Warn("worker disabled: non-positive interval")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("worker started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped: context cancelled")
			return
		case <-w.stopChan:
			w.logger.Info("worker stopped: stop signal received")
			return
		case <-ticker.C:
			if err := w.tick(ctx); err != nil {
				w.logger.Warn("periodic task failed", zap.Error(err))
			}
		}
	}
}

func (w *Worker) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.task.Tick(ctx)
}

// Stop ends the loop and waits for the tick in progress. It is safe to call
// more than once, and before or after Start returns.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.doneChan
}
