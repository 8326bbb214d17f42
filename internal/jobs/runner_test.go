package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRunner_RunsSubmittedTasks(t *testing.T) {
	runner := NewRunner(RunnerConfig{Workers: 2, QueueSize: 8}, zaptest.NewLogger(t), nil)
	runner.Start(context.Background())

	var count atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		require.NoError(t, runner.Submit("count", func(ctx context.Context) error {
			defer wg.Done()
			count.Add(1)
			return nil
		}))
	}
	wg.Wait()

	require.NoError(t, runner.Stop(context.Background()))
	assert.Equal(t, int32(5), count.Load())
}

func TestRunner_ReportsFailuresToHandler(t *testing.T) {
	var mu sync.Mutex
	var failures []*TaskError
	handler := func(_ context.Context, err *TaskError) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, err)
	}

	runner := NewRunner(RunnerConfig{Workers: 1, QueueSize: 4}, nil, handler)
	runner.Start(context.Background())

	boom := errors.New("write failed")
	require.NoError(t, runner.Submit("persist-turns", func(context.Context) error { return boom }))
	require.NoError(t, runner.Submit("panics", func(context.Context) error { panic("bad") }))
	require.NoError(t, runner.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 2)
	assert.Equal(t, "persist-turns", failures[0].Task)
	assert.ErrorIs(t, failures[0], boom)
	assert.Equal(t, "panics", failures[1].Task)
	assert.Contains(t, failures[1].Error(), "panic: bad")
}

func TestRunner_SubmitAfterStop(t *testing.T) {
	runner := NewRunner(RunnerConfig{}, nil, nil)
	runner.Start(context.Background())
	require.NoError(t, runner.Stop(context.Background()))

	err := runner.Submit("late", func(context.Context) error { return nil })

	assert.ErrorIs(t, err, ErrRunnerStopped)
	assert.NoError(t, runner.Stop(context.Background()))
}

func TestRunner_QueueFull(t *testing.T) {
	runner := NewRunner(RunnerConfig{Workers: 1, QueueSize: 1}, nil, nil)

	require.NoError(t, runner.Submit("first", func(context.Context) error { return nil }))
	err := runner.Submit("second", func(context.Context) error { return nil })

	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestRunner_TaskGetsLiveContextWithDeadline(t *testing.T) {
	runner := NewRunner(RunnerConfig{Workers: 1, QueueSize: 1, TaskTimeout: time.Second}, nil, nil)
	runner.Start(context.Background())

	done := make(chan error, 1)
	require.NoError(t, runner.Submit("detached", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		if !hasDeadline {
			done <- errors.New("missing deadline")
			return nil
		}
		done <- ctx.Err()
		return nil
	}))

	assert.NoError(t, <-done)
	require.NoError(t, runner.Stop(context.Background()))
}
