package jobs

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cloo-solutions/lexrag/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// MockPeriodicTask is a mock implementation of PeriodicTask
type MockPeriodicTask struct {
	mock.Mock
}

func (m *MockPeriodicTask) Name() string { return "mock" }

func (m *MockPeriodicTask) Tick(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type panickyTask struct {
	mu    sync.Mutex
	ticks int
}

func (p *panickyTask) Name() string { return "panicky" }

func (p *panickyTask) Tick(context.Context) error {
	p.mu.Lock()
	p.ticks++
	p.mu.Unlock()
	panic("boom")
}

func (p *panickyTask) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticks
}

type fakeCache struct {
	mu      sync.Mutex
	sweeps  int
	removed int
	size    int
}

func (c *fakeCache) SweepExpired(time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweeps++
	return c.removed
}

func (c *fakeCache) Len() int {
	return c.size
}

func runWorker(ctx context.Context, w *Worker) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Start(ctx)
	}()
	return &wg
}

func TestWorker_StartStop(t *testing.T) {
	task := new(MockPeriodicTask)
	task.On("Tick", mock.Anything).Return(nil)

	worker := NewWorker(task, 50*time.Millisecond, zaptest.NewLogger(t))
	wg := runWorker(context.Background(), worker)

	time.Sleep(180 * time.Millisecond)

	worker.Stop()
	worker.Stop()
	wg.Wait()

	task.AssertCalled(t, "Tick", mock.Anything)
}

func TestWorker_ContextCancellation(t *testing.T) {
	task := new(MockPeriodicTask)
	task.On("Tick", mock.Anything).Return(errors.New("transient"))

	worker := NewWorker(task, 50*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	wg := runWorker(ctx, worker)

	time.Sleep(120 * time.Millisecond)
	cancel()
	wg.Wait()
	worker.Stop()

	task.AssertCalled(t, "Tick", mock.Anything)
}

func TestWorker_SurvivesPanics(t *testing.T) {
	task := &panickyTask{}
	worker := NewWorker(task, 20*time.Millisecond, zaptest.NewLogger(t))
	wg := runWorker(context.Background(), worker)

	require.Eventually(t, func() bool { return task.count() >= 2 }, 2*time.Second, 10*time.Millisecond)

	worker.Stop()
	wg.Wait()
}

func TestWorker_NonPositiveIntervalDisables(t *testing.T) {
	task := new(MockPeriodicTask)
	worker := NewWorker(task, 0, nil)

	done := make(chan struct{})
	go func() {
		worker.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker with zero interval did not return")
	}
	worker.Stop()
	task.AssertNotCalled(t, "Tick", mock.Anything)
}

func TestCacheSweeper_Tick(t *testing.T) {
	cache := &fakeCache{removed: 3, size: 7}
	sweeper := NewCacheSweeper(cache, zaptest.NewLogger(t))

	require.NoError(t, sweeper.Tick(context.Background()))
	assert.Equal(t, 1, cache.sweeps)
	assert.Equal(t, "cache_sweep", sweeper.Name())
}

func TestCacheSweeper_CancelledContext(t *testing.T) {
	cache := &fakeCache{}
	sweeper := NewCacheSweeper(cache, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, sweeper.Tick(ctx), context.Canceled)
	assert.Equal(t, 0, cache.sweeps)
}

type recordingSaver struct {
	saved int
	err   error
}

func (r *recordingSaver) Save(ctx context.Context, cache storage.Snapshotter) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	r.saved++
	return cache.Snapshot(io.Discard)
}

type staticSnapshot struct{ n int }

func (s staticSnapshot) Snapshot(io.Writer) (int, error) { return s.n, nil }
func (s staticSnapshot) Restore(io.Reader) (int, error)  { return 0, nil }

func TestCacheSnapshotter_Tick(t *testing.T) {
	saver := &recordingSaver{}
	snap := NewCacheSnapshotter(saver, staticSnapshot{n: 4}, zaptest.NewLogger(t))

	require.NoError(t, snap.Tick(context.Background()))
	assert.Equal(t, 1, saver.saved)

	saver.err = errors.New("s3 unavailable")
	assert.EqualError(t, snap.Tick(context.Background()), "s3 unavailable")
}
