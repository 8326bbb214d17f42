package jobs

import (
	"context"
	"time"

	"github.com/cloo-solutions/lexrag/internal/storage"
	"go.uber.org/zap"
)

// ExpiringCache is a cache that can drop its expired entries on demand.
type ExpiringCache interface {
	SweepExpired(now time.Time) int
	Len() int
}

// CacheSweeper evicts expired semantic cache entries.
type CacheSweeper struct {
	cache  ExpiringCache
	logger *zap.Logger
	now    func() time.Time
}

func NewCacheSweeper(cache ExpiringCache, logger *zap.Logger) *CacheSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheSweeper{cache: cache, logger: logger, now: time.Now}
}

func (s *CacheSweeper) Name() string { return "cache_sweep" }

// Tick runs one sweep.
func (s *CacheSweeper) Tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	removed := s.cache.SweepExpired(s.now())
	if removed > 0 {
		s.logger.Debug("swept expired cache entries", zap.Int("removed", removed), zap.Int("remaining", s.cache.Len()))
	}
	return nil
}

// SnapshotSaver persists a cache snapshot.
type SnapshotSaver interface {
	Save(ctx context.Context, cache storage.Snapshotter) (int, error)
}

// CacheSnapshotter writes the semantic cache to object storage so a crash
// loses at most one interval of entries.
type CacheSnapshotter struct {
	store  SnapshotSaver
	cache  storage.Snapshotter
	logger *zap.Logger
}

func NewCacheSnapshotter(store SnapshotSaver, cache storage.Snapshotter, logger *zap.Logger) *CacheSnapshotter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheSnapshotter{store: store, cache: cache, logger: logger}
}

func (s *CacheSnapshotter) Name() string { return "cache_snapshot" }

func (s *CacheSnapshotter) Tick(ctx context.Context) error {
	n, err := s.store.Save(ctx, s.cache)
	if err != nil {
		return err
	}
	s.logger.Debug("semantic cache snapshot saved", zap.Int("entries", n))
	return nil
}
