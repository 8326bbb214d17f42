package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/cloo-solutions/lexrag/internal/domain"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	defaultCacheTTL       = 24 * time.Hour
	defaultCacheThreshold = 0.85
	defaultCacheCapacity  = 500
	cacheSweepWatermark   = 0.8
	cacheSnapshotVersion  = 1
)

// SemanticCacheConfig controls the semantic cache.
type SemanticCacheConfig struct {
	TTL       time.Duration
	Threshold float64
	Capacity  int
}

// DefaultSemanticCacheConfig returns the default cache configuration.
func DefaultSemanticCacheConfig() SemanticCacheConfig {
	return SemanticCacheConfig{
		TTL:       defaultCacheTTL,
		Threshold: defaultCacheThreshold,
		Capacity:  defaultCacheCapacity,
	}
}

// CacheStats is a point-in-time view of cache counters.
type CacheStats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// SemanticCache returns earlier answers for near-duplicate queries. Lookups
// scan every live entry; the capacity keeps that bounded.
type SemanticCache struct {
	embedding EmbeddingServiceInterface
	cfg       SemanticCacheConfig
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*domain.CachedAnswer

	hits      *atomic.Int64
	misses    *atomic.Int64
	evictions *atomic.Int64
}

// NewSemanticCache creates an empty cache.
func NewSemanticCache(embedding EmbeddingServiceInterface, cfg SemanticCacheConfig, logger *zap.Logger) *SemanticCache {
	defaults := DefaultSemanticCacheConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaults.Threshold
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaults.Capacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticCache{
		embedding: embedding,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		entries:   make(map[string]*domain.CachedAnswer),
		hits:      atomic.NewInt64(0),
		misses:    atomic.NewInt64(0),
		evictions: atomic.NewInt64(0),
	}
}

// CacheKey is the stable key of a query.
func CacheKey(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:])
}

// Lookup embeds query and returns the best live entry at or above the
// similarity threshold, or nil.
func (c *SemanticCache) Lookup(ctx context.Context, query string) (*domain.CachedAnswer, error) {
	embedding, err := c.embedding.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed cache lookup: %w", err)
	}
	return c.LookupEmbedding(embedding), nil
}

// LookupEmbedding is Lookup for an already embedded query.
func (c *SemanticCache) LookupEmbedding(embedding []float32) *domain.CachedAnswer {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var best *domain.CachedAnswer
	bestScore := -1.0
	for _, entry := range c.entries {
		if entry.Expired(now, c.cfg.TTL) {
			continue
		}
		score := cosineSimilarity(embedding, entry.QueryEmbedding)
		if score > bestScore {
			best, bestScore = entry, score
		}
	}

	if best == nil || bestScore < c.cfg.Threshold {
		c.misses.Inc()
		return nil
	}

	best.AccessCount++
	best.LastAccessedAt = now
	c.hits.Inc()

	hit := *best
	return &hit
}

// Store embeds query and caches the answer under it.
func (c *SemanticCache) Store(ctx context.Context, query, response string, sources []domain.Source) error {
	embedding, err := c.embedding.GenerateEmbedding(ctx, query)
	if err != nil {
		return fmt.Errorf("embed cache entry: %w", err)
	}
	c.StoreEmbedding(query, embedding, response, sources)
	return nil
}

// StoreEmbedding caches the answer for an already embedded query.
func (c *SemanticCache) StoreEmbedding(query string, embedding []float32, response string, sources []domain.Source) {
	now := c.now()
	key := CacheKey(query)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.makeRoomLocked(now)
	}

	c.entries[key] = &domain.CachedAnswer{
		Key:            key,
		Query:          query,
		QueryEmbedding: embedding,
		Response:       response,
		Sources:        sources,
		CreatedAt:      now,
		LastAccessedAt: now,
		Complexity:     estimateComplexity(query),
	}
}

func (c *SemanticCache) makeRoomLocked(now time.Time) {
	if float64(len(c.entries)) >= float64(c.cfg.Capacity)*cacheSweepWatermark {
		c.sweepLocked(now)
	}
	for len(c.entries) >= c.cfg.Capacity {
		var lruKey string
		var lruAt time.Time
		for key, entry := range c.entries {
			if lruKey == "" || entry.LastAccessedAt.Before(lruAt) {
				lruKey, lruAt = key, entry.LastAccessedAt
			}
		}
		delete(c.entries, lruKey)
		c.evictions.Inc()
	}
}

// SweepExpired removes every entry past its TTL and returns how many went.
func (c *SemanticCache) SweepExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(now)
}

func (c *SemanticCache) sweepLocked(now time.Time) int {
	removed := 0
	for key, entry := range c.entries {
		if entry.Expired(now, c.cfg.TTL) {
			delete(c.entries, key)
			removed++
		}
	}
	c.evictions.Add(int64(removed))
	return removed
}

// Len returns the number of held entries, expired ones included.
func (c *SemanticCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry and resets the counters.
func (c *SemanticCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*domain.CachedAnswer)
	c.mu.Unlock()
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
}

// Stats returns the current counters.
func (c *SemanticCache) Stats() CacheStats {
	return CacheStats{
		Entries:   c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

type cacheSnapshot struct {
	Version int                    `json:"version"`
	SavedAt time.Time              `json:"saved_at"`
	Entries []*domain.CachedAnswer `json:"entries"`
}

// Snapshot writes every live entry to w as JSON.
func (c *SemanticCache) Snapshot(w io.Writer) (int, error) {
	now := c.now()

	c.mu.Lock()
	snap := cacheSnapshot{Version: cacheSnapshotVersion, SavedAt: now}
	for _, entry := range c.entries {
		if !entry.Expired(now, c.cfg.TTL) {
			copied := *entry
			snap.Entries = append(snap.Entries, &copied)
		}
	}
	c.mu.Unlock()

	if err := json.NewEncoder(w).Encode(snap); err != nil {
		return 0, fmt.Errorf("encode cache snapshot: %w", err)
	}
	return len(snap.Entries), nil
}

// Restore loads entries written by Snapshot, skipping expired ones and
// honoring capacity.
func (c *SemanticCache) Restore(r io.Reader) (int, error) {
	var snap cacheSnapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return 0, fmt.Errorf("decode cache snapshot: %w", err)
	}
	if snap.Version != cacheSnapshotVersion {
		return 0, fmt.Errorf("unsupported cache snapshot version %d", snap.Version)
	}

	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	restored := 0
	for _, entry := range snap.Entries {
		if entry == nil || len(entry.QueryEmbedding) == 0 || entry.Expired(now, c.cfg.TTL) {
			continue
		}
		if entry.Key == "" {
			entry.Key = CacheKey(entry.Query)
		}
		if _, exists := c.entries[entry.Key]; !exists {
			c.makeRoomLocked(now)
		}
		c.entries[entry.Key] = entry
		restored++
	}
	return restored, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func estimateComplexity(query string) domain.Complexity {
	words := len(strings.Fields(query))
	clauses := strings.Count(query, ",") + strings.Count(strings.ToLower(query), " and ") + strings.Count(query, "?")
	switch {
	case words <= 8 && clauses <= 1:
		return domain.ComplexitySimple
	case words <= 25 && clauses <= 3:
		return domain.ComplexityModerate
	default:
		return domain.ComplexityComplex
	}
}
