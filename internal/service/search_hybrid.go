package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cloo-solutions/lexrag/internal/domain"
	"github.com/cloo-solutions/lexrag/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultVectorWeight    = 0.7
	defaultKeywordWeight   = 0.3
	defaultTopK            = 20
	defaultMinSimilarity   = 0.35
	defaultMaxSources      = 5
	fastPathSimilarity     = 0.5
	fastPathMinCandidates  = 3
	lowConfidenceThreshold = 0.5
)

// IndexFilters narrows an index query.
type IndexFilters struct {
	Category string
}

// DocumentIndex is the external vector index holding legal source chunks.
type DocumentIndex interface {
	QueryByVector(ctx context.Context, embedding []float32, k int, filters IndexFilters) ([]*domain.RankedCandidate, error)
	QueryByKeyword(ctx context.Context, query string, k int, filters IndexFilters) ([]*domain.RankedCandidate, error)
}

// EmbeddingServiceInterface defines the interface for embedding generation
type EmbeddingServiceInterface interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// RetrieverConfig controls hybrid retrieval.
type RetrieverConfig struct {
	TopK          int
	MinSimilarity float64
	MaxSources    int
	VectorWeight  float64
	KeywordWeight float64
}

// DefaultRetrieverConfig returns the default retrieval configuration.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		TopK:          defaultTopK,
		MinSimilarity: defaultMinSimilarity,
		MaxSources:    defaultMaxSources,
		VectorWeight:  defaultVectorWeight,
		KeywordWeight: defaultKeywordWeight,
	}
}

// RetrievalInput is one retrieval request. Queries[0] is the original query.
type RetrievalInput struct {
	Queries  []string
	Entities domain.LegalEntitySet
	Filters  IndexFilters
}

// RetrievalResult holds the accepted candidates and how they were chosen.
type RetrievalResult struct {
	Candidates []*domain.RankedCandidate
	// Considered is the number of distinct candidates scored before filtering.
	Considered    int
	FastPath      bool
	LowConfidence bool
	NoMatch       bool
}

// HybridRetriever ranks index candidates by vector similarity and keyword overlap.
type HybridRetriever struct {
	index     DocumentIndex
	embedding EmbeddingServiceInterface
	vocab     *Vocabulary
	cfg       RetrieverConfig
	logger    *zap.Logger
}

// NewHybridRetriever creates a HybridRetriever.
func NewHybridRetriever(index DocumentIndex, embedding EmbeddingServiceInterface, cfg RetrieverConfig, logger *zap.Logger) *HybridRetriever {
	defaults := DefaultRetrieverConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = defaults.TopK
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = defaults.MaxSources
	}
	if cfg.VectorWeight == 0 && cfg.KeywordWeight == 0 {
		cfg.VectorWeight = defaults.VectorWeight
		cfg.KeywordWeight = defaults.KeywordWeight
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridRetriever{
		index:     index,
		embedding: embedding,
		vocab:     DefaultVocabulary(),
		cfg:       cfg,
		logger:    logger,
	}
}

// Config returns the active configuration.
func (r *HybridRetriever) Config() RetrieverConfig {
	return r.cfg
}

// Retrieve runs the vector and keyword sub-searches, merges and boosts the
// candidates, and applies the threshold, ceiling and no-match gate.
func (r *HybridRetriever) Retrieve(ctx context.Context, in RetrievalInput) (*RetrievalResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "HybridRetriever.Retrieve", telemetry.SpanAttributes{
		Operation: "retrieve",
	})
	defer span.End()

	queries := dedupeFold(in.Queries)
	if len(queries) == 0 {
		return &RetrievalResult{NoMatch: true}, nil
	}
	original := queries[0]

	vectorLists, err := r.vectorSearch(ctx, queries, in.Filters)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	merged := newCandidateSet()
	for _, list := range vectorLists {
		for _, c := range list {
			merged.addVector(c)
		}
	}

	result := &RetrievalResult{}
	if fast := merged.aboveSimilarity(fastPathSimilarity); len(fast) >= fastPathMinCandidates {
		result.FastPath = true
		for _, c := range fast {
			c.HybridScore = domain.Clamp01(c.VectorSimilarity)
		}
		r.finish(result, original, in.Entities, fast)
		span.SetData("fast_path", true)
		return result, nil
	}

	keywordHits, err := r.index.QueryByKeyword(ctx, original, r.cfg.TopK, in.Filters)
	if err != nil {
		r.logger.Warn("keyword search failed, continuing with vector candidates", zap.Error(err))
		keywordHits = nil
	}
	for _, c := range keywordHits {
		merged.addKeyword(c)
	}

	queryTokens := tokenize(original, r.vocab)
	candidates := merged.list()
	for _, c := range candidates {
		c.VectorSimilarity = domain.Clamp01(c.VectorSimilarity)
		c.KeywordScore = keywordScore(queryTokens, c.Chunk.Content, r.vocab)
		c.HybridScore = domain.Clamp01(c.VectorSimilarity*r.cfg.VectorWeight + c.KeywordScore*r.cfg.KeywordWeight)
	}

	r.finish(result, original, in.Entities, candidates)
	return result, nil
}

func (r *HybridRetriever) vectorSearch(ctx context.Context, queries []string, filters IndexFilters) ([][]*domain.RankedCandidate, error) {
	lists := make([][]*domain.RankedCandidate, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			embedding, err := r.embedding.GenerateEmbedding(gctx, q)
			if err != nil {
				return fmt.Errorf("embed retrieval query: %w", err)
			}
			hits, err := r.index.QueryByVector(gctx, embedding, r.cfg.TopK, filters)
			if err != nil {
				return domain.Upstream(domain.ErrIndexUnavailable, err)
			}
			lists[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lists, nil
}

// finish boosts, sorts, filters and gates the scored candidates into result.
func (r *HybridRetriever) finish(result *RetrievalResult, query string, entities domain.LegalEntitySet, candidates []*domain.RankedCandidate) {
	boosts := newBoostContext(query, entities, r.vocab)
	for _, c := range candidates {
		c.Score = domain.Clamp01(c.HybridScore + boosts.boost(c))
	}
	sortCandidates(candidates)
	result.Considered = len(candidates)

	accepted := make([]*domain.RankedCandidate, 0, r.cfg.MaxSources)
	for _, c := range candidates {
		if c.Score < r.cfg.MinSimilarity {
			break
		}
		accepted = append(accepted, c)
		if len(accepted) >= r.cfg.MaxSources {
			break
		}
	}

	if len(accepted) == 0 {
		result.NoMatch = true
		return
	}
	if accepted[0].Score < lowConfidenceThreshold {
		result.LowConfidence = true
		if !hasKeywordMatch(query, entities, candidates, r.vocab) {
			r.logger.Debug("low-confidence candidates share no significant term with the query",
				zap.Int("candidates", len(candidates)))
			result.NoMatch = true
			return
		}
	}
	result.Candidates = accepted
}

// hasKeywordMatch reports whether any candidate contains a significant query
// token or a detected Latin term. A query with neither defers to the scores.
func hasKeywordMatch(query string, entities domain.LegalEntitySet, candidates []*domain.RankedCandidate, vocab *Vocabulary) bool {
	tokens := significantTokens(query, vocab)
	latin := make([]string, 0, len(entities.LatinTerms))
	for _, l := range entities.LatinTerms {
		latin = append(latin, strings.TrimSpace(normalizeText(l)))
	}
	if len(tokens) == 0 && len(latin) == 0 {
		return true
	}
	for _, c := range candidates {
		text := normalizeText(c.Chunk.Content + " " + c.Chunk.Metadata.Title)
		for _, t := range tokens {
			if containsPhrase(text, t) {
				return true
			}
		}
		for _, l := range latin {
			if containsPhrase(text, l) {
				return true
			}
		}
	}
	return false
}

func sortCandidates(candidates []*domain.RankedCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].VectorSimilarity > candidates[j].VectorSimilarity
	})
}

// candidateSet merges sub-search hits by content identity, keeping the best
// similarity seen for each and first-seen order.
type candidateSet struct {
	byKey map[string]*domain.RankedCandidate
	order []string
}

func newCandidateSet() *candidateSet {
	return &candidateSet{byKey: make(map[string]*domain.RankedCandidate)}
}

func candidateKey(c *domain.RankedCandidate) string {
	return strings.Join(strings.Fields(c.Chunk.Content), " ")
}

func (s *candidateSet) get(c *domain.RankedCandidate) *domain.RankedCandidate {
	key := candidateKey(c)
	if existing, ok := s.byKey[key]; ok {
		return existing
	}
	cloned := &domain.RankedCandidate{Chunk: c.Chunk}
	s.byKey[key] = cloned
	s.order = append(s.order, key)
	return cloned
}

func (s *candidateSet) addVector(c *domain.RankedCandidate) {
	if c == nil {
		return
	}
	cand := s.get(c)
	if c.VectorSimilarity > cand.VectorSimilarity {
		cand.VectorSimilarity = c.VectorSimilarity
	}
	if cand.Chunk.Metadata.Title == "" && c.Chunk.Metadata.Title != "" {
		cand.Chunk.Metadata = c.Chunk.Metadata
	}
}

func (s *candidateSet) addKeyword(c *domain.RankedCandidate) {
	if c == nil {
		return
	}
	cand := s.get(c)
	if cand.Chunk.Metadata.Title == "" && c.Chunk.Metadata.Title != "" {
		cand.Chunk.Metadata = c.Chunk.Metadata
	}
}

func (s *candidateSet) aboveSimilarity(threshold float64) []*domain.RankedCandidate {
	var out []*domain.RankedCandidate
	for _, key := range s.order {
		if c := s.byKey[key]; c.VectorSimilarity > threshold {
			out = append(out, c)
		}
	}
	return out
}

func (s *candidateSet) list() []*domain.RankedCandidate {
	out := make([]*domain.RankedCandidate, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.byKey[key])
	}
	return out
}
