package service

import (
	"context"
	"strings"
	"sync"

	"github.com/cloo-solutions/lexrag/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockEmbeddingService is a mock implementation of EmbeddingServiceInterface
type MockEmbeddingService struct {
	mock.Mock
}

func (m *MockEmbeddingService) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockDocumentIndex is a mock implementation of DocumentIndex
type MockDocumentIndex struct {
	mock.Mock
}

func (m *MockDocumentIndex) QueryByVector(ctx context.Context, embedding []float32, k int, filters IndexFilters) ([]*domain.RankedCandidate, error) {
	args := m.Called(ctx, embedding, k, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.RankedCandidate), args.Error(1)
}

func (m *MockDocumentIndex) QueryByKeyword(ctx context.Context, query string, k int, filters IndexFilters) ([]*domain.RankedCandidate, error) {
	args := m.Called(ctx, query, k, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.RankedCandidate), args.Error(1)
}

// MockTurnStore is a mock implementation of TurnStore
type MockTurnStore struct {
	mock.Mock
}

func (m *MockTurnStore) SaveTurn(ctx context.Context, turn *domain.ConversationTurn) error {
	args := m.Called(ctx, turn)
	return args.Error(0)
}

func (m *MockTurnStore) RecentTurns(ctx context.Context, conversationID string, limit int) ([]*domain.ConversationTurn, error) {
	args := m.Called(ctx, conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ConversationTurn), args.Error(1)
}

func (m *MockTurnStore) CountTurns(ctx context.Context, conversationID string) (int, error) {
	args := m.Called(ctx, conversationID)
	return args.Int(0), args.Error(1)
}

func (m *MockTurnStore) SearchSimilarTurns(ctx context.Context, userID, excludeConversationID string, embedding []float32, limit int) ([]*domain.ScoredTurn, error) {
	args := m.Called(ctx, userID, excludeConversationID, embedding, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ScoredTurn), args.Error(1)
}

// MockCompleter is a mock implementation of Completer
type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// stubEmbedder returns fixed vectors per text and a default for anything else.
type stubEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
	err      error
}

func (s *stubEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return s.fallback, nil
}

// fakeGenerator streams canned deltas. With block set it waits for the
// context to end after the deltas.
type fakeGenerator struct {
	name   string
	deltas []string
	err    error
	block  bool

	mu       sync.Mutex
	requests []domain.GenerationRequest
}

func (g *fakeGenerator) Name() string { return g.name }

func (g *fakeGenerator) Generate(_ context.Context, req domain.GenerationRequest) (string, error) {
	g.record(req)
	if g.err != nil {
		return "", g.err
	}
	return strings.Join(g.deltas, ""), nil
}

func (g *fakeGenerator) GenerateStream(ctx context.Context, req domain.GenerationRequest, onDelta func(string) error) (string, error) {
	g.record(req)
	var sb strings.Builder
	for _, d := range g.deltas {
		if err := ctx.Err(); err != nil {
			return sb.String(), err
		}
		sb.WriteString(d)
		if err := onDelta(d); err != nil {
			return sb.String(), err
		}
	}
	if g.block {
		<-ctx.Done()
		return sb.String(), ctx.Err()
	}
	if g.err != nil {
		return sb.String(), g.err
	}
	return sb.String(), nil
}

func (g *fakeGenerator) record(req domain.GenerationRequest) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
}

func (g *fakeGenerator) lastRequest() domain.GenerationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.requests) == 0 {
		return domain.GenerationRequest{}
	}
	return g.requests[len(g.requests)-1]
}

// syncSubmitter runs submitted tasks inline and remembers their names.
type syncSubmitter struct {
	mu    sync.Mutex
	names []string
	errs  []error
}

func (s *syncSubmitter) Submit(name string, run func(ctx context.Context) error) error {
	err := run(context.Background())
	s.mu.Lock()
	s.names = append(s.names, name)
	s.errs = append(s.errs, err)
	s.mu.Unlock()
	return nil
}

func (s *syncSubmitter) submitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

func candidate(title, content string, vectorSimilarity float64) *domain.RankedCandidate {
	return &domain.RankedCandidate{
		Chunk: domain.DocumentChunk{
			ID:       strings.ToLower(strings.ReplaceAll(title, " ", "-")),
			Content:  content,
			Metadata: domain.ChunkMetadata{Title: title},
		},
		VectorSimilarity: vectorSimilarity,
	}
}

func scored(title string, score float64) *domain.RankedCandidate {
	c := candidate(title, "content of "+title, score)
	c.HybridScore = score
	c.Score = score
	return c
}
