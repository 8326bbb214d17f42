package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloo-solutions/lexrag/internal/domain"
	"github.com/cloo-solutions/lexrag/internal/telemetry"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRecentTurns        = 15
	defaultLongTermMinQuery   = 50
	defaultLongTermMinTurns   = 5
	defaultLongTermSimilarity = 0.75
	defaultLongTermLimit      = 5
	defaultSummaryThreshold   = 20
	defaultSummaryWindow      = 10
	defaultSummaryTimeout     = 15 * time.Second

	// Embedding inputs are cut to stay under the provider's token limit.
	maxEmbeddingInputChars = 8000
)

const summaryInstruction = `Summarize the following legal consultation in two or three sentences.
Keep the legal issue, the jurisdiction if stated, and any conclusions reached. Do not add facts.`

// TurnStore is the durable, append-only conversation turn store.
type TurnStore interface {
	SaveTurn(ctx context.Context, turn *domain.ConversationTurn) error
	// RecentTurns returns up to limit turns of the conversation, oldest first.
	RecentTurns(ctx context.Context, conversationID string, limit int) ([]*domain.ConversationTurn, error)
	CountTurns(ctx context.Context, conversationID string) (int, error)
	// SearchSimilarTurns searches turns of userID outside excludeConversationID.
	SearchSimilarTurns(ctx context.Context, userID, excludeConversationID string, embedding []float32, limit int) ([]*domain.ScoredTurn, error)
}

// MemoryConfig controls the memory windows and gates.
type MemoryConfig struct {
	RecentTurns         int
	LongTermMinQueryLen int
	LongTermMinTurns    int
	LongTermSimilarity  float64
	LongTermLimit       int
	SummaryThreshold    int
	SummaryWindow       int
	SummaryTimeout      time.Duration
}

// DefaultMemoryConfig returns the default memory configuration.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		RecentTurns:         defaultRecentTurns,
		LongTermMinQueryLen: defaultLongTermMinQuery,
		LongTermMinTurns:    defaultLongTermMinTurns,
		LongTermSimilarity:  defaultLongTermSimilarity,
		LongTermLimit:       defaultLongTermLimit,
		SummaryThreshold:    defaultSummaryThreshold,
		SummaryWindow:       defaultSummaryWindow,
		SummaryTimeout:      defaultSummaryTimeout,
	}
}

// MemoryManager builds per-request memory context and persists finished turns.
type MemoryManager struct {
	store     TurnStore
	embedding EmbeddingServiceInterface
	completer Completer
	cfg       MemoryConfig
	logger    *zap.Logger
}

// NewMemoryManager creates a MemoryManager. A nil completer disables summaries.
func NewMemoryManager(store TurnStore, embedding EmbeddingServiceInterface, completer Completer, cfg MemoryConfig, logger *zap.Logger) *MemoryManager {
	defaults := DefaultMemoryConfig()
	if cfg.RecentTurns <= 0 {
		cfg.RecentTurns = defaults.RecentTurns
	}
	if cfg.LongTermMinQueryLen <= 0 {
		cfg.LongTermMinQueryLen = defaults.LongTermMinQueryLen
	}
	if cfg.LongTermMinTurns <= 0 {
		cfg.LongTermMinTurns = defaults.LongTermMinTurns
	}
	if cfg.LongTermSimilarity <= 0 {
		cfg.LongTermSimilarity = defaults.LongTermSimilarity
	}
	if cfg.LongTermLimit <= 0 {
		cfg.LongTermLimit = defaults.LongTermLimit
	}
	if cfg.SummaryThreshold <= 0 {
		cfg.SummaryThreshold = defaults.SummaryThreshold
	}
	if cfg.SummaryWindow <= 0 {
		cfg.SummaryWindow = defaults.SummaryWindow
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = defaults.SummaryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryManager{
		store:     store,
		embedding: embedding,
		completer: completer,
		cfg:       cfg,
		logger:    logger,
	}
}

// ShouldSearchLongTerm reports whether the query is substantial enough, and the
// conversation long enough, to justify a cross-conversation search.
func (m *MemoryManager) ShouldSearchLongTerm(query string, totalTurns int) bool {
	return len([]rune(strings.TrimSpace(query))) > m.cfg.LongTermMinQueryLen && totalTurns > m.cfg.LongTermMinTurns
}

// ShouldSummarize reports whether the conversation has outgrown the threshold.
func (m *MemoryManager) ShouldSummarize(totalTurns int) bool {
	return totalTurns > m.cfg.SummaryThreshold
}

// Build assembles the memory context for one request. Failures of any part are
// logged and leave that part empty.
func (m *MemoryManager) Build(ctx context.Context, conversationID, userID, query string) domain.MemoryContext {
	ctx, span := telemetry.StartSpan(ctx, "MemoryManager.Build", telemetry.SpanAttributes{
		ConversationID: conversationID,
		UserID:         userID,
		Operation:      "memory",
	})
	defer span.End()

	window := m.cfg.RecentTurns
	if m.cfg.SummaryWindow > window {
		window = m.cfg.SummaryWindow
	}

	turns, err := m.store.RecentTurns(ctx, conversationID, window)
	if err != nil {
		m.logger.Warn("failed to load recent turns", zap.String("conversation_id", conversationID), zap.Error(err))
		turns = nil
	}

	total, err := m.store.CountTurns(ctx, conversationID)
	if err != nil {
		m.logger.Warn("failed to count turns", zap.String("conversation_id", conversationID), zap.Error(err))
		total = len(turns)
	}

	mc := domain.MemoryContext{
		RecentTurns: derefTurns(lastTurns(turns, m.cfg.RecentTurns)),
		TotalTurns:  total,
	}

	var wg sync.WaitGroup
	if m.ShouldSearchLongTerm(query, total) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mc.RelevantHistory = m.longTerm(ctx, conversationID, userID, query)
		}()
	}
	if m.ShouldSummarize(total) && m.completer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mc.Summary = m.summarize(ctx, lastTurns(turns, m.cfg.SummaryWindow))
		}()
	}
	wg.Wait()

	span.SetData("relevant_history", len(mc.RelevantHistory))
	span.SetData("summarized", mc.Summary != "")
	return mc
}

func (m *MemoryManager) longTerm(ctx context.Context, conversationID, userID, query string) []domain.ScoredTurn {
	embedding, err := m.embedding.GenerateEmbedding(ctx, query)
	if err != nil {
		m.logger.Warn("long-term memory skipped: query embedding failed", zap.Error(err))
		return nil
	}
	hits, err := m.store.SearchSimilarTurns(ctx, userID, conversationID, embedding, m.cfg.LongTermLimit*2)
	if err != nil {
		m.logger.Warn("long-term memory search failed", zap.String("user_id", userID), zap.Error(err))
		return nil
	}

	out := make([]domain.ScoredTurn, 0, m.cfg.LongTermLimit)
	for _, h := range hits {
		if h == nil || h.Turn.ConversationID == conversationID || h.Turn.UserID != userID {
			continue
		}
		if h.Similarity <= m.cfg.LongTermSimilarity {
			continue
		}
		h.Similarity = domain.Clamp01(h.Similarity)
		out = append(out, *h)
		if len(out) >= m.cfg.LongTermLimit {
			break
		}
	}
	return out
}

func (m *MemoryManager) summarize(ctx context.Context, turns []*domain.ConversationTurn) string {
	if len(turns) == 0 {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.SummaryTimeout)
	defer cancel()

	var b strings.Builder
	for _, t := range turns {
		b.WriteString(roleLabel(t.Role))
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(t.Content))
		b.WriteString("\n")
	}

	summary, err := m.completer.Generate(ctx, domain.GenerationRequest{
		Messages: []domain.ChatMessage{
			{Role: "system", Content: summaryInstruction},
			{Role: "user", Content: b.String()},
		},
		MaxTokens:   160,
		Temperature: 0.2,
	})
	if err != nil {
		m.logger.Warn("conversation summary failed", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(summary)
}

// PersistInput describes a finished question and answer pair.
type PersistInput struct {
	ConversationID string
	UserID         string
	Query          string
	Answer         string
	Sources        []domain.Source
	AskedAt        time.Time
	AnsweredAt     time.Time
}

// Persist embeds both sides of the exchange concurrently and, only if both
// embeddings succeed, writes the two turns concurrently.
func (m *MemoryManager) Persist(ctx context.Context, in PersistInput) error {
	var queryEmbedding, answerEmbedding []float32
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		queryEmbedding, err = m.embedding.GenerateEmbedding(gctx, truncateRunes(in.Query, maxEmbeddingInputChars))
		return err
	})
	g.Go(func() error {
		var err error
		answerEmbedding, err = m.embedding.GenerateEmbedding(gctx, truncateRunes(in.Answer, maxEmbeddingInputChars))
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("skipping turn persistence, embedding failed: %w", err)
	}

	askedAt := in.AskedAt
	if askedAt.IsZero() {
		askedAt = time.Now().UTC()
	}
	answeredAt := in.AnsweredAt
	if !answeredAt.After(askedAt) {
		answeredAt = askedAt.Add(time.Millisecond)
	}

	turns := []*domain.ConversationTurn{
		{
			ID:             uuid.NewString(),
			ConversationID: in.ConversationID,
			UserID:         in.UserID,
			Role:           domain.RoleUser,
			Content:        in.Query,
			Timestamp:      askedAt,
			Embedding:      queryEmbedding,
		},
		{
			ID:             uuid.NewString(),
			ConversationID: in.ConversationID,
			UserID:         in.UserID,
			Role:           domain.RoleAssistant,
			Content:        in.Answer,
			Timestamp:      answeredAt,
			Sources:        in.Sources,
			Embedding:      answerEmbedding,
		},
	}

	var (
		mu     sync.Mutex
		result *multierror.Error
		wg     sync.WaitGroup
	)
	for _, turn := range turns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.store.SaveTurn(ctx, turn); err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("save %s turn: %w", turn.Role, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return result.ErrorOrNil()
}

func lastTurns(turns []*domain.ConversationTurn, n int) []*domain.ConversationTurn {
	if n <= 0 || len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

func derefTurns(turns []*domain.ConversationTurn) []domain.ConversationTurn {
	out := make([]domain.ConversationTurn, 0, len(turns))
	for _, t := range turns {
		if t != nil {
			out = append(out, *t)
		}
	}
	return out
}

func roleLabel(role domain.Role) string {
	if role == domain.RoleAssistant {
		return "Assistant"
	}
	return "User"
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
