package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloo-solutions/lexrag/internal/domain"
	"github.com/cloo-solutions/lexrag/internal/observability"
	"github.com/cloo-solutions/lexrag/internal/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxQueryLength    = 2000
	defaultMaxTokens         = 1500
	defaultTemperature       = 0.2
	defaultGenerationTimeout = 90 * time.Second
	defaultStreamIdleTimeout = 20 * time.Second

	eventBuffer = 32
)

// Progress strings sent as status events.
const (
	StatusCheckingCache = "Checking cache"
	StatusSearching     = "Searching legal sources"
	StatusGenerating    = "Generating answer"
)

// AnswerRequest is one call of the answer operation.
type AnswerRequest struct {
	Query          string
	History        []domain.HistoryMessage
	ConversationID string
	UserID         string
	Provider       string
	Filters        IndexFilters
}

// AnswerCache is the semantic answer cache.
type AnswerCache interface {
	Lookup(ctx context.Context, query string) (*domain.CachedAnswer, error)
	Store(ctx context.Context, query, response string, sources []domain.Source) error
	Len() int
}

// QueryAnalyzer expands queries and extracts legal entities.
type QueryAnalyzer interface {
	Expand(ctx context.Context, query string) []string
	IdentifyEntities(query string) domain.LegalEntitySet
}

// Retriever finds and ranks source candidates.
type Retriever interface {
	Retrieve(ctx context.Context, in RetrievalInput) (*RetrievalResult, error)
}

// MemoryBuilder builds memory context and persists finished exchanges.
type MemoryBuilder interface {
	Build(ctx context.Context, conversationID, userID, query string) domain.MemoryContext
	Persist(ctx context.Context, in PersistInput) error
}

// AnswerLogStore appends answer log rows.
type AnswerLogStore interface {
	SaveAnswerLog(ctx context.Context, log *domain.AnswerLog) error
}

// TaskSubmitter runs work outside the request.
type TaskSubmitter interface {
	Submit(name string, run func(ctx context.Context) error) error
}

// AnswerConfig holds the per-request limits of the answer pipeline.
type AnswerConfig struct {
	MaxQueryLength    int
	MaxTokens         int
	Temperature       float32
	GenerationTimeout time.Duration
	StreamIdleTimeout time.Duration
	ContextBudget     ContextBudget
	MinSimilarity     float64
	MaxSources        int
}

// DefaultAnswerConfig returns the default pipeline limits.
func DefaultAnswerConfig() AnswerConfig {
	return AnswerConfig{
		MaxQueryLength:    defaultMaxQueryLength,
		MaxTokens:         defaultMaxTokens,
		Temperature:       defaultTemperature,
		GenerationTimeout: defaultGenerationTimeout,
		StreamIdleTimeout: defaultStreamIdleTimeout,
		ContextBudget:     NewContextBudget(defaultContextCharLimit),
		MinSimilarity:     defaultMinSimilarity,
		MaxSources:        defaultMaxSources,
	}
}

// AnswerDeps are the collaborators of AnswerService. AnswerLogs, Background,
// Tokens, Metrics and Logger are optional.
type AnswerDeps struct {
	Cache      AnswerCache
	Query      QueryAnalyzer
	Retriever  Retriever
	Memory     MemoryBuilder
	Providers  *ProviderRegistry
	AnswerLogs AnswerLogStore
	Background TaskSubmitter
	Tokens     TokenCounter
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// AnswerService orchestrates one answer from cache lookup to persistence.
type AnswerService struct {
	deps AnswerDeps
	cfg  AnswerConfig
	post *PostProcessor
	now  func() time.Time
}

// NewAnswerService creates an AnswerService.
func NewAnswerService(deps AnswerDeps, cfg AnswerConfig) *AnswerService {
	defaults := DefaultAnswerConfig()
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = defaults.MaxQueryLength
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = defaults.GenerationTimeout
	}
	if cfg.StreamIdleTimeout <= 0 {
		cfg.StreamIdleTimeout = defaults.StreamIdleTimeout
	}
	if cfg.ContextBudget.Total <= 0 {
		cfg.ContextBudget = defaults.ContextBudget
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = defaults.MaxSources
	}
	if deps.Tokens == nil {
		deps.Tokens = CharTokenCounter{CharsPerToken: DefaultCharsPerToken}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &AnswerService{
		deps: deps,
		cfg:  cfg,
		post: NewPostProcessor(cfg.MinSimilarity, cfg.MaxSources),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Validate rejects requests the pipeline must not start work for.
func (s *AnswerService) Validate(req AnswerRequest) error {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return domain.ErrEmptyQuery
	}
	if utf8.RuneCountInString(query) > s.cfg.MaxQueryLength {
		return domain.ErrQueryTooLong
	}
	if strings.TrimSpace(req.ConversationID) == "" {
		return domain.ErrMissingConversation
	}
	if strings.TrimSpace(req.UserID) == "" {
		return domain.ErrMissingUser
	}
	return nil
}

// Answer runs the pipeline and streams its events. The channel is closed
// after the last event. Consumers must read until close or cancel ctx.
func (s *AnswerService) Answer(ctx context.Context, req AnswerRequest) <-chan domain.Event {
	out := make(chan domain.Event, eventBuffer)
	go func() {
		defer close(out)
		s.run(ctx, req, &emitter{ctx: ctx, out: out})
	}()
	return out
}

// emitter sends events until the request is cancelled. After cancellation it
// still delivers events the buffer has room for.
type emitter struct {
	ctx context.Context
	out chan<- domain.Event
}

func (e *emitter) send(ev domain.Event) bool {
	select {
	case e.out <- ev:
		return true
	case <-e.ctx.Done():
		select {
		case e.out <- ev:
			return true
		default:
			return false
		}
	}
}

// answerRun carries the state of one pipeline invocation.
type answerRun struct {
	req       AnswerRequest
	query     string
	provider  string
	startedAt time.Time
	metadata  map[string]any
}

func (s *AnswerService) run(ctx context.Context, req AnswerRequest, em *emitter) {
	r := &answerRun{
		req:       req,
		query:     strings.TrimSpace(req.Query),
		startedAt: s.now(),
		metadata:  map[string]any{},
	}

	if err := s.Validate(req); err != nil {
		s.deps.Metrics.CountAnswer(domain.OutcomeRejected)
		em.send(domain.ErrorEvent(err))
		return
	}
	gen, err := s.deps.Providers.Resolve(req.Provider)
	if err != nil {
		s.deps.Metrics.CountAnswer(domain.OutcomeRejected)
		em.send(domain.ErrorEvent(err))
		return
	}
	r.provider = gen.Name()
	r.metadata["provider"] = r.provider

	ctx, span := telemetry.StartSpan(ctx, "AnswerService.Answer", telemetry.SpanAttributes{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Provider:       r.provider,
		Operation:      "answer",
	})
	defer span.End()

	em.send(domain.StatusEvent(StatusCheckingCache))
	if hit := s.lookupCache(ctx, r.query); hit != nil {
		s.serveCached(ctx, r, hit, em)
		return
	}

	em.send(domain.StatusEvent(StatusSearching))
	retrieval, memory, err := s.gather(ctx, r)
	if err != nil {
		if ctx.Err() != nil {
			s.stopped(ctx, r, "", em)
			return
		}
		span.SetError(err)
		s.fail(ctx, r, "retrieval", domain.ErrIndexUnavailable, err, em)
		return
	}
	r.metadata["fast_path"] = retrieval.FastPath
	r.metadata["low_confidence"] = retrieval.LowConfidence
	r.metadata["sources_considered"] = retrieval.Considered

	if retrieval.NoMatch || len(retrieval.Candidates) == 0 {
		s.serveNoSources(ctx, r, em)
		return
	}

	s.generate(ctx, r, gen, retrieval.Candidates, memory, em)
}

func (s *AnswerService) lookupCache(ctx context.Context, query string) *domain.CachedAnswer {
	if s.deps.Cache == nil {
		return nil
	}
	start := time.Now()
	hit, err := s.deps.Cache.Lookup(ctx, query)
	s.deps.Metrics.ObserveStage("cache", time.Since(start))
	if err != nil {
		s.deps.Logger.Warn("semantic cache lookup failed, treating as miss", zap.Error(err))
		s.deps.Metrics.CountCacheLookup(false)
		return nil
	}
	s.deps.Metrics.CountCacheLookup(hit != nil)
	return hit
}

// gather runs query understanding plus retrieval concurrently with the
// memory build. Only retrieval errors are returned.
func (s *AnswerService) gather(ctx context.Context, r *answerRun) (*RetrievalResult, domain.MemoryContext, error) {
	var (
		retrieval *RetrievalResult
		memory    domain.MemoryContext
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		defer func() { s.deps.Metrics.ObserveStage("retrieval", time.Since(start)) }()

		queries := s.deps.Query.Expand(gctx, r.query)
		entities := s.deps.Query.IdentifyEntities(r.query)
		res, err := s.deps.Retriever.Retrieve(gctx, RetrievalInput{
			Queries:  queries,
			Entities: entities,
			Filters:  r.req.Filters,
		})
		if err != nil {
			return err
		}
		r.metadata["expanded_queries"] = len(queries)
		retrieval = res
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		memory = s.deps.Memory.Build(gctx, r.req.ConversationID, r.req.UserID, r.query)
		s.deps.Metrics.ObserveStage("memory", time.Since(start))
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, domain.MemoryContext{}, err
	}
	r.metadata["memory_turns"] = memory.TotalTurns
	return retrieval, memory, nil
}

func (s *AnswerService) serveCached(ctx context.Context, r *answerRun, hit *domain.CachedAnswer, em *emitter) {
	sources := hit.Sources
	if sources == nil {
		sources = []domain.Source{}
	}
	r.metadata["cache_hit"] = true
	r.metadata["confidence"] = Confidence(sources)
	r.metadata["cache_access_count"] = hit.AccessCount

	em.send(domain.StatusEvent(""))
	em.send(domain.TextDelta(hit.Response))
	em.send(domain.SourcesEvent(sources))
	s.finish(ctx, r, domain.OutcomeCacheHit, hit.Response, sources, false, em)
}

func (s *AnswerService) serveNoSources(ctx context.Context, r *answerRun, em *emitter) {
	answer := s.post.NoSources()
	r.metadata["no_sources"] = true
	r.metadata["confidence"] = 0

	em.send(domain.StatusEvent(""))
	em.send(domain.TextDelta(answer.Text))
	em.send(domain.SourcesEvent(answer.Sources))
	s.finish(ctx, r, domain.OutcomeNoSources, answer.Text, answer.Sources, false, em)
}

func (s *AnswerService) generate(ctx context.Context, r *answerRun, gen Generator, candidates []*domain.RankedCandidate, memory domain.MemoryContext, em *emitter) {
	assembled := s.cfg.ContextBudget.Assemble(
		formatHistory(r.req.History, memory.RecentTurns),
		formatSources(candidates),
		formatMemory(memory),
	)
	if assembled.Truncated {
		s.deps.Metrics.CountTruncation()
	}
	messages := buildPrompt(promptInput{Query: r.query, Context: assembled})
	promptTokens := 0
	for _, m := range messages {
		promptTokens += s.deps.Tokens.Count(m.Content)
	}
	r.metadata["prompt_tokens"] = promptTokens
	r.metadata["context_truncated"] = assembled.Truncated

	em.send(domain.StatusEvent(StatusGenerating))

	titles := SourceTitles(candidates)
	rewriter := newCitationRewriter(titles)
	cleared := false
	start := time.Now()
	raw, err := StreamWithWatchdog(ctx, gen, domain.GenerationRequest{
		Messages:    messages,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	}, s.cfg.GenerationTimeout, s.cfg.StreamIdleTimeout, func(delta string) error {
		if !cleared {
			cleared = true
			em.send(domain.StatusEvent(""))
		}
		if text := rewriter.Write(delta); text != "" {
			if !em.send(domain.TextDelta(text)) {
				return context.Cause(ctx)
			}
		}
		return nil
	})
	s.deps.Metrics.ObserveStage("generation", time.Since(start))
	r.metadata["generation_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		if ctx.Err() != nil {
			tail := rewriter.Flush()
			s.stopped(ctx, r, ResolveCitations(raw, titles), em, tail)
			return
		}
		s.fail(ctx, r, "generation", domain.ErrGenerationUnavailable, err, em)
		return
	}

	if tail := rewriter.Flush(); tail != "" {
		em.send(domain.TextDelta(tail))
	}
	processed := s.post.Process(raw, candidates)
	r.metadata["confidence"] = processed.Confidence
	r.metadata["citation_warning"] = processed.CitationWarning

	em.send(domain.TextDelta(Disclaimer))
	em.send(domain.SourcesEvent(processed.Sources))
	s.finish(ctx, r, domain.OutcomeAnswered, processed.Text, processed.Sources, true, em)
}

// stopped keeps whatever was produced before the caller cancelled. pending is
// streamed text the rewriter still held.
func (s *AnswerService) stopped(ctx context.Context, r *answerRun, partial string, em *emitter, pending ...string) {
	text := strings.TrimRight(partial, " \n") + UserStoppedMarker
	for _, p := range pending {
		if p != "" {
			em.send(domain.TextDelta(p))
		}
	}
	em.send(domain.TextDelta(UserStoppedMarker))
	r.metadata["stopped"] = true
	s.deps.Logger.Info("answer stopped by caller",
		zap.String("conversation_id", r.req.ConversationID),
		zap.Int("partial_chars", utf8.RuneCountInString(partial)))
	s.finish(ctx, r, domain.OutcomeStopped, text, nil, false, em)
}

// fail reports err as the terminal event. Errors without a domain code are
// reported as kind.
func (s *AnswerService) fail(ctx context.Context, r *answerRun, stage string, kind *domain.DomainError, err error, em *emitter) {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		err = domain.Upstream(kind, err)
	}
	s.deps.Metrics.CountUpstreamFailure(stage)
	s.deps.Metrics.CountAnswer(domain.OutcomeFailed)
	s.deps.Logger.Error("answer failed",
		zap.String("stage", stage),
		zap.String("conversation_id", r.req.ConversationID),
		zap.String("provider", r.provider),
		zap.Error(err))
	telemetry.AddBreadcrumb(ctx, "answer", "failed at "+stage)

	em.send(domain.ErrorEvent(err))
	s.logAnswer(ctx, r, domain.OutcomeFailed, nil)
}

// finish emits the metadata event and hands persistence to the background.
func (s *AnswerService) finish(ctx context.Context, r *answerRun, outcome, text string, sources []domain.Source, cacheable bool, em *emitter) {
	answeredAt := s.now()
	durationMS := answeredAt.Sub(r.startedAt).Milliseconds()
	r.metadata["outcome"] = outcome
	r.metadata["duration_ms"] = durationMS
	if _, ok := r.metadata["cache_hit"]; !ok {
		r.metadata["cache_hit"] = false
	}
	if sources == nil {
		sources = []domain.Source{}
	}
	r.metadata["source_count"] = len(sources)

	s.deps.Metrics.CountAnswer(outcome)
	s.deps.Metrics.ObserveStage("total", answeredAt.Sub(r.startedAt))
	em.send(domain.MetadataEvent(r.metadata))

	// Background work must outlive the request.
	bgCtx := context.WithoutCancel(ctx)
	persist := PersistInput{
		ConversationID: r.req.ConversationID,
		UserID:         r.req.UserID,
		Query:          r.query,
		Answer:         text,
		Sources:        sources,
		AskedAt:        r.startedAt,
		AnsweredAt:     answeredAt,
	}
	s.submit(bgCtx, "persist_turns", func(taskCtx context.Context) error {
		return s.deps.Memory.Persist(taskCtx, persist)
	})
	if cacheable && s.deps.Cache != nil {
		query := r.query
		s.submit(bgCtx, "cache_store", func(taskCtx context.Context) error {
			if err := s.deps.Cache.Store(taskCtx, query, text, sources); err != nil {
				return err
			}
			s.deps.Metrics.SetCacheEntries(s.deps.Cache.Len())
			return nil
		})
	}
	s.logAnswer(bgCtx, r, outcome, sources)
}

func (s *AnswerService) logAnswer(ctx context.Context, r *answerRun, outcome string, sources []domain.Source) {
	if s.deps.AnswerLogs == nil {
		return
	}
	confidence, _ := r.metadata["confidence"].(int)
	cacheHit, _ := r.metadata["cache_hit"].(bool)
	entry := &domain.AnswerLog{
		ID:             uuid.NewString(),
		ConversationID: r.req.ConversationID,
		UserID:         r.req.UserID,
		Query:          r.query,
		Provider:       r.provider,
		Outcome:        outcome,
		CacheHit:       cacheHit,
		SourceCount:    len(sources),
		Confidence:     confidence,
		DurationMS:     s.now().Sub(r.startedAt).Milliseconds(),
		CreatedAt:      r.startedAt,
	}
	s.submit(context.WithoutCancel(ctx), "answer_log", func(taskCtx context.Context) error {
		return s.deps.AnswerLogs.SaveAnswerLog(taskCtx, entry)
	})
}

func (s *AnswerService) submit(ctx context.Context, name string, run func(ctx context.Context) error) {
	if s.deps.Background == nil {
		go func() {
			if err := run(ctx); err != nil {
				s.deps.Logger.Warn("background task failed", zap.String("task", name), zap.Error(err))
				s.deps.Metrics.CountBackgroundError(name)
			}
		}()
		return
	}
	if err := s.deps.Background.Submit(name, run); err != nil {
		s.deps.Logger.Warn("background task not submitted", zap.String("task", name), zap.Error(err))
		s.deps.Metrics.CountBackgroundError(name)
		telemetry.AddBreadcrumb(ctx, "background", name+": "+err.Error())
	}
}
