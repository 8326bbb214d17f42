package service

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cloo-solutions/lexrag/internal/domain"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	maxQueryExpansions      = 2
	defaultExpansionTimeout = 8 * time.Second
)

var (
	caseNamePattern = regexp.MustCompile(
		`\b[A-Z][\w'.&-]*(?:\s+(?:[A-Z][\w'.&-]*|of|and|the|&))*\s+(?:v|vs|versus)\.?\s+[A-Z][\w'.&-]*(?:\s+(?:[A-Z][\w'.&-]*|of|and|the|&))*`)
	statuteSectionPattern = regexp.MustCompile(
		`(?i)(?:\b(?:section|sec|s|article|art|rule|regulation|reg|clause|order|chapter|cap|schedule|paragraph|para)\.?|§)\s*\d+[a-z]?(?:\s*\(\s*[0-9a-z]+\s*\))*`)
	statuteActPattern = regexp.MustCompile(
		`\b[A-Z][A-Za-z]*(?:\s+(?:[A-Z][A-Za-z]*|of|and|the|for|on))*\s+(?:Act|Code|Ordinance|Regulations|Rules|Constitution)(?:,?\s+\d{4})?\b`)
	trailingConnector = regexp.MustCompile(`(?:\s+(?:of|and|the|for|on|&))+$`)
	listMarker        = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)
)

const expansionInstruction = `You rewrite legal research queries for a document search engine.
1. Fix obvious spelling errors.
2. Produce up to two alternative phrasings that use equivalent legal terminology.
Never generalize, paraphrase or rename case names, statutes, sections or Latin legal terms.
Respond with a JSON array of strings only.`

// Completer produces a full, non-streamed completion.
type Completer interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (string, error)
}

// QueryUnderstanding expands queries and extracts legal entities from them.
// The expansion cache lives for the lifetime of the instance.
type QueryUnderstanding struct {
	completer Completer
	vocab     *Vocabulary
	logger    *zap.Logger
	timeout   time.Duration

	mu    sync.RWMutex
	cache map[string][]string
}

// QueryUnderstandingConfig controls query expansion.
type QueryUnderstandingConfig struct {
	Vocabulary *Vocabulary
	Timeout    time.Duration
	Logger     *zap.Logger
}

// NewQueryUnderstanding creates a QueryUnderstanding. A nil completer disables
// generative expansion.
func NewQueryUnderstanding(completer Completer, cfg QueryUnderstandingConfig) *QueryUnderstanding {
	if cfg.Vocabulary == nil {
		cfg.Vocabulary = DefaultVocabulary()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultExpansionTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &QueryUnderstanding{
		completer: completer,
		vocab:     cfg.Vocabulary,
		logger:    cfg.Logger,
		timeout:   cfg.Timeout,
		cache:     make(map[string][]string),
	}
}

// Expand returns the query followed by at most one terminology variant. Queries
// containing a specialized legal term are returned unchanged.
func (q *QueryUnderstanding) Expand(ctx context.Context, query string) []string {
	original := strings.TrimSpace(query)
	if original == "" {
		return []string{query}
	}
	if q.HasSpecializedTerm(original) || q.completer == nil {
		return []string{original}
	}

	key := strings.ToLower(original)
	q.mu.RLock()
	cached, ok := q.cache[key]
	q.mu.RUnlock()
	if ok {
		return append([]string(nil), cached...)
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	raw, err := q.completer.Generate(ctx, domain.GenerationRequest{
		Messages: []domain.ChatMessage{
			{Role: "system", Content: expansionInstruction},
			{Role: "user", Content: original},
		},
		MaxTokens:   200,
		Temperature: 0,
	})
	if err != nil {
		q.logger.Warn("query expansion failed, using original query", zap.Error(err))
		return []string{original}
	}

	variants := parseExpansionOutput(raw)
	if len(variants) == 0 {
		q.logger.Debug("query expansion returned nothing usable", zap.String("raw", raw))
		return []string{original}
	}

	expanded := dedupeQueries(append([]string{original}, variants...), maxQueryExpansions)

	q.mu.Lock()
	q.cache[key] = expanded
	q.mu.Unlock()

	return append([]string(nil), expanded...)
}

// ClearCache drops every cached expansion.
func (q *QueryUnderstanding) ClearCache() {
	q.mu.Lock()
	q.cache = make(map[string][]string)
	q.mu.Unlock()
}

// HasSpecializedTerm reports whether the query names a Latin phrase, a case or
// a statute, any of which must not be paraphrased.
func (q *QueryUnderstanding) HasSpecializedTerm(query string) bool {
	if len(q.latinTerms(normalizeText(query))) > 0 {
		return true
	}
	if caseNamePattern.MatchString(query) {
		return true
	}
	return statuteSectionPattern.MatchString(query) || statuteActPattern.MatchString(query)
}

// IdentifyEntities pattern-matches legal entities out of the raw query.
func (q *QueryUnderstanding) IdentifyEntities(query string) domain.LegalEntitySet {
	normalized := normalizeText(query)

	var set domain.LegalEntitySet
	set.LatinTerms = q.latinTerms(normalized)

	for _, m := range caseNamePattern.FindAllString(query, -1) {
		set.CaseNames = append(set.CaseNames, cleanEntity(m))
	}
	set.CaseNames = dedupeFold(set.CaseNames)

	for _, m := range statuteSectionPattern.FindAllString(query, -1) {
		set.Statutes = append(set.Statutes, cleanEntity(m))
	}
	for _, m := range statuteActPattern.FindAllString(query, -1) {
		set.Statutes = append(set.Statutes, cleanEntity(m))
	}
	set.Statutes = dedupeFold(set.Statutes)

	for _, t := range tokenize(query, q.vocab) {
		if q.vocab.IsLegalTerm(t) {
			set.GenericTerms = append(set.GenericTerms, t)
		}
	}
	return set
}

func (q *QueryUnderstanding) latinTerms(normalized string) []string {
	var found []string
	for _, phrase := range q.vocab.LatinPhrases {
		if containsPhrase(normalized, phrase) {
			found = append(found, phrase)
		}
	}
	return found
}

func cleanEntity(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return trailingConnector.ReplaceAllString(s, "")
}

// parseExpansionOutput accepts a JSON array, an object holding one, or plain
// lines, optionally wrapped in a markdown code fence.
func parseExpansionOutput(raw string) []string {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if gjson.Valid(text) {
		parsed := gjson.Parse(text)
		if parsed.IsObject() {
			for _, key := range []string{"queries", "variants", "expansions"} {
				if r := parsed.Get(key); r.IsArray() {
					parsed = r
					break
				}
			}
		}
		if !parsed.IsArray() {
			return nil
		}
		var out []string
		for _, item := range parsed.Array() {
			if item.Type == gjson.String && strings.TrimSpace(item.String()) != "" {
				out = append(out, strings.TrimSpace(item.String()))
			}
		}
		return out
	}

	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Trim(listMarker.ReplaceAllString(line, ""), " \t\"'")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func dedupeQueries(queries []string, max int) []string {
	out := dedupeFold(queries)
	if len(out) > max {
		out = out[:max]
	}
	return out
}

func dedupeFold(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}
