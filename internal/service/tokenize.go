package service

import (
	"strings"
	"unicode"

	"github.com/cloo-solutions/lexrag/internal/domain"
)

const (
	significantTokenMinLen = 5
	keywordMinLen          = 3
)

// tokenize lower-cases text and splits it into unique word tokens in first-seen
// order, dropping stopwords and single characters.
func tokenize(text string, vocab *Vocabulary) []string {
	seen := make(map[string]struct{})
	var tokens []string
	for _, raw := range strings.FieldsFunc(strings.ToLower(text), isTokenSeparator) {
		if len([]rune(raw)) < 2 || vocab.IsStopword(raw) {
			continue
		}
		if _, ok := seen[raw]; ok {
			continue
		}
		seen[raw] = struct{}{}
		tokens = append(tokens, raw)
	}
	return tokens
}

func isTokenSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// keywordScore is the share of query tokens present in the content, measured
// against the smaller of the two token sets.
func keywordScore(queryTokens []string, content string, vocab *Vocabulary) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	contentTokens := tokenize(content, vocab)
	if len(contentTokens) == 0 {
		return 0
	}
	present := make(map[string]struct{}, len(contentTokens))
	for _, t := range contentTokens {
		present[t] = struct{}{}
	}
	matches := 0
	for _, t := range queryTokens {
		if _, ok := present[t]; ok {
			matches++
		}
	}
	denom := len(queryTokens)
	if len(contentTokens) < denom {
		denom = len(contentTokens)
	}
	return domain.Clamp01(float64(matches) / float64(denom))
}

// keywords returns the query tokens long enough to count for boosting.
func keywords(query string, vocab *Vocabulary) []string {
	var out []string
	for _, t := range tokenize(query, vocab) {
		if len([]rune(t)) >= keywordMinLen {
			out = append(out, t)
		}
	}
	return out
}

// significantTokens returns the query tokens used by the no-match gate.
func significantTokens(query string, vocab *Vocabulary) []string {
	var out []string
	for _, t := range tokenize(query, vocab) {
		if len([]rune(t)) >= significantTokenMinLen {
			out = append(out, t)
		}
	}
	return out
}

// normalizeText lower-cases and collapses every run of non-word characters to
// a single space, padded on both ends so phrase checks respect word edges.
func normalizeText(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), isTokenSeparator)
	return " " + strings.Join(fields, " ") + " "
}

// containsPhrase reports whether phrase occurs in normalized text on word
// boundaries. Both arguments must already be normalized with normalizeText.
func containsPhrase(normalized, phrase string) bool {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return false
	}
	return strings.Contains(normalized, " "+phrase+" ")
}
