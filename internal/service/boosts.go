package service

import (
	"strings"

	"github.com/cloo-solutions/lexrag/internal/domain"
)

// Additive relevance boosts applied on top of the hybrid score. The weights are
// tuned together; change them as a set.
const (
	boostExactLatinPhrase = 0.5
	boostIdiom            = 0.15
	boostKeyword          = 0.03
	boostKeywordBonus     = 0.1
	keywordBonusMinHits   = 3
	boostTitleKeyword     = 0.05
	titleKeywordMinLen    = 5
	boostCaseName         = 0.1
	boostStatute          = 0.1
	boostLatinEntity      = 0.4
	boostLegalTerm        = 0.02
	maxLegalTermBoost     = 0.1
	boostMetadataTerm     = 0.03
)

// boostContext holds the query-side inputs, computed once per request.
type boostContext struct {
	keywords     []string
	latinInQuery []string
	idioms       []string
	caseNames    []string
	caseParties  [][2]string
	statutes     []string
	latinTerms   []string
	legalTerms   []string
}

func newBoostContext(query string, entities domain.LegalEntitySet, vocab *Vocabulary) *boostContext {
	normQuery := normalizeText(query)
	b := &boostContext{keywords: keywords(query, vocab)}

	for _, phrase := range vocab.LatinPhrases {
		if containsPhrase(normQuery, phrase) {
			b.latinInQuery = append(b.latinInQuery, phrase)
		}
	}
	for _, idiom := range vocab.Idioms {
		if containsPhrase(normQuery, idiom) {
			b.idioms = append(b.idioms, idiom)
		}
	}
	for _, name := range entities.CaseNames {
		norm := strings.TrimSpace(normalizeText(name))
		if norm == "" {
			continue
		}
		b.caseNames = append(b.caseNames, norm)
		if left, right, ok := splitParties(norm); ok {
			b.caseParties = append(b.caseParties, [2]string{left, right})
		}
	}
	for _, s := range entities.Statutes {
		if norm := strings.TrimSpace(normalizeText(s)); norm != "" {
			b.statutes = append(b.statutes, norm)
		}
	}
	for _, l := range entities.LatinTerms {
		if squashed := squash(l); squashed != "" {
			b.latinTerms = append(b.latinTerms, squashed)
		}
	}
	for _, t := range entities.GenericTerms {
		b.legalTerms = append(b.legalTerms, strings.ToLower(t))
	}
	return b
}

// boost returns the total additive boost for one candidate.
func (b *boostContext) boost(c *domain.RankedCandidate) float64 {
	content := normalizeText(c.Chunk.Content)
	title := normalizeText(c.Chunk.Metadata.Title)
	metadata := normalizeText(c.Chunk.Metadata.Title + " " + c.Chunk.Metadata.Citation)
	everything := normalizeText(c.Chunk.Content + " " + c.Chunk.Metadata.Title + " " + c.Chunk.Metadata.Citation)

	total := 0.0

	for _, phrase := range b.latinInQuery {
		if containsPhrase(content, phrase) {
			total += boostExactLatinPhrase
			break
		}
	}

	for _, idiom := range b.idioms {
		if containsPhrase(content, idiom) {
			total += boostIdiom
		}
	}

	hits := 0
	for _, kw := range b.keywords {
		if containsPhrase(content, kw) {
			hits++
		}
	}
	total += float64(hits) * boostKeyword
	if hits >= keywordBonusMinHits {
		total += boostKeywordBonus
	}

	for _, kw := range b.keywords {
		if len([]rune(kw)) >= titleKeywordMinLen && containsPhrase(title, kw) {
			total += boostTitleKeyword
			break
		}
	}

	if b.matchesCaseName(everything) {
		total += boostCaseName
	}

	for _, s := range b.statutes {
		if containsPhrase(everything, s) {
			total += boostStatute
			break
		}
	}

	if len(b.latinTerms) > 0 {
		squashedContent := squash(c.Chunk.Content)
		for _, l := range b.latinTerms {
			if strings.Contains(squashedContent, l) {
				total += boostLatinEntity
				break
			}
		}
	}

	legal := 0.0
	for _, t := range b.legalTerms {
		if containsPhrase(content, t) {
			legal += boostLegalTerm
		}
	}
	if legal > maxLegalTermBoost {
		legal = maxLegalTermBoost
	}
	total += legal

	for _, kw := range b.keywords {
		if containsPhrase(metadata, kw) {
			total += boostMetadataTerm
		}
	}

	return total
}

func (b *boostContext) matchesCaseName(text string) bool {
	for _, name := range b.caseNames {
		if containsPhrase(text, name) {
			return true
		}
	}
	for _, parties := range b.caseParties {
		if containsPhrase(text, parties[0]) && containsPhrase(text, parties[1]) {
			return true
		}
	}
	return false
}

// splitParties splits a normalized "a v b" case name into its two parties.
func splitParties(name string) (string, string, bool) {
	for _, sep := range []string{" versus ", " vs ", " v "} {
		if i := strings.Index(name, sep); i > 0 {
			left := strings.TrimSpace(name[:i])
			right := strings.TrimSpace(name[i+len(sep):])
			if left != "" && right != "" {
				return left, right, true
			}
		}
	}
	return "", "", false
}

// squash lower-cases text and drops every non-word character, so spacing and
// hyphenation variants of a term compare equal.
func squash(text string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(text), isTokenSeparator), "")
}
