package service

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed legal_vocabulary.yaml
var defaultVocabularyYAML []byte

// Vocabulary holds the fixed term lists used for detection and boosting.
type Vocabulary struct {
	LatinPhrases []string `yaml:"latin_phrases"`
	Idioms       []string `yaml:"idioms"`
	LegalTerms   []string `yaml:"legal_terms"`
	Stopwords    []string `yaml:"stopwords"`

	stopwords  map[string]struct{}
	legalTerms map[string]struct{}
}

// ParseVocabulary decodes a YAML vocabulary document.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary: %w", err)
	}
	v.LatinPhrases = normalizeTerms(v.LatinPhrases)
	v.Idioms = normalizeTerms(v.Idioms)
	v.LegalTerms = normalizeTerms(v.LegalTerms)
	v.Stopwords = normalizeTerms(v.Stopwords)

	// Longest phrases first so "res ipsa loquitur" is reported before "res".
	sort.SliceStable(v.LatinPhrases, func(i, j int) bool {
		return len(v.LatinPhrases[i]) > len(v.LatinPhrases[j])
	})

	v.stopwords = toSet(v.Stopwords)
	v.legalTerms = toSet(v.LegalTerms)
	return &v, nil
}

var defaultVocabulary = mustParseVocabulary(defaultVocabularyYAML)

func mustParseVocabulary(data []byte) *Vocabulary {
	v, err := ParseVocabulary(data)
	if err != nil {
		panic(err)
	}
	return v
}

// DefaultVocabulary returns the embedded legal vocabulary.
func DefaultVocabulary() *Vocabulary {
	return defaultVocabulary
}

// IsStopword reports whether the lower-cased token is on the stoplist.
func (v *Vocabulary) IsStopword(token string) bool {
	_, ok := v.stopwords[token]
	return ok
}

// IsLegalTerm reports whether the lower-cased token is a generic legal term.
func (v *Vocabulary) IsLegalTerm(token string) bool {
	_, ok := v.legalTerms[token]
	return ok
}

func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		t = strings.Join(strings.Fields(strings.ToLower(t)), " ")
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func toSet(terms []string) map[string]struct{} {
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return set
}
