package domain

import "time"

// ChunkMetadata describes the legal source a chunk was cut from.
type ChunkMetadata struct {
	Title    string `json:"title"`
	Citation string `json:"citation,omitempty"`
	Category string `json:"category,omitempty"`
	URL      string `json:"url,omitempty"`
	Date     string `json:"date,omitempty"`
}

// DocumentChunk is an indexed span of a legal source document.
type DocumentChunk struct {
	ID        string        `json:"id"`
	Content   string        `json:"content"`
	Metadata  ChunkMetadata `json:"metadata"`
	Embedding []float32     `json:"-"`
	CreatedAt time.Time     `json:"created_at"`
}

// RankedCandidate is a chunk scored for one request.
type RankedCandidate struct {
	Chunk            DocumentChunk
	VectorSimilarity float64
	KeywordScore     float64
	HybridScore      float64
	// Score is HybridScore after relevance boosts, clamped to [0,1].
	Score float64
}

// Source is the caller-facing reference to a retrieved chunk.
type Source struct {
	Title    string  `json:"title"`
	Citation string  `json:"citation,omitempty"`
	Category string  `json:"category,omitempty"`
	URL      string  `json:"url,omitempty"`
	Score    float64 `json:"score"`
}

// LegalEntitySet holds the legal entities pattern-matched out of a query.
type LegalEntitySet struct {
	CaseNames    []string
	LatinTerms   []string
	Statutes     []string
	GenericTerms []string
}

// IsEmpty reports whether no entity of any kind was found.
func (s LegalEntitySet) IsEmpty() bool {
	return len(s.CaseNames) == 0 && len(s.LatinTerms) == 0 && len(s.Statutes) == 0 && len(s.GenericTerms) == 0
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
