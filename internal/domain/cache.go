package domain

import "time"

// Complexity is a coarse estimate of how involved a query is.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// CachedAnswer is a semantic cache entry.
type CachedAnswer struct {
	Key            string     `json:"key"`
	Query          string     `json:"query"`
	QueryEmbedding []float32  `json:"query_embedding"`
	Response       string     `json:"response"`
	Sources        []Source   `json:"sources"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	AccessCount    int        `json:"access_count"`
	Complexity     Complexity `json:"complexity"`
}

// Expired reports whether the entry is older than ttl at now.
func (c *CachedAnswer) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.CreatedAt) >= ttl
}
