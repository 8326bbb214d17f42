package domain

import "time"

// Answer outcomes recorded in the answer log and metrics.
const (
	OutcomeAnswered  = "answered"
	OutcomeNoSources = "no_sources"
	OutcomeCacheHit  = "cache_hit"
	OutcomeStopped   = "stopped"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// AnswerLog is one row of the append-only answer log.
type AnswerLog struct {
	ID             string
	ConversationID string
	UserID         string
	Query          string
	Provider       string
	Outcome        string
	CacheHit       bool
	SourceCount    int
	Confidence     int
	DurationMS     int64
	CreatedAt      time.Time
}
