package model

import "time"

// SentimentEntry is a cached exogenous sentiment reading. Score is in [-100,100], Confidence in [0,1].
type SentimentEntry struct {
	Score      int
	Confidence float64
	FetchedAt  time.Time
}

// Expired reports whether the entry has outlived the given TTL as of now.
func (e SentimentEntry) Expired(now time.Time, ttl time.Duration) bool {
	if e.FetchedAt.IsZero() {
		return true
	}
	return now.Sub(e.FetchedAt) >= ttl
}
