package types

import "time"

// WorkloadSession records one stopped→running→stopped cycle.
// Created on the stopped→starting transition, closed on stop.
// Immutable once closed; appended to an ordered log for usage analytics.
type WorkloadSession struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	// DurationMs is computed when the session closes.
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// Closed reports whether the session has ended.
func (s *WorkloadSession) Closed() bool { return s.StoppedAt != nil }

// Close stamps the stop time and computes the duration. No-op if already closed.
func (s *WorkloadSession) Close(now time.Time) {
	if s.Closed() {
		return
	}
	s.StoppedAt = &now
	s.DurationMs = now.Sub(s.StartedAt).Milliseconds()
}

// UsageStats aggregates the closed sessions in the log.
type UsageStats struct {
	Sessions        int   `json:"sessions"`
	TotalMs         int64 `json:"total_ms"`
	AverageMs       int64 `json:"average_ms"`
	LongestMs       int64 `json:"longest_ms"`
	LastStartedUnix int64 `json:"last_started_unix,omitempty"`
}
