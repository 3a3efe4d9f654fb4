// Package progress tracks export progress and optionally mirrors it into
// Redis so other processes can follow a running export by run id.
package progress

import (
	"time"
)

// RedisKeyPrefix prefixes the Redis hash holding one run's state.
const RedisKeyPrefix = "almexport:progress:"

// RedisKey returns the Redis key for runID.
func RedisKey(runID string) string {
	return RedisKeyPrefix + runID
}

// State is the progress of one export run.
type State struct {
	// RunID identifies the export run.
	RunID string

	// Total is the record count reported by the count probe.
	Total int

	// Advanced is the sum of page sizes of resolved page tasks. It can exceed
	// Total on the last page.
	Advanced int

	// StartedAt is when the run started.
	StartedAt time.Time

	// LastUpdate is when the state last changed.
	LastUpdate time.Time

	// Finished is set once every page task has resolved.
	Finished bool
}

// Percent returns the completion percentage, capped at 100.
func (s *State) Percent() float64 {
	if s.Total <= 0 {
		if s.Finished {
			return 100
		}
		return 0
	}
	pct := float64(s.Advanced) / float64(s.Total) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// IsComplete reports whether the run finished or all records were covered.
func (s *State) IsComplete() bool {
	return s.Finished || (s.Total > 0 && s.Advanced >= s.Total)
}

// IsStale returns true if the state is older than maxAge.
// A stale unfinished run most likely died without calling Finish.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// Elapsed returns the time between start and the last update.
func (s *State) Elapsed() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return s.LastUpdate.Sub(s.StartedAt)
}
