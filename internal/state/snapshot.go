package state

import (
	"time"

	"standin/internal/domain"
	"standin/internal/ratelimit"
)

// Stats are the cumulative counters. Every processed message lands in exactly
// one terminal bucket: replies_sent, emergencies_flagged, failed_sends, or
// one skips_by_reason entry.
type Stats struct {
	MessagesProcessed  int64                       `json:"messages_processed"`
	RepliesSent        int64                       `json:"replies_sent"`
	EmergenciesFlagged int64                       `json:"emergencies_flagged"`
	FailedSends        int64                       `json:"failed_sends"`
	SkipsByReason      map[domain.SkipReason]int64 `json:"skips_by_reason"`
}

// Skip bumps the counter for one skip reason.
func (s *Stats) Skip(reason domain.SkipReason) {
	if s.SkipsByReason == nil {
		s.SkipsByReason = make(map[domain.SkipReason]int64)
	}
	s.SkipsByReason[reason]++
}

// Snapshot is the engine's in-memory working copy of the persisted state.
// The Loop owns exactly one Snapshot; it is mutated during a decision and
// committed transactionally once the Action is finalized.
type Snapshot struct {
	Windows         ratelimit.Windows `json:"windows"`
	Stats           Stats             `json:"statistics"`
	Disabled        bool              `json:"disabled"`
	DisabledReason  string            `json:"disabled_reason,omitempty"`
	DisabledAt      time.Time         `json:"disabled_at,omitempty"`
	LastProcessedID string            `json:"last_processed_id,omitempty"`
	LastProcessedAt time.Time         `json:"last_processed_at,omitempty"`
}
