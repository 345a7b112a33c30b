package model

import "time"

// ModerationReason explains why a log was queued for human review.
type ModerationReason string

const (
	ReasonLowConfidence ModerationReason = "low_confidence"
	ReasonManualReview  ModerationReason = "manual_review"
)

// Priority returns the queue priority for the reason. Lower is more urgent.
func (r ModerationReason) Priority() int {
	if r == ReasonLowConfidence {
		return 2
	}
	return 3
}

// ModerationTask is one unit of human-review work, one-to-one with a
// ProcessingLog that failed the quality gate. Resolution happens outside
// this tool.
type ModerationTask struct {
	ID        string           `json:"id"`
	LogID     string           `json:"log_id"`
	Reason    ModerationReason `json:"reason"`
	Priority  int              `json:"priority"`
	CreatedAt time.Time        `json:"created_at"`
}
