package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// LogStatus is the state of an enrichment attempt.
type LogStatus string

const (
	LogStatusPending    LogStatus = "pending"
	LogStatusCompleted  LogStatus = "completed"
	LogStatusApproved   LogStatus = "approved"
	LogStatusModeration LogStatus = "moderation"
	LogStatusFailed     LogStatus = "failed"
)

// ProcessingLog records one enrichment attempt against a product. Rows are
// never deleted programmatically; they form the audit trail consumed by
// moderation tooling and admin review.
type ProcessingLog struct {
	ID                   string          `json:"id"`
	ProductID            int64           `json:"product_id"`
	Status               LogStatus       `json:"status"`
	GeneratedTitle       string          `json:"generated_title,omitempty"`
	GeneratedDescription string          `json:"generated_description,omitempty"`
	SuggestedCategory    string          `json:"suggested_category,omitempty"`
	CategoryConfidence   *float64        `json:"category_confidence,omitempty"`
	ImageAnalysis        json.RawMessage `json:"image_analysis,omitempty"`
	PromptTokens         int             `json:"prompt_tokens"`
	CompletionTokens     int             `json:"completion_tokens"`
	TotalTokens          int             `json:"total_tokens"`
	CostUSD              decimal.Decimal `json:"cost_usd"`
	DurationMS           int64           `json:"duration_ms"`
	InputSnapshot        json.RawMessage `json:"input_snapshot,omitempty"`
	Error                string          `json:"error,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Validate enforces the log invariants before a write reaches the store.
func (l *ProcessingLog) Validate() error {
	if l.CostUSD.IsNegative() {
		return eris.Errorf("processing log %s: negative cost %s", l.ID, l.CostUSD)
	}
	if c := l.CategoryConfidence; c != nil && (*c < 0 || *c > 1) {
		return eris.Errorf("processing log %s: confidence %v outside [0,1]", l.ID, *c)
	}
	switch l.Status {
	case LogStatusPending, LogStatusCompleted, LogStatusApproved, LogStatusModeration, LogStatusFailed:
		return nil
	default:
		return eris.Errorf("processing log %s: unknown status %q", l.ID, l.Status)
	}
}
