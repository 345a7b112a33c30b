// Package moderation implements the quality gate that decides whether
// generated content ships directly or queues for human review.
package moderation

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vendorhub/enrich-cli/internal/model"
	"github.com/vendorhub/enrich-cli/internal/store"
)

// denylist flags counterfeit-adjacent wording in generated descriptions.
// Matching is case-insensitive substring, English and Russian.
var denylist = []string{
	"replica",
	"counterfeit",
	"knockoff",
	"knock-off",
	"fake",
	"imitation",
	"реплика",
	"копия",
	"подделка",
	"фейк",
	"контрафакт",
}

// Config holds the gate thresholds.
type Config struct {
	// ConfidenceThreshold gates on category confidence. Default: 0.75.
	ConfidenceThreshold float64
	// MinPrice gates on the declared price, zero included. Default: 100.
	MinPrice decimal.Decimal
	// MinDescriptionLen gates on generated description length in runes.
	// Default: 100.
	MinDescriptionLen int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.75,
		MinPrice:            decimal.NewFromInt(100),
		MinDescriptionLen:   100,
	}
}

// Gate evaluates generated content and manages moderation tasks.
type Gate struct {
	store store.Store
	cfg   Config
}

// NewGate creates a Gate. Zero-valued config fields fall back to defaults.
func NewGate(st store.Store, cfg Config) *Gate {
	def := DefaultConfig()
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if cfg.MinPrice.IsZero() {
		cfg.MinPrice = def.MinPrice
	}
	if cfg.MinDescriptionLen <= 0 {
		cfg.MinDescriptionLen = def.MinDescriptionLen
	}
	return &Gate{store: st, cfg: cfg}
}

// NeedsModeration returns true when any gate clause trips. Clauses are a pure
// disjunction; adding data can only keep or raise the gate, never lower it:
//  1. category confidence present and below threshold
//  2. declared price below the minimum (zero prices count)
//  3. generated description contains a denylisted term
//  4. generated description shorter than the minimum length
func (g *Gate) NeedsModeration(log *model.ProcessingLog, product *model.Product) bool {
	if c := log.CategoryConfidence; c != nil && *c < g.cfg.ConfidenceThreshold {
		return true
	}
	if product.Price.LessThan(g.cfg.MinPrice) {
		return true
	}
	if term := matchDenylist(log.GeneratedDescription); term != "" {
		zap.L().Info("moderation: denylisted term in generated description",
			zap.String("log_id", log.ID),
			zap.String("term", term),
		)
		return true
	}
	if len([]rune(log.GeneratedDescription)) < g.cfg.MinDescriptionLen {
		return true
	}
	return false
}

// EnsureTask creates the moderation task for a gated log if one does not
// already exist. Safe to call repeatedly; reruns never duplicate tasks.
func (g *Gate) EnsureTask(ctx context.Context, log *model.ProcessingLog) (*model.ModerationTask, error) {
	existing, err := g.store.GetTaskByLogID(ctx, log.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(err, "moderation: look up task for log %s", log.ID)
	}

	reason := g.reason(log)
	task := &model.ModerationTask{
		LogID:    log.ID,
		Reason:   reason,
		Priority: reason.Priority(),
	}
	if err := g.store.CreateTask(ctx, task); err != nil {
		return nil, eris.Wrapf(err, "moderation: create task for log %s", log.ID)
	}

	zap.L().Info("moderation: task queued",
		zap.String("log_id", log.ID),
		zap.String("reason", string(reason)),
		zap.Int("priority", task.Priority),
	)
	return task, nil
}

// reason picks low_confidence only when confidence itself tripped the gate.
// A log without a confidence value counts as fully confident here, so it can
// only be queued for manual review.
func (g *Gate) reason(log *model.ProcessingLog) model.ModerationReason {
	confidence := 1.0
	if log.CategoryConfidence != nil {
		confidence = *log.CategoryConfidence
	}
	if confidence < g.cfg.ConfidenceThreshold {
		return model.ReasonLowConfidence
	}
	return model.ReasonManualReview
}

func matchDenylist(description string) string {
	lowered := strings.ToLower(description)
	for _, term := range denylist {
		if strings.Contains(lowered, term) {
			return term
		}
	}
	return ""
}
