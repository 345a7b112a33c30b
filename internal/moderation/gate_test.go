package moderation

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorhub/enrich-cli/internal/model"
	"github.com/vendorhub/enrich-cli/internal/store"
)

func newGateWithStore(t *testing.T) (*Gate, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "gate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return NewGate(st, DefaultConfig()), st
}

// passingCase returns a log/product pair that clears every gate clause.
func passingCase() (*model.ProcessingLog, *model.Product) {
	conf := 0.92
	log := &model.ProcessingLog{
		GeneratedDescription: strings.Repeat("Fine handcrafted leather wallet. ", 5),
		CategoryConfidence:   &conf,
	}
	product := &model.Product{Price: decimal.NewFromInt(250)}
	return log, product
}

func TestNeedsModeration_PassingCase(t *testing.T) {
	gate := NewGate(nil, DefaultConfig())
	log, product := passingCase()
	assert.False(t, gate.NeedsModeration(log, product))
}

func TestNeedsModeration_EachClauseIndependently(t *testing.T) {
	gate := NewGate(nil, DefaultConfig())

	tests := []struct {
		name  string
		mut   func(log *model.ProcessingLog, product *model.Product)
	}{
		{"low confidence", func(l *model.ProcessingLog, _ *model.Product) {
			conf := 0.4
			l.CategoryConfidence = &conf
		}},
		{"confidence just below threshold", func(l *model.ProcessingLog, _ *model.Product) {
			conf := 0.7499
			l.CategoryConfidence = &conf
		}},
		{"low price", func(_ *model.ProcessingLog, p *model.Product) {
			p.Price = decimal.NewFromInt(99)
		}},
		{"zero price", func(_ *model.ProcessingLog, p *model.Product) {
			p.Price = decimal.Zero
		}},
		{"english denylist term", func(l *model.ProcessingLog, _ *model.Product) {
			l.GeneratedDescription = strings.Repeat("word ", 30) + "a perfect REPLICA of the original"
		}},
		{"russian denylist term", func(l *model.ProcessingLog, _ *model.Product) {
			l.GeneratedDescription = strings.Repeat("слово ", 30) + "точная Копия оригинала"
		}},
		{"short description", func(l *model.ProcessingLog, _ *model.Product) {
			l.GeneratedDescription = "Too short."
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, product := passingCase()
			tt.mut(log, product)
			assert.True(t, gate.NeedsModeration(log, product),
				"forcing this clause true must trip the gate regardless of the others")
		})
	}
}

func TestNeedsModeration_MissingConfidenceDoesNotTrip(t *testing.T) {
	gate := NewGate(nil, DefaultConfig())
	log, product := passingCase()
	log.CategoryConfidence = nil
	assert.False(t, gate.NeedsModeration(log, product))
}

func TestNeedsModeration_BoundaryValues(t *testing.T) {
	gate := NewGate(nil, DefaultConfig())

	log, product := passingCase()
	conf := 0.75
	log.CategoryConfidence = &conf
	assert.False(t, gate.NeedsModeration(log, product), "0.75 meets the threshold")

	log, product = passingCase()
	product.Price = decimal.NewFromInt(100)
	assert.False(t, gate.NeedsModeration(log, product), "100 meets the price floor")

	log, product = passingCase()
	log.GeneratedDescription = strings.Repeat("d", 100)
	assert.False(t, gate.NeedsModeration(log, product), "100 chars meets the length floor")

	log, product = passingCase()
	log.GeneratedDescription = strings.Repeat("d", 99)
	assert.True(t, gate.NeedsModeration(log, product))
}

func TestEnsureTask_LowConfidenceReason(t *testing.T) {
	gate, st := newGateWithStore(t)
	ctx := context.Background()

	p := &model.Product{Name: "x", Price: decimal.NewFromInt(10)}
	require.NoError(t, st.CreateProduct(ctx, p))
	conf := 0.4
	log := &model.ProcessingLog{ProductID: p.ID, Status: model.LogStatusModeration, CategoryConfidence: &conf}
	require.NoError(t, st.CreateLog(ctx, log))

	task, err := gate.EnsureTask(ctx, log)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonLowConfidence, task.Reason)
	assert.Equal(t, 2, task.Priority)
}

func TestEnsureTask_ManualReviewWhenConfidenceMissing(t *testing.T) {
	gate, st := newGateWithStore(t)
	ctx := context.Background()

	p := &model.Product{Name: "x", Price: decimal.NewFromInt(10)}
	require.NoError(t, st.CreateProduct(ctx, p))
	// Gated by price, not confidence: missing confidence counts as 1 here.
	log := &model.ProcessingLog{ProductID: p.ID, Status: model.LogStatusModeration}
	require.NoError(t, st.CreateLog(ctx, log))

	task, err := gate.EnsureTask(ctx, log)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonManualReview, task.Reason)
	assert.Equal(t, 3, task.Priority)
}

func TestEnsureTask_Idempotent(t *testing.T) {
	gate, st := newGateWithStore(t)
	ctx := context.Background()

	p := &model.Product{Name: "x", Price: decimal.NewFromInt(10)}
	require.NoError(t, st.CreateProduct(ctx, p))
	conf := 0.2
	log := &model.ProcessingLog{ProductID: p.ID, Status: model.LogStatusModeration, CategoryConfidence: &conf}
	require.NoError(t, st.CreateLog(ctx, log))

	first, err := gate.EnsureTask(ctx, log)
	require.NoError(t, err)
	second, err := gate.EnsureTask(ctx, log)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "repeated calls must return the same task")
}
