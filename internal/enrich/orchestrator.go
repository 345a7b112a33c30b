// Package enrich coordinates one product enrichment end to end: image fetch,
// vision pass, RAG context, JSON-mode generation, category resolution, the
// quality gate, and the persisted processing log.
package enrich

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vendorhub/enrich-cli/internal/llm"
	"github.com/vendorhub/enrich-cli/internal/media"
	"github.com/vendorhub/enrich-cli/internal/model"
	"github.com/vendorhub/enrich-cli/internal/store"
)

// Fetcher collects product images for the vision pass.
type Fetcher interface {
	FetchAll(ctx context.Context, urls []string, max int) []media.Image
}

// Resolver supplies RAG prompt context and maps suggested category names back
// onto relational rows.
type Resolver interface {
	BuildCategoryContext(ctx context.Context, product *model.Product) string
	BuildTemplateContext(ctx context.Context, product *model.Product) string
	ResolveCategory(ctx context.Context, fields map[string]any) (*model.Category, float64, error)
}

// Gate decides whether a result ships or queues for review.
type Gate interface {
	NeedsModeration(log *model.ProcessingLog, product *model.Product) bool
	EnsureTask(ctx context.Context, log *model.ProcessingLog) (*model.ModerationTask, error)
}

// Options controls one enrichment run.
type Options struct {
	// AutoApply writes generated content back onto the product when the
	// quality gate passes. Moderation always wins over this flag.
	AutoApply bool
	// DryRun executes the full pipeline but persists nothing.
	DryRun bool
	// MaxImages caps how many product images feed the vision pass. Default: 5.
	MaxImages int
}

// Outcome summarizes a finished run for batch reporting.
type Outcome struct {
	Log      *model.ProcessingLog
	Category *model.Category
	// Confidence is the triage confidence, defaulted when the model omits it.
	Confidence float64
	Applied    bool
}

// Config holds generation tuning for the text pass.
type Config struct {
	Temperature float64
	MaxTokens   int
}

// Enricher is the pipeline coordinator. Construct once per process and share;
// all state lives in the store.
type Enricher struct {
	store    store.Store
	gateway  llm.Gateway
	fetcher  Fetcher
	resolver Resolver
	gate     Gate
	cfg      Config
}

// New wires the orchestrator. All dependencies are required.
func New(st store.Store, gateway llm.Gateway, fetcher Fetcher, resolver Resolver, gate Gate, cfg Config) *Enricher {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1500
	}
	return &Enricher{store: st, gateway: gateway, fetcher: fetcher, resolver: resolver, gate: gate, cfg: cfg}
}

// Run enriches one product. Any failure after the log row is created flips it
// to failed before the error propagates, so no log is left pending.
func (e *Enricher) Run(ctx context.Context, productID int64, opts Options) (*Outcome, error) {
	if opts.MaxImages <= 0 {
		opts.MaxImages = 5
	}

	product, err := e.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: load product %d", productID)
	}

	snapshot, err := json.Marshal(product)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: snapshot product %d", productID)
	}

	log := &model.ProcessingLog{
		ProductID:     productID,
		Status:        model.LogStatusPending,
		InputSnapshot: snapshot,
	}
	if !opts.DryRun {
		if err := e.store.CreateLog(ctx, log); err != nil {
			return nil, eris.Wrapf(err, "enrich: create log for product %d", productID)
		}
	}

	images := e.fetcher.FetchAll(ctx, product.ImageURLs, opts.MaxImages)

	// Vision pass is non-fatal: generation proceeds without photo analysis.
	visionSummary := ""
	if len(images) > 0 {
		vision, err := e.gateway.AnalyzeImages(ctx, images, visionPrompt, true)
		if err != nil {
			zap.L().Warn("enrich: vision pass failed, continuing without analysis",
				zap.Int64("product_id", productID),
				zap.Error(err),
			)
		} else {
			log.ImageAnalysis = vision.Raw
			visionSummary = visionText(vision)
			accumulate(log, vision)
		}
	}

	categoryContext := e.resolver.BuildCategoryContext(ctx, product)
	templateContext := e.resolver.BuildTemplateContext(ctx, product)

	text, err := e.gateway.GenerateContent(ctx, llm.GenerateRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   buildUserPrompt(product, categoryContext, templateContext, visionSummary),
		JSONMode:     true,
		Temperature:  e.cfg.Temperature,
		MaxTokens:    e.cfg.MaxTokens,
	})
	if err != nil {
		return nil, e.fail(ctx, log, opts, eris.Wrapf(err, "enrich: generate content for product %d", productID))
	}
	accumulate(log, text)

	fields := text.JSON
	log.GeneratedTitle, _ = fields["generated_title"].(string)
	log.GeneratedDescription, _ = fields["generated_description"].(string)
	log.SuggestedCategory, _ = fields["suggested_category_name"].(string)

	category, confidence, err := e.resolver.ResolveCategory(ctx, fields)
	if err != nil {
		return nil, e.fail(ctx, log, opts, err)
	}
	// The gate's confidence clause only fires on a confidence the model
	// actually reported; the triage default stays out of the log.
	if _, present := fields["category_confidence"]; present {
		log.CategoryConfidence = &confidence
	}

	outcome := &Outcome{Log: log, Category: category, Confidence: confidence}

	if e.gate.NeedsModeration(log, product) {
		log.Status = model.LogStatusModeration
		if opts.DryRun {
			return outcome, nil
		}
		if err := e.store.UpdateLog(ctx, log); err != nil {
			return nil, e.fail(ctx, log, opts, eris.Wrapf(err, "enrich: persist log for product %d", productID))
		}
		if _, err := e.gate.EnsureTask(ctx, log); err != nil {
			return nil, e.fail(ctx, log, opts, err)
		}
		return outcome, nil
	}

	log.Status = model.LogStatusCompleted
	if opts.AutoApply {
		log.Status = model.LogStatusApproved
	}
	if opts.DryRun {
		return outcome, nil
	}

	if opts.AutoApply {
		var categoryID *int64
		if category != nil {
			categoryID = &category.ID
		}
		if err := e.store.ApplyGeneratedContent(ctx, productID, log.GeneratedTitle, log.GeneratedDescription, categoryID); err != nil {
			return nil, e.fail(ctx, log, opts, eris.Wrapf(err, "enrich: apply content to product %d", productID))
		}
		outcome.Applied = true
	}
	if err := e.store.UpdateLog(ctx, log); err != nil {
		return nil, e.fail(ctx, log, opts, eris.Wrapf(err, "enrich: persist log for product %d", productID))
	}

	zap.L().Info("enrich: run finished",
		zap.Int64("product_id", productID),
		zap.String("log_id", log.ID),
		zap.String("status", string(log.Status)),
		zap.String("cost_usd", log.CostUSD.String()),
		zap.Int("total_tokens", log.TotalTokens),
	)
	return outcome, nil
}

// fail flips the log to failed before surfacing the error. Recording the
// failure is best-effort: the original error always wins.
func (e *Enricher) fail(ctx context.Context, log *model.ProcessingLog, opts Options, err error) error {
	zap.L().Error("enrich: run failed",
		zap.Int64("product_id", log.ProductID),
		zap.String("log_id", log.ID),
		zap.Error(err),
	)
	if !opts.DryRun && log.ID != "" {
		log.Status = model.LogStatusFailed
		log.Error = err.Error()
		if uerr := e.store.UpdateLog(ctx, log); uerr != nil {
			zap.L().Error("enrich: could not record failure",
				zap.String("log_id", log.ID),
				zap.Error(uerr),
			)
		}
	}
	return err
}

// accumulate sums token, cost, and timing totals across the vision and text
// calls. Totals are computed once per call and never recomputed.
func accumulate(log *model.ProcessingLog, result *llm.Result) {
	log.PromptTokens += result.Tokens.Prompt
	log.CompletionTokens += result.Tokens.Completion
	log.TotalTokens += result.Tokens.Total
	log.CostUSD = log.CostUSD.Add(result.CostUSD)
	log.DurationMS += result.ProcessingTimeMS
}

func visionText(result *llm.Result) string {
	if summary, ok := result.JSON["summary"].(string); ok && summary != "" {
		return summary
	}
	return result.Text
}
