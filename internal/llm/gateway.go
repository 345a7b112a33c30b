// Package llm is the unified gateway for text generation, vision analysis,
// and embedding calls. It owns retry/backoff, JSON-response parsing, and
// token/cost accounting.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vendorhub/enrich-cli/internal/cost"
	"github.com/vendorhub/enrich-cli/internal/media"
	"github.com/vendorhub/enrich-cli/internal/resilience"
	"github.com/vendorhub/enrich-cli/pkg/openai"
)

// TokenUsage tallies tokens for one call.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Result is the envelope returned by generation calls. JSON is populated
// only in JSON mode; validate just the fields you consume and pass the rest
// through opaquely via Raw.
type Result struct {
	Text             string          `json:"text"`
	JSON             map[string]any  `json:"json,omitempty"`
	Tokens           TokenUsage      `json:"tokens"`
	CostUSD          decimal.Decimal `json:"cost_usd"`
	ProcessingTimeMS int64           `json:"processing_time_ms"`
	Model            string          `json:"model"`
	AnalyzedImages   int             `json:"analyzed_images,omitempty"`
	Raw              json.RawMessage `json:"-"`
}

// GenerateRequest describes one text-generation call.
type GenerateRequest struct {
	SystemPrompt string
	UserPrompt   string
	JSONMode     bool
	Temperature  float64
	MaxTokens    int
}

// Gateway is the unified client for provider calls.
type Gateway interface {
	GenerateContent(ctx context.Context, req GenerateRequest) (*Result, error)
	AnalyzeImages(ctx context.Context, images []media.Image, prompt string, jsonMode bool) (*Result, error)
	Embedding(ctx context.Context, text string) ([]float32, error)
}

// GenerationError is returned when a generation call fails after retries are
// exhausted (or immediately for non-retryable errors).
type GenerationError struct {
	Class resilience.ErrorClass
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("llm: generation failed (%s): %v", e.Class, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Config holds gateway settings.
type Config struct {
	TextModel      string
	VisionModel    string
	EmbeddingModel string
	// MaxRetries for transient provider errors. Default: 6.
	MaxRetries int
	// EmbedCharLimit is the provider's hard input ceiling. Default: 8000.
	EmbedCharLimit int
}

type gateway struct {
	client openai.Client
	calc   *cost.Calculator
	cfg    Config
}

// NewGateway creates a Gateway over the given provider client. Dependencies
// are injected explicitly so the pipeline stays testable with fakes.
func NewGateway(client openai.Client, calc *cost.Calculator, cfg Config) Gateway {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 6
	}
	if cfg.EmbedCharLimit <= 0 {
		cfg.EmbedCharLimit = 8000
	}
	return &gateway{client: client, calc: calc, cfg: cfg}
}

func (g *gateway) retryPolicy(operation string) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxRetries:     g.cfg.MaxRetries,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
		OnRetry:        resilience.RetryLogger("openai", operation),
	}
}

func (g *gateway) GenerateContent(ctx context.Context, req GenerateRequest) (*Result, error) {
	messages := []openai.Message{
		openai.TextMessage("system", req.SystemPrompt),
		openai.TextMessage("user", req.UserPrompt),
	}
	return g.complete(ctx, "generate_content", g.cfg.TextModel, messages, req.JSONMode, req.Temperature, req.MaxTokens, 0)
}

func (g *gateway) AnalyzeImages(ctx context.Context, images []media.Image, prompt string, jsonMode bool) (*Result, error) {
	uris := make([]string, 0, len(images))
	for _, img := range images {
		if img.Data == "" {
			zap.L().Warn("llm: skipping image without encoded payload",
				zap.String("url", img.SourceURL),
			)
			continue
		}
		uris = append(uris, img.DataURI())
	}

	messages := []openai.Message{openai.VisionMessage(prompt, uris)}
	result, err := g.complete(ctx, "analyze_images", g.cfg.VisionModel, messages, jsonMode, 0.2, 1024, len(uris))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (g *gateway) complete(ctx context.Context, operation, model string, messages []openai.Message, jsonMode bool, temperature float64, maxTokens, analyzedImages int) (*Result, error) {
	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: &temperature,
	}
	if maxTokens > 0 {
		req.MaxTokens = &maxTokens
	}
	if jsonMode {
		req.ResponseFormat = &openai.ResponseFormat{Type: "json_object"}
	}

	start := time.Now()
	resp, err := resilience.DoVal(ctx, g.retryPolicy(operation), func(ctx context.Context) (*openai.ChatCompletionResponse, error) {
		return g.client.ChatCompletion(ctx, req)
	})
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return nil, &GenerationError{Class: resilience.Classify(err), Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &GenerationError{
			Class: resilience.ClassOther,
			Err:   eris.Errorf("llm: provider returned no choices for %s", operation),
		}
	}

	content := resp.Choices[0].Message.Content
	result := &Result{
		Text: content,
		Tokens: TokenUsage{
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
			Total:      resp.Usage.TotalTokens,
		},
		CostUSD:          g.calc.Completion(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		ProcessingTimeMS: elapsed,
		Model:            model,
		AnalyzedImages:   analyzedImages,
		Raw:              resp.Raw,
	}
	if jsonMode {
		result.JSON = ParseJSONResponse(content)
	}

	zap.L().Debug("llm: call complete",
		zap.String("operation", operation),
		zap.String("model", model),
		zap.Int("prompt_tokens", result.Tokens.Prompt),
		zap.Int("completion_tokens", result.Tokens.Completion),
		zap.String("cost_usd", result.CostUSD.String()),
		zap.Int64("duration_ms", elapsed),
	)

	return result, nil
}

func (g *gateway) Embedding(ctx context.Context, text string) ([]float32, error) {
	// Hard ceiling of the embedding endpoint, not tunable per call.
	if runes := []rune(text); len(runes) > g.cfg.EmbedCharLimit {
		text = string(runes[:g.cfg.EmbedCharLimit])
	}

	resp, err := g.client.Embeddings(ctx, openai.EmbeddingsRequest{
		Model: g.cfg.EmbeddingModel,
		Input: text,
	})
	if err != nil {
		return nil, eris.Wrap(err, "llm: embedding request")
	}
	if len(resp.Data) == 0 {
		return nil, eris.New("llm: provider returned no embedding data")
	}

	zap.L().Debug("llm: embedding complete",
		zap.String("model", g.cfg.EmbeddingModel),
		zap.Int("tokens", resp.Usage.TotalTokens),
		zap.String("cost_usd", g.calc.Embedding(g.cfg.EmbeddingModel, resp.Usage.TotalTokens).String()),
	)

	return resp.Data[0].Embedding, nil
}
