package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/vendorhub/enrich-cli/internal/cost"
	"github.com/vendorhub/enrich-cli/internal/enrich"
	"github.com/vendorhub/enrich-cli/internal/llm"
	"github.com/vendorhub/enrich-cli/internal/media"
	"github.com/vendorhub/enrich-cli/internal/moderation"
	"github.com/vendorhub/enrich-cli/internal/rag"
	"github.com/vendorhub/enrich-cli/internal/store"
	"github.com/vendorhub/enrich-cli/internal/vectorstore"
	"github.com/vendorhub/enrich-cli/pkg/openai"
)

// pipelineEnv holds the initialized store, clients, and the enricher shared
// by the enrich/vector/logs commands.
type pipelineEnv struct {
	Store    store.Store
	Gateway  llm.Gateway
	Vectors  *vectorstore.Client
	Resolver *rag.Resolver
	Enricher *enrich.Enricher
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "enrich.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv sets up the store, provider clients, vector store, and the
// enricher. Callers should defer env.Close().
func initEnv(ctx context.Context) (*pipelineEnv, error) {
	if cfg.OpenAI.Key == "" {
		return nil, eris.New("openai API key is required (ENRICH_OPENAI_KEY)")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	timeout := time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second
	client := openai.NewClient(cfg.OpenAI.Key,
		openai.WithBaseURL(cfg.OpenAI.BaseURL),
		openai.WithHTTPClient(&http.Client{Timeout: timeout}),
	)

	rates := cost.DefaultRates()
	if len(cfg.Pricing.Models) > 0 {
		rates = cost.Rates{DefaultModel: cfg.Pricing.DefaultModel, Models: map[string]cost.ModelRate{}}
		for name, p := range cfg.Pricing.Models {
			rates.Models[name] = cost.ModelRate{InputPer1K: p.InputPer1K, OutputPer1K: p.OutputPer1K}
		}
	}

	gateway := llm.NewGateway(client, cost.NewCalculator(rates), llm.Config{
		TextModel:      cfg.OpenAI.TextModel,
		VisionModel:    cfg.OpenAI.VisionModel,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
		MaxRetries:     cfg.OpenAI.MaxRetries,
		EmbedCharLimit: cfg.Vector.EmbedCharacterLimit,
	})

	vectors, err := vectorstore.New(ctx, vectorstore.Config{
		URL:         cfg.Vector.URL,
		Collections: []string{cfg.Vector.CategoryCollection, cfg.Vector.TemplateCollection},
		Dimensions:  cfg.Vector.Dimensions,
	})
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "connect vector store")
	}

	resolver := rag.NewResolver(gateway, vectors, st, rag.Collections{
		Categories: cfg.Vector.CategoryCollection,
		Templates:  cfg.Vector.TemplateCollection,
	})

	fetcher := media.NewFetcher(media.Options{
		MaxEdge:     cfg.Media.MaxEdge,
		JPEGQuality: cfg.Media.JPEGQuality,
		Timeout:     time.Duration(cfg.Media.TimeoutSecs) * time.Second,
	})

	gate := moderation.NewGate(st, moderation.Config{
		ConfidenceThreshold: cfg.Moderation.ConfidenceThreshold,
		MinPrice:            decimal.NewFromFloat(cfg.Moderation.MinPrice),
		MinDescriptionLen:   cfg.Moderation.MinDescriptionLen,
	})

	enricher := enrich.New(st, gateway, fetcher, resolver, gate, enrich.Config{
		Temperature: cfg.Enrich.Temperature,
		MaxTokens:   cfg.Enrich.MaxTokens,
	})

	return &pipelineEnv{
		Store:    st,
		Gateway:  gateway,
		Vectors:  vectors,
		Resolver: resolver,
		Enricher: enricher,
	}, nil
}
