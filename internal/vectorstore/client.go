// Package vectorstore wraps the qdrant HTTP API for the two collections the
// pipeline uses (categories, templates). Search is advisory: failures degrade
// to an empty result set instead of propagating.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const maxErrorBodyBytes = 1024

// Match is one nearest-neighbor hit, ordered by descending similarity.
type Match struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// Store is the vector database surface the pipeline depends on.
type Store interface {
	// Upsert fully replaces the point with the given id. Bulk sync jobs count
	// per-item failures; pipeline call sites treat errors as best-effort.
	Upsert(ctx context.Context, collection string, id int64, vector []float32, payload map[string]any) error
	// Search returns up to limit matches by descending similarity. Errors are
	// logged and yield an empty slice — absence of results must degrade
	// gracefully to "no hints".
	Search(ctx context.Context, collection string, vector []float32, limit int) []Match
}

// Config holds qdrant connection settings.
type Config struct {
	URL         string
	Collections []string
	Dimensions  int
	// HTTPClient overrides the default client (for testing).
	HTTPClient *http.Client
}

// Client implements Store over qdrant's REST API.
type Client struct {
	baseURL string
	dim     int
	http    *http.Client
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

type searchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

// New connects to qdrant and ensures every configured collection exists,
// configured for cosine similarity over the embedding dimensionality.
// Creation is idempotent: existing collections are left untouched.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, eris.New("vectorstore: url required")
	}
	if cfg.Dimensions <= 0 {
		return nil, eris.New("vectorstore: dimensions required")
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		dim:     cfg.Dimensions,
		http:    hc,
	}

	for _, name := range cfg.Collections {
		if err := c.ensureCollection(ctx, name); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Client) ensureCollection(ctx context.Context, name string) error {
	status, _, err := c.do(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return eris.Wrap(err, "vectorstore: check collection")
	}
	if status == http.StatusOK {
		return nil
	}
	if status != http.StatusNotFound {
		return eris.Errorf("vectorstore: unexpected status %d checking collection %s", status, name)
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     c.dim,
			"distance": "Cosine",
		},
	}
	status, raw, err := c.do(ctx, http.MethodPut, "/collections/"+name, body)
	if err != nil {
		return eris.Wrap(err, "vectorstore: create collection")
	}
	if status < 200 || status >= 300 {
		return eris.Errorf("vectorstore: create collection %s: status %d body %q", name, status, truncate(raw))
	}

	zap.L().Info("vectorstore: collection created",
		zap.String("collection", name),
		zap.Int("dimensions", c.dim),
	)
	return nil
}

// Upsert fully replaces the point. Partial payload updates are never issued;
// the source entity is re-rendered on every sync.
func (c *Client) Upsert(ctx context.Context, collection string, id int64, vector []float32, payload map[string]any) error {
	if len(vector) != c.dim {
		return eris.Errorf("vectorstore: vector dimension mismatch: expected %d got %d", c.dim, len(vector))
	}

	body := map[string]any{
		"points": []map[string]any{
			{
				"id":      id,
				"vector":  vector,
				"payload": payload,
			},
		},
	}

	status, raw, err := c.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", body)
	if err != nil {
		return eris.Wrap(err, "vectorstore: upsert")
	}
	if status < 200 || status >= 300 {
		return eris.Errorf("vectorstore: upsert to %s: status %d body %q", collection, status, truncate(raw))
	}
	return nil
}

// Search queries nearest neighbors. It never returns an error: any failure is
// logged and produces an empty result set so RAG context building can proceed
// without category hints.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, limit int) []Match {
	if limit <= 0 {
		limit = 5
	}

	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}

	status, raw, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body)
	if err != nil {
		zap.L().Warn("vectorstore: search failed",
			zap.String("collection", collection),
			zap.Error(err),
		)
		return nil
	}
	if status < 200 || status >= 300 {
		zap.L().Warn("vectorstore: search returned error status",
			zap.String("collection", collection),
			zap.Int("status", status),
			zap.String("body", truncate(raw)),
		)
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		zap.L().Warn("vectorstore: decode search envelope failed", zap.Error(err))
		return nil
	}

	var items []searchResultItem
	if err := json.Unmarshal(env.Result, &items); err != nil {
		zap.L().Warn("vectorstore: decode search results failed", zap.Error(err))
		return nil
	}

	out := make([]Match, 0, len(items))
	for _, item := range items {
		out = append(out, Match{
			ID:      decodePointID(item.ID),
			Score:   item.Score,
			Payload: item.Payload,
		})
	}
	return out
}

func (c *Client) do(ctx context.Context, method, path string, in any) (int, []byte, error) {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return 0, nil, eris.Wrap(err, "vectorstore: encode request")
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, eris.Wrap(err, "vectorstore: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, eris.Wrap(err, "vectorstore: request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, eris.Wrap(err, "vectorstore: read response")
	}
	return resp.StatusCode, raw, nil
}

func decodePointID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return strings.TrimSpace(string(raw))
}

func truncate(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}
