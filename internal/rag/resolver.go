// Package rag builds retrieval-augmented prompt context from the vector
// store and maps model-suggested category names back onto relational rows.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vendorhub/enrich-cli/internal/llm"
	"github.com/vendorhub/enrich-cli/internal/model"
	"github.com/vendorhub/enrich-cli/internal/store"
	"github.com/vendorhub/enrich-cli/internal/vectorstore"
)

const (
	// DefaultConfidence is assumed when the model omits category_confidence.
	DefaultConfidence = 0.5

	searchLimit   = 5
	contextTopN   = 3
	maxExampleLen = 200
)

// Collections names the vector collections the resolver reads from.
type Collections struct {
	Categories string
	Templates  string
}

// Resolver retrieves category hints and resolves suggested names to rows.
type Resolver struct {
	gateway     llm.Gateway
	vectors     vectorstore.Store
	store       store.Store
	collections Collections
}

// NewResolver wires the resolver. All dependencies are required.
func NewResolver(gateway llm.Gateway, vectors vectorstore.Store, st store.Store, collections Collections) *Resolver {
	if collections.Categories == "" {
		collections.Categories = "categories"
	}
	if collections.Templates == "" {
		collections.Templates = "templates"
	}
	return &Resolver{gateway: gateway, vectors: vectors, store: st, collections: collections}
}

// BuildCategoryContext returns a bulleted block of the most similar known
// categories for inclusion in the generation prompt. Retrieval is advisory:
// any failure degrades to an empty string and the prompt ships without hints.
func (r *Resolver) BuildCategoryContext(ctx context.Context, product *model.Product) string {
	query := retrievalQuery(product)
	if query == "" {
		return ""
	}

	vector, err := r.gateway.Embedding(ctx, query)
	if err != nil {
		zap.L().Warn("rag: category query embedding failed",
			zap.Int64("product_id", product.ID),
			zap.Error(err),
		)
		return ""
	}

	matches := r.vectors.Search(ctx, r.collections.Categories, vector, searchLimit)
	if len(matches) == 0 {
		return ""
	}
	if len(matches) > contextTopN {
		matches = matches[:contextTopN]
	}

	var b strings.Builder
	b.WriteString("Known categories similar to this product:\n")
	for _, m := range matches {
		name, _ := m.Payload["name"].(string)
		if name == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s (similarity %.2f)", name, m.Score)
		if parent, _ := m.Payload["parent_name"].(string); parent != "" {
			fmt.Fprintf(&b, ", part of %s", parent)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// BuildTemplateContext retrieves the closest description template and returns
// its content as a style exemplar for the text prompt. Empty on any failure.
func (r *Resolver) BuildTemplateContext(ctx context.Context, product *model.Product) string {
	query := retrievalQuery(product)
	if query == "" {
		return ""
	}

	vector, err := r.gateway.Embedding(ctx, query)
	if err != nil {
		zap.L().Warn("rag: template query embedding failed",
			zap.Int64("product_id", product.ID),
			zap.Error(err),
		)
		return ""
	}

	matches := r.vectors.Search(ctx, r.collections.Templates, vector, 1)
	if len(matches) == 0 {
		return ""
	}
	content, _ := matches[0].Payload["content"].(string)
	if content == "" {
		return ""
	}
	return "Write the description in the style of this example:\n" + content + "\n"
}

// ResolveCategory maps the model's suggested_category_name field onto a
// relational category via case-insensitive substring match. A missing
// confidence defaults to 0.5. No match resolves to (nil, confidence) so the
// pipeline records the suggestion without assigning a category.
func (r *Resolver) ResolveCategory(ctx context.Context, fields map[string]any) (*model.Category, float64, error) {
	confidence := DefaultConfidence
	if v, ok := fields["category_confidence"].(float64); ok {
		confidence = v
	}

	name, _ := fields["suggested_category_name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, confidence, nil
	}

	category, err := r.store.FindCategoryByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		zap.L().Info("rag: suggested category has no match",
			zap.String("suggested", name),
		)
		return nil, confidence, nil
	}
	if err != nil {
		return nil, confidence, eris.Wrapf(err, "rag: resolve category %q", name)
	}
	return category, confidence, nil
}

// CategoryPayload renders the vector point payload for a category.
func CategoryPayload(c model.Category) map[string]any {
	return map[string]any{
		"name":        c.Name,
		"parent_name": c.ParentName,
		"examples":    c.Examples,
	}
}

// CategoryEmbeddingText renders the text embedded for a category point.
func CategoryEmbeddingText(c model.Category) string {
	parts := []string{c.Name}
	if c.ParentName != "" {
		parts = append(parts, c.ParentName)
	}
	if c.Examples != "" {
		examples := c.Examples
		if runes := []rune(examples); len(runes) > maxExampleLen {
			examples = string(runes[:maxExampleLen])
		}
		parts = append(parts, examples)
	}
	return strings.Join(parts, ". ")
}

// TemplatePayload renders the vector point payload for a template.
func TemplatePayload(t model.Template) map[string]any {
	return map[string]any{
		"name":    t.Name,
		"content": t.Content,
	}
}

// TemplateEmbeddingText renders the text embedded for a template point.
func TemplateEmbeddingText(t model.Template) string {
	return t.Name + ". " + t.Content
}

func retrievalQuery(product *model.Product) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{product.Name, product.Description, product.ScrapedCaption()} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}
