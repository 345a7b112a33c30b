package enrich

import (
	"fmt"
	"strings"

	"github.com/vendorhub/enrich-cli/internal/model"
)

const systemPrompt = `You are a product content editor for a multi-vendor marketplace.
Given raw product data, produce polished listing content.
Respond with a JSON object containing exactly these fields:
  "generated_title": a concise, specific product title (max 80 characters)
  "generated_description": a complete sales description (at least 150 characters)
  "suggested_category_name": the best matching category name for this product
  "category_confidence": your confidence in the category, a number between 0 and 1
Never invent specifications that are not supported by the provided data.`

const visionPrompt = `Analyze the attached product photos.
Respond with a JSON object containing:
  "visible_attributes": notable attributes visible in the photos (color, material, condition, branding)
  "summary": one short paragraph describing what the photos show
Only describe what is actually visible.`

// maxVisionSummaryLen bounds how much of the vision output is replayed into
// the text prompt.
const maxVisionSummaryLen = 1000

func buildUserPrompt(product *model.Product, categoryContext, templateContext, visionSummary string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Product name: %s\n", product.Name)
	if product.Description != "" {
		fmt.Fprintf(&b, "Current description: %s\n", product.Description)
	}
	fmt.Fprintf(&b, "Declared price: %s\n", product.Price.String())
	if caption := product.ScrapedCaption(); caption != "" {
		fmt.Fprintf(&b, "Scraped caption: %s\n", caption)
	}
	for key, value := range product.Attributes {
		if key == "caption" || value == "" {
			continue
		}
		fmt.Fprintf(&b, "Attribute %s: %s\n", key, value)
	}

	if visionSummary != "" {
		b.WriteString("\nPhoto analysis:\n")
		b.WriteString(truncateRunes(visionSummary, maxVisionSummaryLen))
		b.WriteString("\n")
	}
	if categoryContext != "" {
		b.WriteString("\n")
		b.WriteString(categoryContext)
	}
	if templateContext != "" {
		b.WriteString("\n")
		b.WriteString(templateContext)
	}

	return b.String()
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
