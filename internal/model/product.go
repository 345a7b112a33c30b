package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product is the enrichment-facing projection of a catalog product. The full
// catalog schema (vendors, orders, stock) lives outside this tool; only the
// fields the pipeline reads or writes are modeled here.
type Product struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Price       decimal.Decimal   `json:"price"`
	CategoryID  *int64            `json:"category_id,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	ImageURLs   []string          `json:"image_urls,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ScrapedCaption returns the raw caption attribute carried over from the
// scraper output, if any.
func (p *Product) ScrapedCaption() string {
	if p.Attributes == nil {
		return ""
	}
	return strings.TrimSpace(p.Attributes["caption"])
}
