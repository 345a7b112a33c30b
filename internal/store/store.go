// Package store persists processing logs, moderation tasks, and the
// enrichment-facing projection of the catalog (products, categories,
// templates). Two drivers are provided: postgres for production and sqlite
// for local runs and tests.
package store

import (
	"context"
	"errors"

	"github.com/vendorhub/enrich-cli/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// LogFilter specifies criteria for listing processing logs.
type LogFilter struct {
	Status    model.LogStatus `json:"status,omitempty"`
	ProductID int64           `json:"product_id,omitempty"`
	Limit     int             `json:"limit,omitempty"`
}

// Store defines the persistence interface for the enrichment pipeline.
type Store interface {
	// Catalog projection
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	ListUnenriched(ctx context.Context, limit int) ([]model.Product, error)
	ApplyGeneratedContent(ctx context.Context, productID int64, title, description string, categoryID *int64) error
	CreateProduct(ctx context.Context, p *model.Product) error

	// Categories and templates
	ListCategories(ctx context.Context) ([]model.Category, error)
	// FindCategoryByName performs a case-insensitive substring match on the
	// category name and returns the first hit by id order.
	FindCategoryByName(ctx context.Context, name string) (*model.Category, error)
	CreateCategory(ctx context.Context, c *model.Category) error
	ListTemplates(ctx context.Context) ([]model.Template, error)
	CreateTemplate(ctx context.Context, t *model.Template) error

	// Processing logs (audit trail; never deleted)
	CreateLog(ctx context.Context, log *model.ProcessingLog) error
	UpdateLog(ctx context.Context, log *model.ProcessingLog) error
	GetLog(ctx context.Context, id string) (*model.ProcessingLog, error)
	ListLogs(ctx context.Context, filter LogFilter) ([]model.ProcessingLog, error)

	// Moderation tasks
	GetTaskByLogID(ctx context.Context, logID string) (*model.ModerationTask, error)
	CreateTask(ctx context.Context, task *model.ModerationTask) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
