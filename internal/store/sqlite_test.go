package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorhub/enrich-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedProduct(t *testing.T, st *SQLiteStore, name string, price string) *model.Product {
	t.Helper()
	p := &model.Product{
		Name:        name,
		Description: "raw scraped description",
		Price:       decimal.RequireFromString(price),
		Attributes:  map[string]string{"caption": "from scraper"},
		ImageURLs:   []string{"https://cdn.example.com/1.jpg"},
	}
	require.NoError(t, st.CreateProduct(context.Background(), p))
	return p
}

// --- Products ---

func TestSQLite_Product_CreateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	p := seedProduct(t, st, "Vitamin C 500mg", "249.90")
	require.NotZero(t, p.ID)

	got, err := st.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Vitamin C 500mg", got.Name)
	assert.True(t, decimal.RequireFromString("249.90").Equal(got.Price))
	assert.Equal(t, "from scraper", got.Attributes["caption"])
	assert.Equal(t, []string{"https://cdn.example.com/1.jpg"}, got.ImageURLs)
}

func TestSQLite_Product_GetMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetProduct(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListUnenriched(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := seedProduct(t, st, "A", "100")
	b := seedProduct(t, st, "B", "100")
	c := seedProduct(t, st, "C", "100")

	// A already enriched, B only failed, C untouched.
	logA := &model.ProcessingLog{ProductID: a.ID, Status: model.LogStatusCompleted}
	require.NoError(t, st.CreateLog(ctx, logA))
	logB := &model.ProcessingLog{ProductID: b.ID, Status: model.LogStatusFailed}
	require.NoError(t, st.CreateLog(ctx, logB))

	products, err := st.ListUnenriched(ctx, 10)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, b.ID, products[0].ID, "failed attempts should be retried")
	assert.Equal(t, c.ID, products[1].ID)
}

func TestSQLite_ApplyGeneratedContent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	cat := &model.Category{Name: "Vitamins"}
	require.NoError(t, st.CreateCategory(ctx, cat))
	p := seedProduct(t, st, "old name", "150")

	require.NoError(t, st.ApplyGeneratedContent(ctx, p.ID, "New Title", "New description", &cat.ID))

	got, err := st.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "New Title", got.Name)
	assert.Equal(t, "New description", got.Description)
	require.NotNil(t, got.CategoryID)
	assert.Equal(t, cat.ID, *got.CategoryID)
}

func TestSQLite_ApplyGeneratedContent_NilCategoryKeepsExisting(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	cat := &model.Category{Name: "Vitamins"}
	require.NoError(t, st.CreateCategory(ctx, cat))
	p := seedProduct(t, st, "x", "150")
	require.NoError(t, st.ApplyGeneratedContent(ctx, p.ID, "t", "d", &cat.ID))

	require.NoError(t, st.ApplyGeneratedContent(ctx, p.ID, "t2", "d2", nil))
	got, err := st.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CategoryID)
	assert.Equal(t, cat.ID, *got.CategoryID)
}

func TestSQLite_ApplyGeneratedContent_MissingProduct(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.ApplyGeneratedContent(context.Background(), 424242, "t", "d", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Categories ---

func TestSQLite_FindCategoryByName_SubstringCaseInsensitive(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateCategory(ctx, &model.Category{Name: "Sports Nutrition"}))
	require.NoError(t, st.CreateCategory(ctx, &model.Category{Name: "Vitamins & Minerals"}))

	got, err := st.FindCategoryByName(ctx, "vitamins")
	require.NoError(t, err)
	assert.Equal(t, "Vitamins & Minerals", got.Name)

	// Substring matching is deliberately loose: a short query can hit a
	// longer category name.
	got, err = st.FindCategoryByName(ctx, "nutri")
	require.NoError(t, err)
	assert.Equal(t, "Sports Nutrition", got.Name)

	_, err = st.FindCategoryByName(ctx, "Electronics")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_FindCategoryByName_FirstByID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first := &model.Category{Name: "Cardio Equipment"}
	require.NoError(t, st.CreateCategory(ctx, first))
	require.NoError(t, st.CreateCategory(ctx, &model.Category{Name: "Cardio Accessories"}))

	got, err := st.FindCategoryByName(ctx, "cardio")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestSQLite_ListCategoriesAndTemplates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateCategory(ctx, &model.Category{Name: "A", ParentName: "Root", Examples: "x, y"}))
	require.NoError(t, st.CreateTemplate(ctx, &model.Template{Name: "Default", Content: "Write warmly."}))

	categories, err := st.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, categories, 1)
	assert.Equal(t, "Root", categories[0].ParentName)

	templates, err := st.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "Write warmly.", templates[0].Content)
}

// --- Processing logs ---

func TestSQLite_Log_CreateUpdateGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	p := seedProduct(t, st, "x", "100")
	log := &model.ProcessingLog{
		ProductID:     p.ID,
		Status:        model.LogStatusPending,
		InputSnapshot: json.RawMessage(`{"name": "x"}`),
	}
	require.NoError(t, st.CreateLog(ctx, log))
	require.NotEmpty(t, log.ID)

	conf := 0.92
	log.Status = model.LogStatusCompleted
	log.GeneratedTitle = "Title"
	log.GeneratedDescription = "Description"
	log.SuggestedCategory = "Vitamins"
	log.CategoryConfidence = &conf
	log.ImageAnalysis = json.RawMessage(`{"summary": "two photos"}`)
	log.PromptTokens = 800
	log.CompletionTokens = 200
	log.TotalTokens = 1000
	log.CostUSD = decimal.RequireFromString("0.000245")
	log.DurationMS = 4120
	require.NoError(t, st.UpdateLog(ctx, log))

	got, err := st.GetLog(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LogStatusCompleted, got.Status)
	assert.Equal(t, "Title", got.GeneratedTitle)
	assert.Equal(t, "Vitamins", got.SuggestedCategory)
	require.NotNil(t, got.CategoryConfidence)
	assert.Equal(t, 0.92, *got.CategoryConfidence)
	assert.JSONEq(t, `{"summary": "two photos"}`, string(got.ImageAnalysis))
	assert.JSONEq(t, `{"name": "x"}`, string(got.InputSnapshot))
	assert.Equal(t, 1000, got.TotalTokens)
	assert.True(t, decimal.RequireFromString("0.000245").Equal(got.CostUSD))
	assert.Equal(t, int64(4120), got.DurationMS)
}

func TestSQLite_Log_ValidateRejectsBadWrites(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedProduct(t, st, "x", "100")

	bad := &model.ProcessingLog{
		ProductID: p.ID,
		Status:    model.LogStatusPending,
		CostUSD:   decimal.RequireFromString("-0.01"),
	}
	assert.Error(t, st.CreateLog(ctx, bad))

	conf := 1.5
	bad = &model.ProcessingLog{
		ProductID:          p.ID,
		Status:             model.LogStatusPending,
		CategoryConfidence: &conf,
	}
	assert.Error(t, st.CreateLog(ctx, bad))
}

func TestSQLite_ListLogs_FilterAndLimit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedProduct(t, st, "x", "100")

	for _, status := range []model.LogStatus{
		model.LogStatusCompleted, model.LogStatusModeration, model.LogStatusFailed,
	} {
		require.NoError(t, st.CreateLog(ctx, &model.ProcessingLog{ProductID: p.ID, Status: status}))
	}

	logs, err := st.ListLogs(ctx, LogFilter{Status: model.LogStatusModeration})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.LogStatusModeration, logs[0].Status)

	logs, err = st.ListLogs(ctx, LogFilter{ProductID: p.ID, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	logs, err = st.ListLogs(ctx, LogFilter{ProductID: p.ID + 1})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

// --- Moderation tasks ---

func TestSQLite_Task_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	p := seedProduct(t, st, "x", "100")
	log := &model.ProcessingLog{ProductID: p.ID, Status: model.LogStatusModeration}
	require.NoError(t, st.CreateLog(ctx, log))

	first := &model.ModerationTask{LogID: log.ID, Reason: model.ReasonLowConfidence, Priority: 2}
	require.NoError(t, st.CreateTask(ctx, first))

	second := &model.ModerationTask{LogID: log.ID, Reason: model.ReasonManualReview, Priority: 3}
	require.NoError(t, st.CreateTask(ctx, second), "duplicate creation must be a no-op")

	got, err := st.GetTaskByLogID(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, model.ReasonLowConfidence, got.Reason)
	assert.Equal(t, 2, got.Priority)
}

func TestSQLite_Task_MissingLog(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetTaskByLogID(context.Background(), "no-such-log")
	assert.ErrorIs(t, err, ErrNotFound)
}
