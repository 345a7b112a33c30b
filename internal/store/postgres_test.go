package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorhub/enrich-cli/internal/model"
)

func newMockPostgres(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgres_GetProduct(t *testing.T) {
	st, mock := newMockPostgres(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, name, description, price, category_id, attributes, image_urls, created_at, updated_at`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "description", "price", "category_id", "attributes", "image_urls", "created_at", "updated_at",
		}).AddRow(
			int64(7), "Vitamin C", "desc", decimal.RequireFromString("249.90"), (*int64)(nil),
			[]byte(`{"caption": "scraped"}`), []byte(`["https://cdn.example.com/1.jpg"]`), now, now,
		))

	got, err := st.GetProduct(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "Vitamin C", got.Name)
	assert.True(t, decimal.RequireFromString("249.90").Equal(got.Price))
	assert.Equal(t, "scraped", got.Attributes["caption"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetProduct_Missing(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT id, name, description, price`).
		WithArgs(int64(9)).
		WillReturnError(pgx.ErrNoRows)

	_, err := st.GetProduct(context.Background(), 9)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateLog_Missing(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectExec(`UPDATE processing_logs SET`).
		WithArgs(anyArgs(15)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.UpdateLog(context.Background(), &model.ProcessingLog{
		ID:     "missing-log",
		Status: model.LogStatusCompleted,
	})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateLog(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO processing_logs`).
		WithArgs(anyArgs(17)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	log := &model.ProcessingLog{
		ProductID:     3,
		Status:        model.LogStatusPending,
		InputSnapshot: json.RawMessage(`{"name": "x"}`),
	}
	require.NoError(t, st.CreateLog(context.Background(), log))
	assert.NotEmpty(t, log.ID, "id should be assigned before insert")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateTask_ConflictIsNoop(t *testing.T) {
	st, mock := newMockPostgres(t)

	// ON CONFLICT DO NOTHING reports zero rows affected; still no error.
	mock.ExpectExec(`INSERT INTO moderation_tasks`).
		WithArgs(anyArgs(5)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	task := &model.ModerationTask{LogID: "log-1", Reason: model.ReasonManualReview, Priority: 3}
	require.NoError(t, st.CreateTask(context.Background(), task))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetTaskByLogID_Missing(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT id, log_id, reason, priority, created_at FROM moderation_tasks`).
		WithArgs("log-1").
		WillReturnError(pgx.ErrNoRows)

	_, err := st.GetTaskByLogID(context.Background(), "log-1")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FindCategoryByName(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT id, name, parent_name, examples FROM categories`).
		WithArgs("vitamins").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "parent_name", "examples"}).
			AddRow(int64(2), "Vitamins & Minerals", "Health", ""))

	got, err := st.FindCategoryByName(context.Background(), "vitamins")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ID)
	assert.Equal(t, "Vitamins & Minerals", got.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListLogs_AppliesFilters(t *testing.T) {
	st, mock := newMockPostgres(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, product_id, status`).
		WithArgs("moderation", 50).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "product_id", "status", "generated_title", "generated_description",
			"suggested_category", "category_confidence", "image_analysis",
			"prompt_tokens", "completion_tokens", "total_tokens", "cost_usd",
			"duration_ms", "input_snapshot", "error", "created_at", "updated_at",
		}).AddRow(
			"log-1", int64(3), "moderation", "T", "D",
			"Vitamins", ptrFloat(0.4), []byte(nil),
			100, 50, 150, decimal.RequireFromString("0.000045"),
			int64(900), []byte(nil), "", now, now,
		))

	logs, err := st.ListLogs(context.Background(), LogFilter{Status: model.LogStatusModeration})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.LogStatusModeration, logs[0].Status)
	require.NotNil(t, logs[0].CategoryConfidence)
	assert.Equal(t, 0.4, *logs[0].CategoryConfidence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func ptrFloat(f float64) *float64 { return &f }

// anyArgs returns n wildcard matchers; pgxmock requires the expected argument
// count to match even when the values themselves are not being checked.
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}
