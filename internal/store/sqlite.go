package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/vendorhub/enrich-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS categories (
	id          INTEGER PRIMARY KEY,
	name        TEXT NOT NULL,
	parent_name TEXT NOT NULL DEFAULT '',
	examples    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS templates (
	id      INTEGER PRIMARY KEY,
	name    TEXT NOT NULL,
	content TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
	id          INTEGER PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	price       TEXT NOT NULL DEFAULT '0',
	category_id INTEGER REFERENCES categories(id),
	attributes  TEXT,
	image_urls  TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS processing_logs (
	id                    TEXT PRIMARY KEY,
	product_id            INTEGER NOT NULL REFERENCES products(id),
	status                TEXT NOT NULL DEFAULT 'pending',
	generated_title       TEXT NOT NULL DEFAULT '',
	generated_description TEXT NOT NULL DEFAULT '',
	suggested_category    TEXT NOT NULL DEFAULT '',
	category_confidence   REAL,
	image_analysis        TEXT,
	prompt_tokens         INTEGER NOT NULL DEFAULT 0,
	completion_tokens     INTEGER NOT NULL DEFAULT 0,
	total_tokens          INTEGER NOT NULL DEFAULT 0,
	cost_usd              TEXT NOT NULL DEFAULT '0',
	duration_ms           INTEGER NOT NULL DEFAULT 0,
	input_snapshot        TEXT,
	error                 TEXT NOT NULL DEFAULT '',
	created_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	CHECK (category_confidence IS NULL OR (category_confidence >= 0 AND category_confidence <= 1))
);

CREATE TABLE IF NOT EXISTS moderation_tasks (
	id         TEXT PRIMARY KEY,
	log_id     TEXT NOT NULL UNIQUE REFERENCES processing_logs(id),
	reason     TEXT NOT NULL,
	priority   INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_processing_logs_status ON processing_logs(status);
CREATE INDEX IF NOT EXISTS idx_processing_logs_product_id ON processing_logs(product_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, price, category_id, attributes, image_urls, created_at, updated_at
		 FROM products WHERE id = ?`, id)
	return scanProduct(row)
}

func (s *SQLiteStore) ListUnenriched(ctx context.Context, limit int) ([]model.Product, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, price, category_id, attributes, image_urls, created_at, updated_at
		 FROM products p
		 WHERE NOT EXISTS (
			SELECT 1 FROM processing_logs l
			WHERE l.product_id = p.id AND l.status IN ('completed', 'approved', 'moderation')
		 )
		 ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unenriched")
	}
	defer rows.Close()

	var out []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list unenriched rows")
}

func (s *SQLiteStore) ApplyGeneratedContent(ctx context.Context, productID int64, title, description string, categoryID *int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET name = ?, description = ?, category_id = COALESCE(?, category_id), updated_at = ?
		 WHERE id = ?`,
		title, description, categoryID, time.Now().UTC(), productID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: apply generated content %d", productID)
	}
	return checkRowsAffected(res, "product")
}

func (s *SQLiteStore) CreateProduct(ctx context.Context, p *model.Product) error {
	attrs, err := marshalNullable(p.Attributes)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal attributes")
	}
	urls, err := marshalNullable(p.ImageURLs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal image urls")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, name, description, price, category_id, attributes, image_urls, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableID(p.ID), p.Name, p.Description, p.Price.String(), p.CategoryID, attrs, urls, now, now)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert product")
	}
	if p.ID == 0 {
		p.ID, _ = res.LastInsertId()
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

func (s *SQLiteStore) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, parent_name, examples FROM categories ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list categories")
	}
	defer rows.Close()

	var out []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentName, &c.Examples); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list categories rows")
}

func (s *SQLiteStore) FindCategoryByName(ctx context.Context, name string) (*model.Category, error) {
	var c model.Category
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, parent_name, examples FROM categories
		 WHERE lower(name) LIKE '%' || lower(?) || '%' ORDER BY id LIMIT 1`,
		name,
	).Scan(&c.ID, &c.Name, &c.ParentName, &c.Examples)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find category %q", name)
	}
	return &c, nil
}

func (s *SQLiteStore) CreateCategory(ctx context.Context, c *model.Category) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (id, name, parent_name, examples) VALUES (?, ?, ?, ?)`,
		nullableID(c.ID), c.Name, c.ParentName, c.Examples)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert category")
	}
	if c.ID == 0 {
		c.ID, _ = res.LastInsertId()
	}
	return nil
}

func (s *SQLiteStore) ListTemplates(ctx context.Context) ([]model.Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, content FROM templates ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list templates")
	}
	defer rows.Close()

	var out []model.Template
	for rows.Next() {
		var t model.Template
		if err := rows.Scan(&t.ID, &t.Name, &t.Content); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan template")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list templates rows")
}

func (s *SQLiteStore) CreateTemplate(ctx context.Context, t *model.Template) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO templates (id, name, content) VALUES (?, ?, ?)`,
		nullableID(t.ID), t.Name, t.Content)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert template")
	}
	if t.ID == 0 {
		t.ID, _ = res.LastInsertId()
	}
	return nil
}

func (s *SQLiteStore) CreateLog(ctx context.Context, log *model.ProcessingLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	log.CreatedAt, log.UpdatedAt = now, now
	if err := log.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processing_logs (
			id, product_id, status, generated_title, generated_description,
			suggested_category, category_confidence, image_analysis,
			prompt_tokens, completion_tokens, total_tokens, cost_usd,
			duration_ms, input_snapshot, error, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.ProductID, string(log.Status), log.GeneratedTitle, log.GeneratedDescription,
		log.SuggestedCategory, log.CategoryConfidence, rawOrNil(log.ImageAnalysis),
		log.PromptTokens, log.CompletionTokens, log.TotalTokens, log.CostUSD.String(),
		log.DurationMS, rawOrNil(log.InputSnapshot), log.Error, log.CreatedAt, log.UpdatedAt)
	return eris.Wrap(err, "sqlite: insert processing log")
}

func (s *SQLiteStore) UpdateLog(ctx context.Context, log *model.ProcessingLog) error {
	log.UpdatedAt = time.Now().UTC()
	if err := log.Validate(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE processing_logs SET
			status = ?, generated_title = ?, generated_description = ?,
			suggested_category = ?, category_confidence = ?, image_analysis = ?,
			prompt_tokens = ?, completion_tokens = ?, total_tokens = ?, cost_usd = ?,
			duration_ms = ?, input_snapshot = ?, error = ?, updated_at = ?
		 WHERE id = ?`,
		string(log.Status), log.GeneratedTitle, log.GeneratedDescription,
		log.SuggestedCategory, log.CategoryConfidence, rawOrNil(log.ImageAnalysis),
		log.PromptTokens, log.CompletionTokens, log.TotalTokens, log.CostUSD.String(),
		log.DurationMS, rawOrNil(log.InputSnapshot), log.Error, log.UpdatedAt, log.ID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update processing log %s", log.ID)
	}
	return checkRowsAffected(res, "processing log")
}

func (s *SQLiteStore) GetLog(ctx context.Context, id string) (*model.ProcessingLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, product_id, status, generated_title, generated_description,
			suggested_category, category_confidence, image_analysis,
			prompt_tokens, completion_tokens, total_tokens, cost_usd,
			duration_ms, input_snapshot, error, created_at, updated_at
		 FROM processing_logs WHERE id = ?`, id)
	return scanLog(row)
}

func (s *SQLiteStore) ListLogs(ctx context.Context, filter LogFilter) ([]model.ProcessingLog, error) {
	query := `SELECT id, product_id, status, generated_title, generated_description,
			suggested_category, category_confidence, image_analysis,
			prompt_tokens, completion_tokens, total_tokens, cost_usd,
			duration_ms, input_snapshot, error, created_at, updated_at
		 FROM processing_logs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ProductID != 0 {
		query += ` AND product_id = ?`
		args = append(args, filter.ProductID)
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list logs")
	}
	defer rows.Close()

	var out []model.ProcessingLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list logs rows")
}

func (s *SQLiteStore) GetTaskByLogID(ctx context.Context, logID string) (*model.ModerationTask, error) {
	var t model.ModerationTask
	var reason string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, log_id, reason, priority, created_at FROM moderation_tasks WHERE log_id = ?`,
		logID,
	).Scan(&t.ID, &t.LogID, &reason, &t.Priority, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get task for log %s", logID)
	}
	t.Reason = model.ModerationReason(reason)
	return &t, nil
}

func (s *SQLiteStore) CreateTask(ctx context.Context, task *model.ModerationTask) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	task.CreatedAt = time.Now().UTC()

	// UNIQUE(log_id) plus INSERT OR IGNORE keeps creation idempotent even if
	// two processes race past the existence check.
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO moderation_tasks (id, log_id, reason, priority, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		task.ID, task.LogID, string(task.Reason), task.Priority, task.CreatedAt)
	return eris.Wrap(err, "sqlite: insert moderation task")
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*model.Product, error) {
	var p model.Product
	var price string
	var attrs, urls sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &p.CategoryID, &attrs, &urls, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan product")
	}

	p.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, eris.Wrapf(err, "store: parse price %q", price)
	}
	if attrs.Valid && attrs.String != "" {
		if err := json.Unmarshal([]byte(attrs.String), &p.Attributes); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal attributes")
		}
	}
	if urls.Valid && urls.String != "" {
		if err := json.Unmarshal([]byte(urls.String), &p.ImageURLs); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal image urls")
		}
	}
	return &p, nil
}

func scanLog(row rowScanner) (*model.ProcessingLog, error) {
	var l model.ProcessingLog
	var status, costUSD string
	var analysis, snapshot sql.NullString
	err := row.Scan(&l.ID, &l.ProductID, &status, &l.GeneratedTitle, &l.GeneratedDescription,
		&l.SuggestedCategory, &l.CategoryConfidence, &analysis,
		&l.PromptTokens, &l.CompletionTokens, &l.TotalTokens, &costUSD,
		&l.DurationMS, &snapshot, &l.Error, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan processing log")
	}

	l.Status = model.LogStatus(status)
	l.CostUSD, err = decimal.NewFromString(costUSD)
	if err != nil {
		return nil, eris.Wrapf(err, "store: parse cost %q", costUSD)
	}
	if analysis.Valid && analysis.String != "" {
		l.ImageAnalysis = json.RawMessage(analysis.String)
	}
	if snapshot.Valid && snapshot.String != "" {
		l.InputSnapshot = json.RawMessage(snapshot.String)
	}
	return &l, nil
}

func marshalNullable(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func checkRowsAffected(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "store: rows affected for %s", entity)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
