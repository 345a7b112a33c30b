package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/vendorhub/enrich-cli/internal/db"
	"github.com/vendorhub/enrich-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_product": `SELECT id, name, description, price, category_id, attributes, image_urls, created_at, updated_at FROM products WHERE id = $1`,
	"insert_log": `INSERT INTO processing_logs (
			id, product_id, status, generated_title, generated_description,
			suggested_category, category_confidence, image_analysis,
			prompt_tokens, completion_tokens, total_tokens, cost_usd,
			duration_ms, input_snapshot, error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
	"get_log": `SELECT id, product_id, status, generated_title, generated_description,
			suggested_category, category_confidence, image_analysis,
			prompt_tokens, completion_tokens, total_tokens, cost_usd,
			duration_ms, input_snapshot, error, created_at, updated_at
		FROM processing_logs WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// NUMERIC columns scan straight into decimal.Decimal.
		pgxdecimal.Register(conn.TypeMap())
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests to inject pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS categories (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL,
	parent_name TEXT NOT NULL DEFAULT '',
	examples    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS templates (
	id      BIGSERIAL PRIMARY KEY,
	name    TEXT NOT NULL,
	content TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	price       NUMERIC(12,2) NOT NULL DEFAULT 0,
	category_id BIGINT REFERENCES categories(id),
	attributes  JSONB,
	image_urls  JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS processing_logs (
	id                    TEXT PRIMARY KEY,
	product_id            BIGINT NOT NULL REFERENCES products(id),
	status                TEXT NOT NULL DEFAULT 'pending',
	generated_title       TEXT NOT NULL DEFAULT '',
	generated_description TEXT NOT NULL DEFAULT '',
	suggested_category    TEXT NOT NULL DEFAULT '',
	category_confidence   DOUBLE PRECISION CHECK (category_confidence IS NULL OR (category_confidence >= 0 AND category_confidence <= 1)),
	image_analysis        JSONB,
	prompt_tokens         INTEGER NOT NULL DEFAULT 0,
	completion_tokens     INTEGER NOT NULL DEFAULT 0,
	total_tokens          INTEGER NOT NULL DEFAULT 0,
	cost_usd              NUMERIC(12,6) NOT NULL DEFAULT 0,
	duration_ms           BIGINT NOT NULL DEFAULT 0,
	input_snapshot        JSONB,
	error                 TEXT NOT NULL DEFAULT '',
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS moderation_tasks (
	id         TEXT PRIMARY KEY,
	log_id     TEXT NOT NULL UNIQUE REFERENCES processing_logs(id),
	reason     TEXT NOT NULL,
	priority   INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_processing_logs_status ON processing_logs(status);
CREATE INDEX IF NOT EXISTS idx_processing_logs_product_id ON processing_logs(product_id);
CREATE INDEX IF NOT EXISTS idx_moderation_tasks_priority ON moderation_tasks(priority);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, description, price, category_id, attributes, image_urls, created_at, updated_at
		 FROM products WHERE id = $1`, id)
	p, err := scanPgProduct(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get product %d", id)
	}
	return p, nil
}

func (s *PostgresStore) ListUnenriched(ctx context.Context, limit int) ([]model.Product, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, price, category_id, attributes, image_urls, created_at, updated_at
		 FROM products p
		 WHERE NOT EXISTS (
			SELECT 1 FROM processing_logs l
			WHERE l.product_id = p.id AND l.status IN ('completed', 'approved', 'moderation')
		 )
		 ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unenriched")
	}
	defer rows.Close()

	var out []model.Product
	for rows.Next() {
		p, err := scanPgProduct(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan product")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list unenriched iterate")
}

func (s *PostgresStore) ApplyGeneratedContent(ctx context.Context, productID int64, title, description string, categoryID *int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET name = $1, description = $2, category_id = COALESCE($3, category_id), updated_at = $4
		 WHERE id = $5`,
		title, description, categoryID, time.Now().UTC(), productID)
	if err != nil {
		return eris.Wrapf(err, "postgres: apply generated content %d", productID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p *model.Product) error {
	attrs, err := marshalNullable(p.Attributes)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal attributes")
	}
	urls, err := marshalNullable(p.ImageURLs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal image urls")
	}

	now := time.Now().UTC()
	if p.ID != 0 {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO products (id, name, description, price, category_id, attributes, image_urls, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			p.ID, p.Name, p.Description, p.Price, p.CategoryID, attrs, urls, now, now)
	} else {
		err = s.pool.QueryRow(ctx,
			`INSERT INTO products (name, description, price, category_id, attributes, image_urls, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			p.Name, p.Description, p.Price, p.CategoryID, attrs, urls, now, now).Scan(&p.ID)
	}
	if err != nil {
		return eris.Wrap(err, "postgres: insert product")
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, parent_name, examples FROM categories ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list categories")
	}
	defer rows.Close()

	var out []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentName, &c.Examples); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list categories iterate")
}

func (s *PostgresStore) FindCategoryByName(ctx context.Context, name string) (*model.Category, error) {
	var c model.Category
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, parent_name, examples FROM categories
		 WHERE name ILIKE '%' || $1 || '%' ORDER BY id LIMIT 1`,
		name,
	).Scan(&c.ID, &c.Name, &c.ParentName, &c.Examples)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: find category %q", name)
	}
	return &c, nil
}

func (s *PostgresStore) CreateCategory(ctx context.Context, c *model.Category) error {
	var err error
	if c.ID != 0 {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO categories (id, name, parent_name, examples) VALUES ($1, $2, $3, $4)`,
			c.ID, c.Name, c.ParentName, c.Examples)
	} else {
		err = s.pool.QueryRow(ctx,
			`INSERT INTO categories (name, parent_name, examples) VALUES ($1, $2, $3) RETURNING id`,
			c.Name, c.ParentName, c.Examples).Scan(&c.ID)
	}
	return eris.Wrap(err, "postgres: insert category")
}

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]model.Template, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, content FROM templates ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list templates")
	}
	defer rows.Close()

	var out []model.Template
	for rows.Next() {
		var t model.Template
		if err := rows.Scan(&t.ID, &t.Name, &t.Content); err != nil {
			return nil, eris.Wrap(err, "postgres: scan template")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list templates iterate")
}

func (s *PostgresStore) CreateTemplate(ctx context.Context, t *model.Template) error {
	var err error
	if t.ID != 0 {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO templates (id, name, content) VALUES ($1, $2, $3)`,
			t.ID, t.Name, t.Content)
	} else {
		err = s.pool.QueryRow(ctx,
			`INSERT INTO templates (name, content) VALUES ($1, $2) RETURNING id`,
			t.Name, t.Content).Scan(&t.ID)
	}
	return eris.Wrap(err, "postgres: insert template")
}

func (s *PostgresStore) CreateLog(ctx context.Context, log *model.ProcessingLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	log.CreatedAt, log.UpdatedAt = now, now
	if err := log.Validate(); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO processing_logs (
			id, product_id, status, generated_title, generated_description,
			suggested_category, category_confidence, image_analysis,
			prompt_tokens, completion_tokens, total_tokens, cost_usd,
			duration_ms, input_snapshot, error, created_at, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		log.ID, log.ProductID, string(log.Status), log.GeneratedTitle, log.GeneratedDescription,
		log.SuggestedCategory, log.CategoryConfidence, rawBytesOrNil(log.ImageAnalysis),
		log.PromptTokens, log.CompletionTokens, log.TotalTokens, log.CostUSD,
		log.DurationMS, rawBytesOrNil(log.InputSnapshot), log.Error, log.CreatedAt, log.UpdatedAt)
	return eris.Wrap(err, "postgres: insert processing log")
}

func (s *PostgresStore) UpdateLog(ctx context.Context, log *model.ProcessingLog) error {
	log.UpdatedAt = time.Now().UTC()
	if err := log.Validate(); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE processing_logs SET
			status = $1, generated_title = $2, generated_description = $3,
			suggested_category = $4, category_confidence = $5, image_analysis = $6,
			prompt_tokens = $7, completion_tokens = $8, total_tokens = $9, cost_usd = $10,
			duration_ms = $11, input_snapshot = $12, error = $13, updated_at = $14
		 WHERE id = $15`,
		string(log.Status), log.GeneratedTitle, log.GeneratedDescription,
		log.SuggestedCategory, log.CategoryConfidence, rawBytesOrNil(log.ImageAnalysis),
		log.PromptTokens, log.CompletionTokens, log.TotalTokens, log.CostUSD,
		log.DurationMS, rawBytesOrNil(log.InputSnapshot), log.Error, log.UpdatedAt, log.ID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update processing log %s", log.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetLog(ctx context.Context, id string) (*model.ProcessingLog, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, product_id, status, generated_title, generated_description,
			suggested_category, category_confidence, image_analysis,
			prompt_tokens, completion_tokens, total_tokens, cost_usd,
			duration_ms, input_snapshot, error, created_at, updated_at
		 FROM processing_logs WHERE id = $1`, id)
	l, err := scanPgLog(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get log %s", id)
	}
	return l, nil
}

func (s *PostgresStore) ListLogs(ctx context.Context, filter LogFilter) ([]model.ProcessingLog, error) {
	query := `SELECT id, product_id, status, generated_title, generated_description,
			suggested_category, category_confidence, image_analysis,
			prompt_tokens, completion_tokens, total_tokens, cost_usd,
			duration_ms, input_snapshot, error, created_at, updated_at
		 FROM processing_logs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.ProductID != 0 {
		query += fmt.Sprintf(` AND product_id = $%d`, argIdx)
		args = append(args, filter.ProductID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list logs")
	}
	defer rows.Close()

	var out []model.ProcessingLog
	for rows.Next() {
		l, err := scanPgLog(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan processing log")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list logs iterate")
}

func (s *PostgresStore) GetTaskByLogID(ctx context.Context, logID string) (*model.ModerationTask, error) {
	var t model.ModerationTask
	var reason string
	err := s.pool.QueryRow(ctx,
		`SELECT id, log_id, reason, priority, created_at FROM moderation_tasks WHERE log_id = $1`,
		logID,
	).Scan(&t.ID, &t.LogID, &reason, &t.Priority, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get task for log %s", logID)
	}
	t.Reason = model.ModerationReason(reason)
	return &t, nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, task *model.ModerationTask) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	task.CreatedAt = time.Now().UTC()

	// UNIQUE(log_id) plus ON CONFLICT DO NOTHING keeps creation idempotent
	// even if two processes race past the existence check.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO moderation_tasks (id, log_id, reason, priority, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (log_id) DO NOTHING`,
		task.ID, task.LogID, string(task.Reason), task.Priority, task.CreatedAt)
	return eris.Wrap(err, "postgres: insert moderation task")
}

func scanPgProduct(scan func(dest ...any) error) (*model.Product, error) {
	var p model.Product
	var attrs, urls []byte
	if err := scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.CategoryID, &attrs, &urls, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &p.Attributes); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal attributes")
		}
	}
	if len(urls) > 0 {
		if err := json.Unmarshal(urls, &p.ImageURLs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal image urls")
		}
	}
	return &p, nil
}

func scanPgLog(scan func(dest ...any) error) (*model.ProcessingLog, error) {
	var l model.ProcessingLog
	var status string
	var analysis, snapshot []byte
	if err := scan(&l.ID, &l.ProductID, &status, &l.GeneratedTitle, &l.GeneratedDescription,
		&l.SuggestedCategory, &l.CategoryConfidence, &analysis,
		&l.PromptTokens, &l.CompletionTokens, &l.TotalTokens, &l.CostUSD,
		&l.DurationMS, &snapshot, &l.Error, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.Status = model.LogStatus(status)
	if len(analysis) > 0 {
		l.ImageAnalysis = json.RawMessage(analysis)
	}
	if len(snapshot) > 0 {
		l.InputSnapshot = json.RawMessage(snapshot)
	}
	return &l, nil
}

func rawBytesOrNil(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
