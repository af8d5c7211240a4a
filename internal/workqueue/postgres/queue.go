// Package postgres provides a Postgres-backed workqueue backend for running
// without an Automation Server.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/pagecount-runner/internal/workqueue"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and the table items live in.
type Config struct {
	DSN             string
	Table           string
	Queue           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Queue stores work items in a single table, partitioned by queue name.
type Queue struct {
	pool  pool
	table string
	queue string
	ids   workqueue.IDGenerator
}

// NewQueue connects to Postgres using cfg.
func NewQueue(ctx context.Context, cfg Config, ids workqueue.IDGenerator) (*Queue, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	q, err := NewQueueWithPool(p, cfg.Table, cfg.Queue, ids)
	if err != nil {
		p.Close()
		return nil, err
	}
	return q, nil
}

// NewQueueWithPool constructs a queue from an existing pool (primarily for testing).
func NewQueueWithPool(p pool, table, queue string, ids workqueue.IDGenerator) (*Queue, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	if table == "" {
		table = "work_items"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if queue == "" {
		queue = "default"
	}
	return &Queue{pool: p, table: table, queue: queue, ids: ids}, nil
}

// Migrate creates the items table when it does not exist.
func (q *Queue) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id          TEXT PRIMARY KEY,
	queue       TEXT NOT NULL,
	reference   TEXT NOT NULL,
	data        JSONB NOT NULL,
	status      TEXT NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS %[1]s_queue_status_idx ON %[1]s (queue, status, created_at)`, q.table)
	if _, err := q.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("migrate %s: %w", q.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (q *Queue) Close() {
	if q == nil || q.pool == nil {
		return
	}
	q.pool.Close()
}

// Add inserts a new item.
func (q *Queue) Add(ctx context.Context, data workqueue.ItemData, reference string) (workqueue.Item, error) {
	id, err := q.ids.NewID()
	if err != nil {
		return workqueue.Item{}, fmt.Errorf("generate item id: %w", err)
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return workqueue.Item{}, fmt.Errorf("marshal item data: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, queue, reference, data, status) VALUES ($1, $2, $3, $4, $5)`, q.table)
	if _, err := q.pool.Exec(ctx, query, id, q.queue, reference, payload, string(workqueue.StatusNew)); err != nil {
		return workqueue.Item{}, fmt.Errorf("insert item: %w", err)
	}
	return workqueue.Item{
		ID:        id,
		Reference: reference,
		Data:      data,
		Status:    workqueue.StatusNew,
	}, nil
}

// Clear deletes every item of this queue in status.
func (q *Queue) Clear(ctx context.Context, status workqueue.Status) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE queue = $1 AND status = $2`, q.table)
	if _, err := q.pool.Exec(ctx, query, q.queue, string(status)); err != nil {
		return fmt.Errorf("clear items: %w", err)
	}
	return nil
}

// Next claims the oldest new item, skipping rows locked by other consumers.
func (q *Queue) Next(ctx context.Context) (workqueue.Item, error) {
	query := fmt.Sprintf(`
UPDATE %[1]s SET status = $1, updated_at = now()
WHERE id = (
	SELECT id FROM %[1]s
	WHERE queue = $2 AND status = $3
	ORDER BY created_at, id
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING id, reference, data, status, message`, q.table)

	var (
		item    workqueue.Item
		payload []byte
		status  string
	)
	err := q.pool.QueryRow(ctx, query, string(workqueue.StatusInProgress), q.queue, string(workqueue.StatusNew)).
		Scan(&item.ID, &item.Reference, &payload, &status, &item.Message)
	if errors.Is(err, pgx.ErrNoRows) {
		return workqueue.Item{}, workqueue.ErrEmpty
	}
	if err != nil {
		return workqueue.Item{}, fmt.Errorf("claim item: %w", err)
	}
	if err := json.Unmarshal(payload, &item.Data); err != nil {
		return workqueue.Item{}, fmt.Errorf("unmarshal item %s data: %w", item.ID, err)
	}
	item.Status = workqueue.Status(status)
	return item, nil
}

// Update replaces the payload of an item. The reference column is left as is.
func (q *Queue) Update(ctx context.Context, id string, data workqueue.ItemData, _ string) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal item data: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET data = $1, updated_at = now() WHERE id = $2`, q.table)
	tag, err := q.pool.Exec(ctx, query, payload, id)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", workqueue.ErrNotFound, id)
	}
	return nil
}

// SetStatus records a status transition.
func (q *Queue) SetStatus(ctx context.Context, id string, status workqueue.Status, message string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $1, message = $2, updated_at = now() WHERE id = $3`, q.table)
	tag, err := q.pool.Exec(ctx, query, string(status), message, id)
	if err != nil {
		return fmt.Errorf("set item status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", workqueue.ErrNotFound, id)
	}
	return nil
}
