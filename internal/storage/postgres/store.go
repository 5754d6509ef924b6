// Package postgres provides the Postgres-backed record store.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	TargetsTable    string
	ItemsTable      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Store writes targets and metric rows into Postgres.
type Store struct {
	pool    pool
	targets string
	items   string
}

// New connects a pool using cfg and ensures the tables exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: store.postgres.dsn is required", monitor.ErrStoreInit)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: parse postgres dsn: %w", monitor.ErrStoreInit, err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect postgres: %w", monitor.ErrStoreInit, err)
	}
	store, err := NewWithPool(p, cfg.TargetsTable, cfg.ItemsTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, targetsTable, itemsTable string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: pool is required", monitor.ErrStoreInit)
	}
	if targetsTable == "" {
		targetsTable = "targets"
	}
	if itemsTable == "" {
		itemsTable = "metric_items"
	}
	for _, name := range []string{targetsTable, itemsTable} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("%w: invalid table name %q", monitor.ErrStoreInit, name)
		}
	}
	return &Store{pool: p, targets: targetsTable, items: itemsTable}, nil
}

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	target_id    TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	last_updated TIMESTAMPTZ NOT NULL
)`, s.targets),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id               BIGSERIAL PRIMARY KEY,
	item_id          TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	image_ref        TEXT NOT NULL DEFAULT '',
	price_range      TEXT NOT NULL DEFAULT '',
	paid_amount      TEXT NOT NULL DEFAULT '',
	growth_rate_text TEXT NOT NULL DEFAULT '',
	impressions_text TEXT NOT NULL DEFAULT '',
	target_id        TEXT REFERENCES %s(target_id),
	captured_at      TIMESTAMPTZ NOT NULL,
	extra_ref        TEXT NOT NULL DEFAULT '',
	category         TEXT NOT NULL DEFAULT '',
	labels           TEXT[] NOT NULL DEFAULT '{}',
	paid_value       DOUBLE PRECISION NOT NULL DEFAULT 0,
	conversion_rate  DOUBLE PRECISION NOT NULL DEFAULT 0,
	click_rate       DOUBLE PRECISION NOT NULL DEFAULT 0
)`, s.items, s.targets),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_captured_at_idx ON %s (captured_at)`, s.items, s.items),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: ensure schema: %w", monitor.ErrStoreInit, err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// UpsertTarget inserts or refreshes one target.
func (s *Store) UpsertTarget(ctx context.Context, target monitor.TargetEntity) error {
	return s.WriteBatch(ctx, monitor.Batch{Targets: []monitor.TargetEntity{target}})
}

// AppendMetric inserts one capture row.
func (s *Store) AppendMetric(ctx context.Context, item monitor.MetricItem) error {
	return s.WriteBatch(ctx, monitor.Batch{Items: []monitor.MetricItem{item}})
}

// WriteBatch writes targets then items inside a single transaction.
func (s *Store) WriteBatch(ctx context.Context, batch monitor.Batch) error {
	if batch.Empty() {
		return nil
	}
	if err := s.inTx(ctx, func(tx pgx.Tx) error {
		for _, t := range batch.Targets {
			if err := s.upsertTarget(ctx, tx, t); err != nil {
				return err
			}
		}
		for _, it := range batch.Items {
			if err := s.insertItem(ctx, tx, it); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("%w: write batch: %w", monitor.ErrPersistence, err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) upsertTarget(ctx context.Context, tx pgx.Tx, t monitor.TargetEntity) error {
	if t.TargetID == "" {
		return fmt.Errorf("target id is required")
	}
	updated := t.LastUpdated
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (target_id, display_name, last_updated)
VALUES ($1, $2, $3)
ON CONFLICT (target_id) DO UPDATE SET
	display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE %[1]s.display_name END,
	last_updated = EXCLUDED.last_updated`, s.targets)
	if _, err := tx.Exec(ctx, query, t.TargetID, t.DisplayName, updated); err != nil {
		return fmt.Errorf("upsert target %s: %w", t.TargetID, err)
	}
	return nil
}

func (s *Store) insertItem(ctx context.Context, tx pgx.Tx, it monitor.MetricItem) error {
	if it.ItemID == "" {
		return fmt.Errorf("item id is required")
	}
	captured := it.CapturedAt
	if captured.IsZero() {
		captured = time.Now().UTC()
	}
	labels := it.Labels
	if labels == nil {
		labels = []string{}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	item_id, name, image_ref, price_range, paid_amount, growth_rate_text,
	impressions_text, target_id, captured_at, extra_ref, category, labels,
	paid_value, conversion_rate, click_rate
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)`, s.items)
	args := []any{
		it.ItemID,
		it.Name,
		it.ImageRef,
		it.PriceRange,
		it.PaidAmount,
		it.GrowthRateText,
		it.ImpressionsText,
		nullable(it.TargetID),
		captured,
		it.ExtraRef,
		string(it.Category),
		labels,
		it.PaidValue,
		it.ConversionRate,
		it.ClickRate,
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert item %s: %w", it.ItemID, err)
	}
	return nil
}

// QueryRecent returns rows captured at or after since, oldest first.
func (s *Store) QueryRecent(ctx context.Context, since time.Time, targetID string) ([]monitor.MetricItem, error) {
	query := fmt.Sprintf(`
SELECT item_id, name, image_ref, price_range, paid_amount, growth_rate_text,
	impressions_text, COALESCE(target_id, ''), captured_at, extra_ref, category,
	labels, paid_value, conversion_rate, click_rate
FROM %s
WHERE captured_at >= $1 AND ($2 = '' OR target_id = $2)
ORDER BY captured_at, id`, s.items)
	rows, err := s.pool.Query(ctx, query, since, targetID)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []monitor.MetricItem
	for rows.Next() {
		var (
			it       monitor.MetricItem
			category string
		)
		if err := rows.Scan(&it.ItemID, &it.Name, &it.ImageRef, &it.PriceRange, &it.PaidAmount,
			&it.GrowthRateText, &it.ImpressionsText, &it.TargetID, &it.CapturedAt, &it.ExtraRef,
			&category, &it.Labels, &it.PaidValue, &it.ConversionRate, &it.ClickRate); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Category = monitor.Category(category)
		if len(it.Labels) == 0 {
			it.Labels = nil
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return out, nil
}

// ListTargets returns every target ordered by id.
func (s *Store) ListTargets(ctx context.Context) ([]monitor.TargetEntity, error) {
	query := fmt.Sprintf(`SELECT target_id, display_name, last_updated FROM %s ORDER BY target_id`, s.targets)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var out []monitor.TargetEntity
	for rows.Next() {
		var t monitor.TargetEntity
		if err := rows.Scan(&t.TargetID, &t.DisplayName, &t.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate targets: %w", err)
	}
	return out, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
