// Package sqlite implements the embedded record store on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
)

// timeLayout is fixed width so lexical order matches chronological order.
const timeLayout = "2006-01-02 15:04:05.000000"

// Config controls how the database file is opened.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Store persists targets and metric items in a single SQLite file.
type Store struct {
	db *sql.DB
}

// Open creates parent directories, opens the database with foreign keys and
// WAL enabled, and applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", monitor.ErrStoreInit)
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 10 * time.Second
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("%w: mkdir: %w", monitor.ErrStoreInit, err)
	}
	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: open: %w", monitor.ErrStoreInit, err)
	}
	// One writer; readers queue behind it.
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: apply schema: %w", monitor.ErrStoreInit, err)
		}
	}
	return &Store{db: db}, nil
}

func dsn(cfg Config) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// UpsertTarget inserts or refreshes a target. An empty display name never
// overwrites a stored one.
func (s *Store) UpsertTarget(ctx context.Context, target monitor.TargetEntity) error {
	return s.WriteBatch(ctx, monitor.Batch{Targets: []monitor.TargetEntity{target}})
}

// AppendMetric inserts one capture row.
func (s *Store) AppendMetric(ctx context.Context, item monitor.MetricItem) error {
	return s.WriteBatch(ctx, monitor.Batch{Items: []monitor.MetricItem{item}})
}

// WriteBatch writes targets then items in one transaction.
func (s *Store) WriteBatch(ctx context.Context, batch monitor.Batch) error {
	if batch.Empty() {
		return nil
	}
	err := runTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, t := range batch.Targets {
			if err := upsertTarget(ctx, tx, t); err != nil {
				return err
			}
		}
		for _, it := range batch.Items {
			if err := insertItem(ctx, tx, it); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: write batch: %w", monitor.ErrPersistence, err)
	}
	return nil
}

func upsertTarget(ctx context.Context, tx *sql.Tx, t monitor.TargetEntity) error {
	if t.TargetID == "" {
		return fmt.Errorf("target id is required")
	}
	updated := t.LastUpdated
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO targets (target_id, display_name, last_updated)
VALUES (?, ?, ?)
ON CONFLICT(target_id) DO UPDATE SET
	display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE targets.display_name END,
	last_updated = excluded.last_updated`,
		t.TargetID, t.DisplayName, formatTime(updated))
	if err != nil {
		return fmt.Errorf("upsert target %s: %w", t.TargetID, err)
	}
	return nil
}

func insertItem(ctx context.Context, tx *sql.Tx, it monitor.MetricItem) error {
	if it.ItemID == "" {
		return fmt.Errorf("item id is required")
	}
	labels, err := json.Marshal(nonNil(it.Labels))
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	captured := it.CapturedAt
	if captured.IsZero() {
		captured = time.Now()
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO metric_items (
	item_id, name, image_ref, price_range, paid_amount, growth_rate_text,
	impressions_text, target_id, captured_at, extra_ref, category, labels,
	paid_value, conversion_rate, click_rate
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ItemID, it.Name, it.ImageRef, it.PriceRange, it.PaidAmount, it.GrowthRateText,
		it.ImpressionsText, nullable(it.TargetID), formatTime(captured), it.ExtraRef,
		string(it.Category), string(labels), it.PaidValue, it.ConversionRate, it.ClickRate)
	if err != nil {
		return fmt.Errorf("insert item %s: %w", it.ItemID, err)
	}
	return nil
}

// QueryRecent returns rows captured at or after since, oldest first.
func (s *Store) QueryRecent(ctx context.Context, since time.Time, targetID string) ([]monitor.MetricItem, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT item_id, name, image_ref, price_range, paid_amount, growth_rate_text,
	impressions_text, COALESCE(target_id, ''), captured_at, extra_ref, category,
	labels, paid_value, conversion_rate, click_rate
FROM metric_items
WHERE captured_at >= ? AND (? = '' OR target_id = ?)
ORDER BY captured_at, id`, formatTime(since), targetID, targetID)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []monitor.MetricItem
	for rows.Next() {
		var (
			it       monitor.MetricItem
			captured string
			category string
			labels   string
		)
		if err := rows.Scan(&it.ItemID, &it.Name, &it.ImageRef, &it.PriceRange, &it.PaidAmount,
			&it.GrowthRateText, &it.ImpressionsText, &it.TargetID, &captured, &it.ExtraRef,
			&category, &labels, &it.PaidValue, &it.ConversionRate, &it.ClickRate); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if it.CapturedAt, err = parseTime(captured); err != nil {
			return nil, err
		}
		it.Category = monitor.Category(category)
		if labels != "" {
			if err := json.Unmarshal([]byte(labels), &it.Labels); err != nil {
				return nil, fmt.Errorf("decode labels: %w", err)
			}
			if len(it.Labels) == 0 {
				it.Labels = nil
			}
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT target_id, display_name, last_updated FROM targets ORDER BY target_id`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var out []monitor.TargetEntity
	for rows.Next() {
		var (
			t       monitor.TargetEntity
			updated string
		)
		if err := rows.Scan(&t.TargetID, &t.DisplayName, &updated); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		if t.LastUpdated, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate targets: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
