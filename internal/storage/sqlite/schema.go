package sqlite

var schema = []string{
	`CREATE TABLE IF NOT EXISTS targets (
	target_id    TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	last_updated TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS metric_items (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	item_id          TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	image_ref        TEXT NOT NULL DEFAULT '',
	price_range      TEXT NOT NULL DEFAULT '',
	paid_amount      TEXT NOT NULL DEFAULT '',
	growth_rate_text TEXT NOT NULL DEFAULT '',
	impressions_text TEXT NOT NULL DEFAULT '',
	target_id        TEXT REFERENCES targets(target_id),
	captured_at      TEXT NOT NULL,
	extra_ref        TEXT NOT NULL DEFAULT '',
	category         TEXT NOT NULL DEFAULT '',
	labels           TEXT NOT NULL DEFAULT '[]',
	paid_value       REAL NOT NULL DEFAULT 0,
	conversion_rate  REAL NOT NULL DEFAULT 0,
	click_rate       REAL NOT NULL DEFAULT 0
)`,
	`CREATE INDEX IF NOT EXISTS idx_metric_items_target_id ON metric_items(target_id)`,
	`CREATE INDEX IF NOT EXISTS idx_metric_items_captured_at ON metric_items(captured_at)`,
}
