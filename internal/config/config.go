// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Session  SessionConfig  `mapstructure:"session"`
	Matcher  MatcherConfig  `mapstructure:"matcher"`
	Decoder  DecoderConfig  `mapstructure:"decoder"`
	Replay   ReplayConfig   `mapstructure:"replay"`
	Store    StoreConfig    `mapstructure:"store"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Ranking  RankingConfig  `mapstructure:"ranking"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// ServerConfig controls the reporting HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
	// APIKey, when set, is required on every /v1 request.
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LoggingConfig toggles zap development features and level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SessionConfig configures the interactive browser session.
type SessionConfig struct {
	StartURL           string `mapstructure:"start_url"`
	Headless           bool   `mapstructure:"headless"`
	UserAgent          string `mapstructure:"user_agent"`
	ExecPath           string `mapstructure:"exec_path"`
	UserDataDir        string `mapstructure:"user_data_dir"`
	NavTimeoutSeconds  int    `mapstructure:"nav_timeout_seconds"`
	BodyTimeoutSeconds int    `mapstructure:"body_timeout_seconds"`
	BufferSize         int    `mapstructure:"buffer_size"`
}

// MatcherConfig overrides the URL signatures. Keys are categories, values are
// signatures whose fragments are joined with "+".
type MatcherConfig struct {
	Signatures map[string][]string `mapstructure:"signatures"`
}

// DecoderConfig bounds the recursive fallback search.
type DecoderConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
	MaxNodes int `mapstructure:"max_nodes"`
}

// ReplayConfig governs batch orchestration.
type ReplayConfig struct {
	Interval              time.Duration `mapstructure:"interval"`
	RequestTimeoutSeconds int           `mapstructure:"request_timeout_seconds"`
	TargetField           string        `mapstructure:"target_field"`
	Sender                string        `mapstructure:"sender"`
	Auto                  bool          `mapstructure:"auto"`
	// Cookie is attached to plain HTTP replays.
	Cookie string `mapstructure:"cookie"`
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	Driver   string         `mapstructure:"driver"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig configures the embedded store.
type SQLiteConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// PostgresConfig configures the Postgres store.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	TargetsTable           string `mapstructure:"targets_table"`
	ItemsTable             string `mapstructure:"items_table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// ArchiveConfig controls raw payload archiving.
type ArchiveConfig struct {
	Backend          string `mapstructure:"backend"`
	Dir              string `mapstructure:"dir"`
	Bucket           string `mapstructure:"bucket"`
	Prefix           string `mapstructure:"prefix"`
	UndecodableBytes int    `mapstructure:"undecodable_bytes"`
}

// PubSubConfig holds the run summary topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// RankingConfig shapes reports.
type RankingConfig struct {
	Window     time.Duration `mapstructure:"window"`
	TopN       int           `mapstructure:"top_n"`
	PerTargetN int           `mapstructure:"per_target_n"`
}

// ProgressConfig controls the progress hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
	KeepRuns       int `mapstructure:"keep_runs"`
}

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Archive backends.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// Replay senders.
const (
	SenderBrowser = "browser"
	SenderHTTP    = "http"
)

// Load builds a Config from disk/environment. Environment variables use the
// INTEL_ prefix with dots replaced by underscores (INTEL_STORE_DRIVER).
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("session.start_url", "https://fxg.jinritemai.com/ffa/bu/NewBusinessCenter")
	v.SetDefault("session.headless", false)
	v.SetDefault("session.user_agent", "")
	v.SetDefault("session.exec_path", "")
	v.SetDefault("session.user_data_dir", "")
	v.SetDefault("session.nav_timeout_seconds", 60)
	v.SetDefault("session.body_timeout_seconds", 10)
	v.SetDefault("session.buffer_size", 256)
	v.SetDefault("decoder.max_depth", 48)
	v.SetDefault("decoder.max_nodes", 200000)
	v.SetDefault("replay.interval", 2*time.Second)
	v.SetDefault("replay.request_timeout_seconds", 30)
	v.SetDefault("replay.target_field", "shop_id")
	v.SetDefault("replay.sender", SenderBrowser)
	v.SetDefault("replay.auto", true)
	v.SetDefault("replay.cookie", "")
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlite.path", "data/intel.db")
	v.SetDefault("store.sqlite.busy_timeout", 10*time.Second)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.targets_table", "targets")
	v.SetDefault("store.postgres.items_table", "metric_items")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("store.postgres.min_conns", 0)
	v.SetDefault("store.postgres.max_conn_lifetime_minutes", 30)
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.dir", "data/raw")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "")
	v.SetDefault("archive.undecodable_bytes", 2000)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "intel-runs")
	v.SetDefault("ranking.window", 24*time.Hour)
	v.SetDefault("ranking.top_n", 20)
	v.SetDefault("ranking.per_target_n", 5)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("progress.keep_runs", 20)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Decoder.MaxDepth <= 0 || c.Decoder.MaxNodes <= 0 {
		return fmt.Errorf("decoder.max_depth and decoder.max_nodes must be > 0")
	}
	if c.Replay.Interval < 0 {
		return fmt.Errorf("replay.interval must be >= 0")
	}
	if c.Replay.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("replay.request_timeout_seconds must be > 0")
	}
	if strings.TrimSpace(c.Replay.TargetField) == "" {
		return fmt.Errorf("replay.target_field is required")
	}
	if !slices.Contains([]string{SenderBrowser, SenderHTTP}, c.Replay.Sender) {
		return fmt.Errorf("replay.sender must be %q or %q", SenderBrowser, SenderHTTP)
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	switch c.Archive.Backend {
	case ArchiveNone, "":
	case ArchiveLocal:
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir is required for the local backend")
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	if c.Ranking.Window <= 0 {
		return fmt.Errorf("ranking.window must be > 0")
	}
	if c.Ranking.TopN <= 0 {
		return fmt.Errorf("ranking.top_n must be > 0")
	}
	return nil
}

// RequestTimeout converts the replay timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Replay.RequestTimeoutSeconds) * time.Second
}

// ProgressWait converts the progress batch wait into a duration.
func (c Config) ProgressWait() time.Duration {
	return time.Duration(c.Progress.MaxBatchWaitMs) * time.Millisecond
}
