// Package config defines the top-level configuration for the marketplace
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKET_* environment variables.
type Config struct {
	Marketplace MarketplaceConfig `toml:"marketplace"`
	Sweeper     SweeperConfig     `toml:"sweeper"`
	Settlement  SettlementConfig  `toml:"settlement"`
	Chain       ChainConfig       `toml:"chain"`
	Supabase    SupabaseConfig    `toml:"supabase"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Archive     ArchiveConfig     `toml:"archive"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Log         LogConfig         `toml:"log"`
	Mode        string            `toml:"mode"`
}

// MarketplaceConfig holds the engine's business parameters.
type MarketplaceConfig struct {
	PlatformFeeBps         int      `toml:"platform_fee_bps"`
	DefaultRoyaltyBps      int      `toml:"default_royalty_bps"`
	MaxRoyaltyBps          int      `toml:"max_royalty_bps"`
	DefaultListingDuration duration `toml:"default_duration"`
	DefaultOfferDuration   duration `toml:"default_offer_duration"`
	// Retention bounds the in-memory activity feed and price history.
	Retention int `toml:"retention"`
}

// SweeperConfig controls the periodic expiry sweep.
type SweeperConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	// LockTTL is the distributed lock lease; used only when Redis is enabled.
	LockTTL duration `toml:"lock_ttl"`
}

// SettlementConfig controls the asynchronous settlement executor.
type SettlementConfig struct {
	Enabled        bool     `toml:"enabled"`
	Workers        int      `toml:"workers"`
	QueueSize      int      `toml:"queue_size"`
	MaxAttempts    int      `toml:"max_attempts"`
	InitialBackoff duration `toml:"initial_backoff"`
	MaxBackoff     duration `toml:"max_backoff"`
	DedupTTL       duration `toml:"dedup_ttl"`
}

// ChainConfig holds the operator key used to sign settlement receipts. Both
// key fields empty leaves receipts unsigned.
type ChainConfig struct {
	ChainID          int64  `toml:"chain_id"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters for the
// sale journal and audit log.
type SupabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	StreamMax  int64  `toml:"stream_max"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ArchiveConfig controls the cold archive and the sale stream tailer.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Cron          string   `toml:"cron"`
	RetentionDays int      `toml:"retention_days"`
	TailInterval  duration `toml:"tail_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	JWTSecret   string   `toml:"jwt_secret"`
	PublicReads bool     `toml:"public_reads"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// LogConfig selects the log level and an optional rotated file sink.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Marketplace: MarketplaceConfig{
			PlatformFeeBps:         250,
			DefaultRoyaltyBps:      0,
			MaxRoyaltyBps:          1000,
			DefaultListingDuration: duration{168 * time.Hour},
			DefaultOfferDuration:   duration{72 * time.Hour},
			Retention:              10000,
		},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Interval: duration{30 * time.Second},
			LockTTL:  duration{25 * time.Second},
		},
		Settlement: SettlementConfig{
			Enabled:        true,
			Workers:        4,
			QueueSize:      1024,
			MaxAttempts:    5,
			InitialBackoff: duration{200 * time.Millisecond},
			MaxBackoff:     duration{10 * time.Second},
			DedupTTL:       duration{10 * time.Minute},
		},
		Chain: ChainConfig{
			ChainID: 1,
		},
		Supabase: SupabaseConfig{
			Port:         5432,
			Database:     "postgres",
			User:         "postgres",
			SSLMode:      "require",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			StreamMax:  10000,
			KeyPrefix:  "assetmarket",
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
			Prefix:         "archive",
		},
		Archive: ArchiveConfig{
			Cron:          "0 3 * * *",
			RetentionDays: 90,
			TailInterval:  duration{5 * time.Second},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			PublicReads: true,
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"sale", "offer_accept", "sweep_failed", "settlement_failed"},
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Mode: ModeFull,
	}
}

// Operating modes.
const (
	ModeServer = "server"
	ModeWorker = "worker"
	ModeFull   = "full"
)

var validModes = map[string]bool{
	ModeServer: true,
	ModeWorker: true,
	ModeFull:   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for logical consistency and reports
// every problem at once.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("unknown log.level %q (valid: debug, info, warn, error)", c.Log.Level))
	}

	m := c.Marketplace
	if m.PlatformFeeBps < 0 || m.PlatformFeeBps > 10000 {
		errs = append(errs, fmt.Sprintf("marketplace: platform_fee_bps must be 0-10000, got %d", m.PlatformFeeBps))
	}
	if m.MaxRoyaltyBps < 0 || m.MaxRoyaltyBps > 10000 {
		errs = append(errs, fmt.Sprintf("marketplace: max_royalty_bps must be 0-10000, got %d", m.MaxRoyaltyBps))
	}
	if m.DefaultRoyaltyBps < 0 || m.DefaultRoyaltyBps > m.MaxRoyaltyBps {
		errs = append(errs, "marketplace: default_royalty_bps must be between 0 and max_royalty_bps")
	}
	if m.PlatformFeeBps+m.MaxRoyaltyBps > 10000 {
		errs = append(errs, "marketplace: platform_fee_bps + max_royalty_bps must not exceed 10000")
	}
	if m.DefaultListingDuration.Duration <= 0 || m.DefaultOfferDuration.Duration <= 0 {
		errs = append(errs, "marketplace: default_duration and default_offer_duration must be positive")
	}
	if m.Retention < 1 {
		errs = append(errs, "marketplace: retention must be >= 1")
	}

	if c.Sweeper.Enabled && c.Sweeper.Interval.Duration <= 0 {
		errs = append(errs, "sweeper: interval must be positive when enabled")
	}

	if c.Settlement.Enabled {
		if c.Settlement.Workers < 1 {
			errs = append(errs, "settlement: workers must be >= 1")
		}
		if c.Settlement.QueueSize < 1 {
			errs = append(errs, "settlement: queue_size must be >= 1")
		}
		if c.Settlement.MaxAttempts < 1 {
			errs = append(errs, "settlement: max_attempts must be >= 1")
		}
	}

	if c.Chain.EncryptedKeyPath != "" && c.Chain.KeyPassword == "" {
		errs = append(errs, "chain: key_password is required when encrypted_key_path is set")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}

	if c.Supabase.Enabled {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 || c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
		if !c.Supabase.Enabled {
			errs = append(errs, "archive: requires supabase.enabled (the archive reads the journal)")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if strings.TrimSpace(c.Archive.Cron) == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
	}

	if mode == ModeWorker && (!c.Redis.Enabled || !c.Supabase.Enabled) {
		errs = append(errs, "mode worker: requires redis.enabled and supabase.enabled (it replays the sale stream into the journal)")
	}

	if c.Server.Enabled && mode != ModeWorker {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
