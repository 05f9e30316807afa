package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARKET_* environment variable overrides, and
// returns the final Config. A missing file is not an error when path is
// empty. The returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Marketplace ──
	setInt(&cfg.Marketplace.PlatformFeeBps, "MARKET_MARKETPLACE_PLATFORM_FEE_BPS")
	setInt(&cfg.Marketplace.DefaultRoyaltyBps, "MARKET_MARKETPLACE_DEFAULT_ROYALTY_BPS")
	setInt(&cfg.Marketplace.MaxRoyaltyBps, "MARKET_MARKETPLACE_MAX_ROYALTY_BPS")
	setDuration(&cfg.Marketplace.DefaultListingDuration, "MARKET_MARKETPLACE_DEFAULT_DURATION")
	setDuration(&cfg.Marketplace.DefaultOfferDuration, "MARKET_MARKETPLACE_DEFAULT_OFFER_DURATION")
	setInt(&cfg.Marketplace.Retention, "MARKET_MARKETPLACE_RETENTION")

	// ── Sweeper ──
	setBool(&cfg.Sweeper.Enabled, "MARKET_SWEEPER_ENABLED")
	setDuration(&cfg.Sweeper.Interval, "MARKET_SWEEPER_INTERVAL")
	setDuration(&cfg.Sweeper.LockTTL, "MARKET_SWEEPER_LOCK_TTL")

	// ── Settlement ──
	setBool(&cfg.Settlement.Enabled, "MARKET_SETTLEMENT_ENABLED")
	setInt(&cfg.Settlement.Workers, "MARKET_SETTLEMENT_WORKERS")
	setInt(&cfg.Settlement.QueueSize, "MARKET_SETTLEMENT_QUEUE_SIZE")
	setInt(&cfg.Settlement.MaxAttempts, "MARKET_SETTLEMENT_MAX_ATTEMPTS")
	setDuration(&cfg.Settlement.InitialBackoff, "MARKET_SETTLEMENT_INITIAL_BACKOFF")
	setDuration(&cfg.Settlement.MaxBackoff, "MARKET_SETTLEMENT_MAX_BACKOFF")

	// ── Chain ──
	setInt64(&cfg.Chain.ChainID, "MARKET_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.PrivateKey, "MARKET_CHAIN_PRIVATE_KEY")
	setStr(&cfg.Chain.EncryptedKeyPath, "MARKET_CHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Chain.KeyPassword, "MARKET_CHAIN_KEY_PASSWORD")

	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "MARKET_SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "MARKET_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "MARKET_DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "MARKET_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "MARKET_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "MARKET_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "MARKET_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "MARKET_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "MARKET_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "MARKET_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "MARKET_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "MARKET_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "MARKET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARKET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARKET_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "MARKET_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MARKET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARKET_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARKET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARKET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARKET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARKET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARKET_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "MARKET_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "MARKET_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "MARKET_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.TailInterval, "MARKET_ARCHIVE_TAIL_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MARKET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MARKET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MARKET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "MARKET_SERVER_API_KEY")
	setStr(&cfg.Server.JWTSecret, "MARKET_SERVER_JWT_SECRET")
	setBool(&cfg.Server.PublicReads, "MARKET_SERVER_PUBLIC_READS")
	setInt(&cfg.Server.RateLimit, "MARKET_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "MARKET_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MARKET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARKET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARKET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARKET_NOTIFY_EVENTS")

	// ── Log ──
	setStr(&cfg.Log.Level, "MARKET_LOG_LEVEL")
	setStr(&cfg.Log.File, "MARKET_LOG_FILE")

	// ── Top-level ──
	setStr(&cfg.Mode, "MARKET_MODE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
