package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SALED_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SALED_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file. The sale section itself (phase table, cap, window)
// is intentionally file-only: those parameters are part of the reviewed
// launch configuration, not deploy-time knobs.
func applyEnvOverrides(cfg *Config) {
	// ── Oracle ──
	setStr(&cfg.Oracle.RPCURL, "SALED_ORACLE_RPC_URL")
	setStr(&cfg.Oracle.FeedAddress, "SALED_ORACLE_FEED_ADDRESS")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "SALED_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "SALED_CHAIN_ID")
	setStr(&cfg.Chain.PrivateKey, "SALED_CHAIN_PRIVATE_KEY")
	setStr(&cfg.Chain.EncryptedKeyPath, "SALED_CHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Chain.KeyPassword, "SALED_CHAIN_KEY_PASSWORD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SALED_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SALED_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SALED_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SALED_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SALED_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SALED_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SALED_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SALED_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SALED_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SALED_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SALED_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SALED_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SALED_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SALED_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SALED_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SALED_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SALED_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SALED_S3_REGION")
	setStr(&cfg.S3.Bucket, "SALED_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SALED_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SALED_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SALED_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SALED_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SALED_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SALED_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SALED_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminAPIKey, "SALED_SERVER_ADMIN_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SALED_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SALED_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SALED_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SALED_NOTIFY_EVENTS")

	// ── Export ──
	setBool(&cfg.Export.Enabled, "SALED_EXPORT_ENABLED")
	setDuration(&cfg.Export.Interval, "SALED_EXPORT_INTERVAL")
	setInt(&cfg.Export.RetentionDays, "SALED_EXPORT_RETENTION_DAYS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SALED_MODE")
	setStr(&cfg.LogLevel, "SALED_LOG_LEVEL")
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
