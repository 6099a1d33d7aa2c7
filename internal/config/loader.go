package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRIGGERD_* environment variable overrides, and
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

// applyEnvOverrides reads well-known TRIGGERD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Requester ──
	setStr(&cfg.Requester.Address, "TRIGGERD_REQUESTER_ADDRESS")
	setStr(&cfg.Requester.EncryptedKeyPath, "TRIGGERD_REQUESTER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Requester.KeyPassword, "TRIGGERD_REQUESTER_KEY_PASSWORD")
	setStr(&cfg.Requester.RewardBalance, "TRIGGERD_REQUESTER_REWARD_BALANCE")

	// ── Oracle ──
	setStr(&cfg.Oracle.Address, "TRIGGERD_ORACLE_ADDRESS")
	setStr(&cfg.Oracle.TokenAddress, "TRIGGERD_ORACLE_TOKEN_ADDRESS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRIGGERD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRIGGERD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRIGGERD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRIGGERD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRIGGERD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRIGGERD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRIGGERD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRIGGERD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRIGGERD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRIGGERD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRIGGERD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRIGGERD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRIGGERD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRIGGERD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRIGGERD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRIGGERD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TRIGGERD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRIGGERD_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRIGGERD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRIGGERD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRIGGERD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRIGGERD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRIGGERD_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRIGGERD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRIGGERD_SERVER_PORT")
	setStr(&cfg.Server.APIToken, "TRIGGERD_SERVER_API_TOKEN")
	setStringSlice(&cfg.Server.CORSOrigins, "TRIGGERD_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerMin, "TRIGGERD_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRIGGERD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRIGGERD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRIGGERD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRIGGERD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRIGGERD_MODE")
	setStr(&cfg.LogLevel, "TRIGGERD_LOG_LEVEL")
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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
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
