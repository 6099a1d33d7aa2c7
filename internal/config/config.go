// Package config defines the top-level configuration for the trigger daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRIGGERD_* environment variables.
type Config struct {
	Requester RequesterConfig `toml:"requester"`
	Oracle    OracleConfig    `toml:"oracle"`
	Triggers  []TriggerConfig `toml:"triggers"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// RequesterConfig identifies the account that funds and owns the oracle
// queries. The address is either given directly or derived from an encrypted
// key file.
type RequesterConfig struct {
	Address          string `toml:"address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	// RewardBalance is the reward budget minted to each trigger's account
	// at boot, as a decimal integer in the token's smallest unit.
	RewardBalance string `toml:"reward_balance"`
}

// OracleConfig holds the optimistic oracle and reward token addresses.
type OracleConfig struct {
	Address      string `toml:"address"`
	TokenAddress string `toml:"token_address"`
}

// TriggerConfig declares one oracle trigger to deploy at boot.
type TriggerConfig struct {
	ID       string   `toml:"id"`
	Question string   `toml:"question"`
	// Bond is the propose/dispute stake as a decimal integer in the
	// token's smallest unit.
	Bond            string   `toml:"bond"`
	Liveness        duration `toml:"liveness"`
	RefundRecipient string   `toml:"refund_recipient"`
	Markets         []string `toml:"markets"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the settlement
// archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIToken    string   `toml:"api_token"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimitPerMin throttles each client IP to this many requests per
	// minute. Zero disables rate limiting.
	RateLimitPerMin int `toml:"rate_limit_per_min"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "2h", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "2h" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Requester: RequesterConfig{
			RewardBalance: "1000000000000000000", // 1e18
		},
		Oracle: OracleConfig{
			Address:      "0x0000000000000000000000000000000000000f00",
			TokenAddress: "0x0000000000000000000000000000000000000f01",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "triggerd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "triggerd-settlements",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			RateLimitPerMin: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"dispute", "requery", "triggered", "error"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve": true,
	"sim":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, sim)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Requester — either a plain address or an encrypted key file.
	if c.Requester.Address == "" && c.Requester.EncryptedKeyPath == "" {
		errs = append(errs, "requester: either address or encrypted_key_path must be set")
	}
	if c.Requester.EncryptedKeyPath != "" && c.Requester.KeyPassword == "" {
		errs = append(errs, "requester: key_password is required when encrypted_key_path is set")
	}
	if c.Requester.RewardBalance != "" {
		if _, ok := new(big.Int).SetString(c.Requester.RewardBalance, 10); !ok {
			errs = append(errs, fmt.Sprintf("requester: reward_balance %q is not a decimal integer", c.Requester.RewardBalance))
		}
	}

	// Oracle
	if c.Oracle.Address == "" {
		errs = append(errs, "oracle: address must not be empty")
	}
	if c.Oracle.TokenAddress == "" {
		errs = append(errs, "oracle: token_address must not be empty")
	}

	// Triggers
	if len(c.Triggers) == 0 {
		errs = append(errs, "triggers: at least one [[triggers]] block must be declared")
	}
	seen := make(map[string]bool, len(c.Triggers))
	for i, t := range c.Triggers {
		if t.Question == "" {
			errs = append(errs, fmt.Sprintf("triggers[%d]: question must not be empty", i))
		}
		if t.ID != "" {
			if seen[t.ID] {
				errs = append(errs, fmt.Sprintf("triggers[%d]: duplicate id %q", i, t.ID))
			}
			seen[t.ID] = true
		}
		if t.Bond != "" {
			if b, ok := new(big.Int).SetString(t.Bond, 10); !ok || b.Sign() < 0 {
				errs = append(errs, fmt.Sprintf("triggers[%d]: bond %q is not a non-negative decimal integer", i, t.Bond))
			}
		}
		if t.Liveness.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("triggers[%d]: liveness must be a positive duration", i))
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMin < 0 {
			errs = append(errs, fmt.Sprintf("server: rate_limit_per_min must not be negative, got %d", c.Server.RateLimitPerMin))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
