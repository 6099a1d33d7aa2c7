package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Requester.Address = "0x0000000000000000000000000000000000000002"
	cfg.Triggers = []TriggerConfig{{
		ID:       "hack-2026",
		Question: "Was there a hack of protocol X before 2026-12-31?",
		Bond:     "5000",
		Liveness: duration{2 * time.Hour},
	}}
	return cfg
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Mode = "batch" },
			wantMsg: "unknown mode",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.LogLevel = "trace" },
			wantMsg: "unknown log_level",
		},
		{
			name:    "no requester identity",
			mutate:  func(c *Config) { c.Requester.Address = "" },
			wantMsg: "requester: either address or encrypted_key_path",
		},
		{
			name: "encrypted key without password",
			mutate: func(c *Config) {
				c.Requester.EncryptedKeyPath = "/tmp/key.enc"
				c.Requester.KeyPassword = ""
			},
			wantMsg: "key_password is required",
		},
		{
			name:    "bad reward balance",
			mutate:  func(c *Config) { c.Requester.RewardBalance = "1.5e18" },
			wantMsg: "reward_balance",
		},
		{
			name:    "no triggers",
			mutate:  func(c *Config) { c.Triggers = nil },
			wantMsg: "at least one [[triggers]] block",
		},
		{
			name: "duplicate trigger ids",
			mutate: func(c *Config) {
				c.Triggers = append(c.Triggers, c.Triggers[0])
			},
			wantMsg: "duplicate id",
		},
		{
			name: "negative bond",
			mutate: func(c *Config) {
				c.Triggers[0].Bond = "-1"
			},
			wantMsg: "bond",
		},
		{
			name: "zero liveness",
			mutate: func(c *Config) {
				c.Triggers[0].Liveness = duration{}
			},
			wantMsg: "liveness",
		},
		{
			name:    "bad server port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantMsg: "server: port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
mode = "sim"
log_level = "debug"

[requester]
address = "0x0000000000000000000000000000000000000002"
reward_balance = "1000000"

[[triggers]]
id = "hack-2026"
question = "Was there a hack of protocol X before 2026-12-31?"
bond = "5000"
liveness = "2h"
markets = ["market-1", "market-2"]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sim", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	require.Len(t, cfg.Triggers, 1)
	assert.Equal(t, 2*time.Hour, cfg.Triggers[0].Liveness.Duration)
	assert.Equal(t, []string{"market-1", "market-2"}, cfg.Triggers[0].Markets)

	// Defaults survive underneath the file.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "triggerd-settlements", cfg.S3.Bucket)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRIGGERD_MODE", "sim")
	t.Setenv("TRIGGERD_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("TRIGGERD_POSTGRES_POOL_MAX_CONNS", "42")
	t.Setenv("TRIGGERD_SERVER_ENABLED", "false")
	t.Setenv("TRIGGERD_NOTIFY_EVENTS", "dispute, triggered")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "sim", cfg.Mode)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 42, cfg.Postgres.PoolMaxConns)
	assert.False(t, cfg.Server.Enabled)
	assert.Equal(t, []string{"dispute", "triggered"}, cfg.Notify.Events)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "hunter2"
	cfg.S3.SecretKey = "hunter2"
	cfg.Server.APIToken = "hunter2"
	cfg.Notify.TelegramToken = "hunter2"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.APIToken)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Originals untouched.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)

	// Non-secret fields come through.
	assert.Equal(t, cfg.Triggers[0].Question, red.Triggers[0].Question)
}
