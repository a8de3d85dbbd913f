package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
account:
  id: "paper-1"
  seed_balance: 100000
executor:
  append_retries: 5
  event_buffer_size: 128
price_feed:
  url: "wss://feed.example.com/ticks"
  symbols:
    - RELIANCE
    - TCS
snapshot_writer:
  batch_size: 50
  write_interval_seconds: 2
database:
  host: "db.internal"
  port: "5432"
  user: "ledger"
  name: "paperledger"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "paper-1", cfg.Account.ID)
	assert.True(t, cfg.Account.SeedBalance.Decimal.Equal(decimalFromString(t, "100000")))
	assert.Equal(t, 5, cfg.Executor.AppendRetries)
	assert.Equal(t, 128, cfg.Executor.EventBufferSize)
	assert.Equal(t, "wss://feed.example.com/ticks", cfg.PriceFeed.URL)
	assert.Equal(t, []string{"RELIANCE", "TCS"}, cfg.PriceFeed.Symbols)
	assert.Equal(t, 50, cfg.Snapshot.BatchSize)
	assert.Equal(t, 2, cfg.Snapshot.WriteIntervalSeconds)
	assert.True(t, cfg.Database.Enabled())
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
account:
  id: "paper-1"
  seed_balance: "100000"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Executor.AppendRetries)
	assert.Equal(t, 64, cfg.Executor.EventBufferSize)
	assert.Equal(t, 100, cfg.Snapshot.BatchSize)
	assert.Equal(t, 1, cfg.Snapshot.WriteIntervalSeconds)
	assert.False(t, cfg.Database.Enabled())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DB_HOST", "env-host")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("SEED_BALANCE", "250000.50")

	path := writeConfig(t, `
account:
  id: "paper-1"
  seed_balance: 100000
database:
  host: "yaml-host"
  port: "5432"
  user: "ledger"
  name: "paperledger"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "env-host", cfg.Database.Host)
	assert.Equal(t, "secret", cfg.Database.Password)
	assert.True(t, cfg.Account.SeedBalance.Decimal.Equal(decimalFromString(t, "250000.50")))
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "missing account id",
			content: "account:\n  seed_balance: 100000\n",
		},
		{
			name:    "negative seed balance",
			content: "account:\n  id: \"paper-1\"\n  seed_balance: \"-1\"\n",
		},
		{
			name:    "negative append retries",
			content: "account:\n  id: \"paper-1\"\nexecutor:\n  append_retries: -1\n",
		},
		{
			name:    "malformed yaml",
			content: "account: [unterminated\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDatabaseConfig_URL(t *testing.T) {
	d := DatabaseConfig{
		Host:     "localhost",
		Port:     "5432",
		User:     "ledger",
		Password: "pw",
		Name:     "paperledger",
	}
	assert.Equal(t, "postgres://ledger:pw@localhost:5432/paperledger?sslmode=disable", d.URL())

	d.SSLMode = "require"
	assert.Equal(t, "postgres://ledger:pw@localhost:5432/paperledger?sslmode=require", d.URL())
}
