package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
environment: production
log_level: debug
trader_id: alpha
database:
  driver: sqlite
  sqlite_path: /tmp/trades.db
exchange:
  api_key: key
  api_secret: secret
  testnet: true
oracle:
  api_key: oracle-key
  model: gpt-4o-mini
  http_timeout: 90s
risk:
  major_symbols: ["BTCUSDT"]
  max_leverage_major: 25
  margin_usage_cap: 0.8
trading:
  symbols: ["BTCUSDT", "ETHUSDT"]
  cycle_interval: 5m
  min_confidence: 0.65
market:
  kline_interval: 1h
  min_open_interest_usd: 500000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "alpha", cfg.TraderID)
	assert.Equal(t, "/tmp/trades.db", cfg.Database.SQLitePath)
	assert.True(t, cfg.Exchange.Testnet)
	assert.Equal(t, "gpt-4o-mini", cfg.Oracle.Model)
	assert.Equal(t, 90*time.Second, cfg.Oracle.HTTPTimeout)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Risk.MajorSymbols)
	assert.Equal(t, 25, cfg.Risk.MaxLeverageMajor)
	assert.InDelta(t, 0.8, cfg.Risk.MarginUsageCap, 1e-9)
	assert.Equal(t, 5*time.Minute, cfg.Trading.CycleInterval)
	assert.InDelta(t, 0.65, cfg.Trading.MinConfidence, 1e-9)
	assert.Equal(t, "1h", cfg.Market.KlineInterval)
	assert.InDelta(t, 500000, cfg.Market.MinOpenInterestUSD, 1e-9)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "trader_id: beta\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "data/perpmind.db", cfg.Database.SQLitePath)
	assert.Equal(t, "gpt-4o", cfg.Oracle.Model)
	assert.Equal(t, 15*time.Minute, cfg.Trading.CycleInterval)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PERPMIND_DATABASE_DRIVER", "postgres")
	t.Setenv("PERPMIND_DATABASE_DATABASE_URL", "postgres://localhost/perpmind")

	path := writeConfig(t, "trader_id: gamma\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/perpmind", cfg.Database.DatabaseURL)
}

func TestLoad_ValidationErrors(t *testing.T) {
	_, err := Load(writeConfig(t, "database:\n  driver: postgres\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_url")

	_, err = Load(writeConfig(t, "database:\n  driver: oracle\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
