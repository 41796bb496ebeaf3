package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/perpmind/perpmind/internal/exchange"
	"github.com/perpmind/perpmind/internal/market"
	"github.com/perpmind/perpmind/internal/oracle"
	"github.com/perpmind/perpmind/internal/orchestrator"
	"github.com/perpmind/perpmind/internal/risk"
)

// Config is the full application configuration, read from a YAML file and
// overridable via PERPMIND_* environment variables.
type Config struct {
	Environment string                  `mapstructure:"environment"`
	LogLevel    string                  `mapstructure:"log_level"`
	TraderID    string                  `mapstructure:"trader_id"`
	Database    DatabaseConfig          `mapstructure:"database"`
	Exchange    exchange.BinanceConfig  `mapstructure:"exchange"`
	Redis       market.RedisConfig      `mapstructure:"redis"`
	Market      market.FetcherConfig    `mapstructure:"market"`
	Oracle      oracle.ClientConfig     `mapstructure:"oracle"`
	Risk        risk.GateConfig         `mapstructure:"risk"`
	Trading     orchestrator.Config     `mapstructure:"trading"`
}

// DatabaseConfig selects the ledger backend.
type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"` // sqlite or postgres
	SQLitePath  string `mapstructure:"sqlite_path"`
	DatabaseURL string `mapstructure:"database_url"`
}

// Load reads configuration from the given file path. An empty path falls
// back to config.yaml in the working directory; a missing file is fine,
// defaults and environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("trader_id", "default")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite_path", "data/perpmind.db")
	v.SetDefault("database.database_url", "")
	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.api_secret", "")
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.base_url", "")
	v.SetDefault("oracle.model", "gpt-4o")
	v.SetDefault("market.kline_interval", "15m")
	v.SetDefault("market.kline_limit", 50)
	v.SetDefault("trading.cycle_interval", "15m")
	v.SetDefault("trading.min_confidence", 0.7)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PERPMIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.DatabaseURL == "" {
			return fmt.Errorf("database.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}
