// Package common provides shared utilities for Verity
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"

	"github.com/corefin/verity/internal/models"
)

// Config holds all configuration for Verity
type Config struct {
	Environment string         `toml:"environment"`
	Broker      BrokerConfig   `toml:"broker"`
	Strategy    StrategyConfig `toml:"strategy"`
	Server      ServerConfig   `toml:"server"`
	Storage     StorageConfig  `toml:"storage"`
	Persist     PersistConfig  `toml:"persist"`
	Gateway     GatewayConfig  `toml:"gateway"`
	Logging     LoggingConfig  `toml:"logging"`
}

// BrokerConfig identifies the broker account the engine reconciles against.
type BrokerConfig struct {
	Name      string `toml:"name"`
	Account   string `toml:"account"`
	TradeMode string `toml:"trade_mode"`
}

// Mode parses and returns the configured trade mode.
func (c *BrokerConfig) Mode() (models.TradeMode, error) {
	return models.ParseTradeMode(c.TradeMode)
}

// StrategyConfig names the strategy whose portfolio the engine manages.
type StrategyConfig struct {
	Account     string `toml:"account"`
	Version     string `toml:"version"`
	InitialCash string `toml:"initial_cash"`
}

// GetInitialCash parses the configured starting cash.
func (c *StrategyConfig) GetInitialCash() (decimal.Decimal, error) {
	cash, err := decimal.NewFromString(c.InitialCash)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid initial_cash %q: %w", c.InitialCash, err)
	}
	return cash, nil
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds ledger storage configuration.
type StorageConfig struct {
	Driver    string `toml:"driver"`
	Address   string `toml:"address"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

// PersistConfig controls the background ledger persistence loop.
type PersistConfig struct {
	Interval string `toml:"interval"`
}

// GetInterval parses and returns the persistence interval
func (c *PersistConfig) GetInterval() time.Duration {
	d, err := time.ParseDuration(c.Interval)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// GatewayConfig holds broker gateway configuration
type GatewayConfig struct {
	Kind      string `toml:"kind"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
	PaperCash string `toml:"paper_cash"`
}

// GetTimeout parses and returns the timeout duration
func (c *GatewayConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetPaperCash parses the simulated broker's starting cash.
func (c *GatewayConfig) GetPaperCash() (decimal.Decimal, error) {
	cash, err := decimal.NewFromString(c.PaperCash)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid paper_cash %q: %w", c.PaperCash, err)
	}
	return cash, nil
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Broker: BrokerConfig{
			Name:      "paper",
			Account:   "paper-001",
			TradeMode: "SIMULATE",
		},
		Strategy: StrategyConfig{
			Account:     "demo",
			Version:     "1.0",
			InitialCash: "100000",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Driver:    "surrealdb",
			Address:   "ws://localhost:8000/rpc",
			Namespace: "verity",
			Database:  "ledger",
			Username:  "root",
			Password:  "root",
		},
		Persist: PersistConfig{
			Interval: "5s",
		},
		Gateway: GatewayConfig{
			Kind:      "paper",
			RateLimit: 5,
			Timeout:   "30s",
			PaperCash: "100000",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Apply environment overrides
	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("VERITY_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("VERITY_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("VERITY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("VERITY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if v := os.Getenv("VERITY_STORAGE_DRIVER"); v != "" {
		config.Storage.Driver = v
	}
	if v := os.Getenv("VERITY_STORAGE_ADDRESS"); v != "" {
		config.Storage.Address = v
	}
	if v := os.Getenv("VERITY_STORAGE_NAMESPACE"); v != "" {
		config.Storage.Namespace = v
	}
	if v := os.Getenv("VERITY_STORAGE_DATABASE"); v != "" {
		config.Storage.Database = v
	}
	if v := os.Getenv("VERITY_STORAGE_USERNAME"); v != "" {
		config.Storage.Username = v
	}
	if v := os.Getenv("VERITY_STORAGE_PASSWORD"); v != "" {
		config.Storage.Password = v
	}

	if v := os.Getenv("VERITY_BROKER_NAME"); v != "" {
		config.Broker.Name = v
	}
	if v := os.Getenv("VERITY_BROKER_ACCOUNT"); v != "" {
		config.Broker.Account = v
	}
	if v := os.Getenv("VERITY_TRADE_MODE"); v != "" {
		config.Broker.TradeMode = v
	}

	if v := os.Getenv("VERITY_STRATEGY_ACCOUNT"); v != "" {
		config.Strategy.Account = v
	}
	if v := os.Getenv("VERITY_STRATEGY_VERSION"); v != "" {
		config.Strategy.Version = v
	}
	if v := os.Getenv("VERITY_INITIAL_CASH"); v != "" {
		config.Strategy.InitialCash = v
	}

	if v := os.Getenv("VERITY_PERSIST_INTERVAL"); v != "" {
		config.Persist.Interval = v
	}
}

// Identity returns the broker identity used to scope ledger rows. The
// environment component is the trade mode name, so SIMULATE and LIVETRADE
// ledgers for the same account never mix.
func (c *Config) Identity() (models.BrokerIdentity, error) {
	mode, err := c.Broker.Mode()
	if err != nil {
		return models.BrokerIdentity{}, err
	}
	return models.BrokerIdentity{
		BrokerName:        c.Broker.Name,
		BrokerEnvironment: string(mode),
		BrokerAccount:     c.Broker.Account,
	}, nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
