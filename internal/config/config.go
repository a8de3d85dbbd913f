// Package config handles application configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config defines the structure for all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Account   AccountConfig   `yaml:"account"`
	Executor  ExecutorConfig  `yaml:"executor"`
	PriceFeed PriceFeedConfig `yaml:"price_feed"`
	Snapshot  SnapshotConfig  `yaml:"snapshot_writer"`
	Alert     AlertConfig     `yaml:"alert"`
	Database  DatabaseConfig  `yaml:"database"`
	LogLevel  string          `yaml:"-"` // Loaded from env or defaults
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// AccountConfig holds the default account seeding.
type AccountConfig struct {
	ID          string  `yaml:"id"`
	SeedBalance Decimal `yaml:"seed_balance"`
}

// ExecutorConfig holds trade execution settings.
type ExecutorConfig struct {
	AppendRetries   int `yaml:"append_retries"`
	EventBufferSize int `yaml:"event_buffer_size"`
}

// PriceFeedConfig holds the market data feed settings.
type PriceFeedConfig struct {
	URL     string   `yaml:"url"`
	Symbols []string `yaml:"symbols"`
}

// SnapshotConfig holds the batched snapshot writer settings.
type SnapshotConfig struct {
	BatchSize            int `yaml:"batch_size"`
	WriteIntervalSeconds int `yaml:"write_interval_seconds"`
}

// AlertConfig holds webhook alerting settings. An empty WebhookURL
// disables alerting.
type AlertConfig struct {
	WebhookURL            string `yaml:"webhook_url"`
	BufferIntervalSeconds int    `yaml:"buffer_interval_seconds"`
}

// Enabled reports whether alerting is configured.
func (a AlertConfig) Enabled() bool { return a.WebhookURL != "" }

// DatabaseConfig holds Postgres connection settings. An empty Host means
// the engine runs on in-memory stores only.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // Loaded from env
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool { return d.Host != "" }

// URL builds the Postgres connection string.
func (d DatabaseConfig) URL() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// LoadConfig loads configuration from the specified YAML file path
// and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{
		// Default values
		LogLevel: "info",
	}
	cfg.Server.Addr = ":8080"
	cfg.Executor.AppendRetries = 3
	cfg.Executor.EventBufferSize = 64
	cfg.Snapshot.BatchSize = 100
	cfg.Snapshot.WriteIntervalSeconds = 1
	cfg.Alert.BufferIntervalSeconds = 60

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(file, cfg); err != nil {
		return nil, err
	}

	// Load sensitive data and overrides from environment variables
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DB_PORT"); dbPort != "" {
		cfg.Database.Port = dbPort
	}
	if dbUser := os.Getenv("DB_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPassword := os.Getenv("DB_PASSWORD"); dbPassword != "" {
		cfg.Database.Password = dbPassword
	}
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		cfg.Database.Name = dbName
	}
	if webhook := os.Getenv("ALERT_WEBHOOK_URL"); webhook != "" {
		cfg.Alert.WebhookURL = webhook
	}
	if seed := os.Getenv("SEED_BALANCE"); seed != "" {
		var d Decimal
		if err := d.set(seed); err != nil {
			return nil, fmt.Errorf("invalid SEED_BALANCE: %w", err)
		}
		cfg.Account.SeedBalance = d
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Account.ID == "" {
		return fmt.Errorf("account.id must be set")
	}
	if c.Account.SeedBalance.Decimal.IsNegative() {
		return fmt.Errorf("account.seed_balance must not be negative")
	}
	if c.Executor.AppendRetries < 0 {
		return fmt.Errorf("executor.append_retries must not be negative")
	}
	return nil
}
