// Package config loads settings of the member example.
//
// Sources, later ones winning:
//  1. built-in defaults
//  2. the YAML file given on the command line
//  3. environment variables (a .env file is loaded into the environment first)
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/oligo/txprop"
)

// Config holds all configuration values
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Tx       TxConfig       `yaml:"tx"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Addr string `yaml:"addr"`
	Env  string `yaml:"env"`
}

// DatabaseConfig selects the database. For sqlite, DSN is a data directory.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LogConfig holds zap settings
type LogConfig struct {
	Level string `yaml:"level"`
}

// TxConfig holds transaction settings of the member service
type TxConfig struct {
	// OuterTransaction wraps each join in a service-level transaction.
	OuterTransaction bool `yaml:"outer_transaction"`

	// LogPropagation is the propagation of the log repository, e.g. REQUIRED or REQUIRES_NEW.
	LogPropagation string `yaml:"log_propagation"`

	Timeout          time.Duration `yaml:"timeout"`
	ValidateExisting bool          `yaml:"validate_existing"`
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Addr: ":8080", Env: "development"},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "./data"},
		Log:      LogConfig{Level: "info"},
		Tx: TxConfig{
			OuterTransaction: true,
			LogPropagation:   txprop.PropagationRequiresNew.String(),
			Timeout:          30 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path and the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.Server.Addr = getEnv("TXPROP_SERVER_ADDR", cfg.Server.Addr)
	cfg.Server.Env = getEnv("TXPROP_SERVER_ENV", cfg.Server.Env)
	cfg.Database.Driver = getEnv("TXPROP_DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = getEnv("TXPROP_DB_DSN", cfg.Database.DSN)
	cfg.Log.Level = getEnv("TXPROP_LOG_LEVEL", cfg.Log.Level)
	cfg.Tx.OuterTransaction = getEnvAsBool("TXPROP_OUTER_TX", cfg.Tx.OuterTransaction)
	cfg.Tx.LogPropagation = getEnv("TXPROP_LOG_PROPAGATION", cfg.Tx.LogPropagation)
	cfg.Tx.Timeout = getEnvAsDuration("TXPROP_TX_TIMEOUT", cfg.Tx.Timeout)
	cfg.Tx.ValidateExisting = getEnvAsBool("TXPROP_TX_VALIDATE_EXISTING", cfg.Tx.ValidateExisting)

	if _, err := cfg.Tx.Propagation(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Propagation parses LogPropagation.
func (c TxConfig) Propagation() (txprop.PropagationType, error) {
	p, err := txprop.ParsePropagation(c.LogPropagation)
	if err != nil {
		return 0, fmt.Errorf("tx.log_propagation: %w", err)
	}
	return p, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}
