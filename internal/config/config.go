// Package config loads process configuration from PAYLEDGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"PayLedger/internal/core"

	"github.com/caarlos0/env/v11"
)

// Prefix is prepended to every variable name.
const Prefix = "PAYLEDGER_"

// Output formats for the account report.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Config is the process configuration. Empty addresses and URLs disable the
// corresponding component.
type Config struct {
	Workers         int           `env:"WORKERS"          envDefault:"4"`
	QueueCapacity   int           `env:"QUEUE_CAPACITY"   envDefault:"100"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	OutputFormat    string        `env:"OUTPUT_FORMAT"    envDefault:"csv"`
	LogLevel        string        `env:"LOG_LEVEL"        envDefault:"info"`

	NATSURL       string `env:"NATS_URL"`
	PostgresDSN   string `env:"POSTGRES_DSN"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	MetricsAddr string `env:"METRICS_ADDR"`
	GRPCAddr    string `env:"GRPC_ADDR"`
	HTTPAddr    string `env:"HTTP_ADDR"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.OutputFormat = strings.ToLower(strings.TrimSpace(cfg.OutputFormat))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("%sWORKERS must be positive, got %d", Prefix, c.Workers))
	}
	if c.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("%sQUEUE_CAPACITY must be positive, got %d", Prefix, c.QueueCapacity))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%sSHUTDOWN_TIMEOUT must be positive, got %s", Prefix, c.ShutdownTimeout))
	}
	switch c.OutputFormat {
	case FormatCSV, FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("%sOUTPUT_FORMAT must be csv or json, got %q", Prefix, c.OutputFormat))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Engine returns the engine sizing derived from the configuration.
func (c Config) Engine() core.Config {
	return core.Config{
		Workers:         c.Workers,
		QueueCapacity:   c.QueueCapacity,
		ShutdownTimeout: c.ShutdownTimeout,
	}
}
