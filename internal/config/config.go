// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	AuditSinkMemory   = "memory"
	AuditSinkPostgres = "postgres"
)

// Config is the API process configuration.
type Config struct {
	HTTPAddr string `env:"MERIDIAN_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"MERIDIAN_GRPC_ADDR" envDefault:":9090"`
	PGDSN    string `env:"MERIDIAN_PG_DSN"`
	Version  string `env:"MERIDIAN_VERSION" envDefault:"dev"`
	Commit   string `env:"MERIDIAN_COMMIT" envDefault:"unknown"`

	Auth  AuthConfig
	Audit AuditConfig
	Rate  RateConfig

	ShutdownTimeout time.Duration `env:"MERIDIAN_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type AuthConfig struct {
	Secret string `env:"MERIDIAN_AUTH_SECRET"`
	Issuer string `env:"MERIDIAN_AUTH_ISSUER" envDefault:"meridian"`
	// BootstrapAdmin seeds a super_admin account when running without a
	// database.
	BootstrapAdmin string `env:"MERIDIAN_BOOTSTRAP_ADMIN"`
}

type AuditConfig struct {
	Sink         string        `env:"MERIDIAN_AUDIT_SINK" envDefault:"memory"`
	QueueSize    int           `env:"MERIDIAN_AUDIT_QUEUE_SIZE" envDefault:"1024"`
	Workers      int           `env:"MERIDIAN_AUDIT_WORKERS" envDefault:"2"`
	WriteTimeout time.Duration `env:"MERIDIAN_AUDIT_WRITE_TIMEOUT" envDefault:"2s"`
	StreamBuffer int           `env:"MERIDIAN_AUDIT_STREAM_BUFFER" envDefault:"16"`
}

type RateConfig struct {
	PerSecond float64 `env:"MERIDIAN_RATE_PER_SEC" envDefault:"20"`
	Burst     int     `env:"MERIDIAN_RATE_BURST" envDefault:"40"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the process configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Audit.Sink = strings.ToLower(strings.TrimSpace(cfg.Audit.Sink))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, errors.New("MERIDIAN_AUTH_SECRET is required"))
	}
	switch c.Audit.Sink {
	case AuditSinkMemory:
	case AuditSinkPostgres:
		if strings.TrimSpace(c.PGDSN) == "" {
			errs = append(errs, errors.New("MERIDIAN_PG_DSN is required for the postgres audit sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("MERIDIAN_AUDIT_SINK must be memory or postgres, got %q", c.Audit.Sink))
	}
	if c.Audit.QueueSize <= 0 {
		errs = append(errs, errors.New("MERIDIAN_AUDIT_QUEUE_SIZE must be positive"))
	}
	if c.Audit.Workers <= 0 {
		errs = append(errs, errors.New("MERIDIAN_AUDIT_WORKERS must be positive"))
	}
	if c.Audit.WriteTimeout <= 0 {
		errs = append(errs, errors.New("MERIDIAN_AUDIT_WRITE_TIMEOUT must be positive"))
	}
	if c.Rate.PerSecond <= 0 || c.Rate.Burst <= 0 {
		errs = append(errs, errors.New("MERIDIAN_RATE_PER_SEC and MERIDIAN_RATE_BURST must be positive"))
	}
	return errors.Join(errs...)
}
