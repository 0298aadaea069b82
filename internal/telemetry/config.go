// Package telemetry wraps OpenTelemetry tracing behind a graceful-
// degradation facade: failures to build or export spans never fail the
// server, they only mark telemetry as degraded.
package telemetry

import (
	"fmt"
	"time"
)

// Config holds telemetry configuration, mirroring the shape of
// internal/logging.Config: koanf-tagged, validated before use.
type Config struct {
	Enabled        bool          `koanf:"enabled"`
	ServiceName    string        `koanf:"service_name"`
	ServiceVersion string        `koanf:"service_version"`
	Sampling       SamplingConfig `koanf:"sampling"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// SamplingConfig controls trace sampling behavior.
type SamplingConfig struct {
	Rate float64 `koanf:"rate"`
}

// NewDefaultConfig returns telemetry defaults: enabled, always-sample, no
// remote collector required since the default provider keeps spans local.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		ServiceName:     "mcpd",
		ServiceVersion:  "0.1.0",
		Sampling:        SamplingConfig{Rate: 1.0},
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate rejects a malformed Config before New builds providers from it.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version is required when telemetry is enabled")
	}
	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		return fmt.Errorf("sampling.rate must be between 0 and 1, got %f", c.Sampling.Rate)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	return nil
}
