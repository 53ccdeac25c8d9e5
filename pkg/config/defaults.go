package config

import (
	"strings"
	"time"

	"github.com/dcache/gplazma/pkg/gplazma"
	"github.com/dcache/gplazma/pkg/gplazma/configuration"
)

// DefaultLoginConfigPath is where the login stack is read from by default.
const DefaultLoginConfigPath = "/etc/gplazma/gplazma.conf"

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyShutdownTimeoutDefaults(cfg)
	applyLoginDefaults(&cfg.Login)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

// applyMetricsDefaults sets the port only when metrics are enabled.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyLoginDefaults(cfg *LoginConfig) {
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = DefaultLoginConfigPath
	}
	if cfg.WatchDebounce == 0 {
		cfg.WatchDebounce = configuration.DefaultDebounce
	}
	if cfg.FailedLoginCacheSize == 0 {
		cfg.FailedLoginCacheSize = gplazma.DefaultFailedLoginCacheSize
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
