package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dcache/gplazma/internal/logger"
	"github.com/dcache/gplazma/internal/telemetry"
	"github.com/dcache/gplazma/pkg/gplazma/pipeline"
)

// Config represents the gPlazma service configuration.
//
// The login stack itself lives in its own PAM-style file (Login.ConfigPath);
// this structure only covers how the engine around it runs:
//   - Logging and tracing
//   - Metrics endpoint
//   - Login engine settings (stack file, global plugin properties, reload)
//   - Login result cache
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (GPLAZMA_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout is the maximum time to wait for plugins to stop
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Login configures the login engine
	Login LoginConfig `mapstructure:"login" yaml:"login"`

	// Cache configures the login result cache
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// Logger converts to the logger package configuration.
func (c LoggingConfig) Logger() logger.Config {
	return logger.Config{Level: c.Level, Format: c.Format, Output: c.Output}
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	// Insecure controls whether to use a non-TLS connection to the collector
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// Telemetry converts to the telemetry package configuration.
func (c TelemetryConfig) Telemetry(version string) telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Enabled = c.Enabled
	cfg.Endpoint = c.Endpoint
	cfg.Insecure = c.Insecure
	cfg.SampleRate = c.SampleRate
	if version != "" {
		cfg.ServiceVersion = version
	}
	return cfg
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// LoginConfig configures the login engine.
type LoginConfig struct {
	// ConfigPath is the PAM-style login stack file
	// Default: /etc/gplazma/gplazma.conf
	ConfigPath string `mapstructure:"config_path" validate:"required" yaml:"config_path"`

	// Properties are global plugin properties. Each stack line's own
	// key=value pairs take precedence. Keys are case-insensitive and may
	// contain dots.
	Properties map[string]string `mapstructure:"-" yaml:"properties,omitempty"`

	// OptionalOnly decides phases whose stack holds only optional modules.
	// Valid values: require-success, always-succeed
	OptionalOnly pipeline.OptionalOnlyPolicy `mapstructure:"optional_only" yaml:"optional_only"`

	// Watch reloads the stack file when it changes
	Watch bool `mapstructure:"watch" yaml:"watch"`

	// WatchDebounce is the delay between a change and the reload
	// Default: 200ms
	WatchDebounce time.Duration `mapstructure:"watch_debounce" validate:"gte=0" yaml:"watch_debounce"`

	// FailedLoginCacheSize bounds how many failing subjects are remembered
	// so their failures are explained only once
	// Default: 1000
	FailedLoginCacheSize int `mapstructure:"failed_login_cache_size" validate:"gte=0" yaml:"failed_login_cache_size"`
}

// CacheConfig configures the login result cache.
type CacheConfig struct {
	// Enabled puts the cache in front of the login engine
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// TTL expires cached results. Zero keeps them until invalidated.
	TTL time.Duration `mapstructure:"ttl" validate:"gte=0" yaml:"ttl"`

	// CredentialAware includes credential fingerprints in the cache key, so
	// subjects that differ only in credentials are cached separately
	CredentialAware bool `mapstructure:"credential_aware" yaml:"credential_aware"`
}

// Load loads configuration from file, environment, and defaults.
//
// A missing file is not an error: the defaults (with environment overrides)
// are returned.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	props, err := flattenProperties("", v.Get("login.properties"), nil)
	if err != nil {
		return nil, fmt.Errorf("invalid login.properties: %w", err)
	}
	cfg.Login.Properties = props

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad is Load with a user-facing error when the file does not exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  gplazma config init\n\n"+
				"Or specify a custom config file:\n"+
				"  gplazma <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  gplazma config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Plugin properties may hold secrets such as LDAP bind passwords.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: GPLAZMA_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("GPLAZMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// bindEnvKeys registers every known key so environment overrides apply
// even when the key is absent from the file.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"telemetry.enabled", "telemetry.endpoint", "telemetry.insecure", "telemetry.sample_rate",
		"metrics.enabled", "metrics.port",
		"shutdown_timeout",
		"login.config_path", "login.optional_only", "login.watch", "login.watch_debounce",
		"login.failed_login_cache_size",
		"cache.enabled", "cache.ttl", "cache.credential_aware",
	} {
		_ = v.BindEnv(key)
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// flattenProperties joins nested keys with dots; viper splits dotted keys
// such as "gplazma.ldap.url" into nested maps.
func flattenProperties(prefix string, raw any, out map[string]string) (map[string]string, error) {
	if raw == nil {
		return out, nil
	}
	if out == nil {
		out = make(map[string]string)
	}
	m, ok := raw.(map[string]any)
	if !ok {
		if prefix == "" {
			return nil, fmt.Errorf("expected a map, got %T", raw)
		}
		out[prefix] = fmt.Sprint(raw)
		return out, nil
	}
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if _, err := flattenProperties(key, val, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/gplazma, ~/.config/gplazma, or "."
// when no home directory can be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "gplazma")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "gplazma")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
