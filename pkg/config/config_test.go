package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dcache/gplazma/pkg/gplazma/pipeline"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: "debug"
login:
  config_path: /tmp/gplazma.conf
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level normalized to DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Login.ConfigPath != "/tmp/gplazma.conf" {
		t.Errorf("Expected config_path from file, got %q", cfg.Login.ConfigPath)
	}
	if cfg.Login.FailedLoginCacheSize != 1000 {
		t.Errorf("Expected default failed login cache size 1000, got %d", cfg.Login.FailedLoginCacheSize)
	}
	if cfg.Login.OptionalOnly != pipeline.RequireSuccess {
		t.Errorf("Expected require-success, got %s", cfg.Login.OptionalOnly)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg.Login.ConfigPath != DefaultLoginConfigPath {
		t.Errorf("Expected default login config path, got %q", cfg.Login.ConfigPath)
	}
}

func TestLoad_LoginAndCacheSettings(t *testing.T) {
	path := writeConfig(t, `
login:
  config_path: /etc/gplazma/custom.conf
  optional_only: always-succeed
  watch: true
  watch_debounce: 1s
  properties:
    gplazma.ldap.url: ldap://ldap.example.org
    gplazma.vomsdir.dir: /etc/grid-security/vomsdir
    verbose: true
cache:
  enabled: true
  ttl: 5m
  credential_aware: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Login.OptionalOnly != pipeline.AlwaysSucceed {
		t.Errorf("Expected always-succeed, got %s", cfg.Login.OptionalOnly)
	}
	if !cfg.Login.Watch || cfg.Login.WatchDebounce != time.Second {
		t.Errorf("Expected watch with 1s debounce, got %v/%v", cfg.Login.Watch, cfg.Login.WatchDebounce)
	}
	want := map[string]string{
		"gplazma.ldap.url":    "ldap://ldap.example.org",
		"gplazma.vomsdir.dir": "/etc/grid-security/vomsdir",
		"verbose":             "true",
	}
	for k, v := range want {
		if got := cfg.Login.Properties[k]; got != v {
			t.Errorf("Property %s: expected %q, got %q", k, v, got)
		}
	}
	if len(cfg.Login.Properties) != len(want) {
		t.Errorf("Expected %d properties, got %v", len(want), cfg.Login.Properties)
	}
	if !cfg.Cache.Enabled || cfg.Cache.TTL != 5*time.Minute || !cfg.Cache.CredentialAware {
		t.Errorf("Unexpected cache config: %+v", cfg.Cache)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: INFO
`)
	t.Setenv("GPLAZMA_LOGGING_LEVEL", "WARN")
	t.Setenv("GPLAZMA_CACHE_TTL", "90s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected env override WARN, got %q", cfg.Logging.Level)
	}
	if cfg.Cache.TTL != 90*time.Second {
		t.Errorf("Expected env override 90s, got %v", cfg.Cache.TTL)
	}
}

func TestLoad_InvalidPolicy(t *testing.T) {
	path := writeConfig(t, `
login:
  optional_only: sometimes
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Expected an error for an unknown optional-only policy")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
cache:
  ttl: soon
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Expected an error for an invalid duration")
	}
}

func TestMustLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	_, err := MustLoad(path)
	if err == nil {
		t.Fatal("Expected an error for a missing file")
	}
	if !strings.Contains(err.Error(), "gplazma config init --config "+path) {
		t.Errorf("Expected init instructions, got: %v", err)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Login.OptionalOnly = pipeline.AlwaysSucceed
	cfg.Login.Properties = map[string]string{"gplazma.ldap.url": "ldap://x"}
	cfg.Cache.TTL = time.Minute

	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Saved file missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if loaded.Login.OptionalOnly != pipeline.AlwaysSucceed {
		t.Errorf("Expected always-succeed after round trip, got %s", loaded.Login.OptionalOnly)
	}
	if loaded.Login.Properties["gplazma.ldap.url"] != "ldap://x" {
		t.Errorf("Expected property after round trip, got %v", loaded.Login.Properties)
	}
	if loaded.Cache.TTL != time.Minute {
		t.Errorf("Expected ttl 1m after round trip, got %v", loaded.Cache.TTL)
	}
}

func TestInitConfigToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := InitConfigToPath(path, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}
	for _, section := range []string{"# gPlazma Configuration File", "logging:", "login:", "cache:"} {
		if !strings.Contains(string(content), section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(content, &parsed); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}

	if _, err := Load(path); err != nil {
		t.Errorf("Generated config does not load: %v", err)
	}

	if err := InitConfigToPath(path, false); err == nil {
		t.Error("Expected an error when the file exists")
	}
	if err := InitConfigToPath(path, true); err != nil {
		t.Errorf("Expected force to overwrite, got: %v", err)
	}
}

func TestInitConfig_DefaultLocation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if path != GetDefaultConfigPath() {
		t.Errorf("Expected %s, got %s", GetDefaultConfigPath(), path)
	}
	if !DefaultConfigExists() {
		t.Error("Expected the default config to exist")
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_Violations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.Logging.Level = "INVALID" }, "logging.level: failed 'oneof'"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format: failed 'oneof'"},
		{"metrics port", func(c *Config) { c.Metrics.Port = 70000 }, "metrics.port: failed 'max' (65535)"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "telemetry.sample_rate: failed 'lte' (1)"},
		{"telemetry endpoint", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Endpoint = ""
		}, "telemetry.endpoint: failed 'required_if'"},
		{"stack path", func(c *Config) { c.Login.ConfigPath = "" }, "login.config_path: failed 'required'"},
		{"negative ttl", func(c *Config) { c.Cache.TTL = -time.Second }, "cache.ttl: failed 'gte'"},
		{"policy", func(c *Config) { c.Login.OptionalOnly = 7 }, "login.optional_only: unknown policy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected %q in %v", tt.want, err)
			}
		})
	}
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"
	cfg.Login.ConfigPath = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected a validation error")
	}
	if n := len(strings.Split(err.Error(), "\n")); n != 2 {
		t.Errorf("Expected 2 violations, got %d: %v", n, err)
	}
}
