package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

const configTemplate = `# gPlazma Configuration File
#
# Environment variables override every key: GPLAZMA_<SECTION>_<KEY>,
# for example GPLAZMA_LOGGING_LEVEL=DEBUG.

logging:
  # DEBUG, INFO, WARN, ERROR
  level: {{ .Logging.Level }}
  # text or json
  format: {{ .Logging.Format }}
  # stdout, stderr or a file path
  output: {{ .Logging.Output }}

telemetry:
  enabled: {{ .Telemetry.Enabled }}
  endpoint: {{ .Telemetry.Endpoint }}
  insecure: {{ .Telemetry.Insecure }}
  sample_rate: {{ .Telemetry.SampleRate }}

metrics:
  enabled: {{ .Metrics.Enabled }}
  port: 9090

shutdown_timeout: {{ .ShutdownTimeout }}

login:
  # PAM-style stack: one "<phase> <control> <plugin> [key=value ...]" per line
  config_path: {{ .Login.ConfigPath }}
  # require-success or always-succeed
  optional_only: {{ .Login.OptionalOnly }}
  watch: {{ .Login.Watch }}
  watch_debounce: {{ .Login.WatchDebounce }}
  failed_login_cache_size: {{ .Login.FailedLoginCacheSize }}
  # Global plugin properties; stack lines override them.
  properties: {}

cache:
  enabled: {{ .Cache.Enabled }}
  # 0 keeps results until the configuration is reloaded
  ttl: {{ .Cache.TTL }}
  credential_aware: {{ .Cache.CredentialAware }}
`

// InitConfig writes a default configuration file to the default location
// and returns its path.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a default configuration file to path. An
// existing file is only replaced when force is set.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	content, err := renderDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func renderDefaultConfig() ([]byte, error) {
	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, GetDefaultConfig()); err != nil {
		return nil, fmt.Errorf("failed to render config template: %w", err)
	}
	return buf.Bytes(), nil
}
