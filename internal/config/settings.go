package config

import (
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/superhawk610/dbc/internal/errs"
)

// Settings holds server-level tuning. Everything has a working default; a
// YAML settings file and a few environment variables override it.
type Settings struct {
	// Addr is the listen address. Port 0 binds an ephemeral port.
	Addr string `yaml:"addr"`

	// ConfigPath locates the connections JSON file.
	ConfigPath string `yaml:"config_path"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json or console

	// PoolSize caps sessions per (connection, database) pool.
	PoolSize int32 `yaml:"pool_size"`

	// Timeouts, in seconds on disk.
	QueryTimeoutS    int `yaml:"query_timeout_s"`
	ProbeTimeoutS    int `yaml:"probe_timeout_s"`
	PasswordTimeoutS int `yaml:"password_timeout_s"`
	PoolIdleTimeoutS int `yaml:"pool_idle_timeout_s"`

	// Response cache bounds.
	CacheMaxEntries int   `yaml:"cache_max_entries"`
	CacheMaxBytes   int64 `yaml:"cache_max_bytes"`
	CacheMaxTTLS    int   `yaml:"cache_max_ttl_s"`

	// LogBacklog bounds the diagnostic stream's replay buffer.
	LogBacklog int `yaml:"log_backlog"`
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Addr:             "127.0.0.1:0",
		ConfigPath:       "connections.json",
		LogLevel:         "info",
		LogFormat:        "json",
		PoolSize:         4,
		QueryTimeoutS:    30,
		ProbeTimeoutS:    5,
		PasswordTimeoutS: 10,
		PoolIdleTimeoutS: 30 * 60,
		CacheMaxEntries:  1024,
		CacheMaxBytes:    64 << 20,
		CacheMaxTTLS:     300,
		LogBacklog:       1024,
	}
}

// LoadSettings reads the optional YAML settings file at path (skipped when
// path is empty or missing), then applies ADDR, DBC_CONFIG, and DBC_LOG
// environment overrides.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults only
		case err != nil:
			return s, errs.Wrap(errs.KindInvalidConfig, "could not read settings file", err)
		default:
			if err := yaml.Unmarshal(raw, &s); err != nil {
				return s, errs.Wrap(errs.KindInvalidConfig, "malformed settings file", err)
			}
		}
	}

	if addr := os.Getenv("ADDR"); addr != "" {
		s.Addr = addr
	}
	if path := os.Getenv("DBC_CONFIG"); path != "" {
		s.ConfigPath = path
	}
	if level := os.Getenv("DBC_LOG"); level != "" {
		s.LogLevel = level
	}

	return s, nil
}

// QueryTimeout is the per-request execution budget.
func (s Settings) QueryTimeout() time.Duration { return time.Duration(s.QueryTimeoutS) * time.Second }

// ProbeTimeout is the budget for catalog and prepare probes.
func (s Settings) ProbeTimeout() time.Duration { return time.Duration(s.ProbeTimeoutS) * time.Second }

// PasswordTimeout is the budget for password-resolver commands.
func (s Settings) PasswordTimeout() time.Duration {
	return time.Duration(s.PasswordTimeoutS) * time.Second
}

// PoolIdleTimeout is how long a pool may sit unused before going dormant.
func (s Settings) PoolIdleTimeout() time.Duration {
	return time.Duration(s.PoolIdleTimeoutS) * time.Second
}

// CacheMaxTTL caps the client-requested response cache TTL.
func (s Settings) CacheMaxTTL() time.Duration { return time.Duration(s.CacheMaxTTLS) * time.Second }
