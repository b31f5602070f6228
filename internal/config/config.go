// Package config loads application settings. Sources are layered with
// koanf; later layers win: defaults, config file, DBRIDGE_ environment
// variables, command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix marks environment overrides. A double underscore separates key
// levels: DBRIDGE_IMPORT__BATCH_SIZE sets import.batch_size.
const EnvPrefix = "DBRIDGE_"

// Config holds all application configuration.
type Config struct {
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	QueryTimeout   time.Duration `koanf:"query_timeout"` // zero disables the limit
	ProfilesPath   string        `koanf:"profiles_path"`
	Export         ExportConfig  `koanf:"export"`
	Import         ImportConfig  `koanf:"import"`
	Log            LogConfig     `koanf:"log"`
	Audit          AuditConfig   `koanf:"audit"`
	History        HistoryConfig `koanf:"history"`
}

type ExportConfig struct {
	PageSize int `koanf:"page_size"`
}

type ImportConfig struct {
	BatchSize int `koanf:"batch_size"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

// AuditConfig controls the JSON Lines statement audit log.
type AuditConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Path      string `koanf:"path"`
	MaxSizeMB int    `koanf:"max_size_mb"`
}

// HistoryConfig controls the query history database.
type HistoryConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

func defaults() map[string]any {
	return map[string]any{
		"connect_timeout":   "10s",
		"query_timeout":     "0s",
		"export.page_size":  500,
		"import.batch_size": 100,
		"log.level":         "warn",
		"audit.enabled":     false,
		"audit.max_size_mb": 10,
		"history.enabled":   true,
	}
}

// flagKeys maps command-line flag names to config keys. Other flags are
// not configuration.
var flagKeys = map[string]string{
	"connect-timeout": "connect_timeout",
	"query-timeout":   "query_timeout",
	"profiles-file":   "profiles_path",
	"page-size":       "export.page_size",
	"batch-size":      "import.batch_size",
	"log-level":       "log.level",
}

// ConfigDir returns the dbridge configuration directory, typically
// ~/.config/dbridge.
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config dir: %w", err)
	}
	return filepath.Join(base, "dbridge"), nil
}

// Load reads configuration. An empty path means ConfigDir()/config.yaml,
// which may be absent; an explicit path must exist. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}

	dir, dirErr := ConfigDir()
	if path == "" && dirErr == nil {
		candidate := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("config: flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if dirErr == nil {
		cfg.fillPaths(dir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) fillPaths(dir string) {
	if c.ProfilesPath == "" {
		c.ProfilesPath = filepath.Join(dir, "profiles.yaml")
	}
	if c.Audit.Path == "" {
		c.Audit.Path = filepath.Join(dir, "audit.jsonl")
	}
	if c.History.Path == "" {
		c.History.Path = filepath.Join(dir, "history.db")
	}
}

// Validate rejects settings the core cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("connect_timeout must be positive"))
	}
	if c.QueryTimeout < 0 {
		errs = append(errs, errors.New("query_timeout must not be negative"))
	}
	if c.Export.PageSize <= 0 {
		errs = append(errs, errors.New("export.page_size must be positive"))
	}
	if c.Import.BatchSize <= 0 {
		errs = append(errs, errors.New("import.batch_size must be positive"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", c.Log.Level, err)
	}
	return l, nil
}
