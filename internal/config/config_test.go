package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	return home
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Zero(t, cfg.QueryTimeout)
	assert.Equal(t, 500, cfg.Export.PageSize)
	assert.Equal(t, 100, cfg.Import.BatchSize)
	assert.False(t, cfg.Audit.Enabled)
	assert.True(t, cfg.History.Enabled)

	dir, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, "dbridge", filepath.Base(dir))
	assert.Equal(t, filepath.Join(dir, "profiles.yaml"), cfg.ProfilesPath)
	assert.Equal(t, filepath.Join(dir, "history.db"), cfg.History.Path)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)
}

func TestLoadPrecedence(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
query_timeout: 30s
export:
  page_size: 50
import:
  batch_size: 20
audit:
  enabled: true
  path: /var/log/dbridge.jsonl
`), 0o600))

	t.Setenv("DBRIDGE_IMPORT__BATCH_SIZE", "40")
	t.Setenv("DBRIDGE_LOG__LEVEL", "debug")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("page-size", 0, "")
	flags.String("host", "", "")
	flags.Duration("query-timeout", 0, "")
	require.NoError(t, flags.Parse([]string{"--page-size", "75", "--host", "db"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.QueryTimeout, "unset flag keeps file value")
	assert.Equal(t, 75, cfg.Export.PageSize, "flag beats file")
	assert.Equal(t, 40, cfg.Import.BatchSize, "env beats file")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, "/var/log/dbridge.jsonl", cfg.Audit.Path)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	isolate(t)
	t.Setenv("DBRIDGE_EXPORT__PAGE_SIZE", "0")
	t.Setenv("DBRIDGE_LOG__LEVEL", "chatty")

	_, err := Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export.page_size")
	assert.Contains(t, err.Error(), "log.level")
}
