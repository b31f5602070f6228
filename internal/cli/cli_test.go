package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/sadopc/dbridge/internal/adapter/sqlite"
)

func isolate(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func sqliteArgs(file string, args ...string) []string {
	return append([]string{"--engine", "sqlite", "--file", file}, args...)
}

func seed(t *testing.T) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "crm.db")
	for _, q := range []string{
		"CREATE TABLE accounts (id INTEGER PRIMARY KEY, name TEXT NOT NULL, region TEXT)",
		"CREATE INDEX idx_accounts_region ON accounts(region)",
		"INSERT INTO accounts VALUES (1, 'Acme', 'north'), (2, 'Globex', NULL)",
		"CREATE VIEW northern AS SELECT name FROM accounts WHERE region = 'north'",
	} {
		_, err := execute(t, sqliteArgs(file, "query", q)...)
		require.NoError(t, err, q)
	}
	return file
}

func TestConnectionRequired(t *testing.T) {
	isolate(t)
	_, err := execute(t, "tables")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--profile or --engine")
}

func TestQueryAndMetadata(t *testing.T) {
	isolate(t)
	file := seed(t)

	out, err := execute(t, sqliteArgs(file, "query", "SELECT id, name, region FROM accounts ORDER BY id")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Globex")
	assert.Contains(t, out, "NULL")
	assert.Contains(t, out, "(2 rows)")

	out, err = execute(t, sqliteArgs(file, "databases")...)
	require.NoError(t, err)
	assert.Contains(t, out, "crm.db")

	out, err = execute(t, sqliteArgs(file, "tables")...)
	require.NoError(t, err)
	assert.Contains(t, out, "accounts")
	assert.Contains(t, out, "northern")
	assert.Contains(t, out, "view")

	out, err = execute(t, sqliteArgs(file, "columns", "ACCOUNTS")...)
	require.NoError(t, err)
	assert.Contains(t, out, "region")
	assert.Contains(t, out, "idx_accounts_region")

	_, err = execute(t, sqliteArgs(file, "columns", "missing")...)
	assert.Error(t, err)

	out, err = execute(t, sqliteArgs(file, "grants")...)
	require.NoError(t, err)
	assert.Contains(t, out, "server")
	assert.Contains(t, out, "select")
}

func TestExportImportRoundTrip(t *testing.T) {
	isolate(t)
	file := seed(t)
	dump := filepath.Join(t.TempDir(), "crm.sql")

	out, err := execute(t, sqliteArgs(file, "export", "--out", dump)...)
	require.NoError(t, err)
	assert.Contains(t, out, "succeeded")

	copyFile := filepath.Join(t.TempDir(), "copy.db")
	out, err = execute(t, sqliteArgs(copyFile, "import", "--in", dump)...)
	require.NoError(t, err, out)

	out, err = execute(t, sqliteArgs(copyFile, "query", "SELECT name FROM northern")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Acme")

	csvPath := filepath.Join(t.TempDir(), "accounts.csv")
	_, err = execute(t, sqliteArgs(file, "export", "--out", csvPath, "--table", "accounts")...)
	require.NoError(t, err)
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Globex")
}

func TestSavedProfile(t *testing.T) {
	isolate(t)
	file := seed(t)
	profiles := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(profiles, []byte("connections:\n  - name: local\n    engine: sqlite\n    file: "+file+"\n"), 0o600))

	out, err := execute(t, "--profiles-file", profiles, "--profile", "local", "tables")
	require.NoError(t, err)
	assert.Contains(t, out, "accounts")

	_, err = execute(t, "--profiles-file", profiles, "--profile", "remote", "tables")
	assert.Error(t, err)
}

func TestHistory(t *testing.T) {
	isolate(t)
	file := seed(t)
	_, err := execute(t, sqliteArgs(file, "query", "SELECT count(*) FROM accounts")...)
	require.NoError(t, err)

	out, err := execute(t, "history", "--search", "count(*)")
	require.NoError(t, err)
	assert.Contains(t, out, "SELECT count(*) FROM accounts")
	assert.Contains(t, out, "crm.db")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "dbridge dev")
}
