package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadopc/dbridge/internal/adapter"
	"github.com/sadopc/dbridge/internal/profile"
	"github.com/sadopc/dbridge/internal/schema"
)

const seed = `
CREATE TABLE authors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL DEFAULT 'anon',
	active BOOLEAN,
	rating REAL,
	avatar BLOB
);
CREATE TABLE books (
	id INTEGER PRIMARY KEY,
	author_id INTEGER REFERENCES authors(id),
	title TEXT UNIQUE
);
CREATE INDEX idx_books_author ON books(author_id);
CREATE VIEW prolific AS SELECT author_id, count(*) AS n FROM books GROUP BY author_id;
INSERT INTO authors (name, active, rating, avatar) VALUES ('ann', 1, 4.5, x'0102'), ('bob', 0, NULL, NULL);
`

func openTestConn(t *testing.T) (adapter.Connection, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "library.db")
	conn, err := (&sqliteAdapter{}).Connect(context.Background(), profile.Profile{Engine: profile.EngineSQLite, File: path})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	for _, stmt := range splitSeed(seed) {
		_, err := conn.ExecuteStatement(context.Background(), stmt)
		require.NoError(t, err, stmt)
	}
	return conn, path
}

func splitSeed(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ';' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}

func TestSQLiteAdapter_Registration(t *testing.T) {
	a, err := adapter.Lookup(profile.EngineSQLite)
	require.NoError(t, err)
	assert.Equal(t, profile.EngineSQLite, a.Engine())
	assert.Equal(t, 0, a.DefaultPort())
}

func TestNormalizeDSN(t *testing.T) {
	assert.Equal(t, "/path/to/file.db", normalizeDSN("sqlite:///path/to/file.db"))
	assert.Equal(t, "test.db", normalizeDSN("file:test.db"))
	assert.Equal(t, ":memory:", normalizeDSN(":memory:"))
}

func TestConnect_NotADatabase(t *testing.T) {
	_, err := (&sqliteAdapter{}).Connect(context.Background(), profile.Profile{
		Engine: profile.EngineSQLite,
		File:   filepath.Join(t.TempDir(), "missing", "dir", "x.db"),
	})
	var ce *adapter.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, adapter.ConnUnreachable, ce.Kind)
}

func TestSingleDatabase(t *testing.T) {
	conn, _ := openTestConn(t)
	ctx := context.Background()

	dbs, err := conn.ListDatabases(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"library.db"}, dbs)

	name, ok := conn.SelectedDatabase()
	assert.True(t, ok)
	assert.Equal(t, "library.db", name)

	require.NoError(t, conn.SelectDatabase(ctx, "library.db"))

	var nf *adapter.NotFoundError
	require.ErrorAs(t, conn.SelectDatabase(ctx, "other.db"), &nf)
	assert.Equal(t, "database", nf.Object)

	assert.ErrorIs(t, conn.DeselectDatabase(ctx), adapter.ErrUnsupported)
	name, ok = conn.SelectedDatabase()
	assert.True(t, ok)
	assert.Equal(t, "library.db", name)

	tables, err := conn.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"authors", "books"}, tables)

	views, err := conn.ListViews(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"prolific"}, views)
}

func TestListColumns(t *testing.T) {
	conn, _ := openTestConn(t)

	cols, err := conn.ListColumns(context.Background(), "authors")
	require.NoError(t, err)
	require.Len(t, cols, 5)
	assert.Equal(t, schema.Column{Name: "id", Type: "INTEGER", Nullable: true, IsPK: true}, cols[0])
	assert.Equal(t, schema.Column{Name: "name", Type: "TEXT", Default: "'anon'", HasDefault: true}, cols[1])

	_, err = conn.ListColumns(context.Background(), "nope")
	var nf *adapter.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestListIndexesAndForeignKeys(t *testing.T) {
	conn, _ := openTestConn(t)
	ctx := context.Background()

	idx, err := conn.ListIndexes(ctx, "books")
	require.NoError(t, err)
	byName := map[string]schema.Index{}
	for _, i := range idx {
		byName[i.Name] = i
	}
	assert.Equal(t, []string{"author_id"}, byName["idx_books_author"].Columns)
	assert.False(t, byName["idx_books_author"].Unique)
	assert.True(t, byName["sqlite_autoindex_books_1"].Unique)

	fks, err := conn.ListForeignKeys(ctx, "books")
	require.NoError(t, err)
	require.Len(t, fks, 1)
	assert.Equal(t, "authors", fks[0].RefTable)
	assert.Equal(t, []string{"author_id"}, fks[0].Columns)
	assert.Equal(t, []string{"id"}, fks[0].RefColumns)
}

func TestDefinitions(t *testing.T) {
	conn, _ := openTestConn(t)
	ctx := context.Background()

	def, err := conn.ViewDefinition(ctx, "prolific")
	require.NoError(t, err)
	assert.Contains(t, def, "CREATE VIEW prolific")

	ddl, err := conn.TableDDL(ctx, "books")
	require.NoError(t, err)
	require.Len(t, ddl, 2)
	assert.Contains(t, ddl[0], "CREATE TABLE books")
	assert.Contains(t, ddl[1], "CREATE INDEX idx_books_author")

	_, err = conn.TableDDL(ctx, "prolific")
	var nf *adapter.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestListPrivileges(t *testing.T) {
	conn, _ := openTestConn(t)
	grants, err := conn.ListPrivileges(context.Background())
	require.NoError(t, err)
	assert.Len(t, grants, len(schema.GrantableOperations))
	for _, g := range grants {
		assert.Equal(t, schema.ScopeServer, g.Scope)
	}
}

func TestExecuteQuery_TypedValues(t *testing.T) {
	conn, _ := openTestConn(t)

	res, err := conn.ExecuteQuery(context.Background(), "SELECT id, name, active, rating, avatar FROM authors ORDER BY id")
	require.NoError(t, err)
	assert.True(t, res.IsSelect)
	assert.EqualValues(t, 2, res.RowCount)
	assert.Equal(t, adapter.Row{int64(1), "ann", true, 4.5, []byte{1, 2}}, res.Rows[0])
	assert.Equal(t, adapter.Row{int64(2), "bob", false, nil, nil}, res.Rows[1])
	assert.Equal(t, "BOOLEAN", res.Columns[2].Type)

	res, err = conn.ExecuteQuery(context.Background(), "UPDATE authors SET rating = ? WHERE name = ?", 3.0, "bob")
	require.NoError(t, err)
	assert.False(t, res.IsSelect)
	assert.EqualValues(t, 1, res.RowCount)
	assert.Equal(t, "1 row(s) affected", res.Message)
}

func TestExecuteQuery_Errors(t *testing.T) {
	conn, _ := openTestConn(t)
	ctx := context.Background()

	_, err := conn.ExecuteQuery(ctx, "SELEC * FROM authors")
	var qe *adapter.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, adapter.QuerySyntax, qe.Kind)

	_, err = conn.ExecuteStatement(ctx, "INSERT INTO books (id, title) VALUES (1, 'a'), (2, 'a')")
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, adapter.QueryRuntime, qe.Kind)
	assert.False(t, adapter.IsFatal(err))

	// The session stays usable.
	_, err = conn.ExecuteQuery(ctx, "SELECT 1")
	assert.NoError(t, err)
}

func TestExecuteQuery_Cancelled(t *testing.T) {
	conn, _ := openTestConn(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := conn.ExecuteQuery(ctx, "SELECT * FROM authors")
	assert.True(t, errors.Is(err, adapter.ErrCancelled) || errors.Is(err, context.Canceled), "got %v", err)

	_, err = conn.ExecuteQuery(context.Background(), "SELECT 1")
	assert.NoError(t, err)
}

func TestBulkImportRollback(t *testing.T) {
	conn, _ := openTestConn(t)
	ctx := context.Background()

	tx, err := conn.BeginBulkImport(ctx)
	require.NoError(t, err)
	_, err = tx.ExecuteStatement(ctx, "INSERT INTO authors (name) VALUES (?)", "carl")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, tx.Rollback(ctx), "second rollback is a no-op")

	res, err := conn.ExecuteQuery(ctx, "SELECT count(*) AS n FROM authors")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Rows[0][0])

	tx, err = conn.BeginBulkImport(ctx)
	require.NoError(t, err)
	_, err = tx.ExecuteStatement(ctx, "INSERT INTO authors (name) VALUES (?)", "dina")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	res, err = conn.ExecuteQuery(ctx, "SELECT count(*) AS n FROM authors")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Rows[0][0])
}

func TestPersistsAcrossSessions(t *testing.T) {
	conn, path := openTestConn(t)
	require.NoError(t, conn.Close())

	again, err := (&sqliteAdapter{}).Connect(context.Background(), profile.Profile{Engine: profile.EngineSQLite, File: "sqlite://" + path})
	require.NoError(t, err)
	defer again.Close()

	tables, err := again.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"authors", "books"}, tables)
}
