// Package sqlite implements the embedded file engine on modernc.org/sqlite.
// A session exposes exactly one database, named after the opened file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/sadopc/dbridge/internal/adapter"
	"github.com/sadopc/dbridge/internal/profile"
	"github.com/sadopc/dbridge/internal/schema"
)

func init() {
	adapter.Register(&sqliteAdapter{})
}

var classifier = adapter.Classifier{
	Engine: profile.EngineSQLite,
	Syntax: func(err error) bool {
		msg := err.Error()
		return strings.Contains(msg, "syntax error") || strings.Contains(msg, "incomplete input")
	},
	Unreachable: func(err error) bool {
		msg := err.Error()
		return strings.Contains(msg, "unable to open database file") || strings.Contains(msg, "file is not a database")
	},
}

// sqliteAdapter implements adapter.Adapter for SQLite databases.
type sqliteAdapter struct{}

func (a *sqliteAdapter) Engine() profile.Engine { return profile.EngineSQLite }
func (a *sqliteAdapter) DefaultPort() int       { return 0 }

func (a *sqliteAdapter) Connect(ctx context.Context, p profile.Profile) (adapter.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	dsn := normalizeDSN(p.File)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, classifier.Connect(fmt.Errorf("sqlite: open: %w", err))
	}

	session, err := adapter.NewSQLSession(ctx, db, classifier, func(ctx context.Context, conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			return err
		}
		// Reading sqlite_master forces the header check on existing files.
		_, err := conn.ExecContext(ctx, "SELECT count(*) FROM sqlite_master")
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	dbName := dsn
	if dsn != ":memory:" {
		dbName = filepath.Base(dsn)
	}
	return &sqliteConn{SQLSession: session, dbName: dbName}, nil
}

// normalizeDSN strips common SQLite URI prefixes.
func normalizeDSN(dsn string) string {
	if strings.HasPrefix(dsn, "sqlite://") {
		return strings.TrimPrefix(dsn, "sqlite://")
	}
	if strings.HasPrefix(dsn, "file:") {
		return strings.TrimPrefix(dsn, "file:")
	}
	return dsn
}

// sqliteConn implements adapter.Connection.
type sqliteConn struct {
	*adapter.SQLSession
	dbName string
}

func (c *sqliteConn) Dialect() adapter.Dialect {
	return adapter.DialectFor(profile.EngineSQLite)
}

// ListDatabases returns the single synthetic database for the open file.
func (c *sqliteConn) ListDatabases(ctx context.Context) ([]string, error) {
	return []string{c.dbName}, nil
}

// SelectDatabase accepts only the file's own name; the selection never
// changes.
func (c *sqliteConn) SelectDatabase(ctx context.Context, name string) error {
	if name != c.dbName {
		return &adapter.NotFoundError{Object: "database", Name: name}
	}
	return nil
}

func (c *sqliteConn) DeselectDatabase(ctx context.Context) error {
	return fmt.Errorf("sqlite: deselect database: %w", adapter.ErrUnsupported)
}

func (c *sqliteConn) SelectedDatabase() (string, bool) { return c.dbName, true }

func (c *sqliteConn) ListTables(ctx context.Context) ([]string, error) {
	return c.objects(ctx, "table")
}

func (c *sqliteConn) ListViews(ctx context.Context) ([]string, error) {
	return c.objects(ctx, "view")
}

func (c *sqliteConn) objects(ctx context.Context, kind string) ([]string, error) {
	names, err := c.Strings(ctx,
		"SELECT name FROM sqlite_master WHERE type = ? AND name NOT LIKE 'sqlite_%' ORDER BY name", kind)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list %ss: %w", kind, err)
	}
	return names, nil
}

// ListColumns returns column metadata for the given table using PRAGMA table_info.
func (c *sqliteConn) ListColumns(ctx context.Context, table string) ([]schema.Column, error) {
	var columns []schema.Column
	err := c.Rows(ctx, fmt.Sprintf("PRAGMA table_info(%s)", c.Dialect().QuoteIdent(table)), nil, func(rows *sql.Rows) error {
		var (
			cid       int
			col       schema.Column
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &dfltValue, &pk); err != nil {
			return err
		}
		col.Nullable = notNull == 0
		col.IsPK = pk > 0
		col.Default = dfltValue.String
		col.HasDefault = dfltValue.Valid
		columns = append(columns, col)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, &adapter.NotFoundError{Object: "table", Name: table}
	}
	return columns, nil
}

// ListIndexes returns index information for the given table.
func (c *sqliteConn) ListIndexes(ctx context.Context, table string) ([]schema.Index, error) {
	d := c.Dialect()
	var indexes []schema.Index
	err := c.Rows(ctx, fmt.Sprintf("PRAGMA index_list(%s)", d.QuoteIdent(table)), nil, func(rows *sql.Rows) error {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return err
		}
		indexes = append(indexes, schema.Index{Name: name, Unique: unique == 1, Primary: origin == "pk"})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: index_list: %w", err)
	}

	for i := range indexes {
		err := c.Rows(ctx, fmt.Sprintf("PRAGMA index_info(%s)", d.QuoteIdent(indexes[i].Name)), nil, func(rows *sql.Rows) error {
			var (
				seqno int
				cid   int
				name  sql.NullString
			)
			if err := rows.Scan(&seqno, &cid, &name); err != nil {
				return err
			}
			indexes[i].Columns = append(indexes[i].Columns, name.String)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("sqlite: index_info: %w", err)
		}
	}
	return indexes, nil
}

// ListForeignKeys returns foreign key constraints for the given table.
func (c *sqliteConn) ListForeignKeys(ctx context.Context, table string) ([]schema.ForeignKey, error) {
	// Group by id since a single FK can span multiple columns.
	fkMap := make(map[int]*schema.ForeignKey)
	var fkOrder []int

	err := c.Rows(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", c.Dialect().QuoteIdent(table)), nil, func(rows *sql.Rows) error {
		var (
			id       int
			seq      int
			refTable string
			from     string
			to       sql.NullString
			onUpdate string
			onDelete string
			match    string
		)
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return err
		}
		fk, ok := fkMap[id]
		if !ok {
			fk = &schema.ForeignKey{Name: fmt.Sprintf("fk_%s_%d", table, id), RefTable: refTable}
			fkMap[id] = fk
			fkOrder = append(fkOrder, id)
		}
		fk.Columns = append(fk.Columns, from)
		fk.RefColumns = append(fk.RefColumns, to.String)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: foreign_key_list: %w", err)
	}

	fks := make([]schema.ForeignKey, 0, len(fkOrder))
	for _, id := range fkOrder {
		fks = append(fks, *fkMap[id])
	}
	return fks, nil
}

func (c *sqliteConn) ViewDefinition(ctx context.Context, view string) (string, error) {
	defs, err := c.Strings(ctx, "SELECT sql FROM sqlite_master WHERE type = 'view' AND name = ?", view)
	if err != nil {
		return "", fmt.Errorf("sqlite: view definition: %w", err)
	}
	if len(defs) == 0 {
		return "", &adapter.NotFoundError{Object: "view", Name: view}
	}
	return defs[0], nil
}

// TableDDL returns the stored CREATE TABLE statement followed by the
// explicit CREATE INDEX statements. Automatic indexes have no SQL.
func (c *sqliteConn) TableDDL(ctx context.Context, table string) ([]string, error) {
	stmts, err := c.Strings(ctx, `
		SELECT sql FROM sqlite_master
		WHERE tbl_name = ? AND type IN ('table', 'index') AND sql IS NOT NULL
		ORDER BY CASE type WHEN 'table' THEN 0 ELSE 1 END, name`, table)
	if err != nil {
		return nil, fmt.Errorf("sqlite: table ddl: %w", err)
	}
	if len(stmts) == 0 || !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(stmts[0])), "CREATE TABLE") {
		return nil, &adapter.NotFoundError{Object: "table", Name: table}
	}
	return stmts, nil
}

// ListPrivileges grants every operation: SQLite has no access control.
func (c *sqliteConn) ListPrivileges(ctx context.Context) ([]schema.Grant, error) {
	grants := make([]schema.Grant, 0, len(schema.GrantableOperations))
	for _, op := range schema.GrantableOperations {
		grants = append(grants, schema.Grant{Scope: schema.ScopeServer, Operation: op})
	}
	return grants, nil
}

func (c *sqliteConn) ExecuteQuery(ctx context.Context, query string, args ...any) (*adapter.QueryResult, error) {
	return c.Query(ctx, query, args...)
}

func (c *sqliteConn) ExecuteStatement(ctx context.Context, stmt string, args ...any) (int64, error) {
	return c.Exec(ctx, stmt, args...)
}

func (c *sqliteConn) BeginBulkImport(ctx context.Context) (adapter.Tx, error) {
	return c.Begin(ctx)
}
