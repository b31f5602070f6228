// Package postgres implements the PostgreSQL engine on a single native pgx
// connection. PostgreSQL binds a session to one database, so selecting a
// database reconnects.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sadopc/dbridge/internal/adapter"
	"github.com/sadopc/dbridge/internal/profile"
)

func init() {
	adapter.Register(&postgresAdapter{})
}

// maintenanceDB is where a session parks when no database is selected.
const maintenanceDB = "postgres"

// SQLSTATE codes the classifier cares about.
const (
	codeSyntaxError        = "42601"
	codeInvalidPassword    = "28P01"
	codeInvalidAuthSpec    = "28000"
	codeInvalidCatalogName = "3D000"
	codeQueryCanceled      = "57014"
	codeAdminShutdown      = "57P01"
	codeCannotConnectNow   = "57P03"
)

func pgCode(err error) string {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

var classifier = adapter.Classifier{
	Engine: profile.EnginePostgres,
	Syntax: func(err error) bool { return pgCode(err) == codeSyntaxError },
	Auth: func(err error) bool {
		code := pgCode(err)
		return code == codeInvalidPassword || code == codeInvalidAuthSpec
	},
	Unreachable: func(err error) bool {
		var ce *pgconn.ConnectError
		return (errors.As(err, &ce) && pgCode(err) == "") || pgCode(err) == codeCannotConnectNow
	},
	Fatal: func(err error) bool {
		return pgCode(err) == codeAdminShutdown || strings.Contains(err.Error(), "conn closed")
	},
	Timeout: func(err error) bool {
		var pe *pgconn.PgError
		return errors.As(err, &pe) && pe.Code == codeQueryCanceled && strings.Contains(pe.Message, "statement timeout")
	},
	Cancelled: func(err error) bool { return pgCode(err) == codeQueryCanceled },
}

// postgresAdapter implements adapter.Adapter for PostgreSQL.
type postgresAdapter struct{}

func (a *postgresAdapter) Engine() profile.Engine { return profile.EnginePostgres }
func (a *postgresAdapter) DefaultPort() int       { return 5432 }

func (a *postgresAdapter) Connect(ctx context.Context, p profile.Profile) (adapter.Connection, error) {
	c := &pgConn{profile: p}
	target := p.Database
	if target == "" {
		target = maintenanceDB
	}
	conn, err := c.dial(ctx, target)
	var nf *adapter.NotFoundError
	if p.Database == "" && errors.As(err, &nf) {
		// Some hosted servers drop the default maintenance database.
		target = "template1"
		conn, err = c.dial(ctx, target)
	}
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.current = target
	c.selected = p.Database
	return c, nil
}

// buildConnString renders a keyword/value connection string for database.
func buildConnString(p profile.Profile, database string) string {
	parts := []string{
		"host=" + quoteConnValue(p.Host),
		"port=" + strconv.Itoa(p.EffectivePort()),
		"dbname=" + quoteConnValue(database),
		"connect_timeout=" + strconv.Itoa(int(p.Timeout().Round(time.Second)/time.Second)),
	}
	if p.User != "" {
		parts = append(parts, "user="+quoteConnValue(p.User))
	}
	if p.Password != "" {
		parts = append(parts, "password="+quoteConnValue(p.Password))
	}
	if p.SSLMode != "" {
		parts = append(parts, "sslmode="+quoteConnValue(p.SSLMode))
	}
	return strings.Join(parts, " ")
}

func quoteConnValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// pgConn implements adapter.Connection for PostgreSQL.
type pgConn struct {
	profile profile.Profile
	conn    *pgx.Conn

	mu       sync.Mutex
	current  string // database the session is bound to
	selected string // empty when nothing is selected

	cancelMu sync.Mutex
	cancelFn context.CancelFunc
}

func (c *pgConn) dial(ctx context.Context, database string) (*pgx.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.profile.Timeout())
	defer cancel()

	cfg, err := pgx.ParseConfig(buildConnString(c.profile, database))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		if pgCode(err) == codeInvalidCatalogName {
			return nil, &adapter.NotFoundError{Object: "database", Name: database}
		}
		return nil, classifier.Connect(fmt.Errorf("postgres: connect: %w", err))
	}
	return conn, nil
}

// rebind swaps the session to database.
func (c *pgConn) rebind(ctx context.Context, database string) error {
	conn, err := c.dial(ctx, database)
	if err != nil {
		return err
	}
	old := c.conn
	c.conn = conn
	c.mu.Lock()
	c.current = database
	c.mu.Unlock()
	if old != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		old.Close(closeCtx)
	}
	return nil
}

func (c *pgConn) Dialect() adapter.Dialect {
	return adapter.DialectFor(profile.EnginePostgres)
}

func (c *pgConn) Ping(ctx context.Context) error {
	if err := c.conn.Ping(ctx); err != nil {
		return &adapter.ConnectionError{Kind: adapter.ConnNetwork, Engine: profile.EnginePostgres, Err: err}
	}
	return nil
}

func (c *pgConn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.conn.Close(ctx)
}

// Cancel cancels the currently running query, if any.
func (c *pgConn) Cancel() error {
	c.cancelMu.Lock()
	fn := c.cancelFn
	c.cancelMu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

// track registers the cancel func of the statement about to run.
func (c *pgConn) track(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelMu.Lock()
	c.cancelFn = cancel
	c.cancelMu.Unlock()
	return ctx, func() {
		c.cancelMu.Lock()
		c.cancelFn = nil
		c.cancelMu.Unlock()
		cancel()
	}
}

// classify maps err and rebinds when the interrupt closed the connection.
func (c *pgConn) classify(ctx context.Context, query string, err error) error {
	err = classifier.Query(ctx, query, err)
	if !c.conn.IsClosed() {
		return err
	}
	var qe *adapter.QueryError
	if errors.Is(err, adapter.ErrCancelled) || (errors.As(err, &qe) && qe.Kind == adapter.QueryTimeout) {
		c.mu.Lock()
		current := c.current
		c.mu.Unlock()
		if rerr := c.rebind(context.Background(), current); rerr != nil {
			return rerr
		}
		return err
	}
	if !adapter.IsFatal(err) {
		return &adapter.ConnectionError{Kind: adapter.ConnNetwork, Engine: profile.EnginePostgres, Err: err}
	}
	return err
}

// ---------------------------------------------------------------------------
// Database selection
// ---------------------------------------------------------------------------

func (c *pgConn) SelectedDatabase() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected, c.selected != ""
}

func (c *pgConn) requireDatabase() (string, error) {
	db, ok := c.SelectedDatabase()
	if !ok {
		return "", adapter.ErrNoDatabaseSelected
	}
	return db, nil
}

func (c *pgConn) ListDatabases(ctx context.Context) ([]string, error) {
	names, err := c.strings(ctx,
		`SELECT datname FROM pg_database
		 WHERE datistemplate = false AND datallowconn
		 ORDER BY datname`)
	if err != nil {
		return nil, fmt.Errorf("postgres: databases: %w", err)
	}
	return names, nil
}

func (c *pgConn) SelectDatabase(ctx context.Context, name string) error {
	found, err := c.strings(ctx,
		"SELECT datname FROM pg_database WHERE datistemplate = false AND datname = $1", name)
	if err != nil {
		return fmt.Errorf("postgres: select database: %w", err)
	}
	if len(found) == 0 {
		return &adapter.NotFoundError{Object: "database", Name: name}
	}
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()
	if current != name {
		if err := c.rebind(ctx, name); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.selected = name
	c.mu.Unlock()
	return nil
}

// DeselectDatabase parks the session on the maintenance database. When that
// database is unreachable the session stays where it is; only the selection
// is cleared.
func (c *pgConn) DeselectDatabase(ctx context.Context) error {
	c.mu.Lock()
	current := c.current
	c.selected = ""
	c.mu.Unlock()
	if current != maintenanceDB {
		_ = c.rebind(ctx, maintenanceDB)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

func (c *pgConn) ExecuteQuery(ctx context.Context, query string, args ...any) (*adapter.QueryResult, error) {
	ctx, done := c.track(ctx)
	defer done()

	start := time.Now()
	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, c.classify(ctx, query, err)
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	cols := c.fieldDescToMeta(fds)

	var out []adapter.Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, c.classify(ctx, query, err)
		}
		row := make(adapter.Row, len(vals))
		for i, v := range vals {
			row[i] = normalizeValue(v, cols[i].Type)
		}
		out = append(out, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, c.classify(ctx, query, err)
	}

	if len(fds) == 0 {
		affected := rows.CommandTag().RowsAffected()
		return &adapter.QueryResult{
			RowCount: affected,
			Duration: time.Since(start),
			Message:  fmt.Sprintf("%s (%d row(s) affected)", rows.CommandTag().String(), affected),
		}, nil
	}
	return &adapter.QueryResult{
		Columns:  cols,
		Rows:     out,
		RowCount: int64(len(out)),
		Duration: time.Since(start),
		IsSelect: true,
	}, nil
}

func (c *pgConn) ExecuteStatement(ctx context.Context, stmt string, args ...any) (int64, error) {
	ctx, done := c.track(ctx)
	defer done()

	tag, err := c.conn.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, c.classify(ctx, stmt, err)
	}
	return tag.RowsAffected(), nil
}

func (c *pgConn) BeginBulkImport(ctx context.Context) (adapter.Tx, error) {
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return nil, c.classify(ctx, "BEGIN", err)
	}
	return &pgTx{tx: tx, c: c}, nil
}

type pgTx struct {
	tx pgx.Tx
	c  *pgConn
}

func (t *pgTx) ExecuteStatement(ctx context.Context, stmt string, args ...any) (int64, error) {
	tctx, done := t.c.track(ctx)
	defer done()

	tag, err := t.tx.Exec(tctx, stmt, args...)
	if err != nil {
		return 0, classifier.Query(tctx, stmt, err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return classifier.Query(ctx, "COMMIT", err)
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err == nil || errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return classifier.Query(ctx, "ROLLBACK", err)
}

// strings runs a single-column query and collects the values.
func (c *pgConn) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	ctx, done := c.track(ctx)
	defer done()

	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, c.classify(ctx, query, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, c.classify(ctx, query, err)
	}
	return out, nil
}

// each runs query and calls scan once per row.
func (c *pgConn) each(ctx context.Context, query string, args []any, scan func(pgx.Rows) error) error {
	ctx, done := c.track(ctx)
	defer done()

	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return c.classify(ctx, query, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return c.classify(ctx, query, err)
	}
	return nil
}
