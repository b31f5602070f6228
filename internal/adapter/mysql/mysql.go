// Package mysql implements the MySQL/MariaDB engine on go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/sadopc/dbridge/internal/adapter"
	"github.com/sadopc/dbridge/internal/profile"
)

func init() {
	adapter.Register(&mysqlAdapter{})
}

// Server error numbers the classifier cares about.
const (
	errDBAccessDenied   = 1044
	errAccessDenied     = 1045
	errBadDB            = 1049
	errParse            = 1064
	errSyntax           = 1149
	errNoSuchTable      = 1146
	errQueryInterrupted = 1317
	errAccessDeniedNoPw = 1698
	errMaxExecutionTime = 3024
)

func isErrNumber(err error, numbers ...uint16) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	for _, n := range numbers {
		if me.Number == n {
			return true
		}
	}
	return false
}

var classifier = adapter.Classifier{
	Engine:    profile.EngineMySQL,
	Syntax:    func(err error) bool { return isErrNumber(err, errParse, errSyntax) },
	Auth:      func(err error) bool { return isErrNumber(err, errAccessDenied, errDBAccessDenied, errAccessDeniedNoPw) },
	Fatal:     func(err error) bool { return errors.Is(err, mysql.ErrInvalidConn) },
	Cancelled: func(err error) bool { return isErrNumber(err, errQueryInterrupted) },
	Timeout:   func(err error) bool { return isErrNumber(err, errMaxExecutionTime) },
}

// ---------------------------------------------------------------------------
// Adapter
// ---------------------------------------------------------------------------

type mysqlAdapter struct{}

func (a *mysqlAdapter) Engine() profile.Engine { return profile.EngineMySQL }
func (a *mysqlAdapter) DefaultPort() int       { return 3306 }

func (a *mysqlAdapter) Connect(ctx context.Context, p profile.Profile) (adapter.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	db, err := sql.Open("mysql", buildDSN(p))
	if err != nil {
		return nil, classifier.Connect(fmt.Errorf("mysql: open: %w", err))
	}
	// Connections handed back by Deselect must not be reused with their
	// old default database.
	db.SetMaxIdleConns(0)

	conn, err := newConn(ctx, db, p.Database)
	if err != nil {
		db.Close()
		return nil, err
	}
	return conn, nil
}

// buildDSN renders a go-sql-driver DSN. The database is selected after
// connecting so that an unknown name reports NotFound, not a connect error.
func buildDSN(p profile.Profile) string {
	cfg := mysql.NewConfig()
	cfg.User = p.User
	cfg.Passwd = p.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(p.Host, strconv.Itoa(p.EffectivePort()))
	cfg.ParseTime = true
	cfg.Timeout = p.Timeout()
	switch strings.ToLower(p.SSLMode) {
	case "require":
		cfg.TLSConfig = "skip-verify"
	case "verify-ca", "verify-full":
		cfg.TLSConfig = "true"
	case "prefer", "preferred":
		cfg.TLSConfig = "preferred"
	}
	return cfg.FormatDSN()
}

func newConn(ctx context.Context, db *sql.DB, database string) (*mysqlConn, error) {
	c := &mysqlConn{db: db}
	session, err := adapter.NewSQLSession(ctx, db, classifier, c.initSession)
	if err != nil {
		return nil, err
	}
	c.SQLSession = session
	if database != "" {
		if err := c.SelectDatabase(ctx, database); err != nil {
			session.Close()
			return nil, err
		}
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// Connection
// ---------------------------------------------------------------------------

type mysqlConn struct {
	*adapter.SQLSession
	db *sql.DB

	// connID identifies the pinned session for KILL QUERY.
	connID atomic.Int64

	mu       sync.Mutex
	selected string
}

// initSession runs on every pinned connection.
func (c *mysqlConn) initSession(ctx context.Context, conn *sql.Conn) error {
	var id int64
	if err := conn.QueryRowContext(ctx, "SELECT CONNECTION_ID()").Scan(&id); err != nil {
		return err
	}
	if db, ok := c.SelectedDatabase(); ok {
		if _, err := conn.ExecContext(ctx, "USE "+c.Dialect().QuoteIdent(db)); err != nil {
			return err
		}
	}
	c.connID.Store(id)
	return nil
}

func (c *mysqlConn) Dialect() adapter.Dialect {
	return adapter.DialectFor(profile.EngineMySQL)
}

func (c *mysqlConn) SelectedDatabase() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected, c.selected != ""
}

func (c *mysqlConn) setSelected(name string) {
	c.mu.Lock()
	c.selected = name
	c.mu.Unlock()
}

// requireDatabase returns the selected database or ErrNoDatabaseSelected.
func (c *mysqlConn) requireDatabase() (string, error) {
	db, ok := c.SelectedDatabase()
	if !ok {
		return "", adapter.ErrNoDatabaseSelected
	}
	return db, nil
}

func (c *mysqlConn) ListDatabases(ctx context.Context) ([]string, error) {
	names, err := c.Strings(ctx, "SELECT SCHEMA_NAME FROM information_schema.SCHEMATA ORDER BY SCHEMA_NAME")
	if err != nil {
		return nil, fmt.Errorf("mysql: databases: %w", err)
	}
	return names, nil
}

func (c *mysqlConn) SelectDatabase(ctx context.Context, name string) error {
	found, err := c.Strings(ctx, "SELECT SCHEMA_NAME FROM information_schema.SCHEMATA WHERE SCHEMA_NAME = ?", name)
	if err != nil {
		return fmt.Errorf("mysql: select database: %w", err)
	}
	if len(found) == 0 {
		return &adapter.NotFoundError{Object: "database", Name: name}
	}
	if _, err := c.Exec(ctx, "USE "+c.Dialect().QuoteIdent(name)); err != nil {
		if isErrNumber(err, errBadDB) {
			return &adapter.NotFoundError{Object: "database", Name: name}
		}
		return fmt.Errorf("mysql: use: %w", err)
	}
	c.setSelected(name)
	return nil
}

// DeselectDatabase re-pins a fresh session with no default database; MySQL
// has no statement that clears it.
func (c *mysqlConn) DeselectDatabase(ctx context.Context) error {
	prev, _ := c.SelectedDatabase()
	c.setSelected("")
	if err := c.Repin(ctx); err != nil {
		c.setSelected(prev)
		return fmt.Errorf("mysql: deselect database: %w", err)
	}
	return nil
}

func (c *mysqlConn) ExecuteQuery(ctx context.Context, query string, args ...any) (*adapter.QueryResult, error) {
	res, err := c.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if isUseStatement(query) {
		c.syncSelected(ctx)
	}
	return res, nil
}

func (c *mysqlConn) ExecuteStatement(ctx context.Context, stmt string, args ...any) (int64, error) {
	n, err := c.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	if isUseStatement(stmt) {
		c.syncSelected(ctx)
	}
	return n, nil
}

func isUseStatement(q string) bool {
	q = strings.ToUpper(strings.TrimSpace(q))
	return strings.HasPrefix(q, "USE ") || strings.HasPrefix(q, "USE`")
}

// syncSelected picks up a default database changed by a raw USE.
func (c *mysqlConn) syncSelected(ctx context.Context) {
	var current sql.NullString
	err := c.Rows(ctx, "SELECT DATABASE()", nil, func(rows *sql.Rows) error {
		return rows.Scan(&current)
	})
	if err == nil {
		c.setSelected(current.String)
	}
}

func (c *mysqlConn) BeginBulkImport(ctx context.Context) (adapter.Tx, error) {
	return c.Begin(ctx)
}

// Cancel kills the running statement from a second connection. The pinned
// session survives, unlike a context cancel which drops the connection.
func (c *mysqlConn) Cancel() error {
	if !c.Busy() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	killConn, err := c.db.Conn(ctx)
	if err != nil {
		return c.SQLSession.Cancel()
	}
	defer killConn.Close()

	if _, err := killConn.ExecContext(ctx, fmt.Sprintf("KILL QUERY %d", c.connID.Load())); err != nil {
		return c.SQLSession.Cancel()
	}
	return nil
}
