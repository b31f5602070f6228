// Package handle owns one live engine session per tab. Every operation on a
// Handle is queued behind a single-slot semaphore so that the session never
// sees interleaved statements; Cancel is the one call that bypasses the
// queue.
package handle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sadopc/dbridge/internal/adapter"
	"github.com/sadopc/dbridge/internal/profile"
	"github.com/sadopc/dbridge/internal/schema"
)

// Execution describes one statement run through a handle.
type Execution struct {
	At       time.Time
	Engine   profile.Engine
	Target   string // profile display string, never credentials
	Database string
	Query    string
	Duration time.Duration
	RowCount int64
	Err      error
}

// Recorder observes executed statements (query history, audit log).
type Recorder interface {
	Record(Execution)
}

// Options configures a Handle.
type Options struct {
	Logger *slog.Logger
	// QueryTimeout bounds Run and Exec; zero means no limit.
	QueryTimeout time.Duration
	Recorders    []Recorder
}

// Handle is the single point of truth for what a tab is connected to.
type Handle struct {
	profile      profile.Profile
	logger       *slog.Logger
	queryTimeout time.Duration
	recorders    []Recorder
	queue        *semaphore.Weighted

	mu   sync.Mutex
	conn adapter.Connection // nil once disconnected
}

// Open connects with the profile's engine adapter.
func Open(ctx context.Context, p profile.Profile, opts Options) (*Handle, error) {
	conn, err := adapter.Connect(ctx, p)
	if err != nil {
		return nil, err
	}
	h := New(conn, p, opts)
	h.logger.Info("connected", "engine", p.Engine, "target", p.DisplayString())
	return h, nil
}

// New wraps an established connection.
func New(conn adapter.Connection, p profile.Profile, opts Options) *Handle {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handle{
		profile:      p,
		logger:       logger.With("engine", string(p.Engine), "profile", p.Label()),
		queryTimeout: opts.QueryTimeout,
		recorders:    opts.Recorders,
		queue:        semaphore.NewWeighted(1),
		conn:         conn,
	}
}

// Profile returns the profile the handle was built from.
func (h *Handle) Profile() profile.Profile { return h.profile }

// Engine returns the engine kind.
func (h *Handle) Engine() profile.Engine { return h.profile.Engine }

// Dialect returns the engine dialect.
func (h *Handle) Dialect() adapter.Dialect { return adapter.DialectFor(h.profile.Engine) }

// Connected reports whether the session is still live.
func (h *Handle) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

// SelectedDatabase returns the database structural calls are scoped to.
func (h *Handle) SelectedDatabase() (string, bool) {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return "", false
	}
	return conn.SelectedDatabase()
}

func (h *Handle) live() (adapter.Connection, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return nil, adapter.ErrNotConnected
	}
	return h.conn, nil
}

// Session runs fn with exclusive use of the connection. Calls made through
// the handle from inside fn would deadlock; use conn directly.
func (h *Handle) Session(ctx context.Context, fn func(ctx context.Context, conn adapter.Connection) error) error {
	if err := h.queue.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %v", adapter.ErrCancelled, err)
	}
	defer h.queue.Release(1)

	conn, err := h.live()
	if err != nil {
		return err
	}
	err = fn(ctx, conn)
	if adapter.IsFatal(err) {
		h.invalidate(conn, err)
	}
	return err
}

// invalidate drops a session that suffered an I/O fault.
func (h *Handle) invalidate(conn adapter.Connection, cause error) {
	h.mu.Lock()
	if h.conn != conn {
		h.mu.Unlock()
		return
	}
	h.conn = nil
	h.mu.Unlock()

	h.logger.Error("session lost", "error", cause)
	_ = conn.Close()
}

func (h *Handle) ListDatabases(ctx context.Context) ([]string, error) {
	var out []string
	err := h.Session(ctx, func(ctx context.Context, conn adapter.Connection) (err error) {
		out, err = conn.ListDatabases(ctx)
		return err
	})
	return out, err
}

// SelectDatabase scopes the session to name. The caller refreshes metadata.
func (h *Handle) SelectDatabase(ctx context.Context, name string) error {
	err := h.Session(ctx, func(ctx context.Context, conn adapter.Connection) error {
		return conn.SelectDatabase(ctx, name)
	})
	if err == nil {
		h.logger.Info("database selected", "database", name)
	}
	return err
}

// DeselectDatabase clears the selection; the embedded engine reports
// adapter.ErrUnsupported.
func (h *Handle) DeselectDatabase(ctx context.Context) error {
	err := h.Session(ctx, func(ctx context.Context, conn adapter.Connection) error {
		return conn.DeselectDatabase(ctx)
	})
	if err == nil {
		h.logger.Info("database deselected")
	}
	return err
}

func (h *Handle) ListTables(ctx context.Context) ([]string, error) {
	var out []string
	err := h.Session(ctx, func(ctx context.Context, conn adapter.Connection) (err error) {
		out, err = conn.ListTables(ctx)
		return err
	})
	return out, err
}

func (h *Handle) ListViews(ctx context.Context) ([]string, error) {
	var out []string
	err := h.Session(ctx, func(ctx context.Context, conn adapter.Connection) (err error) {
		out, err = conn.ListViews(ctx)
		return err
	})
	return out, err
}

func (h *Handle) ListColumns(ctx context.Context, table string) ([]schema.Column, error) {
	var out []schema.Column
	err := h.Session(ctx, func(ctx context.Context, conn adapter.Connection) (err error) {
		out, err = conn.ListColumns(ctx, table)
		return err
	})
	return out, err
}

func (h *Handle) ListIndexes(ctx context.Context, table string) ([]schema.Index, error) {
	var out []schema.Index
	err := h.Session(ctx, func(ctx context.Context, conn adapter.Connection) (err error) {
		out, err = conn.ListIndexes(ctx, table)
		return err
	})
	return out, err
}

func (h *Handle) ListForeignKeys(ctx context.Context, table string) ([]schema.ForeignKey, error) {
	var out []schema.ForeignKey
	err := h.Session(ctx, func(ctx context.Context, conn adapter.Connection) (err error) {
		out, err = conn.ListForeignKeys(ctx, table)
		return err
	})
	return out, err
}

func (h *Handle) ViewDefinition(ctx context.Context, view string) (string, error) {
	var out string
	err := h.Session(ctx, func(ctx context.Context, conn adapter.Connection) (err error) {
		out, err = conn.ViewDefinition(ctx, view)
		return err
	})
	return out, err
}

func (h *Handle) TableDDL(ctx context.Context, table string) ([]string, error) {
	var out []string
	err := h.Session(ctx, func(ctx context.Context, conn adapter.Connection) (err error) {
		out, err = conn.TableDDL(ctx, table)
		return err
	})
	return out, err
}

func (h *Handle) ListPrivileges(ctx context.Context) ([]schema.Grant, error) {
	var out []schema.Grant
	err := h.Session(ctx, func(ctx context.Context, conn adapter.Connection) (err error) {
		out, err = conn.ListPrivileges(ctx)
		return err
	})
	return out, err
}

// Run executes query and returns its result. It never retries.
func (h *Handle) Run(ctx context.Context, query string, args ...any) (*adapter.QueryResult, error) {
	var res *adapter.QueryResult
	err := h.Session(ctx, func(ctx context.Context, conn adapter.Connection) error {
		ctx, cancel := h.withQueryTimeout(ctx)
		defer cancel()

		start := time.Now()
		var err error
		res, err = conn.ExecuteQuery(ctx, query, args...)
		var rows int64
		if res != nil {
			rows = res.RowCount
		}
		h.record(conn, query, time.Since(start), rows, err)
		return err
	})
	return res, err
}

// Exec executes a statement that returns no rows.
func (h *Handle) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	var affected int64
	err := h.Session(ctx, func(ctx context.Context, conn adapter.Connection) error {
		ctx, cancel := h.withQueryTimeout(ctx)
		defer cancel()

		start := time.Now()
		var err error
		affected, err = conn.ExecuteStatement(ctx, stmt, args...)
		h.record(conn, stmt, time.Since(start), affected, err)
		return err
	})
	return affected, err
}

// WithTx runs fn inside one transaction, holding the queue for its whole
// duration. fn's error rolls the transaction back; nil commits.
func (h *Handle) WithTx(ctx context.Context, fn func(ctx context.Context, tx adapter.Tx) error) error {
	return h.Session(ctx, func(ctx context.Context, conn adapter.Connection) error {
		tx, err := conn.BeginBulkImport(ctx)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx); err != nil {
			if rerr := tx.Rollback(context.WithoutCancel(ctx)); rerr != nil {
				h.logger.Warn("rollback failed", "error", rerr)
				if adapter.IsFatal(rerr) {
					return rerr
				}
			}
			return err
		}
		return tx.Commit(ctx)
	})
}

// Cancel aborts the in-flight statement without waiting for the queue.
// Engines without statement cancellation only stop result consumption.
func (h *Handle) Cancel() error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return nil
	}
	h.logger.Debug("cancel requested")
	return conn.Cancel()
}

// Disconnect releases the session. Calling it again is a no-op.
func (h *Handle) Disconnect() error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return nil
	}

	// Stop whatever is running, then wait briefly for the queue to drain.
	_ = conn.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.queue.Acquire(ctx, 1); err == nil {
		defer h.queue.Release(1)
	}

	h.mu.Lock()
	if h.conn != conn {
		h.mu.Unlock()
		return nil
	}
	h.conn = nil
	h.mu.Unlock()

	h.logger.Info("disconnected")
	if err := conn.Close(); err != nil && !errors.Is(err, adapter.ErrNotConnected) {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

func (h *Handle) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.queryTimeout > 0 {
		return context.WithTimeout(ctx, h.queryTimeout)
	}
	return context.WithCancel(ctx)
}

func (h *Handle) record(conn adapter.Connection, query string, d time.Duration, rows int64, err error) {
	db, _ := conn.SelectedDatabase()
	if err != nil {
		h.logger.Debug("statement failed", "database", db, "duration", d, "error", err)
	} else {
		h.logger.Debug("statement executed", "database", db, "duration", d, "rows", rows)
	}
	if len(h.recorders) == 0 {
		return
	}
	e := Execution{
		At:       time.Now(),
		Engine:   h.profile.Engine,
		Target:   h.profile.DisplayString(),
		Database: db,
		Query:    query,
		Duration: d,
		RowCount: rows,
		Err:      err,
	}
	for _, r := range h.recorders {
		r.Record(e)
	}
}
