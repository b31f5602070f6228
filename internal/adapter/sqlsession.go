package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SQLSession is the database/sql plumbing shared by engines reached through
// a database/sql driver. It pins a single *sql.Conn so that session state
// (USE, PRAGMA) survives between statements.
type SQLSession struct {
	db         *sql.DB
	conn       *sql.Conn
	classifier Classifier
	init       func(ctx context.Context, conn *sql.Conn) error

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewSQLSession pins a connection from db and runs init on it. init runs
// again whenever the session has to re-pin after an interrupted statement.
func NewSQLSession(ctx context.Context, db *sql.DB, cl Classifier, init func(context.Context, *sql.Conn) error) (*SQLSession, error) {
	s := &SQLSession{db: db, classifier: cl, init: init}
	if err := s.pin(ctx); err != nil {
		return nil, cl.Connect(err)
	}
	return s, nil
}

func (s *SQLSession) pin(ctx context.Context) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	if s.init != nil {
		if err := s.init(ctx, conn); err != nil {
			conn.Close()
			return err
		}
	}
	s.conn = conn
	return nil
}

// Conn returns the pinned connection.
func (s *SQLSession) Conn() *sql.Conn { return s.conn }

// Repin replaces the pinned connection, re-running init.
func (s *SQLSession) Repin(ctx context.Context) error {
	old := s.conn
	if err := s.pin(ctx); err != nil {
		return s.classifier.Connect(err)
	}
	if old != nil {
		old.Close()
	}
	return nil
}

// track registers a cancellable context for the statement about to run.
func (s *SQLSession) track(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	return ctx, func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}
}

// Busy reports whether a statement is in flight.
func (s *SQLSession) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Cancel aborts the in-flight statement, if any.
func (s *SQLSession) Cancel() error {
	s.mu.Lock()
	fn := s.cancel
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

// classify maps err and re-pins when an interruption broke the connection.
func (s *SQLSession) classify(ctx context.Context, query string, err error) error {
	err = s.classifier.Query(ctx, query, err)
	var qe *QueryError
	interrupted := errors.Is(err, ErrCancelled) || (errors.As(err, &qe) && qe.Kind == QueryTimeout)
	if interrupted {
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if s.conn.PingContext(pingCtx) != nil {
			if rerr := s.Repin(pingCtx); rerr != nil {
				return rerr
			}
		}
	}
	return err
}

// Query runs query and shapes the outcome as a QueryResult.
func (s *SQLSession) Query(ctx context.Context, query string, args ...any) (*QueryResult, error) {
	start := time.Now()
	if !IsSelectQuery(query) {
		affected, err := s.Exec(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		return &QueryResult{
			RowCount: affected,
			Duration: time.Since(start),
			Message:  fmt.Sprintf("%d row(s) affected", affected),
		}, nil
	}

	tctx, done := s.track(ctx)
	defer done()

	rows, err := s.conn.QueryContext(tctx, query, args...)
	if err != nil {
		return nil, s.classify(tctx, query, err)
	}
	defer rows.Close()

	cols, out, err := ScanRows(rows)
	if err != nil {
		return nil, s.classify(tctx, query, err)
	}
	return &QueryResult{
		Columns:  cols,
		Rows:     out,
		RowCount: int64(len(out)),
		Duration: time.Since(start),
		IsSelect: true,
	}, nil
}

// Exec runs a statement that returns no rows.
func (s *SQLSession) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	tctx, done := s.track(ctx)
	defer done()

	res, err := s.conn.ExecContext(tctx, stmt, args...)
	if err != nil {
		return 0, s.classify(tctx, stmt, err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// Strings runs a single-column query and collects the values.
func (s *SQLSession) Strings(ctx context.Context, query string, args ...any) ([]string, error) {
	var out []string
	err := s.Rows(ctx, query, args, func(rows *sql.Rows) error {
		var v string
		if err := rows.Scan(&v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// Rows runs query and calls scan once per row.
func (s *SQLSession) Rows(ctx context.Context, query string, args []any, scan func(*sql.Rows) error) error {
	tctx, done := s.track(ctx)
	defer done()

	rows, err := s.conn.QueryContext(tctx, query, args...)
	if err != nil {
		return s.classify(tctx, query, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return s.classify(tctx, query, err)
	}
	return nil
}

// Begin opens a transaction on the pinned connection.
func (s *SQLSession) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.classify(ctx, "BEGIN", err)
	}
	return &sqlTx{tx: tx, session: s}, nil
}

// Ping checks the pinned connection.
func (s *SQLSession) Ping(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return &ConnectionError{Kind: ConnNetwork, Engine: s.classifier.Engine, Err: err}
	}
	return nil
}

// Close releases the pinned connection and the pool.
func (s *SQLSession) Close() error {
	var errs []error
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

type sqlTx struct {
	tx      *sql.Tx
	session *SQLSession
}

func (t *sqlTx) ExecuteStatement(ctx context.Context, stmt string, args ...any) (int64, error) {
	tctx, done := t.session.track(ctx)
	defer done()

	res, err := t.tx.ExecContext(tctx, stmt, args...)
	if err != nil {
		return 0, t.session.classifier.Query(tctx, stmt, err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func (t *sqlTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return t.session.classifier.Query(ctx, "COMMIT", err)
	}
	return nil
}

func (t *sqlTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if err == nil || errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return t.session.classifier.Query(ctx, "ROLLBACK", err)
}
