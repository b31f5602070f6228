package adapter

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/sadopc/dbridge/internal/profile"
)

var (
	ErrNotConnected       = errors.New("not connected to database")
	ErrNoDatabaseSelected = errors.New("no database selected")
	ErrUnsupported        = errors.New("operation not supported by this engine")
	ErrCancelled          = errors.New("query cancelled")
	ErrJobRunning         = errors.New("an import or export job is already running")
	ErrJobNotFound        = errors.New("job not found")
)

// ConnectionErrorKind classifies a failure to reach or keep a session.
type ConnectionErrorKind int

const (
	ConnNetwork ConnectionErrorKind = iota
	ConnAuth
	ConnUnreachable
)

func (k ConnectionErrorKind) String() string {
	switch k {
	case ConnAuth:
		return "authentication"
	case ConnUnreachable:
		return "unreachable"
	default:
		return "network"
	}
}

// ConnectionError is fatal to the session that produced it.
type ConnectionError struct {
	Kind   ConnectionErrorKind
	Engine profile.Engine
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connection %s: %v", e.Engine, e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryErrorKind classifies a failed statement.
type QueryErrorKind int

const (
	QueryRuntime QueryErrorKind = iota
	QuerySyntax
	QueryTimeout
)

func (k QueryErrorKind) String() string {
	switch k {
	case QuerySyntax:
		return "syntax"
	case QueryTimeout:
		return "timeout"
	default:
		return "runtime"
	}
}

// QueryError leaves the session usable.
type QueryError struct {
	Kind  QueryErrorKind
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// NotFoundError reports a named object that does not exist.
type NotFoundError struct {
	Object string // "database", "table", "view", "profile", ...
	Name   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Object, e.Name)
}

// ImportError reports where an import stopped. SQL imports fill Statement,
// Line and Offset; tabular imports fill Committed, FirstRow and LastRow.
type ImportError struct {
	Statement int   // 1-based statement number
	Line      int   // 1-based line of the statement start
	Offset    int64 // byte offset of the statement start

	Committed int64 // rows committed before the failure
	FirstRow  int64 // 1-based data rows of the failed batch
	LastRow   int64

	Err error
}

func (e *ImportError) Error() string {
	if e.Statement > 0 {
		return fmt.Sprintf("import failed at statement %d (line %d, offset %d): %v",
			e.Statement, e.Line, e.Offset, e.Err)
	}
	if e.LastRow > 0 {
		return fmt.Sprintf("import failed in rows %d-%d (%d rows committed): %v",
			e.FirstRow, e.LastRow, e.Committed, e.Err)
	}
	return fmt.Sprintf("import failed: %v", e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

// ExportError reports a failed export. Output written so far is left in
// place.
type ExportError struct {
	Table string
	Err   error
}

func (e *ExportError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("export of %s failed: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("export failed: %v", e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// IsFatal reports whether err invalidated the session.
func IsFatal(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// Classifier maps driver errors of one engine onto the typed taxonomy.
type Classifier struct {
	Engine profile.Engine
	// Syntax reports parser rejections.
	Syntax func(error) bool
	// Auth reports rejected credentials.
	Auth func(error) bool
	// Unreachable reports engine-specific "cannot reach the server or
	// file" failures in addition to dial errors.
	Unreachable func(error) bool
	// Fatal reports engine-specific session loss in addition to the
	// generic I/O faults.
	Fatal func(error) bool
	// Cancelled reports a statement aborted on request.
	Cancelled func(error) bool
	// Timeout reports a statement stopped by a server-side time limit.
	Timeout func(error) bool
}

// Connect classifies an error returned while opening a session.
func (c Classifier) Connect(err error) error {
	if err == nil {
		return nil
	}
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return err
	}
	kind := ConnNetwork
	switch {
	case c.Auth != nil && c.Auth(err):
		kind = ConnAuth
	case isUnreachable(err), c.Unreachable != nil && c.Unreachable(err):
		kind = ConnUnreachable
	}
	return &ConnectionError{Kind: kind, Engine: c.Engine, Err: err}
}

// Query classifies an error returned while executing query under ctx.
func (c Classifier) Query(ctx context.Context, query string, err error) error {
	if err == nil {
		return nil
	}
	var (
		qe *QueryError
		ce *ConnectionError
	)
	if errors.As(err, &qe) || errors.As(err, &ce) || errors.Is(err, ErrCancelled) {
		return err
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), c.Timeout != nil && c.Timeout(err):
		return &QueryError{Kind: QueryTimeout, Query: query, Err: err}
	case errors.Is(ctx.Err(), context.Canceled), c.Cancelled != nil && c.Cancelled(err):
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	case c.isFatal(err):
		return &ConnectionError{Kind: ConnNetwork, Engine: c.Engine, Err: err}
	case c.Syntax != nil && c.Syntax(err):
		return &QueryError{Kind: QuerySyntax, Query: query, Err: err}
	}
	return &QueryError{Kind: QueryRuntime, Query: query, Err: err}
}

func (c Classifier) isFatal(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && !ne.Timeout() {
		return true
	}
	return c.Fatal != nil && c.Fatal(err)
}

func isUnreachable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "connection refused")
}
