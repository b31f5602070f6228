// Package audit appends every statement run through a handle to a JSON
// Lines file.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/sadopc/dbridge/internal/handle"
)

// Entry is a single audit log record.
type Entry struct {
	Timestamp  time.Time `json:"timestamp"`
	Query      string    `json:"query"`
	Engine     string    `json:"engine"`
	Target     string    `json:"target"`
	Database   string    `json:"database,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	RowCount   int64     `json:"row_count"`
	IsError    bool      `json:"is_error"`
	Error      string    `json:"error,omitempty"`
}

// Logger writes JSON Lines audit entries to a file. It is a handle.Recorder.
type Logger struct {
	mu        sync.Mutex
	f         *os.File
	enc       *json.Encoder
	path      string
	maxSizeMB int
}

var _ handle.Recorder = (*Logger)(nil)

// New creates an audit Logger. It creates parent directories (0o700) and opens
// the file in append mode (0o600). If maxSizeMB > 0, the file is rotated when
// it exceeds that size.
func New(path string, maxSizeMB int) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}
	return &Logger{
		f:         f,
		enc:       json.NewEncoder(f),
		path:      path,
		maxSizeMB: maxSizeMB,
	}, nil
}

// Record converts an execution into an entry and logs it.
func (l *Logger) Record(e handle.Execution) {
	entry := Entry{
		Timestamp:  e.At,
		Query:      Redact(e.Query),
		Engine:     string(e.Engine),
		Target:     e.Target,
		Database:   e.Database,
		DurationMS: e.Duration.Milliseconds(),
		RowCount:   e.RowCount,
		IsError:    e.Err != nil,
	}
	if e.Err != nil {
		entry.Error = Redact(e.Err.Error())
	}
	l.Log(entry)
}

// Log writes an entry as a JSON line. It is safe for concurrent use.
// Calling Log on a nil Logger is a no-op.
func (l *Logger) Log(e Entry) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.enc.Encode(e)

	if l.maxSizeMB > 0 {
		l.rotateIfNeeded()
	}
}

// Close closes the underlying file. Calling Close on a nil Logger is a no-op.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

func (l *Logger) rotateIfNeeded() {
	info, err := l.f.Stat()
	if err != nil {
		return
	}
	if info.Size() < int64(l.maxSizeMB)*1024*1024 {
		return
	}
	_ = l.f.Close()
	_ = os.Rename(l.path, l.path+".1")

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return
	}
	l.f = f
	l.enc = json.NewEncoder(f)
}

// Redact strips credentials from text that may embed a connection string,
// such as a driver error message, or a password literal, such as a
// CREATE USER statement.
func Redact(s string) string {
	s = reURLCreds.ReplaceAllString(s, "${1}://***@")
	s = reMySQLCreds.ReplaceAllString(s, "***@tcp(")
	s = reSecretLiteral.ReplaceAllString(s, "${1} '***'")
	return rePassword.ReplaceAllString(s, "${1}=***")
}

var (
	reURLCreds      = regexp.MustCompile(`(?i)\b(postgres|postgresql|mysql)://[^@\s/]+@`)
	reMySQLCreds    = regexp.MustCompile(`[^@\s]+@tcp\(`)
	rePassword      = regexp.MustCompile(`(?i)\b(password)\s*=\s*[^\s'";]+`)
	reSecretLiteral = regexp.MustCompile(`(?i)\b(identified\s+by|password)\s+'[^']*'`)
)
