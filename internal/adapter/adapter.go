// Package adapter defines the uniform contract each database engine
// implements, along with the shared result, error and dialect types.
package adapter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sadopc/dbridge/internal/profile"
	"github.com/sadopc/dbridge/internal/schema"
)

// Adapter creates sessions for one engine.
type Adapter interface {
	Engine() profile.Engine
	DefaultPort() int
	// Connect opens a session bounded by the profile's connect timeout.
	// It never retries.
	Connect(ctx context.Context, p profile.Profile) (Connection, error)
}

// Connection is one live session. Implementations are not safe for
// concurrent use; callers serialize access.
type Connection interface {
	// Databases
	ListDatabases(ctx context.Context) ([]string, error)
	SelectDatabase(ctx context.Context, name string) error
	DeselectDatabase(ctx context.Context) error
	SelectedDatabase() (string, bool)

	// Introspection, scoped to the selected database.
	ListTables(ctx context.Context) ([]string, error)
	ListViews(ctx context.Context) ([]string, error)
	ListColumns(ctx context.Context, table string) ([]schema.Column, error)
	ListIndexes(ctx context.Context, table string) ([]schema.Index, error)
	ListForeignKeys(ctx context.Context, table string) ([]schema.ForeignKey, error)
	ViewDefinition(ctx context.Context, view string) (string, error)
	TableDDL(ctx context.Context, table string) ([]string, error)
	ListPrivileges(ctx context.Context) ([]schema.Grant, error)

	// Execution
	ExecuteQuery(ctx context.Context, query string, args ...any) (*QueryResult, error)
	ExecuteStatement(ctx context.Context, stmt string, args ...any) (int64, error)
	BeginBulkImport(ctx context.Context) (Tx, error)
	Cancel() error

	Dialect() Dialect
	Ping(ctx context.Context) error
	Close() error
}

// Tx is a transaction used by imports. Statements run on the session that
// opened it.
type Tx interface {
	ExecuteStatement(ctx context.Context, stmt string, args ...any) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// QueryResult holds the result of a query execution.
type QueryResult struct {
	Columns  []ColumnMeta
	Rows     []Row
	RowCount int64 // rows returned, or rows affected for non-selects
	Duration time.Duration
	IsSelect bool
	Message  string
}

// ColumnMeta holds metadata about a result column.
type ColumnMeta struct {
	Name     string
	Type     string
	Nullable bool
}

// Row is one result row. Values are nil, string, int64, float64, bool or
// []byte.
type Row []any

// Map returns the row keyed by column name. Later duplicates win.
func (r Row) Map(cols []ColumnMeta) map[string]any {
	m := make(map[string]any, len(cols))
	for i, c := range cols {
		if i < len(r) {
			m[c.Name] = r[i]
		}
	}
	return m
}

// Strings renders every value for display. NULL renders as "NULL".
func (r Row) Strings() []string {
	out := make([]string, len(r))
	for i, v := range r {
		out[i] = DisplayValue(v)
	}
	return out
}

// ValueKind classifies a normalized scalar.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindText
	KindInteger
	KindReal
	KindBoolean
	KindBinary
)

func (k ValueKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindBoolean:
		return "boolean"
	case KindBinary:
		return "binary"
	default:
		return "null"
	}
}

// KindOf classifies v. Values outside the normalized set report KindText.
func KindOf(v any) ValueKind {
	switch v.(type) {
	case nil:
		return KindNull
	case int64:
		return KindInteger
	case float64:
		return KindReal
	case bool:
		return KindBoolean
	case []byte:
		return KindBinary
	default:
		return KindText
	}
}

// DisplayValue renders v for tables and logs.
func DisplayValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return val
	case []byte:
		return fmt.Sprintf("\\x%x", val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(val)
	}
}

// IsSelectQuery reports whether query is a row-returning statement.
func IsSelectQuery(query string) bool {
	q := strings.TrimSpace(query)
	// Strip leading comments (-- and /* */)
	for {
		if strings.HasPrefix(q, "--") {
			if idx := strings.Index(q, "\n"); idx >= 0 {
				q = strings.TrimSpace(q[idx+1:])
				continue
			}
			return false
		}
		if strings.HasPrefix(q, "/*") {
			if idx := strings.Index(q, "*/"); idx >= 0 {
				q = strings.TrimSpace(q[idx+2:])
				continue
			}
			return false
		}
		break
	}
	upper := strings.ToUpper(q)
	for _, kw := range []string{"SELECT", "WITH", "VALUES", "TABLE", "SHOW", "EXPLAIN", "PRAGMA", "DESCRIBE", "DESC "} {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return false
}

// Registry holds registered adapters by engine.
var Registry = map[profile.Engine]Adapter{}

// Register adds an adapter to the global registry.
func Register(a Adapter) {
	Registry[a.Engine()] = a
}

// Lookup returns the adapter for engine.
func Lookup(engine profile.Engine) (Adapter, error) {
	a, ok := Registry[engine]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for engine %q (registered: %s)",
			engine, strings.Join(registered(), ", "))
	}
	return a, nil
}

// Connect validates p and opens a session with the matching adapter.
func Connect(ctx context.Context, p profile.Profile) (Connection, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	a, err := Lookup(p.Engine)
	if err != nil {
		return nil, err
	}
	return a.Connect(ctx, p)
}

func registered() []string {
	names := make([]string, 0, len(Registry))
	for e := range Registry {
		names = append(names, string(e))
	}
	sort.Strings(names)
	return names
}
