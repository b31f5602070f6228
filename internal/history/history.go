// Package history keeps executed statements in a SQLite database so they
// can be recalled later.
package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sadopc/dbridge/internal/handle"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	query         TEXT NOT NULL,
	engine        TEXT,
	target        TEXT,
	database_name TEXT,
	executed_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
	duration_ms   INTEGER,
	row_count     INTEGER,
	is_error      BOOLEAN DEFAULT FALSE
)`

// Entry represents a single executed statement.
type Entry struct {
	ID           int64
	Query        string
	Engine       string
	Target       string
	DatabaseName string
	ExecutedAt   time.Time
	DurationMS   int64
	RowCount     int64
	IsError      bool
}

// History provides SQLite-backed query history storage. It is a
// handle.Recorder.
type History struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ handle.Recorder = (*History)(nil)

// Open opens (or creates) the history database at path and ensures the
// schema exists.
func Open(path string, logger *slog.Logger) (*History, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("history: create dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create table: %w", err)
	}
	return &History{db: db, logger: logger}, nil
}

// Record stores an execution. Storage failures are logged, never returned
// to the statement that produced them.
func (h *History) Record(e handle.Execution) {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	err := h.Add(Entry{
		Query:        e.Query,
		Engine:       string(e.Engine),
		Target:       e.Target,
		DatabaseName: e.Database,
		ExecutedAt:   at.UTC(),
		DurationMS:   e.Duration.Milliseconds(),
		RowCount:     e.RowCount,
		IsError:      e.Err != nil,
	})
	if err != nil {
		h.logger.Warn("history not recorded", "error", err)
	}
}

// Add inserts a new history entry.
func (h *History) Add(entry Entry) error {
	_, err := h.db.Exec(
		`INSERT INTO history (query, engine, target, database_name, executed_at, duration_ms, row_count, is_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Query,
		entry.Engine,
		entry.Target,
		entry.DatabaseName,
		entry.ExecutedAt,
		entry.DurationMS,
		entry.RowCount,
		entry.IsError,
	)
	if err != nil {
		return fmt.Errorf("history add: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, query, engine, target, database_name, executed_at, duration_ms, row_count, is_error FROM history`

// Search returns entries whose query text matches pattern using SQL LIKE,
// most recent first.
func (h *History) Search(pattern string, limit int) ([]Entry, error) {
	rows, err := h.db.Query(selectColumns+` WHERE query LIKE ? ORDER BY executed_at DESC, id DESC LIMIT ?`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("history search: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Recent returns the most recent entries.
func (h *History) Recent(limit int) ([]Entry, error) {
	rows, err := h.db.Query(selectColumns+` ORDER BY executed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history recent: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Clear deletes all history entries.
func (h *History) Clear() error {
	if _, err := h.db.Exec(`DELETE FROM history`); err != nil {
		return fmt.Errorf("history clear: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (h *History) Close() error {
	return h.db.Close()
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			e                      Entry
			engine, target, dbName sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Query, &engine, &target, &dbName, &e.ExecutedAt, &e.DurationMS, &e.RowCount, &e.IsError); err != nil {
			return nil, fmt.Errorf("history scan: %w", err)
		}
		e.Engine, e.Target, e.DatabaseName = engine.String, target.String, dbName.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history rows: %w", err)
	}
	return entries, nil
}
