// Package testutil provides test helpers shared across packages.
package testutil

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
)

// NewTestLogger returns a logger that writes to t.Log.
// Logs only appear on test failure or when running with -v.
func NewTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	logger, _ := NewCapturingLogger(t)
	return logger
}

// NewCapturingLogger is NewTestLogger that also keeps every record, so a
// test can assert on what was logged.
func NewCapturingLogger(t testing.TB) (*slog.Logger, *Logs) {
	t.Helper()
	logs := &Logs{}
	text := slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(&captureHandler{text: text, logs: logs}), logs
}

// Record is one captured log line. Attribute groups are flattened.
type Record struct {
	Level   slog.Level
	Message string
	Attrs   map[string]string
}

// Logs collects records from a capturing logger.
type Logs struct {
	mu      sync.Mutex
	records []Record
}

func (l *Logs) add(r Record) {
	l.mu.Lock()
	l.records = append(l.records, r)
	l.mu.Unlock()
}

// Records returns the captured records in order.
func (l *Logs) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.records)
}

// Messages returns the messages logged at level.
func (l *Logs) Messages(level slog.Level) []string {
	var out []string
	for _, r := range l.Records() {
		if r.Level == level {
			out = append(out, r.Message)
		}
	}
	return out
}

// Contains reports whether s occurs in any message or attribute value.
func (l *Logs) Contains(s string) bool {
	for _, r := range l.Records() {
		if strings.Contains(r.Message, s) {
			return true
		}
		for _, v := range r.Attrs {
			if strings.Contains(v, s) {
				return true
			}
		}
	}
	return false
}

type captureHandler struct {
	text  slog.Handler
	logs  *Logs
	attrs []slog.Attr
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	rec := Record{Level: r.Level, Message: r.Message, Attrs: make(map[string]string, len(h.attrs)+r.NumAttrs())}
	for _, a := range h.attrs {
		rec.Attrs[a.Key] = a.Value.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.Attrs[a.Key] = a.Value.String()
		return true
	})
	h.logs.add(rec)
	return h.text.Handle(ctx, r)
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{
		text:  h.text.WithAttrs(attrs),
		logs:  h.logs,
		attrs: append(slices.Clip(h.attrs), attrs...),
	}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	return &captureHandler{text: h.text.WithGroup(name), logs: h.logs, attrs: h.attrs}
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (n int, err error) {
	w.t.Helper()
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}
