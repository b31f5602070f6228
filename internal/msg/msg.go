// Package msg holds the messages the core sends to the user interface.
// They are plain bubbletea messages: a tea.Cmd returns exactly one of them,
// and background progress is pushed through a Sender.
package msg

import (
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sadopc/dbridge/internal/adapter"
	"github.com/sadopc/dbridge/internal/handle"
	"github.com/sadopc/dbridge/internal/transfer"
	"github.com/sadopc/dbridge/internal/tree"
)

// Sender delivers messages outside the Cmd/return flow. *tea.Program
// satisfies it.
type Sender interface {
	Send(tea.Msg)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(tea.Msg)

func (f SenderFunc) Send(m tea.Msg) { f(m) }

// Discard drops every message.
var Discard Sender = SenderFunc(func(tea.Msg) {})

// ConnectMsg is sent when a database connection is established.
type ConnectMsg struct {
	TabID  int
	Handle *handle.Handle
}

// ConnectErrMsg is sent when a connection attempt fails.
type ConnectErrMsg struct {
	TabID int
	Err   error
}

// DisconnectMsg is sent when the connection is closed.
type DisconnectMsg struct {
	TabID int
}

// DatabaseSelectedMsg reports the selection after select or deselect.
type DatabaseSelectedMsg struct {
	TabID    int
	Database string
	Selected bool
}

// TreeChangedMsg carries a new tree state. Snapshot replaces whatever the
// receiver showed before; older generations must be ignored.
type TreeChangedMsg struct {
	TabID    int
	State    tree.State
	Err      error
	Snapshot tree.Snapshot
}

// Stale reports whether m is older than the generation already shown.
func (m TreeChangedMsg) Stale(shown uint64) bool {
	return m.Snapshot.Generation < shown
}

// QueryStartedMsg is sent when a query begins executing.
type QueryStartedMsg struct {
	TabID int
	RunID uint64
}

// QueryResultMsg is sent when query execution completes.
type QueryResultMsg struct {
	TabID  int
	RunID  uint64
	Result *adapter.QueryResult
}

// QueryErrMsg is sent when query execution fails.
type QueryErrMsg struct {
	TabID int
	RunID uint64
	Err   error
}

// JobStatusMsg reports an import or export status transition.
type JobStatusMsg struct {
	TabID int
	Job   transfer.Job
}

// StatementDoneMsg reports a structural change made from the browser.
type StatementDoneMsg struct {
	TabID     int
	Statement string
	Err       error
}

// StatusMsg updates the status bar text.
type StatusMsg struct {
	Text     string
	IsError  bool
	Duration time.Duration
}

// StatusFromError renders err for the status bar. Session-fatal errors
// tell the user to reconnect.
func StatusFromError(err error) StatusMsg {
	var (
		ce *adapter.ConnectionError
		nf *adapter.NotFoundError
	)
	switch {
	case err == nil:
		return StatusMsg{}
	case errors.As(err, &ce):
		return StatusMsg{Text: err.Error() + " (reconnect required)", IsError: true}
	case errors.Is(err, adapter.ErrNotConnected):
		return StatusMsg{Text: "not connected", IsError: true}
	case errors.Is(err, adapter.ErrCancelled):
		return StatusMsg{Text: "cancelled"}
	case errors.As(err, &nf):
		return StatusMsg{Text: nf.Error(), IsError: true}
	}
	return StatusMsg{Text: err.Error(), IsError: true}
}
