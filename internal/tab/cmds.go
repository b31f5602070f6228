package tab

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sadopc/dbridge/internal/handle"
	"github.com/sadopc/dbridge/internal/msg"
	"github.com/sadopc/dbridge/internal/profile"
	"github.com/sadopc/dbridge/internal/transfer"
	"github.com/sadopc/dbridge/internal/tree"
)

// ConnectCmd opens p in the background. The receiver builds the tab from
// the handle in ConnectMsg with New.
func ConnectCmd(id int, p profile.Profile, opts Options) tea.Cmd {
	return func() tea.Msg {
		h, err := handle.Open(context.Background(), p, opts.handleOptions())
		if err != nil {
			return msg.ConnectErrMsg{TabID: id, Err: err}
		}
		return msg.ConnectMsg{TabID: id, Handle: h}
	}
}

func (t *Tab) treeResult(snap tree.Snapshot, err error) tea.Msg {
	if errors.Is(err, tree.ErrStale) {
		return nil
	}
	if err != nil && snap.State != tree.StateFailed {
		return msg.StatusFromError(err)
	}
	return t.treeMsg(snap)
}

// RefreshCmd rebuilds the tree.
func (t *Tab) RefreshCmd() tea.Cmd {
	return func() tea.Msg {
		return t.treeResult(t.Refresh(context.Background()))
	}
}

// ExpandCmd loads the children of id.
func (t *Tab) ExpandCmd(id tree.NodeID) tea.Cmd {
	return func() tea.Msg {
		return t.treeResult(t.Expand(context.Background(), id))
	}
}

// SelectDatabaseCmd selects name and rebuilds the tree.
func (t *Tab) SelectDatabaseCmd(name string) tea.Cmd {
	return func() tea.Msg {
		return t.treeResult(t.SelectDatabase(context.Background(), name))
	}
}

// DeselectDatabaseCmd clears the selection and rebuilds the tree.
func (t *Tab) DeselectDatabaseCmd() tea.Cmd {
	return func() tea.Msg {
		return t.treeResult(t.DeselectDatabase(context.Background()))
	}
}

// RunCmd executes query. Results carry a run ID so that the receiver can
// drop answers to superseded runs.
func (t *Tab) RunCmd(query string) tea.Cmd {
	runID := t.runID.Add(1)
	return tea.Batch(
		func() tea.Msg { return msg.QueryStartedMsg{TabID: t.ID, RunID: runID} },
		func() tea.Msg {
			result, err := t.Run(context.Background(), query)
			if err != nil {
				return msg.QueryErrMsg{TabID: t.ID, RunID: runID, Err: err}
			}
			return msg.QueryResultMsg{TabID: t.ID, RunID: runID, Result: result}
		},
	)
}

// ExportCmd starts an export job. Later transitions arrive through the
// tab's Sender.
func (t *Tab) ExportCmd(req transfer.Request) tea.Cmd {
	return func() tea.Msg {
		return t.jobResult(t.StartExport(context.Background(), req))
	}
}

// ImportCmd starts an import job.
func (t *Tab) ImportCmd(req transfer.Request) tea.Cmd {
	return func() tea.Msg {
		return t.jobResult(t.StartImport(context.Background(), req))
	}
}

func (t *Tab) jobResult(j transfer.Job, err error) tea.Msg {
	if err != nil {
		return msg.StatusFromError(err)
	}
	return msg.JobStatusMsg{TabID: t.ID, Job: j}
}

// ChangeCmd runs a structural change such as DropTable and reports it as
// description.
func (t *Tab) ChangeCmd(description string, change func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		err := change(context.Background())
		return msg.StatementDoneMsg{TabID: t.ID, Statement: description, Err: err}
	}
}

// DisconnectCmd closes the tab's session.
func (t *Tab) DisconnectCmd() tea.Cmd {
	return func() tea.Msg {
		if err := t.Disconnect(); err != nil {
			return msg.StatusFromError(err)
		}
		return msg.DisconnectMsg{TabID: t.ID}
	}
}
