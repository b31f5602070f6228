// Package tab is the entry point the user interface drives: one Tab per
// connection, wrapping its handle, metadata tree and transfer jobs.
//
// Blocking methods return their completion directly. Progress that happens
// in the background (tree loading, job transitions) is pushed through the
// tab's msg.Sender. The *Cmd constructors wrap the blocking methods as
// tea.Cmds that return exactly one completion message.
package tab

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sadopc/dbridge/internal/adapter"
	"github.com/sadopc/dbridge/internal/handle"
	"github.com/sadopc/dbridge/internal/msg"
	"github.com/sadopc/dbridge/internal/permission"
	"github.com/sadopc/dbridge/internal/profile"
	"github.com/sadopc/dbridge/internal/schema"
	"github.com/sadopc/dbridge/internal/transfer"
	"github.com/sadopc/dbridge/internal/tree"
)

// DeniedError reports an operation the connected user holds no grant for.
type DeniedError struct {
	Op     schema.Operation
	Object string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s on %s is not permitted", e.Op, e.Object)
}

// Options configures a tab.
type Options struct {
	Logger       *slog.Logger
	Sender       msg.Sender
	QueryTimeout time.Duration
	PageSize     int
	BatchSize    int
	Recorders    []handle.Recorder
}

func (o Options) handleOptions() handle.Options {
	return handle.Options{Logger: o.Logger, QueryTimeout: o.QueryTimeout, Recorders: o.Recorders}
}

// Tab owns one connection.
type Tab struct {
	ID int

	h      *handle.Handle
	tree   *tree.Builder
	jobs   *transfer.Orchestrator
	sender msg.Sender
	logger *slog.Logger
	runID  atomic.Uint64
}

// Connect opens p and wraps it in a tab.
func Connect(ctx context.Context, id int, p profile.Profile, opts Options) (*Tab, error) {
	h, err := handle.Open(ctx, p, opts.handleOptions())
	if err != nil {
		return nil, err
	}
	return New(id, h, opts), nil
}

// New wraps an established handle.
func New(id int, h *handle.Handle, opts Options) *Tab {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("tab", id)
	sender := opts.Sender
	if sender == nil {
		sender = msg.Discard
	}
	t := &Tab{ID: id, h: h, sender: sender, logger: logger}
	t.tree = tree.New(h, logger)
	t.jobs = transfer.New(h, t.tree, transfer.Options{
		Logger:    logger,
		PageSize:  opts.PageSize,
		BatchSize: opts.BatchSize,
		OnStatus: func(j transfer.Job) {
			t.sender.Send(msg.JobStatusMsg{TabID: id, Job: j})
		},
	})
	return t
}

// Handle returns the tab's connection handle.
func (t *Tab) Handle() *handle.Handle { return t.h }

// Tree returns the tab's metadata tree.
func (t *Tab) Tree() *tree.Builder { return t.tree }

// Jobs returns the tab's import/export orchestrator.
func (t *Tab) Jobs() *transfer.Orchestrator { return t.jobs }

func (t *Tab) treeMsg(snap tree.Snapshot) msg.TreeChangedMsg {
	return msg.TreeChangedMsg{TabID: t.ID, State: snap.State, Err: snap.Err, Snapshot: snap}
}

// Refresh rebuilds the metadata tree.
func (t *Tab) Refresh(ctx context.Context) (tree.Snapshot, error) {
	t.sender.Send(msg.TreeChangedMsg{TabID: t.ID, State: tree.StateLoading})
	snap, err := t.tree.Refresh(ctx)
	if t.dropIfLost(err) {
		snap = t.tree.Snapshot()
	}
	return snap, err
}

// Expand loads a table's columns and indexes.
func (t *Tab) Expand(ctx context.Context, id tree.NodeID) (tree.Snapshot, error) {
	snap, err := t.tree.Expand(ctx, id)
	if t.dropIfLost(err) {
		snap = t.tree.Snapshot()
	}
	return snap, err
}

// SelectDatabase scopes the session to name and rebuilds the tree.
func (t *Tab) SelectDatabase(ctx context.Context, name string) (tree.Snapshot, error) {
	if err := t.h.SelectDatabase(ctx, name); err != nil {
		t.dropIfLost(err)
		return t.tree.Snapshot(), err
	}
	t.sender.Send(msg.DatabaseSelectedMsg{TabID: t.ID, Database: name, Selected: true})
	return t.Refresh(ctx)
}

// DeselectDatabase clears the selection. The tree is discarded, then
// rebuilt with the database list only.
func (t *Tab) DeselectDatabase(ctx context.Context) (tree.Snapshot, error) {
	if err := t.h.DeselectDatabase(ctx); err != nil {
		t.dropIfLost(err)
		return t.tree.Snapshot(), err
	}
	t.sender.Send(t.treeMsg(t.tree.Reset()))
	t.sender.Send(msg.DatabaseSelectedMsg{TabID: t.ID})
	return t.Refresh(ctx)
}

// Run executes sql on the tab's session.
func (t *Tab) Run(ctx context.Context, sql string) (*adapter.QueryResult, error) {
	res, err := t.h.Run(ctx, sql)
	t.dropIfLost(err)
	return res, err
}

// CancelQuery aborts the statement in flight.
func (t *Tab) CancelQuery() error { return t.h.Cancel() }

// StartExport starts an export job in the background.
func (t *Tab) StartExport(ctx context.Context, req transfer.Request) (transfer.Job, error) {
	req.Direction = transfer.Export
	if err := t.authorizeJob(ctx, schema.OpExport, req); err != nil {
		return transfer.Job{}, err
	}
	return t.jobs.Start(ctx, req)
}

// StartImport starts an import job in the background.
func (t *Tab) StartImport(ctx context.Context, req transfer.Request) (transfer.Job, error) {
	req.Direction = transfer.Import
	if err := t.authorizeJob(ctx, schema.OpImport, req); err != nil {
		return transfer.Job{}, err
	}
	return t.jobs.Start(ctx, req)
}

// Cancel stops a running job.
func (t *Tab) Cancel(jobID string) error { return t.jobs.Cancel(jobID) }

// Disconnect stops any running job, closes the session and empties the
// tree. Calling it twice is a no-op.
func (t *Tab) Disconnect() error {
	var err error
	if t.h.Connected() {
		if j, ok := t.jobs.Current(); ok {
			_ = t.jobs.Cancel(j.ID)
		}
		err = t.h.Disconnect()
	}
	t.resetTree()
	return err
}

// dropIfLost empties the tree once a failed call has cost the session, and
// reports whether it did.
func (t *Tab) dropIfLost(err error) bool {
	if err == nil || t.h.Connected() {
		return false
	}
	t.logger.Warn("tree discarded after session loss", "error", err)
	return t.resetTree()
}

func (t *Tab) resetTree() bool {
	if st, _ := t.tree.State(); st == tree.StateEmpty {
		return false
	}
	t.sender.Send(t.treeMsg(t.tree.Reset()))
	return true
}

func (t *Tab) resolver(ctx context.Context) (*permission.Resolver, error) {
	if r := t.tree.Resolver(); r != nil {
		return r, nil
	}
	return permission.Resolve(ctx, t.h, t.h.Engine(), t.logger)
}

func (t *Tab) authorizeJob(ctx context.Context, op schema.Operation, req transfer.Request) error {
	db, ok := t.h.SelectedDatabase()
	if !ok {
		return adapter.ErrNoDatabaseSelected
	}
	if len(req.Tables) == 0 {
		return t.authorizeDatabase(ctx, op, db)
	}
	for _, table := range req.Tables {
		if err := t.authorize(ctx, op, db, table); err != nil {
			return err
		}
	}
	return nil
}

// authorizeDatabase checks a whole-database job. Table grants covering every
// relation stand in for a database grant.
func (t *Tab) authorizeDatabase(ctx context.Context, op schema.Operation, db string) error {
	r, err := t.resolver(ctx)
	if err != nil {
		return err
	}
	if r.Allowed(op, db, "") {
		return nil
	}
	relations, err := t.relations(ctx, db)
	if err != nil {
		return err
	}
	if r.AllowedAll(op, db, relations) {
		return nil
	}
	return &DeniedError{Op: op, Object: db}
}

// relations lists the tables and views of db, from the tree when it holds
// them.
func (t *Tab) relations(ctx context.Context, db string) ([]string, error) {
	snap := t.tree.Snapshot()
	if n, ok := snap.Node(tree.NodeID(db)); ok && snap.State == tree.StatePopulated && n.Loaded {
		out := make([]string, 0, len(n.Children))
		for _, id := range n.Children {
			if c, ok := snap.Node(id); ok {
				out = append(out, c.Name)
			}
		}
		return out, nil
	}
	tables, err := t.h.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	views, err := t.h.ListViews(ctx)
	if err != nil {
		return nil, err
	}
	return append(append(make([]string, 0, len(tables)+len(views)), tables...), views...), nil
}

func (t *Tab) authorize(ctx context.Context, op schema.Operation, database, table string) error {
	r, err := t.resolver(ctx)
	if err != nil {
		return err
	}
	if r.Allowed(op, database, table) {
		return nil
	}
	object := database
	if table != "" {
		object = database + "." + table
	}
	if object == "" {
		object = "server"
	}
	return &DeniedError{Op: op, Object: object}
}
