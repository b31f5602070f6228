// Package transfer moves schema and rows between a connection handle and
// files. SQL imports are atomic; tabular imports commit batch by batch.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sadopc/dbridge/internal/adapter"
	"github.com/sadopc/dbridge/internal/handle"
	"github.com/sadopc/dbridge/internal/tree"
)

const (
	DefaultPageSize  = 500
	DefaultBatchSize = 100
)

// Format is a file format handled by the orchestrator.
type Format string

const (
	FormatSQL  Format = "sql"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts a format name or infers it from a file extension.
func ParseFormat(s string) (Format, error) {
	name := strings.ToLower(strings.TrimPrefix(s, "."))
	if ext := filepath.Ext(name); ext != "" {
		name = strings.TrimPrefix(ext, ".")
	}
	switch name {
	case "sql":
		return FormatSQL, nil
	case "csv", "zip":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unknown format %q (want sql, csv or xlsx)", s)
}

// Direction tells exports from imports.
type Direction string

const (
	Export Direction = "export"
	Import Direction = "import"
)

// Status is the lifecycle of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Done reports whether s is terminal.
func (s Status) Done() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Request describes a job to run.
type Request struct {
	Direction Direction
	Format    Format
	// Path is the destination of an export or the source of an import.
	Path string
	// Tables limits an export; empty exports the whole selected database.
	// A tabular import needs exactly one target table.
	Tables []string
	// Sheet picks the worksheet of a spreadsheet import; empty means the
	// sheet named after the table, else the first one.
	Sheet string
}

func (r Request) validate() error {
	switch r.Direction {
	case Export, Import:
	default:
		return fmt.Errorf("transfer: unknown direction %q", r.Direction)
	}
	switch r.Format {
	case FormatSQL, FormatCSV, FormatXLSX:
	default:
		return fmt.Errorf("transfer: unknown format %q", r.Format)
	}
	if r.Path == "" {
		return errors.New("transfer: path is required")
	}
	if r.Direction == Import && r.Format != FormatSQL && len(r.Tables) != 1 {
		return errors.New("transfer: tabular import needs exactly one target table")
	}
	return nil
}

// Job is a snapshot of one import or export.
type Job struct {
	ID      string
	Request Request
	Status  Status
	Err     error
	// Rows counts rows written by an export or committed by an import.
	Rows int64
	// Output is the file actually written; multi-table CSV exports become
	// a zip archive next to the requested path.
	Output   string
	Started  time.Time
	Finished time.Time
}

// Options configures an Orchestrator.
type Options struct {
	Logger    *slog.Logger
	PageSize  int
	BatchSize int
	// OnStatus observes every status transition.
	OnStatus func(Job)
}

type running struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator runs at most one job at a time for its handle.
type Orchestrator struct {
	h         *handle.Handle
	tree      *tree.Builder
	logger    *slog.Logger
	pageSize  int
	batchSize int
	onStatus  func(Job)

	mu      sync.Mutex
	current *running
	jobs    map[string]*Job

	// holding is set while a job statement owns the handle's session.
	sessMu  sync.Mutex
	holding bool
}

// New creates an orchestrator. tr may be nil; when set, whole-database
// exports take their relation list from its populated snapshot.
func New(h *handle.Handle, tr *tree.Builder, opts Options) *Orchestrator {
	o := &Orchestrator{
		h:         h,
		tree:      tr,
		logger:    opts.Logger,
		pageSize:  opts.PageSize,
		batchSize: opts.BatchSize,
		onStatus:  opts.OnStatus,
		jobs:      map[string]*Job{},
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.pageSize <= 0 {
		o.pageSize = DefaultPageSize
	}
	if o.batchSize <= 0 {
		o.batchSize = DefaultBatchSize
	}
	return o
}

// Start queues req and runs it in the background. Progress is reported
// through Options.OnStatus; Wait blocks until it finishes.
func (o *Orchestrator) Start(ctx context.Context, req Request) (Job, error) {
	job, ctx, err := o.register(ctx, req)
	if err != nil {
		return Job{}, err
	}
	go o.run(ctx, job.ID)
	return job, nil
}

// Run executes req on the calling goroutine.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Job, error) {
	job, ctx, err := o.register(ctx, req)
	if err != nil {
		return Job{}, err
	}
	final := o.run(ctx, job.ID)
	return final, final.Err
}

// Wait blocks until the job finishes or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context, id string) (Job, error) {
	o.mu.Lock()
	job, ok := o.jobs[id]
	var done chan struct{}
	if o.current != nil && o.current.id == id {
		done = o.current.done
	}
	o.mu.Unlock()
	if !ok {
		return Job{}, adapter.ErrJobNotFound
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return Job{}, ctx.Err()
		}
	}
	j, _ := o.Job(job.ID)
	return j, nil
}

// Job returns the latest snapshot of a job.
func (o *Orchestrator) Job(id string) (Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Current returns the running job, if any.
func (o *Orchestrator) Current() (Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return Job{}, false
	}
	return *o.jobs[o.current.id], true
}

// Cancel stops a running job and aborts its in-flight statement. Cancelling
// a finished job is a no-op.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	_, known := o.jobs[id]
	cur := o.current
	o.mu.Unlock()
	if !known {
		return adapter.ErrJobNotFound
	}
	if cur == nil || cur.id != id {
		return nil
	}
	o.logger.Info("cancelling job", "job_id", id)
	cur.cancel()

	// Between pages and batches the session may be serving someone else.
	o.sessMu.Lock()
	defer o.sessMu.Unlock()
	if !o.holding {
		return nil
	}
	return o.h.Cancel()
}

// session runs fn on the handle's session, marking it as held by the job.
func (o *Orchestrator) session(ctx context.Context, fn func(ctx context.Context, conn adapter.Connection) error) error {
	return o.h.Session(ctx, func(ctx context.Context, conn adapter.Connection) error {
		defer o.hold()()
		return fn(ctx, conn)
	})
}

// withTx is session for a transaction.
func (o *Orchestrator) withTx(ctx context.Context, fn func(ctx context.Context, tx adapter.Tx) error) error {
	return o.h.WithTx(ctx, func(ctx context.Context, tx adapter.Tx) error {
		defer o.hold()()
		return fn(ctx, tx)
	})
}

func (o *Orchestrator) hold() (release func()) {
	o.sessMu.Lock()
	o.holding = true
	o.sessMu.Unlock()
	return func() {
		o.sessMu.Lock()
		o.holding = false
		o.sessMu.Unlock()
	}
}

func (o *Orchestrator) register(ctx context.Context, req Request) (Job, context.Context, error) {
	if err := req.validate(); err != nil {
		return Job{}, nil, err
	}
	o.mu.Lock()
	if o.current != nil {
		o.mu.Unlock()
		return Job{}, nil, adapter.ErrJobRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	job := &Job{ID: uuid.NewString(), Request: req, Status: StatusPending}
	o.jobs[job.ID] = job
	o.current = &running{id: job.ID, cancel: cancel, done: make(chan struct{})}
	snapshot := *job
	o.mu.Unlock()

	o.notify(snapshot)
	return snapshot, ctx, nil
}

func (o *Orchestrator) run(ctx context.Context, id string) Job {
	o.transition(id, func(j *Job) {
		j.Status = StatusRunning
		j.Started = time.Now()
	})
	job, _ := o.Job(id)
	logger := o.logger.With("job_id", id, "direction", string(job.Request.Direction), "format", string(job.Request.Format))
	logger.Info("job started", "path", job.Request.Path)

	var (
		rows   int64
		output string
		err    error
	)
	if job.Request.Direction == Export {
		output, rows, err = o.export(ctx, job.Request)
	} else {
		output = job.Request.Path
		rows, err = o.importFile(ctx, job.Request)
	}

	final := o.transition(id, func(j *Job) {
		j.Rows, j.Output, j.Finished = rows, output, time.Now()
		switch {
		case err == nil:
			j.Status = StatusSucceeded
		case ctx.Err() != nil || errors.Is(err, adapter.ErrCancelled):
			j.Status, j.Err = StatusCancelled, err
		default:
			j.Status, j.Err = StatusFailed, err
		}
	})
	if final.Err != nil {
		logger.Warn("job finished", "status", string(final.Status), "rows", final.Rows, "error", final.Err)
	} else {
		logger.Info("job finished", "status", string(final.Status), "rows", final.Rows, "duration", final.Finished.Sub(final.Started))
	}

	o.mu.Lock()
	cur := o.current
	o.current = nil
	o.mu.Unlock()
	cur.cancel()
	close(cur.done)
	return final
}

func (o *Orchestrator) transition(id string, fn func(*Job)) Job {
	o.mu.Lock()
	j := o.jobs[id]
	fn(j)
	snapshot := *j
	o.mu.Unlock()
	o.notify(snapshot)
	return snapshot
}

func (o *Orchestrator) notify(j Job) {
	if o.onStatus != nil {
		o.onStatus(j)
	}
}

// checkpoint stops a job between pages, batches or statements once it has
// been cancelled.
func checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", adapter.ErrCancelled, err)
	}
	return nil
}
