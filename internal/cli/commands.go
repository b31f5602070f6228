package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sadopc/dbridge/internal/adapter"
	"github.com/sadopc/dbridge/internal/history"
	"github.com/sadopc/dbridge/internal/transfer"
	"github.com/sadopc/dbridge/internal/tree"
)

// withSession connects, runs fn and disconnects.
func (rt *runtime) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	s, err := rt.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			rt.logger.Warn("disconnect", "error", err)
		}
	}()
	return fn(ctx, s)
}

func newDatabasesCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "databases",
		Short: "List databases with the operations allowed on each",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withSession(cmd, func(ctx context.Context, s *session) error {
				snap, err := s.Refresh(ctx)
				if err != nil {
					return err
				}
				t := newTable(cmd.OutOrStdout(), "DATABASE", "SELECTED", "SYSTEM", "ALLOWED")
				for _, id := range snap.Roots {
					n, _ := snap.Node(id)
					t.AppendRow([]any{n.Name, yesNo(n.Selected), yesNo(n.System), formatOps(n.Capabilities)})
				}
				t.Render()
				return nil
			})
		},
	}
}

func selectedRoot(snap tree.Snapshot) (tree.Node, error) {
	for _, id := range snap.Roots {
		if n, _ := snap.Node(id); n.Selected {
			return n, nil
		}
	}
	return tree.Node{}, adapter.ErrNoDatabaseSelected
}

func newTablesCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables and views of the selected database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withSession(cmd, func(ctx context.Context, s *session) error {
				snap, err := s.Refresh(ctx)
				if err != nil {
					return err
				}
				root, err := selectedRoot(snap)
				if err != nil {
					return err
				}
				t := newTable(cmd.OutOrStdout(), "NAME", "KIND", "ALLOWED")
				for _, id := range root.Children {
					n, _ := snap.Node(id)
					t.AppendRow([]any{n.Name, n.Kind.String(), formatOps(n.Capabilities)})
				}
				t.Render()
				return nil
			})
		},
	}
}

func newColumnsCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "columns <table>",
		Short: "Show columns and indexes of a table or view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withSession(cmd, func(ctx context.Context, s *session) error {
				snap, err := s.Refresh(ctx)
				if err != nil {
					return err
				}
				root, err := selectedRoot(snap)
				if err != nil {
					return err
				}
				var rel tree.NodeID
				for _, id := range root.Children {
					if n, _ := snap.Node(id); strings.EqualFold(n.Name, args[0]) {
						rel = id
						break
					}
				}
				if rel == "" {
					return &adapter.NotFoundError{Object: "table", Name: args[0]}
				}
				if snap, err = s.Expand(ctx, rel); err != nil {
					return err
				}
				node, _ := snap.Node(rel)

				w := cmd.OutOrStdout()
				cols := newTable(w, "COLUMN", "TYPE", "NULLABLE", "DEFAULT", "PK", "ALLOWED")
				idxs := newTable(w, "INDEX", "COLUMNS", "UNIQUE", "PRIMARY", "ALLOWED")
				var haveIdx bool
				for _, id := range node.Children {
					n, _ := snap.Node(id)
					switch {
					case n.Column != nil:
						def := ""
						if n.Column.HasDefault {
							def = n.Column.Default
						}
						cols.AppendRow([]any{n.Name, n.Column.Type, yesNo(n.Column.Nullable), def, yesNo(n.Column.IsPK), formatOps(n.Capabilities)})
					case n.Index != nil:
						haveIdx = true
						idxs.AppendRow([]any{n.Name, strings.Join(n.Index.Columns, ","), yesNo(n.Index.Unique), yesNo(n.Index.Primary), formatOps(n.Capabilities)})
					}
				}
				cols.Render()
				if haveIdx {
					idxs.Render()
				}
				return nil
			})
		},
	}
}

func newGrantsCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "grants",
		Short: "List privileges held by the connected user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withSession(cmd, func(ctx context.Context, s *session) error {
				grants, err := s.Handle().ListPrivileges(ctx)
				if err != nil {
					return err
				}
				t := newTable(cmd.OutOrStdout(), "SCOPE", "DATABASE", "TABLE", "OPERATION")
				for _, g := range grants {
					t.AppendRow([]any{g.Scope.String(), g.Database, g.Table, string(g.Operation)})
				}
				t.Render()
				return nil
			})
		},
	}
}

func newQueryCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "query <sql>",
		Short: "Run one statement and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withSession(cmd, func(ctx context.Context, s *session) error {
				res, err := s.Run(ctx, args[0])
				if err != nil {
					return err
				}
				renderResult(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
}

type transferFlags struct {
	format string
	path   string
	tables []string
	sheet  string
}

func (f transferFlags) request() (transfer.Request, error) {
	name := f.format
	if name == "" {
		name = filepath.Ext(f.path)
	}
	format, err := transfer.ParseFormat(name)
	if err != nil {
		return transfer.Request{}, err
	}
	return transfer.Request{Format: format, Path: f.path, Tables: f.tables, Sheet: f.sheet}, nil
}

// runJob starts a job and waits for it. Interrupting the command cancels
// the job.
func runJob(cmd *cobra.Command, s *session, start func(context.Context, transfer.Request) (transfer.Job, error), req transfer.Request) error {
	ctx := cmd.Context()
	job, err := start(context.WithoutCancel(ctx), req)
	if err != nil {
		return err
	}
	final, err := s.Jobs().Wait(ctx, job.ID)
	if err != nil {
		_ = s.Cancel(job.ID)
		final, _ = s.Jobs().Wait(context.Background(), job.ID)
	}
	if final.Err != nil {
		return final.Err
	}
	if final.Status != transfer.StatusSucceeded {
		return fmt.Errorf("job %s %s", final.ID, final.Status)
	}
	cmd.Printf("%s %s: %d rows, %s (%s)\n", final.Request.Direction, final.Status, final.Rows, final.Output, final.Finished.Sub(final.Started).Round(time.Millisecond))
	return nil
}

func newExportCmd(rt *runtime) *cobra.Command {
	var f transferFlags
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the selected database or some of its tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}
			return rt.withSession(cmd, func(_ context.Context, s *session) error {
				return runJob(cmd, s, s.StartExport, req)
			})
		},
	}
	cmd.Flags().StringVar(&f.format, "format", "", "Output format: sql, csv or xlsx (default from --out extension)")
	cmd.Flags().StringVarP(&f.path, "out", "o", "", "Destination file")
	cmd.Flags().StringSliceVarP(&f.tables, "table", "t", nil, "Table to export (repeatable; default all)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newImportCmd(rt *runtime) *cobra.Command {
	var f transferFlags
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a SQL script, CSV file or spreadsheet into the selected database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}
			return rt.withSession(cmd, func(_ context.Context, s *session) error {
				err := runJob(cmd, s, s.StartImport, req)
				var ie *adapter.ImportError
				if errors.As(err, &ie) && ie.Committed > 0 {
					cmd.PrintErrf("%d rows were committed before the failure\n", ie.Committed)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&f.format, "format", "", "Input format: sql, csv or xlsx (default from --in extension)")
	cmd.Flags().StringVarP(&f.path, "in", "i", "", "Source file")
	cmd.Flags().StringSliceVarP(&f.tables, "table", "t", nil, "Target table (csv and xlsx)")
	cmd.Flags().StringVar(&f.sheet, "sheet", "", "Worksheet to read (xlsx)")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func newHistoryCmd(rt *runtime) *cobra.Command {
	var (
		limit  int
		search string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently executed statements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := history.Open(rt.cfg.History.Path, rt.logger)
			if err != nil {
				return err
			}
			defer h.Close()

			var entries []history.Entry
			if search != "" {
				entries, err = h.Search("%"+search+"%", limit)
			} else {
				entries, err = h.Recent(limit)
			}
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout(), "WHEN", "TARGET", "DATABASE", "MS", "ROWS", "ERROR", "QUERY")
			for _, e := range entries {
				t.AppendRow([]any{e.ExecutedAt.Local().Format("2006-01-02 15:04:05"), e.Target, e.DatabaseName, e.DurationMS, e.RowCount, yesNo(e.IsError), e.Query})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries")
	cmd.Flags().StringVarP(&search, "search", "s", "", "Only statements containing this text")
	return cmd
}
