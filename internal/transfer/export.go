package transfer

import (
	"archive/zip"
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/sadopc/dbridge/internal/adapter"
	"github.com/sadopc/dbridge/internal/permission"
	"github.com/sadopc/dbridge/internal/profile"
	"github.com/sadopc/dbridge/internal/schema"
	"github.com/sadopc/dbridge/internal/tree"
)

// maxSheetName is the worksheet name limit of the xlsx format.
const maxSheetName = 31

type relation struct {
	name string
	view bool
}

func (o *Orchestrator) export(ctx context.Context, req Request) (string, int64, error) {
	db, ok := o.h.SelectedDatabase()
	if !ok {
		return "", 0, &adapter.ExportError{Err: adapter.ErrNoDatabaseSelected}
	}
	rels, err := o.relations(ctx, db, req.Tables)
	if err != nil {
		return "", 0, &adapter.ExportError{Err: err}
	}
	if req.Format != FormatSQL && len(req.Tables) == 0 {
		// Whole-database tabular exports carry table data only.
		rels = tablesOnly(rels)
	}
	if len(rels) == 0 {
		return "", 0, &adapter.ExportError{Err: errors.New("nothing to export")}
	}

	switch req.Format {
	case FormatSQL:
		rows, err := o.exportSQL(ctx, req.Path, db, rels)
		return req.Path, rows, err
	case FormatCSV:
		if len(rels) == 1 {
			rows, err := o.exportCSV(ctx, req.Path, rels[0].name)
			return req.Path, rows, err
		}
		out := strings.TrimSuffix(req.Path, filepath.Ext(req.Path)) + ".zip"
		rows, err := o.exportZip(ctx, out, rels)
		return out, rows, err
	default:
		rows, err := o.exportXLSX(ctx, req.Path, rels)
		return req.Path, rows, err
	}
}

// relations resolves the export scope. Without an explicit list it reuses
// the populated metadata tree when it covers db.
func (o *Orchestrator) relations(ctx context.Context, db string, names []string) ([]relation, error) {
	var tables, views []string
	if snap, ok := o.treeSnapshot(db); ok && len(names) == 0 {
		root, _ := snap.Node(tree.NodeID(db))
		for _, id := range root.Children {
			n, _ := snap.Node(id)
			if n.Kind == permission.KindView {
				views = append(views, n.Name)
			} else {
				tables = append(tables, n.Name)
			}
		}
	} else {
		var err error
		if tables, err = o.h.ListTables(ctx); err != nil {
			return nil, err
		}
		if views, err = o.h.ListViews(ctx); err != nil {
			return nil, err
		}
	}

	isView := make(map[string]bool, len(views))
	for _, v := range views {
		isView[v] = true
	}
	if len(names) == 0 {
		rels := make([]relation, 0, len(tables)+len(views))
		for _, t := range tables {
			rels = append(rels, relation{name: t})
		}
		for _, v := range views {
			rels = append(rels, relation{name: v, view: true})
		}
		return rels, nil
	}

	known := make(map[string]bool, len(tables))
	for _, t := range tables {
		known[t] = true
	}
	rels := make([]relation, 0, len(names))
	for _, n := range names {
		switch {
		case known[n]:
			rels = append(rels, relation{name: n})
		case isView[n]:
			rels = append(rels, relation{name: n, view: true})
		default:
			return nil, &adapter.NotFoundError{Object: "table", Name: n}
		}
	}
	return rels, nil
}

func (o *Orchestrator) treeSnapshot(db string) (tree.Snapshot, bool) {
	if o.tree == nil {
		return tree.Snapshot{}, false
	}
	snap := o.tree.Snapshot()
	if snap.State != tree.StatePopulated {
		return snap, false
	}
	root, ok := snap.Node(tree.NodeID(db))
	return snap, ok && root.Selected && root.Loaded
}

func tablesOnly(rels []relation) []relation {
	out := rels[:0:0]
	for _, r := range rels {
		if !r.view {
			out = append(out, r)
		}
	}
	return out
}

// orderKey picks a stable ORDER BY for paginated reads: the primary key,
// else every column that can be compared.
func orderKey(cols []schema.Column) []string {
	if pk := schema.PrimaryKey(cols); len(pk) > 0 {
		return pk
	}
	var out []string
	for _, c := range cols {
		t := strings.ToUpper(c.Type)
		if adapter.AffinityOf(c.Type) == adapter.KindBinary ||
			strings.Contains(t, "JSON") || strings.Contains(t, "XML") ||
			strings.Contains(t, "GEOMETRY") || strings.Contains(t, "POINT") {
			continue
		}
		out = append(out, c.Name)
	}
	return out
}

// fallbackKey orders a table with no comparable columns by the engine's row
// identifier. Without one (MySQL, or a view) the relation is read in a
// single pass, since unordered pages may skip or repeat rows.
func (o *Orchestrator) fallbackKey(ctx context.Context, table string) ([]string, bool) {
	if rowID, ok := o.h.Dialect().RowID(); ok {
		views, err := o.h.ListViews(ctx)
		if err == nil && !slices.Contains(views, table) {
			return []string{rowID}, true
		}
	}
	o.logger.Warn("no stable row order, exporting in one pass", "table", table)
	return nil, false
}

// pages reads table in LIMIT/OFFSET windows of the configured page size
// and hands each non-empty page to fn.
func (o *Orchestrator) pages(ctx context.Context, table string, fn func(cols []adapter.ColumnMeta, rows []adapter.Row) error) (int64, error) {
	cols, err := o.h.ListColumns(ctx, table)
	if err != nil {
		return 0, err
	}
	d := o.h.Dialect()
	key := orderKey(cols)
	paged := true
	if len(key) == 0 {
		key, paged = o.fallbackKey(ctx, table)
	}
	base := d.SelectAll(table, key)
	if !paged {
		var res *adapter.QueryResult
		err := o.session(ctx, func(ctx context.Context, conn adapter.Connection) (err error) {
			res, err = conn.ExecuteQuery(ctx, base)
			return err
		})
		if err != nil {
			return 0, err
		}
		if len(res.Rows) > 0 {
			if err := fn(res.Columns, res.Rows); err != nil {
				return 0, err
			}
		}
		return int64(len(res.Rows)), nil
	}
	size := int64(o.pageSize)

	var total int64
	for {
		if err := checkpoint(ctx); err != nil {
			return total, err
		}
		q := d.Paginate(base, size, total)
		var res *adapter.QueryResult
		err := o.session(ctx, func(ctx context.Context, conn adapter.Connection) (err error) {
			res, err = conn.ExecuteQuery(ctx, q)
			return err
		})
		if err != nil {
			return total, err
		}
		if len(res.Rows) > 0 {
			if err := fn(res.Columns, res.Rows); err != nil {
				return total, err
			}
		}
		total += int64(len(res.Rows))
		if int64(len(res.Rows)) < size {
			return total, nil
		}
	}
}

// closeFile closes an export file, reporting its error unless an earlier
// one is already returned.
func closeFile(f io.Closer, err *error) {
	if cerr := f.Close(); cerr != nil && *err == nil {
		*err = &adapter.ExportError{Err: cerr}
	}
}

func terminate(stmt string) string {
	return strings.TrimRight(strings.TrimSpace(stmt), ";") + ";"
}

func (o *Orchestrator) exportSQL(ctx context.Context, path, db string, rels []relation) (written int64, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, &adapter.ExportError{Err: err}
	}
	defer closeFile(f, &err)
	w := bufio.NewWriter(f)

	var tables, views []string
	for _, r := range rels {
		if r.view {
			views = append(views, r.name)
		} else {
			tables = append(tables, r.name)
		}
	}
	tables, err = o.dependencyOrder(ctx, tables)
	if err != nil {
		return 0, &adapter.ExportError{Err: err}
	}

	engine := o.h.Engine()
	d := o.h.Dialect()
	fmt.Fprintf(w, "-- %s database export from dbridge\n", engine)
	fmt.Fprintf(w, "-- Exported on %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "-- Database: %s\n\n", db)
	if engine == profile.EngineMySQL {
		fmt.Fprintln(w, "SET FOREIGN_KEY_CHECKS = 0;")
	}

	for _, v := range views {
		fmt.Fprintln(w, d.DropView(v, true)+";")
	}
	for i := len(tables) - 1; i >= 0; i-- {
		fmt.Fprintln(w, d.DropTable(tables[i], true)+";")
	}
	fmt.Fprintln(w)

	var total int64
	for _, t := range tables {
		ddl, err := o.h.TableDDL(ctx, t)
		if err != nil {
			return total, &adapter.ExportError{Table: t, Err: err}
		}
		for _, stmt := range ddl {
			fmt.Fprintln(w, terminate(stmt))
		}
		fmt.Fprintln(w)

		header := false
		n, err := o.pages(ctx, t, func(cols []adapter.ColumnMeta, rows []adapter.Row) error {
			if !header {
				fmt.Fprintf(w, "-- Data for table %s\n", t)
				header = true
			}
			names := columnNames(cols)
			for _, row := range rows {
				if _, err := fmt.Fprintln(w, d.InsertLiteral(t, names, row)); err != nil {
					return err
				}
			}
			return nil
		})
		total += n
		if err != nil {
			return total, &adapter.ExportError{Table: t, Err: err}
		}
		if header {
			fmt.Fprintln(w)
		}
	}

	for _, v := range views {
		def, err := o.h.ViewDefinition(ctx, v)
		if err != nil {
			return total, &adapter.ExportError{Table: v, Err: err}
		}
		fmt.Fprintln(w, terminate(def))
		fmt.Fprintln(w)
	}
	if engine == profile.EngineMySQL {
		fmt.Fprintln(w, "SET FOREIGN_KEY_CHECKS = 1;")
	}

	if err := w.Flush(); err != nil {
		return total, &adapter.ExportError{Err: err}
	}
	return total, nil
}

// dependencyOrder sorts tables so that referenced tables come before the
// tables pointing at them. Cycles keep their input order.
func (o *Orchestrator) dependencyOrder(ctx context.Context, tables []string) ([]string, error) {
	in := make(map[string]bool, len(tables))
	for _, t := range tables {
		in[t] = true
	}
	deps := make(map[string][]string, len(tables))
	for _, t := range tables {
		fks, err := o.h.ListForeignKeys(ctx, t)
		if err != nil && !errors.Is(err, adapter.ErrUnsupported) {
			return nil, err
		}
		for _, fk := range fks {
			if fk.RefTable != t && in[fk.RefTable] {
				deps[t] = append(deps[t], fk.RefTable)
			}
		}
		sort.Strings(deps[t])
	}

	out := make([]string, 0, len(tables))
	state := make(map[string]int, len(tables)) // 1 visiting, 2 done
	var visit func(t string)
	visit = func(t string) {
		if state[t] != 0 {
			return
		}
		state[t] = 1
		for _, dep := range deps[t] {
			visit(dep)
		}
		state[t] = 2
		out = append(out, t)
	}
	for _, t := range tables {
		visit(t)
	}
	return out, nil
}

func columnNames(cols []adapter.ColumnMeta) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func (o *Orchestrator) exportCSV(ctx context.Context, path, table string) (written int64, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, &adapter.ExportError{Table: table, Err: err}
	}
	defer closeFile(f, &err)

	n, err := o.writeCSV(ctx, f, table)
	if err != nil {
		return n, &adapter.ExportError{Table: table, Err: err}
	}
	return n, nil
}

func (o *Orchestrator) exportZip(ctx context.Context, path string, rels []relation) (written int64, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, &adapter.ExportError{Err: err}
	}
	defer closeFile(f, &err)

	zw := zip.NewWriter(f)
	var total int64
	for _, r := range rels {
		entry, err := zw.Create(strings.ReplaceAll(r.name, "/", "_") + ".csv")
		if err != nil {
			return total, &adapter.ExportError{Table: r.name, Err: err}
		}
		n, err := o.writeCSV(ctx, entry, r.name)
		total += n
		if err != nil {
			return total, &adapter.ExportError{Table: r.name, Err: err}
		}
	}
	if err := zw.Close(); err != nil {
		return total, &adapter.ExportError{Err: err}
	}
	return total, nil
}

// writeCSV writes a header row and the table's rows. NULL is written as
// adapter.NullText.
func (o *Orchestrator) writeCSV(ctx context.Context, out io.Writer, table string) (int64, error) {
	d := o.h.Dialect()
	w := csv.NewWriter(out)
	header := false
	n, err := o.pages(ctx, table, func(cols []adapter.ColumnMeta, rows []adapter.Row) error {
		if !header {
			if err := w.Write(columnNames(cols)); err != nil {
				return err
			}
			header = true
		}
		record := make([]string, len(cols))
		for _, row := range rows {
			for i, v := range row {
				record[i] = d.EncodeText(v)
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	})
	if err != nil {
		return n, err
	}
	if !header {
		// Empty table: still emit the header.
		cols, err := o.h.ListColumns(ctx, table)
		if err != nil {
			return n, err
		}
		if err := w.Write(schema.ColumnNames(cols)); err != nil {
			return n, err
		}
	}
	w.Flush()
	return n, w.Error()
}

// sheetNames maps relations to unique worksheet names within the format's
// length limit.
func sheetNames(rels []relation) []string {
	invalid := strings.NewReplacer("/", "_", "\\", "_", "?", "_", "*", "_", "[", "(", "]", ")", ":", "_")
	used := make(map[string]bool, len(rels))
	out := make([]string, len(rels))
	for i, r := range rels {
		base := invalid.Replace(r.name)
		name := truncateSheet(base, "")
		for n := 2; used[strings.ToLower(name)]; n++ {
			name = truncateSheet(base, fmt.Sprintf("~%d", n))
		}
		used[strings.ToLower(name)] = true
		out[i] = name
	}
	return out
}

func truncateSheet(name, suffix string) string {
	runes := []rune(name)
	if limit := maxSheetName - len(suffix); len(runes) > limit {
		runes = runes[:limit]
	}
	return string(runes) + suffix
}

func (o *Orchestrator) exportXLSX(ctx context.Context, path string, rels []relation) (int64, error) {
	f := excelize.NewFile()
	defer f.Close()

	d := o.h.Dialect()
	names := sheetNames(rels)
	var total int64
	for i, r := range rels {
		sheet := names[i]
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
				return total, &adapter.ExportError{Table: r.name, Err: err}
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return total, &adapter.ExportError{Table: r.name, Err: err}
		}

		sw, err := f.NewStreamWriter(sheet)
		if err != nil {
			return total, &adapter.ExportError{Table: r.name, Err: err}
		}
		rowNum := 1
		n, err := o.pages(ctx, r.name, func(cols []adapter.ColumnMeta, rows []adapter.Row) error {
			if rowNum == 1 {
				if err := sw.SetRow("A1", stringCells(columnNames(cols))); err != nil {
					return err
				}
				rowNum++
			}
			for _, row := range rows {
				cells := make([]any, len(row))
				for j, v := range row {
					cells[j] = cellValue(d, v)
				}
				cell, err := excelize.CoordinatesToCellName(1, rowNum)
				if err != nil {
					return err
				}
				if err := sw.SetRow(cell, cells); err != nil {
					return err
				}
				rowNum++
			}
			return nil
		})
		total += n
		if err != nil {
			return total, &adapter.ExportError{Table: r.name, Err: err}
		}
		if rowNum == 1 {
			cols, err := o.h.ListColumns(ctx, r.name)
			if err != nil {
				return total, &adapter.ExportError{Table: r.name, Err: err}
			}
			if err := sw.SetRow("A1", stringCells(schema.ColumnNames(cols))); err != nil {
				return total, &adapter.ExportError{Table: r.name, Err: err}
			}
		}
		if err := sw.Flush(); err != nil {
			return total, &adapter.ExportError{Table: r.name, Err: err}
		}
	}
	if err := f.SaveAs(path); err != nil {
		return total, &adapter.ExportError{Err: err}
	}
	return total, nil
}

func stringCells(names []string) []any {
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

// cellValue keeps numbers numeric; NULL is an empty cell and everything
// else uses the delimited-text encoding.
func cellValue(d adapter.Dialect, v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case int64, float64:
		return val
	default:
		return d.EncodeText(val)
	}
}
