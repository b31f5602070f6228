package transfer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/sadopc/dbridge/internal/adapter"
	"github.com/sadopc/dbridge/internal/schema"
)

func (o *Orchestrator) importFile(ctx context.Context, req Request) (int64, error) {
	if req.Format == FormatSQL {
		return o.importSQL(ctx, req.Path)
	}
	src, err := openRecords(req)
	if err != nil {
		return 0, &adapter.ImportError{Err: err}
	}
	defer src.Close()
	return o.importRows(ctx, req.Tables[0], src)
}

// importSQL runs every statement of the script in one transaction. The
// first failure rolls everything back.
func (o *Orchestrator) importSQL(ctx context.Context, path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, &adapter.ImportError{Err: err}
	}
	stmts := SplitStatements(string(data), o.h.Engine())
	if len(stmts) == 0 {
		return 0, &adapter.ImportError{Err: errors.New("script contains no statements")}
	}

	var affected int64
	err = o.withTx(ctx, func(ctx context.Context, tx adapter.Tx) error {
		for _, st := range stmts {
			if err := checkpoint(ctx); err != nil {
				return err
			}
			n, err := tx.ExecuteStatement(ctx, st.Text)
			if err != nil {
				return &adapter.ImportError{Statement: st.Index, Line: st.Line, Offset: st.Offset, Err: err}
			}
			affected += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	o.logger.Debug("sql import committed", "statements", len(stmts), "rows", affected)
	return affected, nil
}

// records is a header plus data rows read from a tabular file.
type records interface {
	Header() []string
	// Next returns the next row or io.EOF. A nil entry is NULL.
	Next() ([]*string, error)
	Close() error
}

func openRecords(req Request) (records, error) {
	if req.Format == FormatXLSX {
		return openSheet(req.Path, req.Sheet, req.Tables[0])
	}
	return openCSV(req.Path)
}

// importRows inserts rows into table in batches, one transaction each.
// Batches committed before a failure stay committed.
func (o *Orchestrator) importRows(ctx context.Context, table string, src records) (int64, error) {
	cols, err := o.h.ListColumns(ctx, table)
	if err != nil {
		return 0, &adapter.ImportError{Err: err}
	}
	targets, err := matchColumns(src.Header(), cols)
	if err != nil {
		return 0, &adapter.ImportError{Err: err}
	}
	d := o.h.Dialect()
	stmt := d.InsertStatement(table, schema.ColumnNames(targets))

	var committed int64
	for {
		if err := checkpoint(ctx); err != nil {
			return committed, err
		}
		first := committed + 1
		batch, eof, err := o.readBatch(d, src, targets)
		if err != nil {
			return committed, &adapter.ImportError{
				Committed: committed, FirstRow: first, LastRow: committed + int64(len(batch)) + 1, Err: err,
			}
		}
		if len(batch) == 0 {
			return committed, nil
		}
		last := committed + int64(len(batch))

		err = o.withTx(ctx, func(ctx context.Context, tx adapter.Tx) error {
			for _, args := range batch {
				if _, err := tx.ExecuteStatement(ctx, stmt, args...); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, adapter.ErrCancelled) || ctx.Err() != nil {
				return committed, err
			}
			return committed, &adapter.ImportError{Committed: committed, FirstRow: first, LastRow: last, Err: err}
		}
		committed = last
		o.logger.Debug("batch committed", "table", table, "first_row", first, "last_row", last)
		if eof {
			return committed, nil
		}
	}
}

func (o *Orchestrator) readBatch(d adapter.Dialect, src records, cols []schema.Column) ([][]any, bool, error) {
	batch := make([][]any, 0, o.batchSize)
	for len(batch) < o.batchSize {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			return batch, true, nil
		}
		if err != nil {
			return batch, false, err
		}
		if len(rec) > len(cols) {
			return batch, false, fmt.Errorf("row has %d fields, header has %d", len(rec), len(cols))
		}
		args := make([]any, len(cols))
		for i, c := range cols {
			if i >= len(rec) || rec[i] == nil {
				continue
			}
			v, err := d.DecodeText(*rec[i], c.Type)
			if err != nil {
				return batch, false, fmt.Errorf("column %s: %w", c.Name, err)
			}
			args[i] = v
		}
		batch = append(batch, args)
	}
	return batch, false, nil
}

// matchColumns maps header names onto table columns, ignoring case.
func matchColumns(header []string, cols []schema.Column) ([]schema.Column, error) {
	if len(header) == 0 {
		return nil, errors.New("file has no header row")
	}
	byName := make(map[string]schema.Column, len(cols))
	for _, c := range cols {
		byName[strings.ToLower(c.Name)] = c
	}
	out := make([]schema.Column, len(header))
	for i, h := range header {
		c, ok := byName[strings.ToLower(strings.TrimSpace(h))]
		if !ok {
			return nil, &adapter.NotFoundError{Object: "column", Name: h}
		}
		out[i] = c
	}
	return out, nil
}

type csvRecords struct {
	f      *os.File
	r      *csv.Reader
	header []string
}

func openCSV(path string) (*csvRecords, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return nil, errors.New("file has no header row")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return &csvRecords{f: f, r: r, header: header}, nil
}

func (c *csvRecords) Header() []string { return c.header }

func (c *csvRecords) Next() ([]*string, error) {
	rec, err := c.r.Read()
	if err != nil {
		return nil, err
	}
	out := make([]*string, len(rec))
	for i := range rec {
		out[i] = &rec[i]
	}
	return out, nil
}

func (c *csvRecords) Close() error { return c.f.Close() }

type sheetRecords struct {
	f      *excelize.File
	rows   *excelize.Rows
	header []string
}

// openSheet reads sheet, or the sheet named after table, or the first one.
func openSheet(path, sheet, table string) (*sheetRecords, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	name, err := pickSheet(f.GetSheetList(), sheet, table)
	if err != nil {
		f.Close()
		return nil, err
	}
	rows, err := f.Rows(name)
	if err != nil {
		f.Close()
		return nil, err
	}
	s := &sheetRecords{f: f, rows: rows}
	if !rows.Next() {
		s.Close()
		return nil, errors.New("file has no header row")
	}
	if s.header, err = rows.Columns(excelize.Options{RawCellValue: true}); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func pickSheet(sheets []string, want, table string) (string, error) {
	if want != "" {
		for _, s := range sheets {
			if s == want {
				return s, nil
			}
		}
		return "", &adapter.NotFoundError{Object: "sheet", Name: want}
	}
	if len(sheets) == 0 {
		return "", errors.New("workbook has no sheets")
	}
	named := truncateSheet(table, "")
	for _, s := range sheets {
		if strings.EqualFold(s, named) {
			return s, nil
		}
	}
	return sheets[0], nil
}

func (s *sheetRecords) Header() []string { return s.header }

// Next treats empty cells as NULL; trailing empty cells are not stored by
// the format at all.
func (s *sheetRecords) Next() ([]*string, error) {
	for s.rows.Next() {
		cells, err := s.rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, err
		}
		if len(cells) == 0 {
			continue
		}
		out := make([]*string, len(cells))
		for i := range cells {
			if cells[i] != "" {
				out[i] = &cells[i]
			}
		}
		return out, nil
	}
	if err := s.rows.Error(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *sheetRecords) Close() error {
	if err := s.rows.Close(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}
