package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/sadopc/dbridge/internal/adapter"
	"github.com/sadopc/dbridge/internal/schema"
)

func newTable(w io.Writer, header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(header))
	return t
}

func renderResult(w io.Writer, res *adapter.QueryResult) {
	if !res.IsSelect {
		msg := res.Message
		if msg == "" {
			msg = fmt.Sprintf("%d rows affected", res.RowCount)
		}
		_, _ = fmt.Fprintf(w, "%s (%s)\n", msg, res.Duration)
		return
	}
	if len(res.Rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return
	}
	header := make([]any, len(res.Columns))
	for i, c := range res.Columns {
		header[i] = c.Name
	}
	t := newTable(w, header...)
	for _, r := range res.Rows {
		row := make(table.Row, len(r))
		for i, v := range r {
			row[i] = formatValue(v)
		}
		t.AppendRow(row)
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(res.Rows))
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return fmt.Sprintf("\\x%x", x)
	}
	return fmt.Sprintf("%v", v)
}

func formatOps(s schema.OpSet) string {
	ops := s.Sorted()
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = string(op)
	}
	return strings.Join(names, ",")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}
