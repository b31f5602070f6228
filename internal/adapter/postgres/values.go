package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/sadopc/dbridge/internal/adapter"
)

// fieldDescToMeta converts pgx field descriptions to adapter ColumnMeta.
func (c *pgConn) fieldDescToMeta(fds []pgconn.FieldDescription) []adapter.ColumnMeta {
	cols := make([]adapter.ColumnMeta, len(fds))
	for i, fd := range fds {
		cols[i] = adapter.ColumnMeta{
			Name:     fd.Name,
			Type:     typeName(c.conn.TypeMap(), fd.DataTypeOID),
			Nullable: true,
		}
	}
	return cols
}

func typeName(m *pgtype.Map, oid uint32) string {
	if t, ok := m.TypeForOID(oid); ok {
		return t.Name
	}
	return fmt.Sprintf("oid:%d", oid)
}

// normalizeValue converts a pgx-decoded value into the adapter's scalar set.
func normalizeValue(v any, typ string) any {
	switch val := v.(type) {
	case nil:
		return nil
	case pgtype.Numeric:
		return numericString(val)
	case [16]byte:
		return uuid.UUID(val).String()
	case time.Time:
		return adapter.FormatTime(val, typ)
	case map[string]any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	case []any:
		if typ == "json" || typ == "jsonb" {
			b, err := json.Marshal(val)
			if err == nil {
				return string(b)
			}
		}
		return arrayLiteral(val)
	case driver.Valuer:
		dv, err := val.Value()
		if err != nil {
			return fmt.Sprint(val)
		}
		return normalizeValue(dv, typ)
	}
	return adapter.NormalizeValue(v, typ)
}

func numericString(n pgtype.Numeric) any {
	dv, err := n.Value()
	if err != nil || dv == nil {
		return nil
	}
	if s, ok := dv.(string); ok {
		return s
	}
	return fmt.Sprint(dv)
}

// arrayLiteral renders a decoded array in PostgreSQL's text input form.
func arrayLiteral(vals []any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		switch val := v.(type) {
		case nil:
			parts[i] = "NULL"
		case []any:
			parts[i] = arrayLiteral(val)
		default:
			s := adapter.DisplayValue(normalizeValue(val, ""))
			if needsArrayQuote(s) {
				s = `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
			}
			parts[i] = s
		}
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func needsArrayQuote(s string) bool {
	if s == "" || strings.EqualFold(s, "NULL") {
		return true
	}
	return strings.ContainsAny(s, `{},"\ `+"\t\n")
}
