package adapter

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sadopc/dbridge/internal/profile"
)

// NullText is the tabular-text spelling of NULL.
const NullText = `\N`

// Dialect renders engine-specific SQL text. The zero value is not usable;
// obtain one from DialectFor or Connection.Dialect.
type Dialect struct {
	Engine profile.Engine
}

// DialectFor returns the dialect of engine.
func DialectFor(engine profile.Engine) Dialect {
	return Dialect{Engine: engine}
}

// QuoteIdent quotes a single identifier.
func (d Dialect) QuoteIdent(name string) string {
	if d.Engine == profile.EngineMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteTable quotes a table name as listed by ListTables. PostgreSQL tables
// outside the public schema are listed as schema.table.
func (d Dialect) QuoteTable(name string) string {
	if d.Engine == profile.EnginePostgres {
		if schemaName, table, ok := strings.Cut(name, "."); ok {
			return d.QuoteIdent(schemaName) + "." + d.QuoteIdent(table)
		}
	}
	return d.QuoteIdent(name)
}

// QuoteIdents quotes and comma-joins names.
func (d Dialect) QuoteIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// Placeholder returns the bind parameter marker for the 1-based position n.
func (d Dialect) Placeholder(n int) string {
	if d.Engine == profile.EnginePostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Placeholders returns n comma-separated bind markers.
func (d Dialect) Placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.Placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

// QuoteString renders s as a string literal.
func (d Dialect) QuoteString(s string) string {
	s = strings.ReplaceAll(s, "'", "''")
	if d.Engine == profile.EngineMySQL {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return "'" + s + "'"
}

// Literal renders a normalized value as SQL text that reads back as the
// same value on this engine.
func (d Dialect) Literal(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if d.Engine == profile.EnginePostgres {
			if val {
				return "TRUE"
			}
			return "FALSE"
		}
		if val {
			return "1"
		}
		return "0"
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			if d.Engine == profile.EnginePostgres {
				return d.QuoteString(strconv.FormatFloat(val, 'g', -1, 64))
			}
			return "NULL"
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case []byte:
		if d.Engine == profile.EnginePostgres {
			return `'\x` + hex.EncodeToString(val) + `'::bytea`
		}
		return "X'" + hex.EncodeToString(val) + "'"
	case string:
		return d.QuoteString(val)
	default:
		return d.QuoteString(fmt.Sprint(val))
	}
}

// EncodeText renders a normalized value for delimited text and spreadsheet
// cells. NULL becomes NullText and binary becomes \x-prefixed hex.
func (d Dialect) EncodeText(v any) string {
	switch val := v.(type) {
	case nil:
		return NullText
	case bool:
		if d.Engine == profile.EnginePostgres {
			return strconv.FormatBool(val)
		}
		if val {
			return "1"
		}
		return "0"
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case []byte:
		return `\x` + hex.EncodeToString(val)
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

// DecodeText is the inverse of EncodeText for a column of the given
// declared type. Non-binary values stay text and are coerced by the engine
// on insert.
func (d Dialect) DecodeText(s, declaredType string) (any, error) {
	if s == NullText {
		return nil, nil
	}
	if AffinityOf(declaredType) == KindBinary && strings.HasPrefix(s, `\x`) {
		b, err := hex.DecodeString(s[2:])
		if err != nil {
			return nil, fmt.Errorf("decode binary value: %w", err)
		}
		return b, nil
	}
	return s, nil
}

// Paginate appends a LIMIT/OFFSET window to query.
func (d Dialect) Paginate(query string, limit, offset int64) string {
	return fmt.Sprintf("%s LIMIT %d OFFSET %d", query, limit, offset)
}

// SelectAll returns a full-table SELECT ordered by orderBy when given.
func (d Dialect) SelectAll(table string, orderBy []string) string {
	q := "SELECT * FROM " + d.QuoteTable(table)
	if len(orderBy) > 0 {
		q += " ORDER BY " + d.QuoteIdents(orderBy)
	}
	return q
}

// RowID names the engine's physical row identifier, the ORDER BY of last
// resort for tables without comparable columns. MySQL exposes none.
func (d Dialect) RowID() (string, bool) {
	switch d.Engine {
	case profile.EnginePostgres:
		return "ctid", true
	case profile.EngineSQLite:
		return "rowid", true
	}
	return "", false
}

// GenerateSelect returns the browse query offered for a table or view.
func (d Dialect) GenerateSelect(table string) string {
	return "SELECT * FROM " + d.QuoteTable(table) + " LIMIT 100"
}

// InsertStatement returns a parameterized INSERT for cols.
func (d Dialect) InsertStatement(table string, cols []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.QuoteTable(table), d.QuoteIdents(cols), d.Placeholders(len(cols)))
}

// InsertLiteral returns an INSERT with row rendered inline.
func (d Dialect) InsertLiteral(table string, cols []string, row Row) string {
	vals := make([]string, len(row))
	for i, v := range row {
		vals[i] = d.Literal(v)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);",
		d.QuoteTable(table), d.QuoteIdents(cols), strings.Join(vals, ", "))
}
