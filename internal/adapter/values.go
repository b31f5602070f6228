package adapter

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AffinityOf maps a declared column type to the kind its values normalize
// to. Exact numerics stay text so they round-trip without loss.
func AffinityOf(declaredType string) ValueKind {
	t := strings.ToUpper(declaredType)
	switch {
	case t == "":
		return KindNull
	case strings.Contains(t, "BOOL"):
		return KindBoolean
	case strings.Contains(t, "INTERVAL"), strings.Contains(t, "POINT"):
		return KindText
	case strings.Contains(t, "INT"), t == "SERIAL", t == "BIGSERIAL", t == "SMALLSERIAL", t == "YEAR":
		return KindInteger
	case strings.Contains(t, "DEC"), strings.Contains(t, "NUMERIC"), strings.Contains(t, "MONEY"):
		return KindText
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return KindReal
	case strings.Contains(t, "BLOB"), strings.Contains(t, "BINARY"), strings.Contains(t, "BYTEA"), t == "BIT":
		return KindBinary
	}
	return KindText
}

// NormalizeValue converts a driver value into the closed scalar set used by
// Row, guided by the declared column type.
func NormalizeValue(v any, declaredType string) any {
	aff := AffinityOf(declaredType)
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		// Untyped expression columns only carry []byte for real blobs.
		if aff == KindBinary || aff == KindNull {
			out := make([]byte, len(val))
			copy(out, val)
			return out
		}
		return normalizeText(string(val), aff)
	case string:
		return normalizeText(val, aff)
	case int64:
		return normalizeInt(val, aff)
	case int32:
		return normalizeInt(int64(val), aff)
	case int16:
		return normalizeInt(int64(val), aff)
	case int8:
		return normalizeInt(int64(val), aff)
	case int:
		return normalizeInt(int64(val), aff)
	case uint64:
		if val > 1<<63-1 {
			return strconv.FormatUint(val, 10)
		}
		return normalizeInt(int64(val), aff)
	case uint32:
		return normalizeInt(int64(val), aff)
	case float64:
		return val
	case float32:
		return float64(val)
	case bool:
		return val
	case time.Time:
		return FormatTime(val, declaredType)
	default:
		return fmt.Sprint(val)
	}
}

func normalizeText(s string, aff ValueKind) any {
	switch aff {
	case KindInteger:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case KindReal:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case KindBoolean:
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return s
}

func normalizeInt(n int64, aff ValueKind) any {
	switch aff {
	case KindBoolean:
		return n != 0
	case KindReal:
		return float64(n)
	}
	return n
}

// FormatTime renders t the way the engines accept it back as a literal.
// DATE columns drop the clock; zones other than UTC keep their offset.
func FormatTime(t time.Time, declaredType string) string {
	if strings.EqualFold(declaredType, "DATE") {
		return t.Format("2006-01-02")
	}
	s := t.Format("2006-01-02 15:04:05.999999999")
	if t.Location() != time.UTC {
		s += t.Format("-07:00")
	}
	return s
}

// ScanRows drains rows into a QueryResult body. It is shared by the
// database/sql based adapters.
func ScanRows(rows *sql.Rows) ([]ColumnMeta, []Row, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, err
	}
	cols := make([]ColumnMeta, len(colTypes))
	for i, ct := range colTypes {
		nullable, _ := ct.Nullable()
		cols[i] = ColumnMeta{
			Name:     ct.Name(),
			Type:     ct.DatabaseTypeName(),
			Nullable: nullable,
		}
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make(Row, len(cols))
		for i, v := range vals {
			row[i] = NormalizeValue(v, cols[i].Type)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return cols, out, nil
}
