package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAffinityOf(t *testing.T) {
	tests := map[string]ValueKind{
		"INTEGER":   KindInteger,
		"bigint":    KindInteger,
		"int4":      KindInteger,
		"POINT":     KindText,
		"INTERVAL":  KindText,
		"DECIMAL":   KindText,
		"numeric":   KindText,
		"DOUBLE":    KindReal,
		"float8":    KindReal,
		"REAL":      KindReal,
		"BLOB":      KindBinary,
		"VARBINARY": KindBinary,
		"bytea":     KindBinary,
		"BOOLEAN":   KindBoolean,
		"VARCHAR":   KindText,
		"TIMESTAMP": KindText,
		"":          KindNull,
		"TEXT":      KindText,
	}
	for typ, want := range tests {
		assert.Equal(t, want, AffinityOf(typ), typ)
	}
}

func TestNormalizeValue(t *testing.T) {
	assert.Nil(t, NormalizeValue(nil, "INT"))
	assert.Equal(t, int64(42), NormalizeValue([]byte("42"), "BIGINT"))
	assert.Equal(t, "12.50", NormalizeValue([]byte("12.50"), "DECIMAL"))
	assert.Equal(t, 1.5, NormalizeValue([]byte("1.5"), "DOUBLE"))
	assert.Equal(t, "hello", NormalizeValue([]byte("hello"), "VARCHAR"))
	assert.Equal(t, []byte{1, 2}, NormalizeValue([]byte{1, 2}, "BLOB"))
	assert.Equal(t, []byte{1, 2}, NormalizeValue([]byte{1, 2}, ""))
	assert.Equal(t, true, NormalizeValue(int64(1), "BOOLEAN"))
	assert.Equal(t, int64(7), NormalizeValue(int32(7), "int4"))
	assert.Equal(t, float64(2), NormalizeValue(int64(2), "REAL"))
	assert.Equal(t, float64(float32(0.5)), NormalizeValue(float32(0.5), "float4"))
	assert.Equal(t, "18446744073709551615", NormalizeValue(uint64(1<<64-1), "BIGINT UNSIGNED"))

	buf := []byte("x")
	out := NormalizeValue(buf, "BLOB").([]byte)
	buf[0] = 'y'
	assert.Equal(t, []byte("x"), out)
}

func TestFormatTime(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 6, 500000000, time.UTC)
	assert.Equal(t, "2024-03-09 14:05:06.5", FormatTime(ts, "DATETIME"))
	assert.Equal(t, "2024-03-09", FormatTime(ts, "DATE"))

	zoned := time.Date(2024, 3, 9, 14, 5, 6, 0, time.FixedZone("x", 2*3600))
	assert.Equal(t, "2024-03-09 14:05:06+02:00", FormatTime(zoned, "timestamptz"))
}
