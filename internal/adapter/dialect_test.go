package adapter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadopc/dbridge/internal/profile"
	"github.com/sadopc/dbridge/internal/schema"
)

var (
	my = DialectFor(profile.EngineMySQL)
	pg = DialectFor(profile.EnginePostgres)
	lt = DialectFor(profile.EngineSQLite)
)

func TestQuoting(t *testing.T) {
	assert.Equal(t, "`we``ird`", my.QuoteIdent("we`ird"))
	assert.Equal(t, `"we""ird"`, pg.QuoteIdent(`we"ird`))
	assert.Equal(t, `"sales"."orders"`, pg.QuoteTable("sales.orders"))
	assert.Equal(t, `"a.b"`, lt.QuoteTable("a.b"))
	assert.Equal(t, "$1, $2, $3", pg.Placeholders(3))
	assert.Equal(t, "?, ?", my.Placeholders(2))
}

func TestLiteral(t *testing.T) {
	tests := []struct {
		d    Dialect
		v    any
		want string
	}{
		{my, nil, "NULL"},
		{my, true, "1"},
		{pg, false, "FALSE"},
		{lt, int64(-7), "-7"},
		{lt, 0.1, "0.1"},
		{pg, math.Inf(1), "'+Inf'"},
		{my, math.NaN(), "NULL"},
		{my, []byte{0xde, 0xad}, "X'dead'"},
		{pg, []byte{0xde, 0xad}, `'\xdead'::bytea`},
		{my, `it's a \ path`, `'it''s a \\ path'`},
		{pg, `it's a \ path`, `'it''s a \ path'`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.d.Literal(tt.v), "%s %#v", tt.d.Engine, tt.v)
	}
}

func TestEncodeDecodeText(t *testing.T) {
	assert.Equal(t, NullText, lt.EncodeText(nil))
	assert.Equal(t, `\x00ff`, lt.EncodeText([]byte{0, 0xff}))
	assert.Equal(t, "true", pg.EncodeText(true))
	assert.Equal(t, "0", my.EncodeText(false))

	v, err := lt.DecodeText(NullText, "TEXT")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = lt.DecodeText(`\x00ff`, "BLOB")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0xff}, v)

	v, err = lt.DecodeText(`\x00ff`, "TEXT")
	require.NoError(t, err)
	assert.Equal(t, `\x00ff`, v)

	_, err = pg.DecodeText(`\xzz`, "bytea")
	assert.Error(t, err)
}

func TestStatements(t *testing.T) {
	assert.Equal(t, `SELECT * FROM "t" ORDER BY "a", "b" LIMIT 10 OFFSET 20`,
		lt.Paginate(lt.SelectAll("t", []string{"a", "b"}), 10, 20))
	assert.Equal(t, "SELECT * FROM `t` LIMIT 100", my.GenerateSelect("t"))
	assert.Equal(t, `INSERT INTO "t" ("a", "b") VALUES ($1, $2)`, pg.InsertStatement("t", []string{"a", "b"}))
	assert.Equal(t, `INSERT INTO "t" ("a", "b") VALUES (1, NULL);`,
		lt.InsertLiteral("t", []string{"a", "b"}, Row{int64(1), nil}))
}

func TestDDL(t *testing.T) {
	def := TableDef{
		Name: "users",
		Columns: []ColumnDef{
			{Name: "id", Type: "INTEGER", PrimaryKey: true, AutoIncrement: true},
			{Name: "name", Type: "TEXT", Nullable: true, HasDefault: true, Default: "'anon'"},
		},
	}

	got, err := lt.CreateTable(def)
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE \"users\" (\n  \"id\" INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,\n  \"name\" TEXT DEFAULT 'anon'\n)", got)

	got, err = my.CreateTable(def)
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE `users` (\n  `id` INTEGER NOT NULL AUTO_INCREMENT,\n  `name` TEXT DEFAULT 'anon',\n  PRIMARY KEY (`id`)\n)", got)

	_, err = pg.CreateTable(TableDef{Name: "empty"})
	assert.Error(t, err)

	_, err = lt.CreateDatabase("x")
	assert.ErrorIs(t, err, ErrUnsupported)
	stmt, err := pg.DropDatabase("shop")
	require.NoError(t, err)
	assert.Equal(t, `DROP DATABASE "shop"`, stmt)

	assert.Equal(t, "DROP TABLE IF EXISTS `t`", my.DropTable("t", true))
	assert.Equal(t, `DROP VIEW "v"`, pg.DropView("v", false))
	assert.Equal(t, `ALTER TABLE "t" ADD COLUMN "c" int NOT NULL`, pg.AddColumn("t", ColumnDef{Name: "c", Type: "int"}))
	assert.Equal(t, "ALTER TABLE `t` DROP COLUMN `c`", my.DropColumn("t", "c"))

	idx, err := lt.CreateIndex("t", schema.Index{Name: "ix", Columns: []string{"a"}, Unique: true})
	require.NoError(t, err)
	assert.Equal(t, `CREATE UNIQUE INDEX "ix" ON "t" ("a")`, idx)
	_, err = lt.CreateIndex("t", schema.Index{Name: "ix"})
	assert.Error(t, err)

	assert.Equal(t, "DROP INDEX `ix` ON `t`", my.DropIndex("t", "ix"))
	assert.Equal(t, `DROP INDEX "sales"."ix"`, pg.DropIndex("sales.orders", "ix"))
	assert.Equal(t, `DROP INDEX "ix"`, lt.DropIndex("t", "ix"))
}

func TestRowID(t *testing.T) {
	id, ok := pg.RowID()
	assert.True(t, ok)
	assert.Equal(t, "ctid", id)

	id, ok = lt.RowID()
	assert.True(t, ok)
	assert.Equal(t, "rowid", id)

	_, ok = my.RowID()
	assert.False(t, ok)
}
