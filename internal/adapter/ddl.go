package adapter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sadopc/dbridge/internal/profile"
	"github.com/sadopc/dbridge/internal/schema"
)

// ColumnDef describes a column to create.
type ColumnDef struct {
	Name          string
	Type          string
	Nullable      bool
	Default       string // SQL expression, used when HasDefault is set
	HasDefault    bool
	PrimaryKey    bool
	AutoIncrement bool
}

// TableDef describes a table to create.
type TableDef struct {
	Name    string
	Columns []ColumnDef
}

// CreateDatabase returns the statement creating database name.
func (d Dialect) CreateDatabase(name string) (string, error) {
	if d.Engine == profile.EngineSQLite {
		return "", fmt.Errorf("create database: %w", ErrUnsupported)
	}
	return "CREATE DATABASE " + d.QuoteIdent(name), nil
}

// DropDatabase returns the statement dropping database name.
func (d Dialect) DropDatabase(name string) (string, error) {
	if d.Engine == profile.EngineSQLite {
		return "", fmt.Errorf("drop database: %w", ErrUnsupported)
	}
	return "DROP DATABASE " + d.QuoteIdent(name), nil
}

// CreateTable renders def.
func (d Dialect) CreateTable(def TableDef) (string, error) {
	if def.Name == "" {
		return "", errors.New("create table: name is required")
	}
	if len(def.Columns) == 0 {
		return "", errors.New("create table: at least one column is required")
	}

	var pk []string
	for _, c := range def.Columns {
		if c.PrimaryKey {
			pk = append(pk, c.Name)
		}
	}
	// SQLite only honours AUTOINCREMENT on an inline single-column key.
	inlinePK := d.Engine == profile.EngineSQLite && len(pk) == 1

	lines := make([]string, 0, len(def.Columns)+1)
	for _, c := range def.Columns {
		if c.Name == "" || c.Type == "" {
			return "", errors.New("create table: every column needs a name and a type")
		}
		line := d.columnDef(c)
		if inlinePK && c.PrimaryKey {
			line += " PRIMARY KEY"
			if c.AutoIncrement {
				line += " AUTOINCREMENT"
			}
		}
		lines = append(lines, "  "+line)
	}
	if len(pk) > 0 && !inlinePK {
		lines = append(lines, "  PRIMARY KEY ("+d.QuoteIdents(pk)+")")
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", d.QuoteTable(def.Name), strings.Join(lines, ",\n")), nil
}

func (d Dialect) columnDef(c ColumnDef) string {
	var b strings.Builder
	b.WriteString(d.QuoteIdent(c.Name))
	b.WriteByte(' ')
	b.WriteString(c.Type)
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if c.AutoIncrement {
		switch d.Engine {
		case profile.EngineMySQL:
			b.WriteString(" AUTO_INCREMENT")
		case profile.EnginePostgres:
			b.WriteString(" GENERATED BY DEFAULT AS IDENTITY")
		}
	}
	if c.HasDefault {
		b.WriteString(" DEFAULT ")
		b.WriteString(c.Default)
	}
	return b.String()
}

// DropTable returns the statement dropping table.
func (d Dialect) DropTable(table string, ifExists bool) string {
	if ifExists {
		return "DROP TABLE IF EXISTS " + d.QuoteTable(table)
	}
	return "DROP TABLE " + d.QuoteTable(table)
}

// DropView returns the statement dropping view.
func (d Dialect) DropView(view string, ifExists bool) string {
	if ifExists {
		return "DROP VIEW IF EXISTS " + d.QuoteTable(view)
	}
	return "DROP VIEW " + d.QuoteTable(view)
}

// AddColumn returns the statement adding col to table.
func (d Dialect) AddColumn(table string, col ColumnDef) string {
	return "ALTER TABLE " + d.QuoteTable(table) + " ADD COLUMN " + d.columnDef(col)
}

// DropColumn returns the statement removing column from table.
func (d Dialect) DropColumn(table, column string) string {
	return "ALTER TABLE " + d.QuoteTable(table) + " DROP COLUMN " + d.QuoteIdent(column)
}

// CreateIndex returns the statement creating idx on table.
func (d Dialect) CreateIndex(table string, idx schema.Index) (string, error) {
	if idx.Name == "" || len(idx.Columns) == 0 {
		return "", errors.New("create index: name and columns are required")
	}
	kw := "CREATE INDEX "
	if idx.Unique {
		kw = "CREATE UNIQUE INDEX "
	}
	return kw + d.QuoteIdent(idx.Name) + " ON " + d.QuoteTable(table) + " (" + d.QuoteIdents(idx.Columns) + ")", nil
}

// DropIndex returns the statement dropping index from table. MySQL scopes
// index names to the table; the other engines scope them to the schema.
func (d Dialect) DropIndex(table, index string) string {
	switch d.Engine {
	case profile.EngineMySQL:
		return "DROP INDEX " + d.QuoteIdent(index) + " ON " + d.QuoteTable(table)
	case profile.EnginePostgres:
		if schemaName, _, ok := strings.Cut(table, "."); ok {
			return "DROP INDEX " + d.QuoteIdent(schemaName) + "." + d.QuoteIdent(index)
		}
	}
	return "DROP INDEX " + d.QuoteIdent(index)
}
