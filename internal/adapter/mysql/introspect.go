package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sadopc/dbridge/internal/adapter"
	"github.com/sadopc/dbridge/internal/schema"
)

func (c *mysqlConn) ListTables(ctx context.Context) ([]string, error) {
	return c.listObjects(ctx, "BASE TABLE")
}

func (c *mysqlConn) ListViews(ctx context.Context) ([]string, error) {
	return c.listObjects(ctx, "VIEW")
}

func (c *mysqlConn) listObjects(ctx context.Context, tableType string) ([]string, error) {
	db, err := c.requireDatabase()
	if err != nil {
		return nil, fmt.Errorf("mysql: list objects: %w", err)
	}
	names, err := c.Strings(ctx, `
		SELECT TABLE_NAME
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ?
		  AND TABLE_TYPE   = ?
		ORDER BY TABLE_NAME`, db, tableType)
	if err != nil {
		return nil, fmt.Errorf("mysql: list objects: %w", err)
	}
	return names, nil
}

func (c *mysqlConn) ListColumns(ctx context.Context, table string) ([]schema.Column, error) {
	db, err := c.requireDatabase()
	if err != nil {
		return nil, fmt.Errorf("mysql: columns: %w", err)
	}

	const q = `
		SELECT
			c.COLUMN_NAME,
			c.COLUMN_TYPE,
			c.IS_NULLABLE,
			c.COLUMN_DEFAULT,
			CASE WHEN kcu.COLUMN_NAME IS NOT NULL THEN 1 ELSE 0 END AS is_pk
		FROM information_schema.COLUMNS c
		LEFT JOIN information_schema.KEY_COLUMN_USAGE kcu
			ON  kcu.TABLE_SCHEMA    = c.TABLE_SCHEMA
			AND kcu.TABLE_NAME      = c.TABLE_NAME
			AND kcu.COLUMN_NAME     = c.COLUMN_NAME
			AND kcu.CONSTRAINT_NAME = 'PRIMARY'
		WHERE c.TABLE_SCHEMA = ?
		  AND c.TABLE_NAME   = ?
		ORDER BY c.ORDINAL_POSITION`

	var cols []schema.Column
	err = c.Rows(ctx, q, []any{db, table}, func(rows *sql.Rows) error {
		var (
			col      schema.Column
			nullable string
			dflt     sql.NullString
			isPKInt  int
		)
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &dflt, &isPKInt); err != nil {
			return err
		}
		col.Nullable = nullable == "YES"
		col.Default = dflt.String
		col.HasDefault = dflt.Valid
		col.IsPK = isPKInt == 1
		cols = append(cols, col)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mysql: columns: %w", err)
	}
	if len(cols) == 0 {
		return nil, &adapter.NotFoundError{Object: "table", Name: table}
	}
	return cols, nil
}

func (c *mysqlConn) ListIndexes(ctx context.Context, table string) ([]schema.Index, error) {
	db, err := c.requireDatabase()
	if err != nil {
		return nil, fmt.Errorf("mysql: indexes: %w", err)
	}

	const q = `
		SELECT
			INDEX_NAME,
			COLUMN_NAME,
			NON_UNIQUE
		FROM information_schema.STATISTICS
		WHERE TABLE_SCHEMA = ?
		  AND TABLE_NAME   = ?
		ORDER BY INDEX_NAME, SEQ_IN_INDEX`

	indexMap := make(map[string]*schema.Index)
	var order []string

	err = c.Rows(ctx, q, []any{db, table}, func(rows *sql.Rows) error {
		var (
			idxName   string
			colName   sql.NullString
			nonUnique int
		)
		if err := rows.Scan(&idxName, &colName, &nonUnique); err != nil {
			return err
		}
		idx, ok := indexMap[idxName]
		if !ok {
			idx = &schema.Index{
				Name:    idxName,
				Unique:  nonUnique == 0,
				Primary: idxName == "PRIMARY",
			}
			indexMap[idxName] = idx
			order = append(order, idxName)
		}
		idx.Columns = append(idx.Columns, colName.String)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mysql: indexes: %w", err)
	}

	indexes := make([]schema.Index, 0, len(order))
	for _, name := range order {
		indexes = append(indexes, *indexMap[name])
	}
	return indexes, nil
}

func (c *mysqlConn) ListForeignKeys(ctx context.Context, table string) ([]schema.ForeignKey, error) {
	db, err := c.requireDatabase()
	if err != nil {
		return nil, fmt.Errorf("mysql: foreign keys: %w", err)
	}

	const q = `
		SELECT
			kcu.CONSTRAINT_NAME,
			kcu.COLUMN_NAME,
			kcu.REFERENCED_TABLE_NAME,
			kcu.REFERENCED_COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE kcu
		JOIN information_schema.REFERENTIAL_CONSTRAINTS rc
			ON  rc.CONSTRAINT_SCHEMA = kcu.CONSTRAINT_SCHEMA
			AND rc.CONSTRAINT_NAME   = kcu.CONSTRAINT_NAME
		WHERE kcu.TABLE_SCHEMA          = ?
		  AND kcu.TABLE_NAME            = ?
		  AND kcu.REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY kcu.CONSTRAINT_NAME, kcu.ORDINAL_POSITION`

	fkMap := make(map[string]*schema.ForeignKey)
	var order []string

	err = c.Rows(ctx, q, []any{db, table}, func(rows *sql.Rows) error {
		var fkName, colName, refTable, refCol string
		if err := rows.Scan(&fkName, &colName, &refTable, &refCol); err != nil {
			return err
		}
		fk, ok := fkMap[fkName]
		if !ok {
			fk = &schema.ForeignKey{Name: fkName, RefTable: refTable}
			fkMap[fkName] = fk
			order = append(order, fkName)
		}
		fk.Columns = append(fk.Columns, colName)
		fk.RefColumns = append(fk.RefColumns, refCol)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mysql: foreign keys: %w", err)
	}

	fks := make([]schema.ForeignKey, 0, len(order))
	for _, name := range order {
		fks = append(fks, *fkMap[name])
	}
	return fks, nil
}

// ViewDefinition returns the SHOW CREATE VIEW statement.
func (c *mysqlConn) ViewDefinition(ctx context.Context, view string) (string, error) {
	if _, err := c.requireDatabase(); err != nil {
		return "", fmt.Errorf("mysql: view definition: %w", err)
	}
	var def string
	err := c.Rows(ctx, "SHOW CREATE VIEW "+c.Dialect().QuoteIdent(view), nil, func(rows *sql.Rows) error {
		var name, charset, collation string
		return rows.Scan(&name, &def, &charset, &collation)
	})
	if err != nil {
		if isErrNumber(err, errNoSuchTable) {
			return "", &adapter.NotFoundError{Object: "view", Name: view}
		}
		return "", fmt.Errorf("mysql: view definition: %w", err)
	}
	return def, nil
}

// TableDDL returns SHOW CREATE TABLE, which already carries the indexes.
func (c *mysqlConn) TableDDL(ctx context.Context, table string) ([]string, error) {
	if _, err := c.requireDatabase(); err != nil {
		return nil, fmt.Errorf("mysql: table ddl: %w", err)
	}
	var ddl string
	err := c.Rows(ctx, "SHOW CREATE TABLE "+c.Dialect().QuoteIdent(table), nil, func(rows *sql.Rows) error {
		var name string
		return rows.Scan(&name, &ddl)
	})
	if err != nil {
		if isErrNumber(err, errNoSuchTable) {
			return nil, &adapter.NotFoundError{Object: "table", Name: table}
		}
		return nil, fmt.Errorf("mysql: table ddl: %w", err)
	}
	return []string{ddl}, nil
}
