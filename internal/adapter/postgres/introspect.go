package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/sadopc/dbridge/internal/adapter"
	"github.com/sadopc/dbridge/internal/schema"
)

// userSchemas excludes catalog and temp/toast namespaces.
const userSchemas = `
	n.nspname NOT IN ('pg_catalog', 'information_schema')
	AND n.nspname NOT LIKE 'pg_toast%'
	AND n.nspname NOT LIKE 'pg_temp%'`

// qualifiedName is how tables are named outside the public schema.
const qualifiedName = `CASE WHEN n.nspname = 'public' THEN c.relname ELSE n.nspname || '.' || c.relname END`

// splitName is the inverse of qualifiedName.
func splitName(name string) (schemaName, table string) {
	if s, t, ok := strings.Cut(name, "."); ok {
		return s, t
	}
	return "public", name
}

func qualify(schemaName, table string) string {
	if schemaName == "public" {
		return table
	}
	return schemaName + "." + table
}

func (c *pgConn) ListTables(ctx context.Context) ([]string, error) {
	return c.listRelations(ctx, "'r', 'p'")
}

func (c *pgConn) ListViews(ctx context.Context) ([]string, error) {
	return c.listRelations(ctx, "'v', 'm'")
}

func (c *pgConn) listRelations(ctx context.Context, kinds string) ([]string, error) {
	if _, err := c.requireDatabase(); err != nil {
		return nil, fmt.Errorf("postgres: list relations: %w", err)
	}
	names, err := c.strings(ctx, `
		SELECT `+qualifiedName+`
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind IN (`+kinds+`)
		  AND NOT c.relispartition
		  AND `+userSchemas+`
		ORDER BY n.nspname <> 'public', n.nspname, c.relname`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list relations: %w", err)
	}
	return names, nil
}

func (c *pgConn) ListColumns(ctx context.Context, table string) ([]schema.Column, error) {
	if _, err := c.requireDatabase(); err != nil {
		return nil, fmt.Errorf("postgres: columns: %w", err)
	}
	schemaName, rel := splitName(table)

	const q = `
		SELECT
			a.attname,
			format_type(a.atttypid, a.atttypmod),
			NOT a.attnotnull,
			pg_get_expr(d.adbin, d.adrelid),
			COALESCE(i.indisprimary, false)
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		LEFT JOIN pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
		LEFT JOIN pg_index i ON i.indrelid = c.oid AND i.indisprimary AND a.attnum = ANY(i.indkey)
		WHERE n.nspname = $1
		  AND c.relname = $2
		  AND a.attnum > 0
		  AND NOT a.attisdropped
		ORDER BY a.attnum`

	var cols []schema.Column
	err := c.each(ctx, q, []any{schemaName, rel}, func(rows pgx.Rows) error {
		var (
			col  schema.Column
			dflt *string
		)
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &dflt, &col.IsPK); err != nil {
			return err
		}
		if dflt != nil {
			col.Default = *dflt
			col.HasDefault = true
		}
		cols = append(cols, col)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: columns: %w", err)
	}
	if len(cols) == 0 {
		return nil, &adapter.NotFoundError{Object: "table", Name: table}
	}
	return cols, nil
}

func (c *pgConn) ListIndexes(ctx context.Context, table string) ([]schema.Index, error) {
	if _, err := c.requireDatabase(); err != nil {
		return nil, fmt.Errorf("postgres: indexes: %w", err)
	}
	schemaName, rel := splitName(table)

	const q = `
		SELECT ic.relname, ix.indisunique, ix.indisprimary, a.attname
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class ic ON ic.oid = ix.indexrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN LATERAL unnest(ix.indkey::int2[]) WITH ORDINALITY AS k(attnum, ord) ON true
		LEFT JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		WHERE n.nspname = $1
		  AND t.relname = $2
		ORDER BY ic.relname, k.ord`

	indexMap := make(map[string]*schema.Index)
	var order []string
	err := c.each(ctx, q, []any{schemaName, rel}, func(rows pgx.Rows) error {
		var (
			name    string
			unique  bool
			primary bool
			col     *string
		)
		if err := rows.Scan(&name, &unique, &primary, &col); err != nil {
			return err
		}
		idx, ok := indexMap[name]
		if !ok {
			idx = &schema.Index{Name: name, Unique: unique, Primary: primary}
			indexMap[name] = idx
			order = append(order, name)
		}
		if col != nil {
			idx.Columns = append(idx.Columns, *col)
		} else {
			idx.Columns = append(idx.Columns, "<expr>")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: indexes: %w", err)
	}

	indexes := make([]schema.Index, 0, len(order))
	for _, name := range order {
		indexes = append(indexes, *indexMap[name])
	}
	return indexes, nil
}

func (c *pgConn) ListForeignKeys(ctx context.Context, table string) ([]schema.ForeignKey, error) {
	if _, err := c.requireDatabase(); err != nil {
		return nil, fmt.Errorf("postgres: foreign keys: %w", err)
	}
	schemaName, rel := splitName(table)

	const q = `
		SELECT con.conname, a.attname, rn.nspname, rt.relname, ra.attname
		FROM pg_constraint con
		JOIN pg_class t ON t.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_class rt ON rt.oid = con.confrelid
		JOIN pg_namespace rn ON rn.oid = rt.relnamespace
		JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(attnum, refnum, ord) ON true
		JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
		JOIN pg_attribute ra ON ra.attrelid = con.confrelid AND ra.attnum = k.refnum
		WHERE con.contype = 'f'
		  AND n.nspname = $1
		  AND t.relname = $2
		ORDER BY con.conname, k.ord`

	fkMap := make(map[string]*schema.ForeignKey)
	var order []string
	err := c.each(ctx, q, []any{schemaName, rel}, func(rows pgx.Rows) error {
		var name, col, refSchema, refTable, refCol string
		if err := rows.Scan(&name, &col, &refSchema, &refTable, &refCol); err != nil {
			return err
		}
		fk, ok := fkMap[name]
		if !ok {
			fk = &schema.ForeignKey{Name: name, RefTable: qualify(refSchema, refTable)}
			fkMap[name] = fk
			order = append(order, name)
		}
		fk.Columns = append(fk.Columns, col)
		fk.RefColumns = append(fk.RefColumns, refCol)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: foreign keys: %w", err)
	}

	fks := make([]schema.ForeignKey, 0, len(order))
	for _, name := range order {
		fks = append(fks, *fkMap[name])
	}
	return fks, nil
}

// ViewDefinition renders a CREATE VIEW statement from pg_get_viewdef.
func (c *pgConn) ViewDefinition(ctx context.Context, view string) (string, error) {
	if _, err := c.requireDatabase(); err != nil {
		return "", fmt.Errorf("postgres: view definition: %w", err)
	}
	schemaName, rel := splitName(view)
	defs, err := c.strings(ctx, `
		SELECT pg_get_viewdef(c.oid, true)
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind IN ('v', 'm') AND n.nspname = $1 AND c.relname = $2`, schemaName, rel)
	if err != nil {
		return "", fmt.Errorf("postgres: view definition: %w", err)
	}
	if len(defs) == 0 {
		return "", &adapter.NotFoundError{Object: "view", Name: view}
	}
	return "CREATE VIEW " + c.Dialect().QuoteTable(view) + " AS\n" + strings.TrimSpace(defs[0]), nil
}

// TableDDL rebuilds CREATE TABLE from the catalog, followed by the
// definitions of every non-primary index.
func (c *pgConn) TableDDL(ctx context.Context, table string) ([]string, error) {
	cols, err := c.ListColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	schemaName, rel := splitName(table)
	indexDefs, err := c.strings(ctx, `
		SELECT pg_get_indexdef(ix.indexrelid)
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE NOT ix.indisprimary AND n.nspname = $1 AND t.relname = $2
		ORDER BY 1`, schemaName, rel)
	if err != nil {
		return nil, fmt.Errorf("postgres: table ddl: %w", err)
	}
	return append([]string{buildCreateTable(c.Dialect(), table, cols)}, indexDefs...), nil
}

// buildCreateTable renders cols as CREATE TABLE. Sequence-backed integer
// defaults become serial types so the statement runs on a fresh database.
func buildCreateTable(d adapter.Dialect, table string, cols []schema.Column) string {
	lines := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		typ := col.Type
		dflt := col.Default
		hasDefault := col.HasDefault
		if hasDefault && strings.HasPrefix(dflt, "nextval(") {
			if serial, ok := serialTypes[typ]; ok {
				typ = serial
				hasDefault = false
			}
		}
		line := "  " + d.QuoteIdent(col.Name) + " " + typ
		if !col.Nullable {
			line += " NOT NULL"
		}
		if hasDefault {
			line += " DEFAULT " + dflt
		}
		lines = append(lines, line)
	}
	if pk := schema.PrimaryKey(cols); len(pk) > 0 {
		lines = append(lines, "  PRIMARY KEY ("+d.QuoteIdents(pk)+")")
	}
	return "CREATE TABLE " + d.QuoteTable(table) + " (\n" + strings.Join(lines, ",\n") + "\n)"
}

var serialTypes = map[string]string{
	"smallint": "smallserial",
	"integer":  "serial",
	"bigint":   "bigserial",
}
