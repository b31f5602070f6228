package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sadopc/dbridge/internal/schema"
)

// ListPrivileges combines role attributes, per-database rights and, for the
// selected database, table grants and ownership.
func (c *pgConn) ListPrivileges(ctx context.Context) ([]schema.Grant, error) {
	var super, createDB bool
	err := c.each(ctx, "SELECT rolsuper, rolcreatedb FROM pg_roles WHERE rolname = current_user", nil,
		func(rows pgx.Rows) error { return rows.Scan(&super, &createDB) })
	if err != nil {
		return nil, fmt.Errorf("postgres: role attributes: %w", err)
	}

	if super {
		grants := make([]schema.Grant, 0, len(schema.GrantableOperations))
		for _, op := range schema.GrantableOperations {
			grants = append(grants, schema.Grant{Scope: schema.ScopeServer, Operation: op})
		}
		return grants, nil
	}

	var grants []schema.Grant
	if createDB {
		grants = append(grants, schema.Grant{Scope: schema.ScopeServer, Operation: schema.OpCreate})
	}

	err = c.each(ctx, `
		SELECT datname,
		       has_database_privilege(datname, 'CREATE'),
		       pg_get_userbyid(datdba) = current_user
		FROM pg_database
		WHERE datistemplate = false`, nil, func(rows pgx.Rows) error {
		var (
			db             string
			canCreate, own bool
		)
		if err := rows.Scan(&db, &canCreate, &own); err != nil {
			return err
		}
		if canCreate || own {
			grants = append(grants, schema.Grant{Scope: schema.ScopeDatabase, Database: db, Operation: schema.OpCreate})
		}
		if own {
			for _, op := range []schema.Operation{schema.OpDrop, schema.OpAlter} {
				grants = append(grants, schema.Grant{Scope: schema.ScopeDatabase, Database: db, Operation: op})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: database privileges: %w", err)
	}

	db, ok := c.SelectedDatabase()
	if !ok {
		return grants, nil
	}

	err = c.each(ctx, `
		SELECT table_schema, table_name, privilege_type
		FROM information_schema.role_table_grants
		WHERE grantee IN (SELECT role_name FROM information_schema.enabled_roles)
		   OR grantee = 'PUBLIC'`, nil, func(rows pgx.Rows) error {
		var schemaName, table, priv string
		if err := rows.Scan(&schemaName, &table, &priv); err != nil {
			return err
		}
		if op, ok := schema.ParseOperation(priv); ok {
			grants = append(grants, schema.Grant{Scope: schema.ScopeTable, Database: db, Table: qualify(schemaName, table), Operation: op})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: table privileges: %w", err)
	}

	// Owners may drop, alter and index their relations without a grant.
	err = c.each(ctx, `
		SELECT n.nspname, c.relname
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind IN ('r', 'p', 'v', 'm')
		  AND pg_has_role(c.relowner, 'USAGE')
		  AND `+userSchemas, nil, func(rows pgx.Rows) error {
		var schemaName, table string
		if err := rows.Scan(&schemaName, &table); err != nil {
			return err
		}
		for _, op := range []schema.Operation{schema.OpDrop, schema.OpAlter, schema.OpIndex} {
			grants = append(grants, schema.Grant{Scope: schema.ScopeTable, Database: db, Table: qualify(schemaName, table), Operation: op})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: table ownership: %w", err)
	}
	return grants, nil
}
