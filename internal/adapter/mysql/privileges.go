package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sadopc/dbridge/internal/schema"
)

// granteeQuery renders CURRENT_USER() the way information_schema spells
// it: 'user'@'host'.
const granteeQuery = `SELECT CONCAT('''', SUBSTRING_INDEX(CURRENT_USER(), '@', 1), '''@''', SUBSTRING_INDEX(CURRENT_USER(), '@', -1), '''')`

// ListPrivileges reads the current user's grants from information_schema.
// Schema-level grants written with LIKE wildcards are reported with their
// escapes removed and match only the literal name.
func (c *mysqlConn) ListPrivileges(ctx context.Context) ([]schema.Grant, error) {
	who, err := c.Strings(ctx, granteeQuery)
	if err != nil {
		return nil, fmt.Errorf("mysql: current user: %w", err)
	}
	if len(who) == 0 {
		return nil, errors.New("mysql: current user: no row")
	}
	grantee := who[0]

	var grants []schema.Grant

	err = c.Rows(ctx,
		"SELECT PRIVILEGE_TYPE FROM information_schema.USER_PRIVILEGES WHERE GRANTEE = ?",
		[]any{grantee}, func(rows *sql.Rows) error {
			var priv string
			if err := rows.Scan(&priv); err != nil {
				return err
			}
			if op, ok := schema.ParseOperation(priv); ok {
				grants = append(grants, schema.Grant{Scope: schema.ScopeServer, Operation: op})
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("mysql: user privileges: %w", err)
	}

	err = c.Rows(ctx,
		"SELECT TABLE_SCHEMA, PRIVILEGE_TYPE FROM information_schema.SCHEMA_PRIVILEGES WHERE GRANTEE = ?",
		[]any{grantee}, func(rows *sql.Rows) error {
			var db, priv string
			if err := rows.Scan(&db, &priv); err != nil {
				return err
			}
			if op, ok := schema.ParseOperation(priv); ok {
				grants = append(grants, schema.Grant{Scope: schema.ScopeDatabase, Database: unescapeSchema(db), Operation: op})
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("mysql: schema privileges: %w", err)
	}

	err = c.Rows(ctx,
		"SELECT TABLE_SCHEMA, TABLE_NAME, PRIVILEGE_TYPE FROM information_schema.TABLE_PRIVILEGES WHERE GRANTEE = ?",
		[]any{grantee}, func(rows *sql.Rows) error {
			var db, table, priv string
			if err := rows.Scan(&db, &table, &priv); err != nil {
				return err
			}
			if op, ok := schema.ParseOperation(priv); ok {
				grants = append(grants, schema.Grant{Scope: schema.ScopeTable, Database: db, Table: table, Operation: op})
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("mysql: table privileges: %w", err)
	}
	return grants, nil
}

func unescapeSchema(name string) string {
	return strings.NewReplacer(`\_`, "_", `\%`, "%").Replace(name)
}
