package completion

import "github.com/sadopc/dbridge/internal/profile"

// CommonKeywords are SQL keywords shared by every engine.
var CommonKeywords = []string{
	"SELECT", "FROM", "WHERE", "JOIN", "LEFT", "RIGHT", "INNER", "OUTER",
	"FULL", "CROSS", "ON", "AND", "OR", "NOT", "IN", "EXISTS", "BETWEEN",
	"LIKE", "IS", "NULL", "AS", "CASE", "WHEN", "THEN", "ELSE",
	"END", "INSERT", "INTO", "VALUES", "UPDATE", "SET", "DELETE", "CREATE",
	"ALTER", "DROP", "TABLE", "VIEW", "INDEX", "UNIQUE", "PRIMARY", "KEY",
	"FOREIGN", "REFERENCES", "CONSTRAINT", "DEFAULT", "CHECK", "CASCADE",
	"RESTRICT", "GROUP", "BY", "ORDER", "ASC", "DESC", "HAVING", "LIMIT",
	"OFFSET", "DISTINCT", "ALL", "ANY", "SOME", "UNION", "INTERSECT",
	"EXCEPT", "WITH", "RECURSIVE", "BEGIN", "COMMIT",
	"ROLLBACK", "TRANSACTION", "GRANT", "REVOKE", "EXPLAIN", "ANALYZE",
	"TRUNCATE", "IF", "REPLACE", "TEMPORARY",
}

// CommonFunctions are SQL functions shared by every engine.
var CommonFunctions = []string{
	"COUNT", "SUM", "AVG", "MIN", "MAX", "COALESCE", "NULLIF", "CAST",
	"LOWER", "UPPER", "TRIM", "LTRIM", "RTRIM", "LENGTH",
	"SUBSTRING", "REPLACE", "ABS", "ROUND",
	"CURRENT_TIMESTAMP", "CURRENT_DATE", "CURRENT_TIME",
	"ROW_NUMBER", "RANK", "DENSE_RANK", "LAG", "LEAD", "FIRST_VALUE",
	"LAST_VALUE", "NTILE",
}

var engineKeywords = map[profile.Engine][]string{
	profile.EnginePostgres: {
		"ILIKE", "RETURNING", "SERIAL", "BIGSERIAL", "SIMILAR", "LATERAL",
		"MATERIALIZED", "CONCURRENTLY", "TABLESPACE", "SCHEMA", "EXTENSION",
		"SEQUENCE", "OWNED", "NOTIFY", "LISTEN", "COPY", "VACUUM",
	},
	profile.EngineMySQL: {
		"AUTO_INCREMENT", "ENGINE", "CHARSET", "COLLATE", "SHOW", "DESCRIBE",
		"USE", "DATABASES", "TABLES", "COLUMNS", "STATUS", "VARIABLES",
		"PROCESSLIST", "BINARY", "UNSIGNED", "ZEROFILL", "ENUM", "MEDIUMTEXT",
		"LONGTEXT", "TINYINT", "MEDIUMINT",
	},
	profile.EngineSQLite: {
		"PRAGMA", "AUTOINCREMENT", "GLOB", "ATTACH", "DETACH", "REINDEX",
		"INDEXED", "WITHOUT", "ROWID", "STRICT", "VACUUM", "RETURNING",
	},
}

var engineFunctions = map[profile.Engine][]string{
	profile.EnginePostgres: {
		"NOW", "DATE_TRUNC", "EXTRACT", "TO_CHAR", "TO_DATE", "STRING_AGG",
		"ARRAY_AGG", "JSON_AGG", "JSONB_AGG", "BOOL_AND", "BOOL_OR", "CONCAT",
	},
	profile.EngineMySQL: {
		"NOW", "CONCAT", "CONCAT_WS", "GROUP_CONCAT", "DATE_FORMAT", "IFNULL",
		"JSON_EXTRACT", "UNIX_TIMESTAMP", "CEIL", "FLOOR",
	},
	profile.EngineSQLite: {
		"IFNULL", "GROUP_CONCAT", "DATETIME", "DATE", "STRFTIME", "JULIANDAY",
		"INSTR", "PRINTF", "JSON_EXTRACT", "TYPEOF",
	},
}

// KeywordsFor returns CommonKeywords plus the engine's own.
func KeywordsFor(e profile.Engine) []string {
	return append(append([]string(nil), CommonKeywords...), engineKeywords[e]...)
}

// FunctionsFor returns CommonFunctions plus the engine's own.
func FunctionsFor(e profile.Engine) []string {
	return append(append([]string(nil), CommonFunctions...), engineFunctions[e]...)
}
