package adapter

import "strings"

var systemDatabases = map[string]bool{
	"information_schema": true,
	"mysql":              true,
	"performance_schema": true,
	"sys":                true,
	"pg_catalog":         true,
	"postgres":           true,
	"template0":          true,
	"template1":          true,
}

// IsSystemDatabase reports whether name is an engine-owned database that
// must not be dropped from the browser.
func IsSystemDatabase(name string) bool {
	return systemDatabases[strings.ToLower(name)]
}
