// Package schema holds the engine-neutral descriptors that adapters return
// from introspection.
package schema

// Column describes one table or view column.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Default  string
	// HasDefault distinguishes an empty-string default from no default.
	HasDefault bool
	IsPK       bool
}

// Index describes a table index.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
	Primary bool
}

// ForeignKey describes a foreign key constraint.
type ForeignKey struct {
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string
}

// PrimaryKey returns the primary key column names in declaration order.
func PrimaryKey(cols []Column) []string {
	var pk []string
	for _, c := range cols {
		if c.IsPK {
			pk = append(pk, c.Name)
		}
	}
	return pk
}

// ColumnNames returns the names of cols.
func ColumnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}
