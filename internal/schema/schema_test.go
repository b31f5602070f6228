package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrimaryKey(t *testing.T) {
	cols := []Column{
		{Name: "tenant", IsPK: true},
		{Name: "id", IsPK: true},
		{Name: "name"},
	}
	assert.Equal(t, []string{"tenant", "id"}, PrimaryKey(cols))
	assert.Equal(t, []string{"tenant", "id", "name"}, ColumnNames(cols))
	assert.Nil(t, PrimaryKey(cols[2:]))
}

func TestParseOperation(t *testing.T) {
	op, ok := ParseOperation("select")
	assert.True(t, ok)
	assert.Equal(t, OpSelect, op)

	op, ok = ParseOperation("TRUNCATE")
	assert.True(t, ok)
	assert.Equal(t, OpDelete, op)

	_, ok = ParseOperation("REFERENCES")
	assert.False(t, ok)
}

func TestOpSet(t *testing.T) {
	s := NewOpSet(OpSelect, OpDrop)
	assert.True(t, s.Has(OpSelect))
	assert.False(t, s.Has(OpAlter))

	c := s.Clone()
	c.Add(OpAlter)
	assert.False(t, s.Has(OpAlter))
	assert.Equal(t, []Operation{OpAlter, OpDrop, OpSelect}, c.Sorted())
}

func TestScopeString(t *testing.T) {
	assert.Equal(t, "server", ScopeServer.String())
	assert.Equal(t, "database", ScopeDatabase.String())
	assert.Equal(t, "table", ScopeTable.String())
}
