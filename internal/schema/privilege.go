package schema

import (
	"sort"
	"strings"
)

// Operation is a structural or data action whose permission is evaluated
// per node.
type Operation string

const (
	OpSelect Operation = "select"
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpCreate Operation = "create"
	OpDrop   Operation = "drop"
	OpAlter  Operation = "alter"
	OpIndex  Operation = "index"

	// Derived capabilities; never granted directly by an engine.
	OpImport Operation = "import"
	OpExport Operation = "export"
)

// GrantableOperations are the operations engines report privileges for.
var GrantableOperations = []Operation{
	OpSelect, OpInsert, OpUpdate, OpDelete, OpCreate, OpDrop, OpAlter, OpIndex,
}

// ParseOperation maps an engine privilege keyword to an Operation.
func ParseOperation(s string) (Operation, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SELECT":
		return OpSelect, true
	case "INSERT":
		return OpInsert, true
	case "UPDATE":
		return OpUpdate, true
	case "DELETE", "TRUNCATE":
		return OpDelete, true
	case "CREATE":
		return OpCreate, true
	case "DROP":
		return OpDrop, true
	case "ALTER":
		return OpAlter, true
	case "INDEX":
		return OpIndex, true
	}
	return "", false
}

// Scope is the breadth of a privilege grant.
type Scope int

const (
	ScopeServer Scope = iota
	ScopeDatabase
	ScopeTable
)

func (s Scope) String() string {
	switch s {
	case ScopeDatabase:
		return "database"
	case ScopeTable:
		return "table"
	default:
		return "server"
	}
}

// Grant is one privilege held by the connected user. Database is empty for
// server scope; Table is set only for table scope.
type Grant struct {
	Scope     Scope
	Database  string
	Table     string
	Operation Operation
}

// OpSet is a set of operations.
type OpSet map[Operation]struct{}

// NewOpSet builds a set from ops.
func NewOpSet(ops ...Operation) OpSet {
	s := make(OpSet, len(ops))
	for _, op := range ops {
		s[op] = struct{}{}
	}
	return s
}

// Has reports whether op is in the set.
func (s OpSet) Has(op Operation) bool {
	_, ok := s[op]
	return ok
}

// Add inserts op.
func (s OpSet) Add(op Operation) { s[op] = struct{}{} }

// Sorted returns the operations in lexical order.
func (s OpSet) Sorted() []Operation {
	out := make([]Operation, 0, len(s))
	for op := range s {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns an independent copy.
func (s OpSet) Clone() OpSet {
	out := make(OpSet, len(s))
	for op := range s {
		out[op] = struct{}{}
	}
	return out
}
