// Package permission reports which structural operations the connected user
// may perform on each node of the metadata tree. It only reports; the engine
// remains the enforcer.
package permission

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sadopc/dbridge/internal/adapter"
	"github.com/sadopc/dbridge/internal/profile"
	"github.com/sadopc/dbridge/internal/schema"
)

// Kind is the kind of node a capability set is computed for.
type Kind int

const (
	KindDatabase Kind = iota
	KindTable
	KindView
	KindColumn
	KindIndex
)

func (k Kind) String() string {
	switch k {
	case KindDatabase:
		return "database"
	case KindTable:
		return "table"
	case KindView:
		return "view"
	case KindColumn:
		return "column"
	case KindIndex:
		return "index"
	}
	return "unknown"
}

// Target identifies a node. Table holds the owning table for columns and
// indexes, or the view name for views.
type Target struct {
	Kind     Kind
	Database string
	Table    string
	// System marks engine-owned databases.
	System bool
	// Relations lists the tables and views of a loaded database. When it is
	// non-nil, whole-database import and export may be authorized by table
	// grants covering every relation.
	Relations []string
}

// structural lists what is meaningful per node kind, regardless of grants.
var structural = map[Kind][]schema.Operation{
	KindDatabase: {schema.OpCreate, schema.OpDrop, schema.OpSelect, schema.OpImport, schema.OpExport},
	KindTable: {
		schema.OpSelect, schema.OpInsert, schema.OpUpdate, schema.OpDelete,
		schema.OpDrop, schema.OpAlter, schema.OpIndex, schema.OpImport, schema.OpExport,
	},
	KindView:   {schema.OpSelect, schema.OpDrop, schema.OpExport},
	KindColumn: {schema.OpSelect, schema.OpAlter, schema.OpDrop},
	KindIndex:  {schema.OpDrop},
}

// Source is anything that can list the current user's privileges.
type Source interface {
	ListPrivileges(ctx context.Context) ([]schema.Grant, error)
}

type key struct {
	scope    schema.Scope
	database string
	table    string
	op       schema.Operation
}

// Resolver answers permission questions from one privilege snapshot.
type Resolver struct {
	engine   profile.Engine
	grants   map[key]struct{}
	degraded error
}

// New builds a resolver over grants.
func New(engine profile.Engine, grants []schema.Grant) *Resolver {
	r := &Resolver{engine: engine, grants: make(map[key]struct{}, len(grants))}
	for _, g := range grants {
		k := key{scope: g.Scope, op: g.Operation}
		switch g.Scope {
		case schema.ScopeDatabase:
			k.database = g.Database
		case schema.ScopeTable:
			k.database, k.table = g.Database, g.Table
		}
		r.grants[k] = struct{}{}
	}
	return r
}

// Restricted builds a resolver for when privileges could not be read: select
// and export are allowed, everything else is denied.
func Restricted(engine profile.Engine, cause error) *Resolver {
	if cause == nil {
		cause = errors.New("privileges unavailable")
	}
	return &Resolver{engine: engine, grants: map[key]struct{}{}, degraded: cause}
}

// Resolve reads privileges from src. A read failure yields a restricted
// resolver rather than an error, unless the session itself is gone.
func Resolve(ctx context.Context, src Source, engine profile.Engine, logger *slog.Logger) (*Resolver, error) {
	grants, err := src.ListPrivileges(ctx)
	if err != nil {
		if adapter.IsFatal(err) || errors.Is(err, adapter.ErrNotConnected) || errors.Is(err, adapter.ErrCancelled) {
			return nil, err
		}
		if logger != nil {
			logger.Warn("privileges unavailable, restricting to read access", "error", err)
		}
		return Restricted(engine, err), nil
	}
	return New(engine, grants), nil
}

// Degraded returns the reason privileges could not be read, or nil.
func (r *Resolver) Degraded() error { return r.degraded }

// Engine returns the engine the grants were read from.
func (r *Resolver) Engine() profile.Engine { return r.engine }

// Allowed reports whether op is granted on the object. An empty table asks
// about the database itself; an empty database asks about the server.
// Grants at a broader scope authorize every object they contain.
func (r *Resolver) Allowed(op schema.Operation, database, table string) bool {
	switch op {
	case schema.OpExport:
		return r.Allowed(schema.OpSelect, database, table)
	case schema.OpImport:
		if table == "" {
			return r.Allowed(schema.OpCreate, database, "") && r.Allowed(schema.OpInsert, database, "")
		}
		return r.Allowed(schema.OpInsert, database, table)
	}

	if r.degraded != nil {
		return op == schema.OpSelect
	}
	if r.has(key{scope: schema.ScopeServer, op: op}) {
		return true
	}
	if database == "" {
		return false
	}
	if r.has(key{scope: schema.ScopeDatabase, database: database, op: op}) {
		return true
	}
	if table == "" {
		return false
	}
	return r.has(key{scope: schema.ScopeTable, database: database, table: table, op: op})
}

// AllowedAll reports whether a whole-database import or export is allowed
// on database. Besides a database or server grant, table grants on every
// listed relation suffice; engines such as PostgreSQL have no
// database-scoped select or insert. A whole-database import still needs
// create on the database.
func (r *Resolver) AllowedAll(op schema.Operation, database string, relations []string) bool {
	if r.Allowed(op, database, "") {
		return true
	}
	if r.degraded != nil || database == "" {
		return false
	}
	switch op {
	case schema.OpExport:
		op = schema.OpSelect
	case schema.OpImport:
		if !r.Allowed(schema.OpCreate, database, "") {
			return false
		}
		op = schema.OpInsert
	}
	for _, rel := range relations {
		if !r.Allowed(op, database, rel) {
			return false
		}
	}
	return true
}

func (r *Resolver) has(k key) bool {
	_, ok := r.grants[k]
	return ok
}

// Capabilities returns the operations offered on t: the structural set for
// its kind intersected with what the grants allow.
func (r *Resolver) Capabilities(t Target) schema.OpSet {
	out := schema.NewOpSet()
	for _, op := range structural[t.Kind] {
		if !r.meaningful(t, op) {
			continue
		}
		if t.Kind == KindDatabase && t.Relations != nil && (op == schema.OpImport || op == schema.OpExport) {
			if r.AllowedAll(op, t.Database, t.Relations) {
				out.Add(op)
			}
			continue
		}
		if r.Allowed(required(t.Kind, op), t.Database, t.Table) {
			out.Add(op)
		}
	}
	return out
}

func (r *Resolver) meaningful(t Target, op schema.Operation) bool {
	if t.Kind != KindDatabase || op != schema.OpDrop {
		return true
	}
	// The embedded file and engine-owned databases are never dropped.
	return !t.System && !r.engine.Embedded()
}

// required maps a node capability to the grant that authorizes it.
func required(kind Kind, op schema.Operation) schema.Operation {
	switch kind {
	case KindColumn:
		if op == schema.OpDrop {
			return schema.OpAlter
		}
	case KindIndex:
		return schema.OpIndex
	}
	return op
}
