// Package tree builds the structural model shown in the schema browser:
// databases, then tables and views of the selected database, then columns
// and indexes of a table once it is expanded.
package tree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"

	"github.com/sadopc/dbridge/internal/adapter"
	"github.com/sadopc/dbridge/internal/handle"
	"github.com/sadopc/dbridge/internal/permission"
	"github.com/sadopc/dbridge/internal/schema"
)

// ErrStale is returned when a load finished after the tree was reset or
// refreshed again; its result has been discarded.
var ErrStale = errors.New("tree: result superseded")

// State is the lifecycle of a tree.
type State int

const (
	StateEmpty State = iota
	StateLoading
	StatePopulated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StatePopulated:
		return "populated"
	case StateFailed:
		return "failed"
	default:
		return "empty"
	}
}

// NodeID addresses a node. IDs are paths: "db", "db/t:orders",
// "db/v:recent", "db/t:orders/c:id", "db/t:orders/i:idx_orders_date".
type NodeID string

func databaseID(db string) NodeID { return NodeID(db) }

func relationID(db string, kind permission.Kind, name string) NodeID {
	tag := "t"
	if kind == permission.KindView {
		tag = "v"
	}
	return NodeID(db + "/" + tag + ":" + name)
}

func childID(parent NodeID, kind permission.Kind, name string) NodeID {
	tag := "c"
	if kind == permission.KindIndex {
		tag = "i"
	}
	return NodeID(string(parent) + "/" + tag + ":" + name)
}

// Node is one entry in the tree.
type Node struct {
	ID       NodeID
	Kind     permission.Kind
	Name     string
	Database string
	// Table is the owning relation for columns and indexes, and the node's
	// own name for tables and views.
	Table    string
	Parent   NodeID
	Children []NodeID
	Depth    int

	// Selected marks the database structural calls are scoped to.
	Selected bool
	System   bool
	// Loaded is set once a relation's columns and indexes were fetched.
	Loaded bool

	Capabilities schema.OpSet

	Column *schema.Column
	Index  *schema.Index
}

// Path renders the node as dotted names for display and search.
func (n Node) Path() string {
	switch n.Kind {
	case permission.KindDatabase:
		return n.Database
	case permission.KindTable, permission.KindView:
		return n.Database + "." + n.Table
	default:
		return n.Database + "." + n.Table + "." + n.Name
	}
}

func (n *Node) clone() Node {
	out := *n
	out.Children = append([]NodeID(nil), n.Children...)
	out.Capabilities = n.Capabilities.Clone()
	if n.Column != nil {
		c := *n.Column
		out.Column = &c
	}
	if n.Index != nil {
		ix := *n.Index
		ix.Columns = append([]string(nil), n.Index.Columns...)
		out.Index = &ix
	}
	return out
}

// Snapshot is an immutable copy of the tree at one generation.
type Snapshot struct {
	State      State
	Err        error
	Generation uint64
	Roots      []NodeID
	Nodes      map[NodeID]Node
}

// Node looks up id in the snapshot.
func (s Snapshot) Node(id NodeID) (Node, bool) {
	n, ok := s.Nodes[id]
	return n, ok
}

// Walk visits nodes depth-first in display order.
func (s Snapshot) Walk(fn func(Node)) {
	var visit func(ids []NodeID)
	visit = func(ids []NodeID) {
		for _, id := range ids {
			n, ok := s.Nodes[id]
			if !ok {
				continue
			}
			fn(n)
			visit(n.Children)
		}
	}
	visit(s.Roots)
}

// Builder owns the tree for one handle.
type Builder struct {
	h      *handle.Handle
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	err      error
	gen      uint64
	roots    []NodeID
	nodes    map[NodeID]*Node
	resolver *permission.Resolver
}

// New creates a builder in the empty state.
func New(h *handle.Handle, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{h: h, logger: logger, nodes: map[NodeID]*Node{}}
}

// State returns the current state and, when failed, its reason.
func (b *Builder) State() (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.err
}

// Resolver returns the permission snapshot of the last successful refresh.
func (b *Builder) Resolver() *permission.Resolver {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resolver
}

// Reset discards the tree. It is forced after disconnect and deselection.
func (b *Builder) Reset() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	b.state, b.err = StateEmpty, nil
	b.roots, b.nodes, b.resolver = nil, map[NodeID]*Node{}, nil
	return b.snapshotLocked()
}

// Snapshot copies the current tree.
func (b *Builder) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Builder) snapshotLocked() Snapshot {
	s := Snapshot{
		State:      b.state,
		Err:        b.err,
		Generation: b.gen,
		Roots:      append([]NodeID(nil), b.roots...),
		Nodes:      make(map[NodeID]Node, len(b.nodes)),
	}
	for id, n := range b.nodes {
		s.Nodes[id] = n.clone()
	}
	return s
}

// begin moves to Loading and returns the generation the load belongs to.
func (b *Builder) begin() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	b.state, b.err = StateLoading, nil
	return b.gen
}

// Refresh rebuilds the whole tree: every database, plus the tables and
// views of the selected one. The previous tree is replaced wholesale.
func (b *Builder) Refresh(ctx context.Context) (Snapshot, error) {
	gen := b.begin()

	var (
		roots    []NodeID
		nodes    = map[NodeID]*Node{}
		resolver *permission.Resolver
	)
	err := b.h.Session(ctx, func(ctx context.Context, conn adapter.Connection) error {
		var err error
		resolver, err = permission.Resolve(ctx, conn, b.h.Engine(), b.logger)
		if err != nil {
			return err
		}
		dbs, err := conn.ListDatabases(ctx)
		if err != nil {
			return err
		}
		selected, hasSelected := conn.SelectedDatabase()
		for _, db := range dbs {
			n := &Node{
				ID:       databaseID(db),
				Kind:     permission.KindDatabase,
				Name:     db,
				Database: db,
				Selected: hasSelected && db == selected,
				System:   adapter.IsSystemDatabase(db),
			}
			n.Capabilities = resolver.Capabilities(permission.Target{Kind: n.Kind, Database: db, System: n.System})
			nodes[n.ID] = n
			roots = append(roots, n.ID)
		}
		if !hasSelected {
			return nil
		}
		dbNode, ok := nodes[databaseID(selected)]
		if !ok {
			return &adapter.NotFoundError{Object: "database", Name: selected}
		}
		dbNode.Loaded = true

		tables, err := conn.ListTables(ctx)
		if err != nil {
			return err
		}
		views, err := conn.ListViews(ctx)
		if err != nil {
			return err
		}
		for _, rel := range []struct {
			kind  permission.Kind
			names []string
		}{{permission.KindTable, tables}, {permission.KindView, views}} {
			for _, name := range rel.names {
				n := &Node{
					ID:       relationID(selected, rel.kind, name),
					Kind:     rel.kind,
					Name:     name,
					Database: selected,
					Table:    name,
					Parent:   dbNode.ID,
					Depth:    1,
				}
				n.Capabilities = resolver.Capabilities(permission.Target{Kind: rel.kind, Database: selected, Table: name})
				nodes[n.ID] = n
				dbNode.Children = append(dbNode.Children, n.ID)
			}
		}
		relations := make([]string, 0, len(tables)+len(views))
		relations = append(append(relations, tables...), views...)
		dbNode.Capabilities = resolver.Capabilities(permission.Target{
			Kind: permission.KindDatabase, Database: selected, System: dbNode.System, Relations: relations,
		})
		return nil
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen != gen {
		return b.snapshotLocked(), ErrStale
	}
	if err != nil {
		b.logger.Warn("tree refresh failed", "error", err)
		b.state, b.err = StateFailed, err
		b.roots, b.nodes, b.resolver = nil, map[NodeID]*Node{}, nil
		return b.snapshotLocked(), err
	}
	b.state, b.roots, b.nodes, b.resolver = StatePopulated, roots, nodes, resolver
	b.logger.Debug("tree refreshed", "databases", len(roots), "nodes", len(nodes))
	return b.snapshotLocked(), nil
}

// Expand loads the columns and indexes of a table or view the first time it
// is opened. Expanding an already loaded node costs no round trip.
func (b *Builder) Expand(ctx context.Context, id NodeID) (Snapshot, error) {
	b.mu.Lock()
	if b.state != StatePopulated {
		defer b.mu.Unlock()
		return b.snapshotLocked(), fmt.Errorf("tree: cannot expand while %s", b.state)
	}
	n, ok := b.nodes[id]
	if !ok {
		defer b.mu.Unlock()
		return b.snapshotLocked(), &adapter.NotFoundError{Object: "node", Name: string(id)}
	}
	if n.Kind == permission.KindDatabase && !n.Selected {
		defer b.mu.Unlock()
		return b.snapshotLocked(), fmt.Errorf("tree: expand %s: %w", n.Name, adapter.ErrNoDatabaseSelected)
	}
	if n.Loaded || (n.Kind != permission.KindTable && n.Kind != permission.KindView) {
		defer b.mu.Unlock()
		return b.snapshotLocked(), nil
	}
	gen, kind, db, table, resolver := b.gen, n.Kind, n.Database, n.Table, b.resolver
	b.mu.Unlock()

	var (
		cols    []schema.Column
		indexes []schema.Index
	)
	err := b.h.Session(ctx, func(ctx context.Context, conn adapter.Connection) error {
		var err error
		if cols, err = conn.ListColumns(ctx, table); err != nil {
			return err
		}
		if kind == permission.KindTable {
			indexes, err = conn.ListIndexes(ctx, table)
		}
		return err
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen != gen {
		return b.snapshotLocked(), ErrStale
	}
	n, ok = b.nodes[id]
	if !ok {
		return b.snapshotLocked(), ErrStale
	}
	if err != nil {
		// Lazy loads fail per node; the rest of the tree stays usable.
		b.logger.Warn("expand failed", "node", string(id), "error", err)
		return b.snapshotLocked(), err
	}

	b.dropChildrenLocked(n)
	colCaps := resolver.Capabilities(permission.Target{Kind: permission.KindColumn, Database: db, Table: table})
	if kind == permission.KindView {
		colCaps = viewColumnCaps(colCaps)
	}
	for i := range cols {
		c := cols[i]
		child := &Node{
			ID:           childID(id, permission.KindColumn, c.Name),
			Kind:         permission.KindColumn,
			Name:         c.Name,
			Database:     db,
			Table:        table,
			Parent:       id,
			Depth:        n.Depth + 1,
			Capabilities: colCaps.Clone(),
			Column:       &c,
		}
		b.nodes[child.ID] = child
		n.Children = append(n.Children, child.ID)
	}
	idxCaps := resolver.Capabilities(permission.Target{Kind: permission.KindIndex, Database: db, Table: table})
	for i := range indexes {
		ix := indexes[i]
		caps := idxCaps.Clone()
		if ix.Primary {
			// Primary keys go with the table, not through DROP INDEX.
			caps = schema.NewOpSet()
		}
		child := &Node{
			ID:           childID(id, permission.KindIndex, ix.Name),
			Kind:         permission.KindIndex,
			Name:         ix.Name,
			Database:     db,
			Table:        table,
			Parent:       id,
			Depth:        n.Depth + 1,
			Capabilities: caps,
			Index:        &ix,
		}
		b.nodes[child.ID] = child
		n.Children = append(n.Children, child.ID)
	}
	n.Loaded = true
	return b.snapshotLocked(), nil
}

// Collapse forgets a relation's children so the next Expand reloads them.
func (b *Builder) Collapse(id NodeID) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n, ok := b.nodes[id]; ok && (n.Kind == permission.KindTable || n.Kind == permission.KindView) {
		b.dropChildrenLocked(n)
		n.Loaded = false
	}
	return b.snapshotLocked()
}

func (b *Builder) dropChildrenLocked(n *Node) {
	prefix := string(n.ID) + "/"
	for id := range b.nodes {
		if strings.HasPrefix(string(id), prefix) {
			delete(b.nodes, id)
		}
	}
	n.Children = nil
}

func viewColumnCaps(caps schema.OpSet) schema.OpSet {
	if caps.Has(schema.OpSelect) {
		return schema.NewOpSet(schema.OpSelect)
	}
	return schema.NewOpSet()
}

// nodePaths implements fuzzy.Source over loaded nodes.
type nodePaths []*Node

func (p nodePaths) String(i int) string { return strings.ToLower(p[i].Path()) }
func (p nodePaths) Len() int            { return len(p) }

// Find fuzzy-matches pattern against the dotted paths of loaded nodes and
// returns their IDs, best match first. limit <= 0 returns every match.
func (b *Builder) Find(pattern string, limit int) []NodeID {
	b.mu.Lock()
	candidates := make(nodePaths, 0, len(b.nodes))
	for _, n := range b.nodes {
		candidates = append(candidates, n)
	}
	b.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	matches := fuzzy.FindFrom(strings.ToLower(pattern), candidates)
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]NodeID, len(matches))
	for i, m := range matches {
		out[i] = candidates[m.Index].ID
	}
	return out
}
