package tree

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadopc/dbridge/internal/adapter"
	_ "github.com/sadopc/dbridge/internal/adapter/sqlite"
	"github.com/sadopc/dbridge/internal/handle"
	"github.com/sadopc/dbridge/internal/permission"
	"github.com/sadopc/dbridge/internal/profile"
	"github.com/sadopc/dbridge/internal/schema"
)

// fakeServer mimics a multi-database engine.
type fakeServer struct {
	adapter.Connection

	tables      map[string][]string
	selected    string
	grants      []schema.Grant
	privErr     error
	columnCalls int
}

func (f *fakeServer) ListDatabases(context.Context) ([]string, error) {
	return []string{"billing", "mysql", "shop"}, nil
}

func (f *fakeServer) SelectDatabase(_ context.Context, name string) error {
	if _, ok := f.tables[name]; !ok {
		return &adapter.NotFoundError{Object: "database", Name: name}
	}
	f.selected = name
	return nil
}

func (f *fakeServer) DeselectDatabase(context.Context) error {
	f.selected = ""
	return nil
}

func (f *fakeServer) SelectedDatabase() (string, bool) { return f.selected, f.selected != "" }

func (f *fakeServer) ListTables(context.Context) ([]string, error) {
	if f.selected == "" {
		return nil, adapter.ErrNoDatabaseSelected
	}
	return f.tables[f.selected], nil
}

func (f *fakeServer) ListViews(context.Context) ([]string, error) { return nil, nil }

func (f *fakeServer) ListColumns(_ context.Context, table string) ([]schema.Column, error) {
	f.columnCalls++
	return []schema.Column{{Name: "id", Type: "int", IsPK: true}, {Name: "total", Type: "decimal(10,2)", Nullable: true}}, nil
}

func (f *fakeServer) ListIndexes(context.Context, string) ([]schema.Index, error) {
	return []schema.Index{
		{Name: "PRIMARY", Columns: []string{"id"}, Unique: true, Primary: true},
		{Name: "idx_total", Columns: []string{"total"}},
	}, nil
}

func (f *fakeServer) ListPrivileges(context.Context) ([]schema.Grant, error) {
	return f.grants, f.privErr
}

func (f *fakeServer) Cancel() error { return nil }
func (f *fakeServer) Close() error  { return nil }

func newFakeBuilder(t *testing.T, srv *fakeServer) (*Builder, *handle.Handle) {
	t.Helper()
	h := handle.New(srv, profile.Profile{Engine: profile.EngineMySQL, Host: "db"}, handle.Options{})
	return New(h, nil), h
}

func shopServer() *fakeServer {
	return &fakeServer{
		tables: map[string][]string{
			"shop":    {"customers", "orders"},
			"billing": {"invoices"},
			"mysql":   {"user"},
		},
		selected: "shop",
		grants: []schema.Grant{
			{Scope: schema.ScopeDatabase, Database: "shop", Operation: schema.OpSelect},
			{Scope: schema.ScopeDatabase, Database: "billing", Operation: schema.OpSelect},
		},
	}
}

func TestBuilder_InitialStateEmpty(t *testing.T) {
	b, _ := newFakeBuilder(t, shopServer())
	st, err := b.State()
	assert.Equal(t, StateEmpty, st)
	assert.NoError(t, err)
	assert.Empty(t, b.Snapshot().Nodes)
}

func TestBuilder_RefreshPopulatesSelectedDatabaseOnly(t *testing.T) {
	b, _ := newFakeBuilder(t, shopServer())
	snap, err := b.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatePopulated, snap.State)
	assert.Equal(t, []NodeID{"billing", "mysql", "shop"}, snap.Roots)

	shop, ok := snap.Node("shop")
	require.True(t, ok)
	assert.True(t, shop.Selected)
	assert.Equal(t, []NodeID{"shop/t:customers", "shop/t:orders"}, shop.Children)

	billing, _ := snap.Node("billing")
	assert.False(t, billing.Selected)
	assert.Empty(t, billing.Children)

	mysqlDB, _ := snap.Node("mysql")
	assert.True(t, mysqlDB.System)

	// Columns are not fetched until a table is expanded.
	orders, _ := snap.Node("shop/t:orders")
	assert.False(t, orders.Loaded)
	assert.Empty(t, orders.Children)
}

func TestBuilder_DatabaseGrantCoversTables(t *testing.T) {
	b, _ := newFakeBuilder(t, shopServer())
	snap, err := b.Refresh(context.Background())
	require.NoError(t, err)

	for _, id := range []NodeID{"shop/t:customers", "shop/t:orders"} {
		n, _ := snap.Node(id)
		assert.True(t, n.Capabilities.Has(schema.OpSelect), id)
		assert.True(t, n.Capabilities.Has(schema.OpExport), id)
		assert.False(t, n.Capabilities.Has(schema.OpDrop), id)
	}
}

func TestBuilder_ExpandIsLazyAndCached(t *testing.T) {
	srv := shopServer()
	b, _ := newFakeBuilder(t, srv)
	_, err := b.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, srv.columnCalls)

	snap, err := b.Expand(context.Background(), "shop/t:orders")
	require.NoError(t, err)
	assert.Equal(t, 1, srv.columnCalls)

	orders, _ := snap.Node("shop/t:orders")
	assert.True(t, orders.Loaded)
	assert.Equal(t, []NodeID{
		"shop/t:orders/c:id",
		"shop/t:orders/c:total",
		"shop/t:orders/i:PRIMARY",
		"shop/t:orders/i:idx_total",
	}, orders.Children)

	id, _ := snap.Node("shop/t:orders/c:id")
	require.NotNil(t, id.Column)
	assert.True(t, id.Column.IsPK)
	assert.Equal(t, "shop.orders.id", id.Path())

	pk, _ := snap.Node("shop/t:orders/i:PRIMARY")
	assert.Empty(t, pk.Capabilities)

	_, err = b.Expand(context.Background(), "shop/t:orders")
	require.NoError(t, err)
	assert.Equal(t, 1, srv.columnCalls)

	b.Collapse("shop/t:orders")
	_, err = b.Expand(context.Background(), "shop/t:orders")
	require.NoError(t, err)
	assert.Equal(t, 2, srv.columnCalls)
}

func TestBuilder_ExpandUnselectedDatabase(t *testing.T) {
	b, _ := newFakeBuilder(t, shopServer())
	_, err := b.Refresh(context.Background())
	require.NoError(t, err)

	_, err = b.Expand(context.Background(), "billing")
	assert.ErrorIs(t, err, adapter.ErrNoDatabaseSelected)

	_, err = b.Expand(context.Background(), "shop/t:missing")
	var nf *adapter.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestBuilder_SelectionChangeReplacesSubtree(t *testing.T) {
	b, h := newFakeBuilder(t, shopServer())
	ctx := context.Background()
	_, err := b.Refresh(ctx)
	require.NoError(t, err)
	_, err = b.Expand(ctx, "shop/t:orders")
	require.NoError(t, err)

	require.NoError(t, h.SelectDatabase(ctx, "billing"))
	snap, err := b.Refresh(ctx)
	require.NoError(t, err)

	billing, _ := snap.Node("billing")
	assert.Equal(t, []NodeID{"billing/t:invoices"}, billing.Children)
	for id := range snap.Nodes {
		assert.NotContains(t, string(id), "shop/", "stale node %s", id)
	}
}

func TestBuilder_ResetDiscardsTree(t *testing.T) {
	b, h := newFakeBuilder(t, shopServer())
	ctx := context.Background()
	_, err := b.Refresh(ctx)
	require.NoError(t, err)

	require.NoError(t, h.DeselectDatabase(ctx))
	snap := b.Reset()
	assert.Equal(t, StateEmpty, snap.State)
	assert.Empty(t, snap.Nodes)
	assert.Nil(t, b.Resolver())

	snap, err = b.Refresh(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 3)
}

func TestBuilder_FailedRefresh(t *testing.T) {
	b, h := newFakeBuilder(t, shopServer())
	ctx := context.Background()
	_, err := b.Refresh(ctx)
	require.NoError(t, err)

	require.NoError(t, h.Disconnect())
	snap, err := b.Refresh(ctx)
	assert.ErrorIs(t, err, adapter.ErrNotConnected)
	assert.Equal(t, StateFailed, snap.State)
	assert.Empty(t, snap.Nodes)

	st, reason := b.State()
	assert.Equal(t, StateFailed, st)
	assert.ErrorIs(t, reason, adapter.ErrNotConnected)
}

func TestBuilder_UnreadablePrivileges(t *testing.T) {
	srv := shopServer()
	srv.privErr = errors.New("SELECT command denied to user")
	b, _ := newFakeBuilder(t, srv)

	snap, err := b.Refresh(context.Background())
	require.NoError(t, err)
	require.Error(t, b.Resolver().Degraded())

	orders, _ := snap.Node("shop/t:orders")
	assert.Equal(t, []schema.Operation{schema.OpExport, schema.OpSelect}, orders.Capabilities.Sorted())
}

func TestSnapshot_IsACopy(t *testing.T) {
	b, _ := newFakeBuilder(t, shopServer())
	snap, err := b.Refresh(context.Background())
	require.NoError(t, err)

	shop := snap.Nodes["shop"]
	shop.Children[0] = "tampered"
	shop.Capabilities.Add(schema.OpDrop)

	again := b.Snapshot().Nodes["shop"]
	assert.Equal(t, NodeID("shop/t:customers"), again.Children[0])
	assert.False(t, again.Capabilities.Has(schema.OpDrop))
}

func TestBuilder_Find(t *testing.T) {
	b, _ := newFakeBuilder(t, shopServer())
	ctx := context.Background()
	_, err := b.Refresh(ctx)
	require.NoError(t, err)
	_, err = b.Expand(ctx, "shop/t:orders")
	require.NoError(t, err)

	ids := b.Find("CUSTom", 0)
	assert.Equal(t, []NodeID{"shop/t:customers"}, ids)
	assert.Contains(t, b.Find("orders.total", 0), NodeID("shop/t:orders/c:total"))

	assert.Len(t, b.Find("s", 2), 2)
	assert.Empty(t, b.Find("zzzz", 0))
}

func TestBuilder_SQLite(t *testing.T) {
	ctx := context.Background()
	h, err := handle.Open(ctx, profile.Profile{
		Engine: profile.EngineSQLite,
		File:   filepath.Join(t.TempDir(), "garden.db"),
	}, handle.Options{})
	require.NoError(t, err)
	defer h.Disconnect()

	for _, stmt := range []string{
		"CREATE TABLE plants (id INTEGER PRIMARY KEY, name TEXT NOT NULL)",
		"CREATE INDEX idx_plants_name ON plants(name)",
		"CREATE VIEW named AS SELECT name FROM plants",
	} {
		_, err := h.Exec(ctx, stmt)
		require.NoError(t, err)
	}

	b := New(h, nil)
	snap, err := b.Refresh(ctx)
	require.NoError(t, err)

	root, ok := snap.Node("garden.db")
	require.True(t, ok)
	assert.True(t, root.Selected)
	assert.False(t, root.Capabilities.Has(schema.OpDrop))
	assert.Equal(t, []NodeID{"garden.db/t:plants", "garden.db/v:named"}, root.Children)

	snap, err = b.Expand(ctx, "garden.db/v:named")
	require.NoError(t, err)
	view, _ := snap.Node("garden.db/v:named")
	require.Len(t, view.Children, 1)
	col, _ := snap.Node(view.Children[0])
	assert.Equal(t, permission.KindColumn, col.Kind)
	assert.Equal(t, []schema.Operation{schema.OpSelect}, col.Capabilities.Sorted())

	snap, err = b.Expand(ctx, "garden.db/t:plants")
	require.NoError(t, err)
	var kinds []permission.Kind
	snap.Walk(func(n Node) {
		if n.Parent == "garden.db/t:plants" {
			kinds = append(kinds, n.Kind)
		}
	})
	assert.Equal(t, []permission.Kind{permission.KindColumn, permission.KindColumn, permission.KindIndex}, kinds)
}

func TestBuilder_TableGrantsOfferDatabaseTransfers(t *testing.T) {
	srv := shopServer()
	srv.grants = []schema.Grant{
		{Scope: schema.ScopeDatabase, Database: "shop", Operation: schema.OpCreate},
		{Scope: schema.ScopeDatabase, Database: "billing", Operation: schema.OpCreate},
	}
	for _, table := range []string{"customers", "orders", "invoices"} {
		db := "shop"
		if table == "invoices" {
			db = "billing"
		}
		srv.grants = append(srv.grants,
			schema.Grant{Scope: schema.ScopeTable, Database: db, Table: table, Operation: schema.OpSelect},
			schema.Grant{Scope: schema.ScopeTable, Database: db, Table: table, Operation: schema.OpInsert},
		)
	}
	b, _ := newFakeBuilder(t, srv)
	snap, err := b.Refresh(context.Background())
	require.NoError(t, err)

	shop, _ := snap.Node("shop")
	assert.True(t, shop.Capabilities.Has(schema.OpExport))
	assert.True(t, shop.Capabilities.Has(schema.OpImport))
	assert.False(t, shop.Capabilities.Has(schema.OpSelect))

	// Relations of unselected databases are unknown.
	billing, _ := snap.Node("billing")
	assert.False(t, billing.Capabilities.Has(schema.OpExport))
}
