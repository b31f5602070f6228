package tab

import (
	"context"
	"fmt"

	"github.com/sadopc/dbridge/internal/adapter"
	"github.com/sadopc/dbridge/internal/permission"
	"github.com/sadopc/dbridge/internal/schema"
)

// requireCapability checks op against the capability set of target.
func (t *Tab) requireCapability(ctx context.Context, target permission.Target, op schema.Operation) error {
	r, err := t.resolver(ctx)
	if err != nil {
		return err
	}
	if r.Capabilities(target).Has(op) {
		return nil
	}
	object := target.Database
	if target.Table != "" {
		object += "." + target.Table
	}
	return &DeniedError{Op: op, Object: fmt.Sprintf("%s %s", target.Kind, object)}
}

func (t *Tab) selected() (string, error) {
	db, ok := t.h.SelectedDatabase()
	if !ok {
		return "", adapter.ErrNoDatabaseSelected
	}
	return db, nil
}

// apply runs a structural statement and rebuilds the tree.
func (t *Tab) apply(ctx context.Context, stmt string) error {
	if _, err := t.h.Exec(ctx, stmt); err != nil {
		t.dropIfLost(err)
		return err
	}
	t.logger.Info("structure changed", "statement", stmt)
	if _, err := t.Refresh(ctx); err != nil {
		t.logger.Warn("refresh after change failed", "error", err)
	}
	return nil
}

// CreateDatabase creates a database on the server.
func (t *Tab) CreateDatabase(ctx context.Context, name string) error {
	stmt, err := t.h.Dialect().CreateDatabase(name)
	if err != nil {
		return err
	}
	if err := t.authorize(ctx, schema.OpCreate, "", ""); err != nil {
		return err
	}
	return t.apply(ctx, stmt)
}

// DropDatabase drops a database. Engine-owned databases are refused.
func (t *Tab) DropDatabase(ctx context.Context, name string) error {
	stmt, err := t.h.Dialect().DropDatabase(name)
	if err != nil {
		return err
	}
	target := permission.Target{Kind: permission.KindDatabase, Database: name, System: adapter.IsSystemDatabase(name)}
	if err := t.requireCapability(ctx, target, schema.OpDrop); err != nil {
		return err
	}
	if db, ok := t.h.SelectedDatabase(); ok && db == name {
		if err := t.h.DeselectDatabase(ctx); err != nil {
			return err
		}
		t.tree.Reset()
	}
	return t.apply(ctx, stmt)
}

// CreateTable creates def in the selected database.
func (t *Tab) CreateTable(ctx context.Context, def adapter.TableDef) error {
	db, err := t.selected()
	if err != nil {
		return err
	}
	stmt, err := t.h.Dialect().CreateTable(def)
	if err != nil {
		return err
	}
	if err := t.authorize(ctx, schema.OpCreate, db, ""); err != nil {
		return err
	}
	return t.apply(ctx, stmt)
}

// DropTable drops table from the selected database.
func (t *Tab) DropTable(ctx context.Context, table string) error {
	db, err := t.selected()
	if err != nil {
		return err
	}
	if err := t.requireCapability(ctx, permission.Target{Kind: permission.KindTable, Database: db, Table: table}, schema.OpDrop); err != nil {
		return err
	}
	return t.apply(ctx, t.h.Dialect().DropTable(table, false))
}

// DropView drops view from the selected database.
func (t *Tab) DropView(ctx context.Context, view string) error {
	db, err := t.selected()
	if err != nil {
		return err
	}
	if err := t.requireCapability(ctx, permission.Target{Kind: permission.KindView, Database: db, Table: view}, schema.OpDrop); err != nil {
		return err
	}
	return t.apply(ctx, t.h.Dialect().DropView(view, false))
}

// AddColumn adds col to table.
func (t *Tab) AddColumn(ctx context.Context, table string, col adapter.ColumnDef) error {
	db, err := t.selected()
	if err != nil {
		return err
	}
	if err := t.requireCapability(ctx, permission.Target{Kind: permission.KindTable, Database: db, Table: table}, schema.OpAlter); err != nil {
		return err
	}
	return t.apply(ctx, t.h.Dialect().AddColumn(table, col))
}

// DropColumn removes column from table.
func (t *Tab) DropColumn(ctx context.Context, table, column string) error {
	db, err := t.selected()
	if err != nil {
		return err
	}
	if err := t.requireCapability(ctx, permission.Target{Kind: permission.KindColumn, Database: db, Table: table}, schema.OpDrop); err != nil {
		return err
	}
	return t.apply(ctx, t.h.Dialect().DropColumn(table, column))
}

// CreateIndex adds idx to table.
func (t *Tab) CreateIndex(ctx context.Context, table string, idx schema.Index) error {
	db, err := t.selected()
	if err != nil {
		return err
	}
	stmt, err := t.h.Dialect().CreateIndex(table, idx)
	if err != nil {
		return err
	}
	if err := t.requireCapability(ctx, permission.Target{Kind: permission.KindTable, Database: db, Table: table}, schema.OpIndex); err != nil {
		return err
	}
	return t.apply(ctx, stmt)
}

// DropIndex removes index from table.
func (t *Tab) DropIndex(ctx context.Context, table, index string) error {
	db, err := t.selected()
	if err != nil {
		return err
	}
	if err := t.requireCapability(ctx, permission.Target{Kind: permission.KindIndex, Database: db, Table: table}, schema.OpDrop); err != nil {
		return err
	}
	return t.apply(ctx, t.h.Dialect().DropIndex(table, index))
}

// ViewDefinition returns the CREATE VIEW statement of view.
func (t *Tab) ViewDefinition(ctx context.Context, view string) (string, error) {
	return t.h.ViewDefinition(ctx, view)
}

// TableDDL returns the statements recreating table.
func (t *Tab) TableDDL(ctx context.Context, table string) ([]string, error) {
	return t.h.TableDDL(ctx, table)
}

// GenerateSelect returns the browse query for a table or view.
func (t *Tab) GenerateSelect(table string) string {
	return t.h.Dialect().GenerateSelect(table)
}
