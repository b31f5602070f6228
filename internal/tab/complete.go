package tab

import (
	"context"
	"strings"

	"github.com/sadopc/dbridge/internal/completion"
	"github.com/sadopc/dbridge/internal/permission"
	"github.com/sadopc/dbridge/internal/tree"
)

// Complete suggests the next word of the statement in the editor. Columns
// of relations the statement refers to are loaded on demand.
func (t *Tab) Complete(ctx context.Context, text string, cursor int) []completion.Item {
	snap := t.tree.Snapshot()
	c := completion.New(t.h.Engine(), snap)

	var expanded bool
	for _, name := range c.Unloaded(text) {
		id, ok := relationNode(snap, name)
		if !ok {
			continue
		}
		if _, err := t.tree.Expand(ctx, id); err != nil {
			t.logger.Debug("completion: expand failed", "table", name, "error", err)
			continue
		}
		expanded = true
	}
	if expanded {
		c = completion.New(t.h.Engine(), t.tree.Snapshot())
	}
	return c.Complete(text, cursor)
}

func relationNode(snap tree.Snapshot, name string) (tree.NodeID, bool) {
	var found tree.NodeID
	snap.Walk(func(n tree.Node) {
		if found != "" || (n.Kind != permission.KindTable && n.Kind != permission.KindView) {
			return
		}
		if strings.EqualFold(n.Name, name) {
			found = n.ID
		}
	})
	return found, found != ""
}
