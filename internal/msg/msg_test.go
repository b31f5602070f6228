package msg

import (
	"errors"
	"fmt"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"github.com/sadopc/dbridge/internal/adapter"
	"github.com/sadopc/dbridge/internal/tree"
)

func TestSenderFunc(t *testing.T) {
	var got []tea.Msg
	var s Sender = SenderFunc(func(m tea.Msg) { got = append(got, m) })
	s.Send(DisconnectMsg{TabID: 3})
	Discard.Send(DisconnectMsg{TabID: 4})
	assert.Equal(t, []tea.Msg{DisconnectMsg{TabID: 3}}, got)
}

func TestTreeChangedMsg_Stale(t *testing.T) {
	m := TreeChangedMsg{Snapshot: tree.Snapshot{Generation: 4}}
	assert.False(t, m.Stale(4))
	assert.False(t, m.Stale(3))
	assert.True(t, m.Stale(5))
}

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		text    string
		isError bool
	}{
		{"nil", nil, "", false},
		{"connection", &adapter.ConnectionError{Kind: adapter.ConnNetwork, Engine: "mysql", Err: errors.New("broken pipe")},
			"mysql: connection network: broken pipe (reconnect required)", true},
		{"not connected", fmt.Errorf("run: %w", adapter.ErrNotConnected), "not connected", true},
		{"cancelled", fmt.Errorf("%w: context canceled", adapter.ErrCancelled), "cancelled", false},
		{"not found", &adapter.NotFoundError{Object: "table", Name: "orders"}, `table "orders" not found`, true},
		{"other", errors.New("boom"), "boom", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StatusFromError(tt.err)
			assert.Equal(t, tt.text, got.Text)
			assert.Equal(t, tt.isError, got.IsError)
		})
	}
}
