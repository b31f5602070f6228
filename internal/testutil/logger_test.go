package testutil

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapturingLogger(t *testing.T) {
	logger, logs := NewCapturingLogger(t)
	tabLogger := logger.With("tab", 7)

	tabLogger.Debug("tree refreshed", "nodes", 3)
	tabLogger.Warn("session lost", "error", errors.New("broken pipe"))

	records := logs.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "7", records[0].Attrs["tab"])
	assert.Equal(t, "3", records[0].Attrs["nodes"])
	assert.Equal(t, "broken pipe", records[1].Attrs["error"])

	assert.Equal(t, []string{"session lost"}, logs.Messages(slog.LevelWarn))
	assert.True(t, logs.Contains("broken"))
	assert.False(t, logs.Contains("hunter2"))
}
