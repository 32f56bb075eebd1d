package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordedModuleLogs(t *testing.T) {
	prev := Root()
	defer SetDefault(prev)
	defer DisableModule(SolverMonitoring)

	SetDefault(NewLogger(DiscardHandler()))
	RecordLogs()
	Debug(SolverMonitoring, "dropped while disabled")
	EnableModule(SolverMonitoring)
	Debug(SolverMonitoring, "query", "constraints", 3)
	Warn(BridgeMonitoring, "borrow leak", "handle", 7)

	out, err := GetRecordedLogs()
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "DEBUG|query module=solver constraints=3", lines[0])
	assert.Equal(t, "WARN |borrow leak module=bridge handle=7", lines[1])
}

func TestTerminalHandlerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(NewTerminalHandlerWithLevel(&buf, LevelWarn, false))
	l.Info(ExploreMonitoring, "quiet")
	l.Error(ExploreMonitoring, "loud", "state", 2)
	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "module=explore")
}
