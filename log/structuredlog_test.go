package log

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventFieldOrder(t *testing.T) {
	var buf bytes.Buffer
	w := NewEventWriter(&buf)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, w.Emit("fork", 7, map[string]int{"ways": 2}, "parent", uint64(3), "elapsed", 1500*time.Microsecond, "time", at, "detail", "at 0x401000"))
	require.NoError(t, w.Emit("deadended", 8, nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"time":"2024-01-02T03:04:05Z","state":7,"parent":3,"kind":"fork","payload":{"ways":2},"detail":"at 0x401000","elapsed":1500}`, lines[0])
	assert.Contains(t, lines[1], `"state":8,"kind":"deadended","payload":null}`)
	assert.NotContains(t, lines[1], "parent")
}

func TestNilEventWriter(t *testing.T) {
	var w *EventWriter
	assert.NoError(t, w.Emit("fork", 1, nil))
}

func TestEnableModules(t *testing.T) {
	defer DisableModule(ExploreMonitoring)
	defer DisableModule(BridgeMonitoring)
	EnableModules("explore, bridge")
	assert.True(t, isModuleEnabled(ExploreMonitoring))
	assert.True(t, isModuleEnabled(BridgeMonitoring))
	assert.False(t, isModuleEnabled(NativeMonitoring))
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("warning")
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, lvl)
	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
