package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/colorfulnotion/jnisym/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSamplesCommand(t *testing.T) {
	out, err := execute(t, "samples")
	require.NoError(t, err)
	assert.Contains(t, out, "crackme")
	assert.Contains(t, out, "pshufb")
}

func TestRunCommand(t *testing.T) {
	out, err := execute(t, "run", "crackme", "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "0 active, 2 deadended, 0 errored")
	assert.Contains(t, out, `1 winning path(s) printing 'W'`)
	assert.Contains(t, out, `stdin="A"`)
	assert.Contains(t, out, "paths")
}

func TestRunCommandErrorCodes(t *testing.T) {
	out, err := execute(t, "run", "tailleak", "--tree=false")
	require.NoError(t, err)
	assert.Contains(t, out, "0 active, 1 deadended, 0 errored, 0 pruned")
	assert.Contains(t, out, "warning [B1_BorrowLeak]")

	out, err = execute(t, "run", "badlength")
	require.NoError(t, err)
	assert.Contains(t, out, "1 deadended, 0 errored, 1 pruned")
}

func TestRunCommandBudget(t *testing.T) {
	out, err := execute(t, "run", "regionsum", "--max-steps", "5", "--tree=false")
	require.NoError(t, err)
	assert.Contains(t, out, "stopped early")
	assert.NotContains(t, out, "paths\n")
}

func TestRunUnknownSample(t *testing.T) {
	_, err := execute(t, "run", "nope")
	assert.ErrorContains(t, err, "unknown sample")
}

func TestDisasmCommand(t *testing.T) {
	out, err := execute(t, "disasm", "pshufb")
	require.NoError(t, err)
	assert.Contains(t, out, "libtest.so @ 0x400000")
	assert.Contains(t, out, "pshufb")
	assert.Contains(t, out, "hlt")
}

func TestReplSession(t *testing.T) {
	_, s, err := load("crackme", config.Default())
	require.NoError(t, err)
	var out bytes.Buffer
	ss := &session{cur: s, out: &out}
	ctx := context.Background()

	assert.False(t, ss.exec(ctx, "step 2"))
	assert.False(t, ss.exec(ctx, "locals"))
	assert.Contains(t, out.String(), "c ")

	out.Reset()
	assert.False(t, ss.exec(ctx, "step 10000"))
	text := out.String()
	assert.Contains(t, text, "fork at")
	assert.Equal(t, 2, strings.Count(text, "path ended"))
	assert.Contains(t, text, "no paths left")

	out.Reset()
	assert.False(t, ss.exec(ctx, "step x"))
	assert.Contains(t, out.String(), "bad count")
	assert.False(t, ss.exec(ctx, "frobnicate"))
	assert.Contains(t, out.String(), "unknown command")
	assert.True(t, ss.exec(ctx, "quit"))
}
