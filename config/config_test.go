package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "symrun.toml")
	body := `
[solver]
symbolic-fanout = 16

[explore]
workers = 2
max-steps = 500

[log]
level = "debug"
modules = "bridge,native"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Solver.SymbolicFanout)
	assert.Equal(t, 2, cfg.Explore.Workers)
	assert.Equal(t, 500, cfg.Explore.MaxSteps)
	assert.Equal(t, Default().Explore.MaxPaths, cfg.Explore.MaxPaths)
	assert.Equal(t, Default().Native, cfg.Native)
	assert.Equal(t, "bridge,native", cfg.Log.Modules)
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[explore]\nworkers = 0\n"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "workers")

	_, err = Load(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("[solver]\neval-limit = 1\n"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "eval-limit")

	require.NoError(t, os.WriteFile(path, []byte("[native]\nstack-size = 0\n"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "stack-size")

	require.NoError(t, os.WriteFile(path, []byte("[explore\n"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "parse error")
}
