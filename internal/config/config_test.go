package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yml"))

	require.NoError(t, err)
	assert.Equal(t, "docs/specs", cfg.SpecsRoot)
	assert.Equal(t, []string{"draft", "backlog", "active", "done", "blocked", "archived"}, cfg.StatusFolders)
	assert.Equal(t, "archived", cfg.ArchivedFolder)
	assert.Equal(t, ".workflow", cfg.WorkflowDir)
	assert.Equal(t, 1000, cfg.Watch.DebounceMs)
	assert.Equal(t, 10000, cfg.Locks.TimeoutMs)
	assert.Equal(t, 3, cfg.Constraints.MaxConcurrentPerAgent)
	assert.Equal(t, 2, cfg.Constraints.SoftConcurrentPerAgent)
	assert.Equal(t, 300, cfg.ExternalTool.Lint.TimeoutSec)
	assert.Equal(t, "git", cfg.ExternalTool.VCS.Command)
	assert.Equal(t, 512, cfg.CacheSize)
}

func TestLoadProjectConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
specs_root: work/specs
watch:
  debounce_ms: 250
constraints:
  max_concurrent_per_agent: 5
  adjacency:
    backend: [api]
`), 0o644))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "work/specs", cfg.SpecsRoot)
	assert.Equal(t, 250, cfg.Watch.DebounceMs)
	assert.Equal(t, 5, cfg.Constraints.MaxConcurrentPerAgent)
	assert.Equal(t, []string{"api"}, cfg.Constraints.Adjacency["backend"])
	// Untouched keys keep their defaults.
	assert.Equal(t, 10000, cfg.Locks.TimeoutMs)
}

func TestLoadEnvironmentWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("specs_root: from/file\n"), 0o644))

	t.Setenv("SPECFLOW_SPECS_ROOT", "from/env")
	t.Setenv("SPECFLOW_WATCH__DEBOUNCE_MS", "50")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "from/env", cfg.SpecsRoot)
	assert.Equal(t, 50, cfg.Watch.DebounceMs)
}

func TestLoadLegacyJSONConfigWarns(t *testing.T) {
	dir := t.TempDir()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })

	require.NoError(t, os.MkdirAll(".specflow", 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(".specflow", "config.json"),
		[]byte(`{"specs_root": "legacy/specs"}`), 0o644))

	var warnings bytes.Buffer
	cfg, err := LoadWithOptions(LoadOptions{WarningWriter: &warnings})

	require.NoError(t, err)
	assert.Equal(t, "legacy/specs", cfg.SpecsRoot)
	assert.Contains(t, warnings.String(), "deprecated JSON config")
}

func TestValidate(t *testing.T) {
	valid := func() *Configuration {
		cfg, err := Load(filepath.Join(t.TempDir(), "none.yml"))
		require.NoError(t, err)
		return cfg
	}

	tests := map[string]struct {
		mutate  func(*Configuration)
		wantErr string
	}{
		"valid defaults": {
			mutate: func(*Configuration) {},
		},
		"empty specs root": {
			mutate:  func(c *Configuration) { c.SpecsRoot = "" },
			wantErr: "specs_root",
		},
		"no status folders": {
			mutate:  func(c *Configuration) { c.StatusFolders = nil },
			wantErr: "status_folders",
		},
		"zero lock timeout": {
			mutate:  func(c *Configuration) { c.Locks.TimeoutMs = 0 },
			wantErr: "locks.timeout_ms",
		},
		"soft above hard limit": {
			mutate:  func(c *Configuration) { c.Constraints.SoftConcurrentPerAgent = 9 },
			wantErr: "soft_concurrent_per_agent",
		},
		"negative debounce": {
			mutate:  func(c *Configuration) { c.Watch.DebounceMs = -1 },
			wantErr: "watch.debounce_ms",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Configuration{WorkflowDir: ".workflow"}

	assert.Equal(t, filepath.Join(".workflow", "state.yaml"), cfg.StatePath())
	assert.Equal(t, filepath.Join(".workflow", "locks"), cfg.LocksDir())
	assert.Equal(t, filepath.Join(".workflow", "conflicts"), cfg.ConflictsDir())
}
