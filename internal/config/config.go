// Package config provides hierarchical configuration management for specflow
// using koanf. Configuration is loaded with priority: environment variables >
// project config (.specflow/config.yml) > user config
// (~/.config/specflow/config.yml) > defaults. Legacy JSON project configs are
// still read for projects that have not migrated.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// WatchConfig configures the spec-tree file watcher.
type WatchConfig struct {
	// Enabled turns the watcher on or off.
	Enabled bool `koanf:"enabled"`
	// DebounceMs is the quiet period before a burst of events for one
	// path collapses into a single analysis.
	DebounceMs int `koanf:"debounce_ms"`
}

// LockConfig configures file-lock acquisition.
type LockConfig struct {
	// TimeoutMs is the maximum time to wait for the workflow-state lock.
	TimeoutMs int `koanf:"timeout_ms"`
}

// ToolConfig describes one external tool invocation.
type ToolConfig struct {
	// Command is the executable name.
	Command string `koanf:"command"`
	// Args are the fixed arguments passed before any engine-supplied ones.
	Args []string `koanf:"args"`
	// FixArgs, when non-empty, is the auto-fix variant run after a lint
	// failure before the single retry.
	FixArgs []string `koanf:"fix_args"`
	// TimeoutSec is the hard timeout; the process is killed on expiry.
	TimeoutSec int `koanf:"timeout_sec"`
}

// ExternalToolConfig groups the configured external tools.
type ExternalToolConfig struct {
	Lint ToolConfig `koanf:"lint"`
	Test ToolConfig `koanf:"test"`
	VCS  ToolConfig `koanf:"vcs"`
}

// ConstraintConfig tunes the constraint engine.
type ConstraintConfig struct {
	// MaxConcurrentPerAgent is the hard limit of in-progress tasks per agent.
	MaxConcurrentPerAgent int `koanf:"max_concurrent_per_agent"`
	// SoftConcurrentPerAgent is where the workload multiplier starts decaying.
	SoftConcurrentPerAgent int `koanf:"soft_concurrent_per_agent"`
	// Adjacency maps a capability tag to adjacent tags that receive
	// partial skill credit. Empty means exact-match only.
	Adjacency map[string][]string `koanf:"adjacency"`
}

// SyncConfig tunes the automated state-sync engine.
type SyncConfig struct {
	// HealthIntervalMs is the period between health-check aggregations.
	HealthIntervalMs int `koanf:"health_interval_ms"`
}

// Configuration represents the specflow engine configuration.
type Configuration struct {
	// SpecsRoot is the base directory of the spec tree.
	SpecsRoot string `koanf:"specs_root"`
	// StatusFolders is the ordered list of status-named directories.
	StatusFolders []string `koanf:"status_folders"`
	// ArchivedFolder is the directory name used for archived specs.
	ArchivedFolder string `koanf:"archived_folder"`
	// SupportedTypes is the set of accepted spec types.
	SupportedTypes []string `koanf:"supported_types"`
	// Priorities is the ordered priority list, highest first.
	Priorities []string `koanf:"priorities"`
	// WorkflowDir is where durable state, locks, and conflicts live.
	WorkflowDir string `koanf:"workflow_dir"`
	// IntegrityReportsDir is where integrity reports are persisted.
	IntegrityReportsDir string `koanf:"integrity_reports_dir"`

	Watch        WatchConfig        `koanf:"watch"`
	Locks        LockConfig         `koanf:"locks"`
	ExternalTool ExternalToolConfig `koanf:"external_tool"`
	Constraints  ConstraintConfig   `koanf:"constraints"`
	Sync         SyncConfig         `koanf:"sync"`

	// CacheSize is the maximum number of parsed specs held in the store cache.
	CacheSize int `koanf:"cache_size"`
	// CacheMaxAgeSec is the entry age evicted by cache maintenance.
	CacheMaxAgeSec int `koanf:"cache_max_age_sec"`
}

// LoadOptions configures how configuration is loaded.
type LoadOptions struct {
	// ProjectConfigPath overrides the project config path (default:
	// .specflow/config.yml).
	ProjectConfigPath string
	// WarningWriter receives load warnings (default: os.Stderr).
	WarningWriter io.Writer
}

// Load loads configuration from user, project, and environment sources.
// Priority: environment variables > project config > user config > defaults.
func Load(projectConfigPath string) (*Configuration, error) {
	return LoadWithOptions(LoadOptions{ProjectConfigPath: projectConfigPath})
}

// LoadWithOptions loads configuration with custom options.
func LoadWithOptions(opts LoadOptions) (*Configuration, error) {
	k := koanf.New(".")
	warnings := opts.WarningWriter
	if warnings == nil {
		warnings = os.Stderr
	}

	loadDefaults(k)

	if err := loadUserConfig(k); err != nil {
		return nil, err
	}
	if err := loadProjectConfig(k, opts.ProjectConfigPath, warnings); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider("SPECFLOW_", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment config: %w", err)
	}

	var cfg Configuration
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.SpecsRoot = expandHomePath(cfg.SpecsRoot)
	cfg.WorkflowDir = expandHomePath(cfg.WorkflowDir)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadDefaults applies default configuration values.
func loadDefaults(k *koanf.Koanf) {
	for key, value := range Defaults() {
		k.Set(key, value)
	}
}

// loadUserConfig loads the user-level YAML config if present.
func loadUserConfig(k *koanf.Koanf) error {
	path, err := UserConfigPath()
	if err != nil {
		return nil
	}
	if !fileExists(path) {
		return nil
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("loading user config %s: %w", path, err)
	}
	return nil
}

// loadProjectConfig loads the project config, preferring YAML over the
// legacy JSON location. A legacy file triggers a migration warning.
func loadProjectConfig(k *koanf.Koanf, customPath string, warnings io.Writer) error {
	yamlPath := ProjectConfigPath()
	if customPath != "" {
		yamlPath = customPath
	}
	legacyPath := LegacyProjectConfigPath()

	if fileExists(yamlPath) {
		if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
			return fmt.Errorf("loading project config %s: %w", yamlPath, err)
		}
		return nil
	}

	if fileExists(legacyPath) {
		if err := k.Load(file.Provider(legacyPath), json.Parser()); err != nil {
			return fmt.Errorf("loading legacy project config %s: %w", legacyPath, err)
		}
		fmt.Fprintf(warnings, "Warning: using deprecated JSON config at %s\n", legacyPath)
		fmt.Fprintf(warnings, "  Move it to %s in YAML format.\n\n", yamlPath)
	}
	return nil
}

// envTransform converts environment variable names to config keys.
// Example: SPECFLOW_SPECS_ROOT -> specs_root, SPECFLOW_WATCH__DEBOUNCE_MS ->
// watch.debounce_ms (double underscore separates nesting levels).
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "SPECFLOW_"))
	return strings.ReplaceAll(s, "__", ".")
}

// expandHomePath expands ~ to the user's home directory.
func expandHomePath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}

// fileExists returns true if the file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// StatePath returns the path of the durable workflow state document.
func (c *Configuration) StatePath() string {
	return filepath.Join(c.WorkflowDir, "state.yaml")
}

// LocksDir returns the directory holding lock files.
func (c *Configuration) LocksDir() string {
	return filepath.Join(c.WorkflowDir, "locks")
}

// ConflictsDir returns the directory holding conflict reports.
func (c *Configuration) ConflictsDir() string {
	return filepath.Join(c.WorkflowDir, "conflicts")
}
