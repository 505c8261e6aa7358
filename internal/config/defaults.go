package config

// Defaults returns the default value for every configuration key.
// Keys mirror the koanf struct tags in Configuration.
func Defaults() map[string]any {
	return map[string]any{
		"specs_root":            "docs/specs",
		"status_folders":        []string{"draft", "backlog", "active", "done", "blocked", "archived"},
		"archived_folder":       "archived",
		"supported_types":       []string{"feature", "bug", "research-spike", "maintenance", "release"},
		"priorities":            []string{"P0", "P1", "P2", "P3"},
		"workflow_dir":          ".workflow",
		"integrity_reports_dir": ".integrity/reports",

		"watch.enabled":     true,
		"watch.debounce_ms": 1000,

		"locks.timeout_ms": 10000,

		"external_tool.lint.command":     "",
		"external_tool.lint.args":        []string{},
		"external_tool.lint.fix_args":    []string{},
		"external_tool.lint.timeout_sec": 300,
		"external_tool.test.command":     "",
		"external_tool.test.args":        []string{},
		"external_tool.test.timeout_sec": 300,
		"external_tool.vcs.command":      "git",
		"external_tool.vcs.args":         []string{},
		"external_tool.vcs.timeout_sec":  300,

		"constraints.max_concurrent_per_agent":  3,
		"constraints.soft_concurrent_per_agent": 2,

		"sync.health_interval_ms": 30000,

		"cache_size":        512,
		"cache_max_age_sec": 3600,
	}
}

// DefaultConfigTemplate returns a fully commented config template written by
// 'specflow config init'.
func DefaultConfigTemplate() string {
	return `# Specflow Configuration
# See 'specflow config show' for the effective merged configuration.

specs_root: docs/specs                # Base directory of the spec tree
status_folders:                       # Ordered status-named directories
  - draft
  - backlog
  - active
  - done
  - blocked
  - archived
archived_folder: archived             # Directory name for archived specs
workflow_dir: .workflow               # Durable state, locks, conflicts

watch:
  enabled: true                       # Watch the spec tree for edits
  debounce_ms: 1000                   # Quiet period per path before analysis

locks:
  timeout_ms: 10000                   # Workflow-state lock acquisition timeout

external_tool:
  lint:
    command: ""                       # e.g. golangci-lint
    args: ["run"]
    fix_args: ["run", "--fix"]        # Auto-fix variant for the single retry
    timeout_sec: 300
  test:
    command: ""                       # e.g. go
    args: ["test", "./..."]
    timeout_sec: 300
  vcs:
    command: git
    timeout_sec: 300

constraints:
  max_concurrent_per_agent: 3         # Hard per-agent in-progress limit
  soft_concurrent_per_agent: 2        # Workload multiplier decays past this
  adjacency: {}                       # Capability adjacency, e.g. {backend: [api]}

sync:
  health_interval_ms: 30000           # Health aggregation period
`
}
