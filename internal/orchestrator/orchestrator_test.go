package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raveheart1/specflow/internal/config"
	wferrors "github.com/raveheart1/specflow/internal/errors"
	"github.com/raveheart1/specflow/internal/router"
	"github.com/raveheart1/specflow/internal/spec"
	"github.com/raveheart1/specflow/internal/state"
)

const chainSpec = `---
id: FEAT-001
type: feature
status: active
title: Command palette
priority: P1
tasks:
  - id: TASK-001
    title: Wire the parser
    status: ready
    agent: backend
  - id: TASK-002
    title: Render the palette
    status: ready
    agent: frontend
    depends_on: [TASK-001]
---
Body prose.
`

const criticalSpec = `---
id: FIX-001
type: bug
status: active
title: Data loss on save
priority: P0
tasks:
  - id: TASK-001
    title: Stop truncating writes
    status: ready
    agent: backend
---
`

// stubRunner replays scripted results per tool name, falling back to a
// skipped result once the script is exhausted.
type stubRunner struct {
	results map[string][]ToolResult
	calls   []string
}

func (s *stubRunner) Run(_ context.Context, name string, _ config.ToolConfig, _ ...string) (ToolResult, error) {
	s.calls = append(s.calls, name)
	queue := s.results[name]
	if len(queue) == 0 {
		return ToolResult{Name: name, Skipped: true}, nil
	}
	res := queue[0]
	s.results[name] = queue[1:]
	return res, nil
}

// stubCommitter serves a fixed changed-file set and records the commit.
type stubCommitter struct {
	changed    []string
	changedErr error
	commitErr  error

	committedPaths []string
	message        string
}

func (s *stubCommitter) ChangedFiles() ([]string, error) {
	return append([]string(nil), s.changed...), s.changedErr
}

func (s *stubCommitter) CommitFiles(paths []string, message string) (string, error) {
	if s.commitErr != nil {
		return "", s.commitErr
	}
	s.committedPaths = paths
	s.message = message
	return "abc1234", nil
}

type fixture struct {
	orch      *Orchestrator
	manager   *state.Manager
	runner    *stubRunner
	committer *stubCommitter
	specsDir  string
}

// newFixture lays out the given spec files under active/ and wires an
// orchestrator over stubs.
func newFixture(t *testing.T, docs map[string]string) *fixture {
	t.Helper()
	root := t.TempDir()
	specsDir := filepath.Join(root, "docs", "specs")
	require.NoError(t, os.MkdirAll(filepath.Join(specsDir, "active"), 0o755))
	for name, doc := range docs {
		require.NoError(t, os.WriteFile(filepath.Join(specsDir, "active", name), []byte(doc), 0o644))
	}

	folders := []string{"backlog", "active", "done", "archived"}
	store, err := spec.NewStore(specsDir, folders, 64)
	require.NoError(t, err)
	_, err = store.LoadAll()
	require.NoError(t, err)

	manager := state.NewManager(
		filepath.Join(root, ".workflow", "state.yaml"),
		filepath.Join(root, ".workflow", "locks"),
		2*time.Second,
		store,
	)

	cfg := &config.Configuration{
		SpecsRoot:      specsDir,
		StatusFolders:  folders,
		ArchivedFolder: "archived",
		ExternalTool: config.ExternalToolConfig{
			Lint: config.ToolConfig{Command: "lint", FixArgs: []string{"--fix"}},
			Test: config.ToolConfig{Command: "test"},
		},
		Constraints: config.ConstraintConfig{
			MaxConcurrentPerAgent:  3,
			SoftConcurrentPerAgent: 2,
		},
	}

	runner := &stubRunner{results: map[string][]ToolResult{}}
	committer := &stubCommitter{changed: []string{"internal/app/palette.go"}}
	orch := New(cfg, store, manager, nil, WithToolRunner(runner), WithCommitter(committer))
	return &fixture{orch: orch, manager: manager, runner: runner, committer: committer, specsDir: specsDir}
}

func TestStartNextAssigns(t *testing.T) {
	f := newFixture(t, map[string]string{"feat-001-command-palette.md": chainSpec})

	result := f.orch.StartNext(StartNextOptions{Agent: "backend"})

	require.Empty(t, result.Violations)
	assert.True(t, result.Success)
	assert.True(t, result.Assigned)
	require.NotNil(t, result.Task)
	assert.Equal(t, "FEAT-001", result.Task.SpecID)
	assert.Equal(t, "TASK-001", result.Task.TaskID)

	doc, err := f.manager.Snapshot()
	require.NoError(t, err)
	require.Len(t, doc.CurrentAssignments, 1)
	assert.Equal(t, "backend", doc.CurrentAssignments[0].AssignedAgent)
}

func TestStartNextRequiresAgent(t *testing.T) {
	f := newFixture(t, map[string]string{"feat-001-command-palette.md": chainSpec})

	result := f.orch.StartNext(StartNextOptions{})

	assert.False(t, result.Success)
	require.Len(t, result.Violations, 1)
	assert.Contains(t, result.Violations[0].Message, "agent is required")
}

func TestStartNextNoCapabilityMatch(t *testing.T) {
	f := newFixture(t, map[string]string{"feat-001-command-palette.md": chainSpec})

	result := f.orch.StartNext(StartNextOptions{Agent: "data-scientist"})

	assert.True(t, result.Success)
	assert.False(t, result.Assigned)
	assert.Nil(t, result.Task)
	assert.Contains(t, result.Suggestions, "No tasks match data-scientist agent capabilities")
}

func TestStartNextCriticalNeedsConfirmation(t *testing.T) {
	f := newFixture(t, map[string]string{
		"feat-001-command-palette.md": chainSpec,
		"fix-001-data-loss.md":        criticalSpec,
	})

	// The P0 task outranks the P1 task, so it is selected and rejected
	// without confirmation.
	result := f.orch.StartNext(StartNextOptions{Agent: "backend"})
	assert.False(t, result.Success)
	require.NotEmpty(t, result.Violations)
	assert.Contains(t, result.Violations[0].Message, "require explicit confirmation")

	doc, err := f.manager.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, doc.CurrentAssignments)

	result = f.orch.StartNext(StartNextOptions{Agent: "backend", ConfirmCritical: true})
	require.Empty(t, result.Violations)
	assert.True(t, result.Assigned)
	assert.Equal(t, "FIX-001", result.Task.SpecID)
}

func TestStartNextDryRun(t *testing.T) {
	f := newFixture(t, map[string]string{"feat-001-command-palette.md": chainSpec})

	result := f.orch.StartNext(StartNextOptions{Agent: "backend", DryRun: true})

	assert.True(t, result.Success)
	assert.True(t, result.DryRun)
	assert.False(t, result.Assigned)
	require.NotNil(t, result.WouldAssign)
	assert.Equal(t, "TASK-001", result.WouldAssign.TaskID)

	doc, err := f.manager.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, doc.CurrentAssignments)
}

func TestStartNextBlocksSpecsWithIntegrityErrors(t *testing.T) {
	// Two files declare FEAT-001; a third spec is clean. The duplicate id
	// blocks FEAT-001 from assignment, the clean spec stays routable.
	clean := `---
id: FEAT-002
type: feature
status: active
title: Search index
priority: P2
tasks:
  - id: TASK-001
    title: Build the index
    status: ready
    agent: backend
---
`
	f := newFixture(t, map[string]string{
		"feat-001-command-palette.md": chainSpec,
		"feat-001-duplicate.md":       chainSpec,
		"feat-002-search-index.md":    clean,
	})

	result := f.orch.StartNext(StartNextOptions{Agent: "backend"})

	require.Empty(t, result.Violations)
	assert.True(t, result.Assigned)
	assert.Equal(t, "FEAT-002", result.Task.SpecID)
}

func TestStartNextFilters(t *testing.T) {
	f := newFixture(t, map[string]string{
		"feat-001-command-palette.md": chainSpec,
		"fix-001-data-loss.md":        criticalSpec,
	})

	result := f.orch.StartNext(StartNextOptions{
		Agent:   "backend",
		Filters: router.Filters{Priority: "P1"},
	})

	require.Empty(t, result.Violations)
	assert.Equal(t, "FEAT-001", result.Task.SpecID)
}

func completeOpts(agent string) CompleteCurrentOptions {
	return CompleteCurrentOptions{Agent: agent}
}

func TestCompleteCurrentWithHandoff(t *testing.T) {
	f := newFixture(t, map[string]string{"feat-001-command-palette.md": chainSpec})
	_, err := f.manager.AssignTask("FEAT-001", "TASK-001", "backend", state.AssignOptions{})
	require.NoError(t, err)

	result := f.orch.CompleteCurrent(context.Background(), completeOpts("backend"))

	require.Empty(t, result.Violations)
	assert.True(t, result.Success)
	assert.Equal(t, "FEAT-001", result.SpecID)
	assert.Equal(t, "TASK-001", result.TaskID)
	require.NotNil(t, result.Completion)

	// TASK-002 depended only on TASK-001 and routes to its tagged agent.
	require.NotNil(t, result.Handoff)
	assert.True(t, result.Handoff.HandoffNeeded)
	assert.Equal(t, "TASK-002", result.Handoff.NextTask)
	assert.Equal(t, "frontend", result.Handoff.NextAgent)

	// The commit carried the tracked files plus the rewritten spec/state.
	assert.Equal(t, "abc1234", result.CommitHash)
	assert.Contains(t, f.committer.message, "complete(FEAT-001/TASK-001): Wire the parser")
	assert.Contains(t, f.committer.message, "Completed by backend via specflow")
	assert.Contains(t, f.committer.committedPaths, "internal/app/palette.go")
}

func TestCompleteCurrentNoAssignment(t *testing.T) {
	f := newFixture(t, map[string]string{"feat-001-command-palette.md": chainSpec})

	result := f.orch.CompleteCurrent(context.Background(), completeOpts("backend"))

	assert.False(t, result.Success)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, wferrors.NotInProgress, result.Violations[0].Kind)
}

func TestCompleteCurrentAmbiguousWithoutTarget(t *testing.T) {
	second := `---
id: FEAT-003
type: feature
status: active
title: Export
priority: P2
tasks:
  - id: TASK-001
    title: CSV export
    status: ready
    agent: backend
---
`
	f := newFixture(t, map[string]string{
		"feat-001-command-palette.md": chainSpec,
		"feat-003-export.md":          second,
	})
	_, err := f.manager.AssignTask("FEAT-001", "TASK-001", "backend", state.AssignOptions{})
	require.NoError(t, err)
	_, err = f.manager.AssignTask("FEAT-003", "TASK-001", "backend", state.AssignOptions{})
	require.NoError(t, err)

	result := f.orch.CompleteCurrent(context.Background(), completeOpts("backend"))

	assert.False(t, result.Success)
	require.Len(t, result.Violations, 1)
	assert.Contains(t, result.Violations[0].Suggestions[0], "FEAT-001/TASK-001")
	assert.Contains(t, result.Violations[0].Suggestions[0], "FEAT-003/TASK-001")

	// Naming the target resolves the ambiguity.
	result = f.orch.CompleteCurrent(context.Background(), CompleteCurrentOptions{
		Agent: "backend", SpecID: "FEAT-003", TaskID: "TASK-001",
	})
	require.Empty(t, result.Violations)
	assert.True(t, result.Success)
	assert.Equal(t, "FEAT-003", result.SpecID)
}

func TestCompleteCurrentRejectsOtherAgentsTask(t *testing.T) {
	f := newFixture(t, map[string]string{"feat-001-command-palette.md": chainSpec})
	_, err := f.manager.AssignTask("FEAT-001", "TASK-001", "backend", state.AssignOptions{})
	require.NoError(t, err)

	result := f.orch.CompleteCurrent(context.Background(), CompleteCurrentOptions{
		Agent: "frontend", SpecID: "FEAT-001", TaskID: "TASK-001",
	})

	assert.False(t, result.Success)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, wferrors.AlreadyAssigned, result.Violations[0].Kind)
}

func TestCompleteCurrentLintAutoFixRetry(t *testing.T) {
	f := newFixture(t, map[string]string{"feat-001-command-palette.md": chainSpec})
	_, err := f.manager.AssignTask("FEAT-001", "TASK-001", "backend", state.AssignOptions{})
	require.NoError(t, err)

	// First lint fails, the auto-fix runs, the re-lint passes.
	f.runner.results["lint"] = []ToolResult{
		{Name: "lint", ExitCode: 1, Output: "palette.go:10: missing comment"},
		{Name: "lint", ExitCode: 0},
	}

	result := f.orch.CompleteCurrent(context.Background(), completeOpts("backend"))

	require.Empty(t, result.Violations)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"lint", "lint-fix", "lint", "test"}, f.runner.calls)
}

func TestCompleteCurrentLintFailsAfterRetry(t *testing.T) {
	f := newFixture(t, map[string]string{"feat-001-command-palette.md": chainSpec})
	_, err := f.manager.AssignTask("FEAT-001", "TASK-001", "backend", state.AssignOptions{})
	require.NoError(t, err)

	f.runner.results["lint"] = []ToolResult{
		{Name: "lint", ExitCode: 1, Output: "palette.go:10: missing comment"},
		{Name: "lint", ExitCode: 1, Output: "palette.go:10: missing comment"},
	}

	result := f.orch.CompleteCurrent(context.Background(), completeOpts("backend"))

	assert.False(t, result.Success)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, wferrors.ExternalToolFailure, result.Violations[0].Kind)
	assert.Contains(t, result.Violations[0].Message, "lint failed after auto-fix retry")

	// The assignment is untouched: the task can be completed after a fix.
	doc, err := f.manager.Snapshot()
	require.NoError(t, err)
	assert.Len(t, doc.CurrentAssignments, 1)
}

func TestCompleteCurrentTestFailure(t *testing.T) {
	f := newFixture(t, map[string]string{"feat-001-command-palette.md": chainSpec})
	_, err := f.manager.AssignTask("FEAT-001", "TASK-001", "backend", state.AssignOptions{})
	require.NoError(t, err)

	f.runner.results["test"] = []ToolResult{
		{Name: "test", ExitCode: 2, Output: "--- FAIL: TestPalette"},
	}

	result := f.orch.CompleteCurrent(context.Background(), completeOpts("backend"))

	assert.False(t, result.Success)
	require.Len(t, result.Violations, 1)
	assert.Contains(t, result.Violations[0].Message, "test command failed")
	assert.Contains(t, result.Violations[0].Message, "TestPalette")
}

func TestCompleteCurrentSkipFlags(t *testing.T) {
	f := newFixture(t, map[string]string{"feat-001-command-palette.md": chainSpec})
	_, err := f.manager.AssignTask("FEAT-001", "TASK-001", "backend", state.AssignOptions{})
	require.NoError(t, err)

	result := f.orch.CompleteCurrent(context.Background(), CompleteCurrentOptions{
		Agent: "backend", SkipLint: true, SkipTests: true, NoCommit: true,
	})

	require.Empty(t, result.Violations)
	assert.True(t, result.Success)
	assert.Empty(t, f.runner.calls)
	assert.Empty(t, result.CommitHash)
}

func TestCompleteCurrentCommitFailureIsWarning(t *testing.T) {
	f := newFixture(t, map[string]string{"feat-001-command-palette.md": chainSpec})
	_, err := f.manager.AssignTask("FEAT-001", "TASK-001", "backend", state.AssignOptions{})
	require.NoError(t, err)

	f.committer.commitErr = wferrors.New(wferrors.ExternalToolFailure, "index locked")

	result := f.orch.CompleteCurrent(context.Background(), completeOpts("backend"))

	// The completion is durable even though the commit failed.
	assert.True(t, result.Success)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "commit failed")

	doc, err := f.manager.Snapshot()
	require.NoError(t, err)
	assert.Len(t, doc.CompletedAssignments, 1)
}
