package integrity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raveheart1/specflow/internal/spec"
)

func validSpec(id, path string) *spec.Spec {
	return &spec.Spec{
		ID:       id,
		Type:     spec.TypeFeature,
		Status:   spec.StatusActive,
		Title:    "Test spec " + id,
		Priority: spec.PriorityP1,
		Path:     path,
	}
}

func graphOf(specs ...*spec.Spec) *spec.Graph {
	return spec.NewGraph(specs, nil, nil)
}

func checksIn(r *Report) map[Check]int {
	counts := make(map[Check]int)
	for _, i := range r.Issues {
		counts[i.Check]++
	}
	return counts
}

func TestValidateCleanGraph(t *testing.T) {
	a := validSpec("FEAT-001", "/repo/docs/specs/active/feat-001-alpha.md")
	b := validSpec("FEAT-002", "/repo/docs/specs/active/feat-002-beta.md")
	b.Dependencies = []string{"FEAT-001"}

	r := NewValidator("").Validate(graphOf(a, b))

	assert.True(t, r.Ok())
	assert.Empty(t, r.Issues)
}

func TestValidateChecks(t *testing.T) {
	tests := map[string]struct {
		specs     func() []*spec.Spec
		wantCheck Check
	}{
		"malformed id": {
			specs: func() []*spec.Spec {
				s := validSpec("feat_1", "/repo/docs/specs/active/feat-001-x.md")
				return []*spec.Spec{s}
			},
			wantCheck: CheckFormat,
		},
		"unknown status": {
			specs: func() []*spec.Spec {
				s := validSpec("FEAT-001", "/repo/docs/specs/active/feat-001-x.md")
				s.Status = "doing"
				return []*spec.Spec{s}
			},
			wantCheck: CheckFormat,
		},
		"missing title": {
			specs: func() []*spec.Spec {
				s := validSpec("FEAT-001", "/repo/docs/specs/active/feat-001-x.md")
				s.Title = ""
				return []*spec.Spec{s}
			},
			wantCheck: CheckRequiredFields,
		},
		"status and directory disagree": {
			specs: func() []*spec.Spec {
				s := validSpec("FEAT-001", "/repo/docs/specs/backlog/feat-001-x.md")
				return []*spec.Spec{s}
			},
			wantCheck: CheckFileLocation,
		},
		"filename does not carry the id": {
			specs: func() []*spec.Spec {
				s := validSpec("FEAT-001", "/repo/docs/specs/active/renamed.md")
				return []*spec.Spec{s}
			},
			wantCheck: CheckFilenameID,
		},
		"dangling dependency reference": {
			specs: func() []*spec.Spec {
				s := validSpec("FEAT-001", "/repo/docs/specs/active/feat-001-x.md")
				s.Dependencies = []string{"FEAT-999"}
				return []*spec.Spec{s}
			},
			wantCheck: CheckReferences,
		},
		"dangling cross-spec task reference": {
			specs: func() []*spec.Spec {
				s := validSpec("FEAT-001", "/repo/docs/specs/active/feat-001-x.md")
				s.Tasks = []spec.Task{{ID: "TASK-001", Title: "t", Status: spec.TaskReady, DependsOn: []string{"FEAT-999:TASK-001"}}}
				return []*spec.Spec{s}
			},
			wantCheck: CheckReferences,
		},
		"task depends on missing sibling": {
			specs: func() []*spec.Spec {
				s := validSpec("FEAT-001", "/repo/docs/specs/active/feat-001-x.md")
				s.Tasks = []spec.Task{{ID: "TASK-001", Title: "t", Status: spec.TaskReady, DependsOn: []string{"TASK-009"}}}
				return []*spec.Spec{s}
			},
			wantCheck: CheckTaskDeps,
		},
		"task in progress ahead of its dependency": {
			specs: func() []*spec.Spec {
				s := validSpec("FEAT-001", "/repo/docs/specs/active/feat-001-x.md")
				s.Tasks = []spec.Task{
					{ID: "TASK-001", Title: "dep", Status: spec.TaskReady},
					{ID: "TASK-002", Title: "t", Status: spec.TaskInProgress, DependsOn: []string{"TASK-001"}},
				}
				return []*spec.Spec{s}
			},
			wantCheck: CheckTaskDeps,
		},
		"dependency cycle": {
			specs: func() []*spec.Spec {
				a := validSpec("FEAT-001", "/repo/docs/specs/active/feat-001-x.md")
				b := validSpec("FEAT-002", "/repo/docs/specs/active/feat-002-y.md")
				a.Dependencies = []string{"FEAT-002"}
				b.Dependencies = []string{"FEAT-001"}
				return []*spec.Spec{a, b}
			},
			wantCheck: CheckAcyclic,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			r := NewValidator("").Validate(graphOf(tc.specs()...))

			require.False(t, r.Ok())
			counts := checksIn(r)
			assert.NotZero(t, counts[tc.wantCheck], "expected a %s issue, got %#v", tc.wantCheck, r.Issues)
		})
	}
}

func TestValidateDuplicateIDs(t *testing.T) {
	a := validSpec("FEAT-001", "/repo/docs/specs/active/feat-001-a.md")
	b := validSpec("FEAT-001", "/repo/docs/specs/active/feat-001-b.md")

	r := NewValidator("").Validate(graphOf(a, b))

	require.False(t, r.Ok())
	assert.Len(t, r.Duplicates["FEAT-001"], 2)
	assert.NotZero(t, checksIn(r)[CheckDuplicateID])
}

func TestValidateArchivedFolderOverride(t *testing.T) {
	s := validSpec("FEAT-001", "/repo/docs/specs/attic/feat-001-x.md")
	s.Status = spec.StatusArchived

	r := NewValidator("attic").Validate(graphOf(s))

	assert.True(t, r.Ok())
}

func TestValidateParseIssuesSurface(t *testing.T) {
	g := spec.NewGraph(nil, []spec.ParseIssue{{Path: "/repo/docs/specs/active/broken.md", Message: "missing front-matter delimiter"}}, nil)

	r := NewValidator("").Validate(g)

	require.False(t, r.Ok())
	assert.Equal(t, CheckParse, r.Issues[0].Check)
}

func TestValidateCompleteTaskWithCompleteDepsOk(t *testing.T) {
	s := validSpec("FEAT-001", "/repo/docs/specs/active/feat-001-x.md")
	s.Tasks = []spec.Task{
		{ID: "TASK-001", Title: "dep", Status: spec.TaskComplete},
		{ID: "TASK-002", Title: "t", Status: spec.TaskComplete, DependsOn: []string{"TASK-001"}},
	}

	r := NewValidator("").Validate(graphOf(s))

	assert.True(t, r.Ok())
}

func TestReportWrite(t *testing.T) {
	dir := t.TempDir()
	r := NewReport()
	r.Add(Issue{Check: CheckFormat, Severity: SeverityError, SpecID: "FEAT-001", Message: "bad id"})

	path, err := r.Write(dir)

	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, 1, r.ErrorCount())
	assert.Equal(t, 0, r.WarningCount())
}
