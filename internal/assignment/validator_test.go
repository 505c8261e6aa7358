package assignment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raveheart1/specflow/internal/constraint"
	wferrors "github.com/raveheart1/specflow/internal/errors"
	"github.com/raveheart1/specflow/internal/spec"
	"github.com/raveheart1/specflow/internal/state"
)

type fixture struct {
	specs []*spec.Spec
	doc   *state.Document
}

func (f fixture) validator() *Validator {
	g := spec.NewGraph(f.specs, nil, nil)
	e := constraint.New(g, nil, 2, 3)
	doc := f.doc
	if doc == nil {
		doc = state.NewDocument()
	}
	return New(g, e, doc, 3)
}

func baseSpec(priority spec.Priority, tasks ...spec.Task) *spec.Spec {
	return &spec.Spec{
		ID:       "FEAT-001",
		Type:     spec.TypeFeature,
		Status:   spec.StatusActive,
		Title:    "Command palette",
		Priority: priority,
		Tasks:    tasks,
	}
}

func inProgressDoc(agent string, n int) *state.Document {
	doc := state.NewDocument()
	for i := 0; i < n; i++ {
		doc.CurrentAssignments = append(doc.CurrentAssignments, state.Assignment{
			ID:            string(rune('a' + i)),
			SpecID:        "OTHER-001",
			TaskID:        "TASK-00" + string(rune('1'+i)),
			AssignedAgent: agent,
			Status:        state.AssignmentInProgress,
		})
	}
	return doc
}

func TestValidateCleanAssignment(t *testing.T) {
	f := fixture{specs: []*spec.Spec{baseSpec(spec.PriorityP1,
		spec.Task{ID: "TASK-001", Status: spec.TaskReady, Agent: "cli-specialist"},
	)}}

	res := f.validator().Validate(Request{Agent: "cli-specialist", SpecID: "FEAT-001", TaskID: "TASK-001"})

	assert.True(t, res.IsValid)
	assert.True(t, res.CanProceed)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Empty(t, res.Violations)
	assert.Equal(t, spec.TaskReady, res.Details.TaskStatus)
}

func TestValidateViolations(t *testing.T) {
	tests := map[string]struct {
		fixture  fixture
		request  Request
		wantKind wferrors.Kind
		wantMsg  string
	}{
		"unknown spec": {
			fixture:  fixture{specs: nil},
			request:  Request{Agent: "dev", SpecID: "FEAT-404", TaskID: "TASK-001"},
			wantKind: wferrors.ValidationViolation,
			wantMsg:  "spec not found",
		},
		"unknown task": {
			fixture: fixture{specs: []*spec.Spec{baseSpec(spec.PriorityP1,
				spec.Task{ID: "TASK-001", Status: spec.TaskReady},
			)}},
			request:  Request{Agent: "dev", SpecID: "FEAT-001", TaskID: "TASK-404"},
			wantKind: wferrors.ValidationViolation,
			wantMsg:  "not found",
		},
		"task not ready": {
			fixture: fixture{specs: []*spec.Spec{baseSpec(spec.PriorityP1,
				spec.Task{ID: "TASK-001", Status: spec.TaskBlocked},
			)}},
			request:  Request{Agent: "dev", SpecID: "FEAT-001", TaskID: "TASK-001"},
			wantKind: wferrors.ValidationViolation,
			wantMsg:  "not ready",
		},
		"already assigned to someone else": {
			fixture: fixture{
				specs: []*spec.Spec{baseSpec(spec.PriorityP1,
					spec.Task{ID: "TASK-001", Status: spec.TaskInProgress, Agent: "dev"},
				)},
				doc: &state.Document{Version: 1, CurrentAssignments: []state.Assignment{{
					ID: "r1", SpecID: "FEAT-001", TaskID: "TASK-001",
					AssignedAgent: "other", Status: state.AssignmentInProgress,
				}}},
			},
			request:  Request{Agent: "dev", SpecID: "FEAT-001", TaskID: "TASK-001"},
			wantKind: wferrors.AlreadyAssigned,
			wantMsg:  "other",
		},
		"capability mismatch": {
			fixture: fixture{specs: []*spec.Spec{baseSpec(spec.PriorityP1,
				spec.Task{ID: "TASK-001", Status: spec.TaskReady, Agent: "database-engineer"},
			)}},
			request:  Request{Agent: "frontend-developer", SpecID: "FEAT-001", TaskID: "TASK-001"},
			wantKind: wferrors.ValidationViolation,
			wantMsg:  "capability",
		},
		"unsatisfied dependencies": {
			fixture: fixture{specs: []*spec.Spec{baseSpec(spec.PriorityP1,
				spec.Task{ID: "TASK-001", Status: spec.TaskReady},
				spec.Task{ID: "TASK-002", Status: spec.TaskReady, Agent: "dev", DependsOn: []string{"TASK-001"}},
			)}},
			request:  Request{Agent: "dev", SpecID: "FEAT-001", TaskID: "TASK-002"},
			wantKind: wferrors.ValidationViolation,
			wantMsg:  "Complete dependencies first: TASK-001",
		},
		"P0 without confirmation": {
			fixture: fixture{specs: []*spec.Spec{baseSpec(spec.PriorityP0,
				spec.Task{ID: "TASK-001", Status: spec.TaskReady, Agent: "dev"},
			)}},
			request:  Request{Agent: "dev", SpecID: "FEAT-001", TaskID: "TASK-001"},
			wantKind: wferrors.ValidationViolation,
			wantMsg:  "P0 (Critical) tasks require explicit confirmation",
		},
		"concurrency limit": {
			fixture: fixture{
				specs: []*spec.Spec{baseSpec(spec.PriorityP1,
					spec.Task{ID: "TASK-001", Status: spec.TaskReady, Agent: "dev"},
				)},
				doc: inProgressDoc("dev", 3),
			},
			request:  Request{Agent: "dev", SpecID: "FEAT-001", TaskID: "TASK-001"},
			wantKind: wferrors.ValidationViolation,
			wantMsg:  "limit",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			res := tc.fixture.validator().Validate(tc.request)

			assert.False(t, res.IsValid)
			assert.False(t, res.CanProceed)
			assert.Zero(t, res.Confidence)
			require.NotEmpty(t, res.Violations)

			found := false
			for _, v := range res.Violations {
				if v.Kind == tc.wantKind && (tc.wantMsg == "" || containsSuggestionOrMessage(v, tc.wantMsg)) {
					found = true
				}
			}
			assert.True(t, found, "expected %s violation matching %q, got %v", tc.wantKind, tc.wantMsg, res.Violations)
		})
	}
}

func containsSuggestionOrMessage(e *wferrors.WorkflowError, want string) bool {
	if strings.Contains(e.Message, want) {
		return true
	}
	for _, s := range e.Suggestions {
		if strings.Contains(s, want) {
			return true
		}
	}
	return false
}

func TestValidateP0WithConfirmation(t *testing.T) {
	f := fixture{specs: []*spec.Spec{baseSpec(spec.PriorityP0,
		spec.Task{ID: "TASK-001", Status: spec.TaskReady, Agent: "dev"},
	)}}

	res := f.validator().Validate(Request{Agent: "dev", SpecID: "FEAT-001", TaskID: "TASK-001", ConfirmCritical: true})

	assert.True(t, res.IsValid)
}

func TestValidateSelfResumption(t *testing.T) {
	f := fixture{
		specs: []*spec.Spec{baseSpec(spec.PriorityP1,
			spec.Task{ID: "TASK-001", Status: spec.TaskInProgress, Agent: "dev"},
		)},
		doc: &state.Document{Version: 1, CurrentAssignments: []state.Assignment{{
			ID: "r1", SpecID: "FEAT-001", TaskID: "TASK-001",
			AssignedAgent: "dev", Status: state.AssignmentInProgress,
		}}},
	}

	res := f.validator().Validate(Request{Agent: "dev", SpecID: "FEAT-001", TaskID: "TASK-001"})

	assert.True(t, res.IsValid)
	assert.True(t, res.Details.Resumption)
	assert.NotEmpty(t, res.Warnings)
}

func TestValidateIsPure(t *testing.T) {
	f := fixture{specs: []*spec.Spec{baseSpec(spec.PriorityP1,
		spec.Task{ID: "TASK-001", Status: spec.TaskReady, Agent: "dev"},
	)}}
	v := f.validator()
	req := Request{Agent: "dev", SpecID: "FEAT-001", TaskID: "TASK-001"}

	first := v.Validate(req)
	second := v.Validate(req)
	third := v.Validate(req)

	assert.Equal(t, first, second)
	assert.Equal(t, second, third)
}
