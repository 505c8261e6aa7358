package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func specWithDeps(id string, deps ...string) *Spec {
	return &Spec{ID: id, Status: StatusActive, Dependencies: deps, Path: "active/" + id + ".md"}
}

func TestNewGraphIndexesAndDuplicates(t *testing.T) {
	first := specWithDeps("FEAT-001")
	first.Tags = []string{"ui"}
	dup := specWithDeps("FEAT-001")
	dup.Path = "active/feat-001-copy.md"
	other := specWithDeps("FEAT-002")
	other.Status = StatusBacklog

	g := NewGraph([]*Spec{first, dup, other}, nil, nil)

	// First file wins; both paths are recorded as duplicates.
	assert.Same(t, first, g.Spec("FEAT-001"))
	require.Contains(t, g.Duplicates, "FEAT-001")
	assert.Len(t, g.Duplicates["FEAT-001"], 2)
	assert.NotContains(t, g.Duplicates, "FEAT-002")

	assert.Equal(t, []string{"FEAT-001"}, g.ByStatus[StatusActive])
	assert.Equal(t, []string{"FEAT-002"}, g.ByStatus[StatusBacklog])
	assert.Equal(t, []string{"FEAT-001"}, g.ByTag["ui"])
	assert.Equal(t, []string{"FEAT-001", "FEAT-002"}, g.IDs())
}

func TestDependencyCycle(t *testing.T) {
	tests := map[string]struct {
		specs     []*Spec
		wantCycle bool
	}{
		"acyclic chain": {
			specs: []*Spec{
				specWithDeps("A-001", "B-001"),
				specWithDeps("B-001", "C-001"),
				specWithDeps("C-001"),
			},
		},
		"two node cycle": {
			specs: []*Spec{
				specWithDeps("A-001", "B-001"),
				specWithDeps("B-001", "A-001"),
			},
			wantCycle: true,
		},
		"self loop": {
			specs:     []*Spec{specWithDeps("A-001", "A-001")},
			wantCycle: true,
		},
		"dangling dep ignored": {
			specs: []*Spec{specWithDeps("A-001", "GONE-999")},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			g := NewGraph(tt.specs, nil, nil)

			cycle := g.DependencyCycle()
			if tt.wantCycle {
				require.NotEmpty(t, cycle)
				// The path is closed.
				assert.Equal(t, cycle[0], cycle[len(cycle)-1])
			} else {
				assert.Nil(t, cycle)
			}
		})
	}
}

func TestResolveTaskRef(t *testing.T) {
	owner := specWithDeps("FEAT-001")
	owner.Tasks = []Task{{ID: "TASK-001", Status: TaskReady}}
	other := specWithDeps("FEAT-002")
	other.Tasks = []Task{{ID: "TASK-009", Status: TaskComplete}}
	g := NewGraph([]*Spec{owner, other}, nil, nil)

	assert.NotNil(t, g.ResolveTaskRef("FEAT-001", "TASK-001"))
	assert.NotNil(t, g.ResolveTaskRef("FEAT-001", "FEAT-002:TASK-009"))
	assert.Nil(t, g.ResolveTaskRef("FEAT-001", "TASK-404"))
	assert.Nil(t, g.ResolveTaskRef("FEAT-001", "GONE-001:TASK-001"))
}
