// Package handoff decides whether completing a task should route follow-up
// work to another agent.
package handoff

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/raveheart1/specflow/internal/bus"
	"github.com/raveheart1/specflow/internal/constraint"
	"github.com/raveheart1/specflow/internal/spec"
)

// Reasons a handoff is not triggered.
const (
	ReasonNoDependents       = "no_dependents"
	ReasonMultipleCandidates = "multiple_candidates"
)

// TaskCompleted is the input event.
type TaskCompleted struct {
	SpecID    string
	TaskID    string
	FromAgent string
	// Context carries free-form notes passed through to the event payload.
	Context map[string]any
}

// Candidate is a dependent task that became ready.
type Candidate struct {
	SpecID string `json:"spec_id"`
	TaskID string `json:"task_id"`
	Agent  string `json:"agent,omitempty"`
}

// Result is the handoff verdict.
type Result struct {
	Success       bool   `json:"success"`
	HandoffNeeded bool   `json:"handoff_needed"`
	NextTask      string `json:"next_task,omitempty"`
	NextSpec      string `json:"next_spec,omitempty"`
	NextAgent     string `json:"next_agent,omitempty"`
	Reason        string `json:"reason,omitempty"`
	// Candidates lists every task unblocked by the completion, including
	// the multiple_candidates case where no auto-route happens.
	Candidates []Candidate `json:"candidates,omitempty"`
}

// Engine evaluates dependents against one graph snapshot.
type Engine struct {
	graph    *spec.Graph
	cengine  *constraint.Engine
	eventBus *bus.Bus
}

// New creates an Engine. eventBus may be nil when no events are wanted.
func New(graph *spec.Graph, cengine *constraint.Engine, eventBus *bus.Bus) *Engine {
	return &Engine{graph: graph, cengine: cengine, eventBus: eventBus}
}

// Evaluate enumerates the tasks that depended on the completed task and
// reports whether exactly one became ready. Several ready dependents are
// never auto-routed.
func (e *Engine) Evaluate(input TaskCompleted) Result {
	unblocked := e.unblockedDependents(input.SpecID, input.TaskID)

	result := Result{Success: true, Candidates: unblocked}
	switch len(unblocked) {
	case 0:
		result.Reason = ReasonNoDependents
	case 1:
		next := unblocked[0]
		result.HandoffNeeded = true
		result.NextTask = next.TaskID
		result.NextSpec = next.SpecID
		result.NextAgent = next.Agent
		log.Info("handoff triggered",
			"from", fmt.Sprintf("%s/%s", input.SpecID, input.TaskID),
			"to", fmt.Sprintf("%s/%s", next.SpecID, next.TaskID),
			"agent", next.Agent)
	default:
		result.Reason = ReasonMultipleCandidates
	}

	if e.eventBus != nil && result.HandoffNeeded {
		e.eventBus.Publish(bus.TopicHandoffTriggered, result)
	}
	return result
}

// unblockedDependents finds tasks whose depends_on pointed at the completed
// task and whose remaining dependencies are now all satisfied.
func (e *Engine) unblockedDependents(specID, taskID string) []Candidate {
	var out []Candidate
	for _, id := range e.graph.IDs() {
		s := e.graph.Spec(id)
		if s.Status == spec.StatusDone || s.Status == spec.StatusArchived {
			continue
		}
		for i := range s.Tasks {
			t := &s.Tasks[i]
			if t.Status != spec.TaskReady {
				continue
			}
			if !dependsOn(s.ID, t, specID, taskID) {
				continue
			}
			if e.cengine.IsBlocked(s.ID, t) {
				continue
			}
			out = append(out, Candidate{SpecID: s.ID, TaskID: t.ID, Agent: t.Agent})
		}
	}
	return out
}

// dependsOn reports whether task t (owned by ownerID) references the
// completed (specID, taskID), directly or via a cross-spec reference.
func dependsOn(ownerID string, t *spec.Task, specID, taskID string) bool {
	for _, ref := range t.DependsOn {
		if refSpec, refTask, ok := spec.SplitCrossRef(ref); ok {
			if refSpec == specID && refTask == taskID {
				return true
			}
			continue
		}
		if ownerID == specID && ref == taskID {
			return true
		}
	}
	return false
}
