// Package constraint scores candidate (agent, task) pairings. The engine is
// pure: it reads the spec graph and a workload snapshot and never mutates
// either.
package constraint

import (
	"fmt"
	"sort"
	"strings"

	"github.com/raveheart1/specflow/internal/spec"
)

// priorityWeights maps spec priority to its score weight.
var priorityWeights = map[spec.Priority]float64{
	spec.PriorityP0: 1.0,
	spec.PriorityP1: 0.7,
	spec.PriorityP2: 0.4,
	spec.PriorityP3: 0.2,
}

// adjacentCredit is the skill multiplier granted to a capability adjacent to
// the agent's own tag.
const adjacentCredit = 0.5

// Violation explains why a multiplier hit zero or breached a limit.
type Violation struct {
	// Rule is one of "skill", "workload", "dependency".
	Rule    string
	Message string
}

// Score is the full scoring breakdown for one (agent, task) pairing.
// Total = Priority * Skill * Workload * Dependency.
type Score struct {
	Skill      float64
	Workload   float64
	Priority   float64
	Dependency float64
	Total      float64
	Violations []Violation
}

// ChainLink is one resolved dependency of a task.
type ChainLink struct {
	Ref       string
	SpecID    string
	TaskID    string
	Status    spec.TaskStatus
	Satisfied bool
	// Missing is true when the reference does not resolve at all.
	Missing bool
}

// Engine computes constraint scores against one spec graph snapshot.
type Engine struct {
	graph     *spec.Graph
	adjacency map[string][]string
	softLimit int
	maxLimit  int
}

// New creates an Engine. adjacency maps a capability tag to the tags it gets
// partial credit for; nil means exact-match only. softLimit is where the
// workload multiplier starts decaying, maxLimit is where it reaches zero.
func New(graph *spec.Graph, adjacency map[string][]string, softLimit, maxLimit int) *Engine {
	if softLimit <= 0 {
		softLimit = 2
	}
	if maxLimit <= softLimit {
		maxLimit = softLimit + 1
	}
	return &Engine{
		graph:     graph,
		adjacency: adjacency,
		softLimit: softLimit,
		maxLimit:  maxLimit,
	}
}

// Graph returns the snapshot the engine scores against.
func (e *Engine) Graph() *spec.Graph {
	return e.graph
}

// Score computes the full breakdown for assigning task (owned by owner) to
// agent, given the agent's current number of in-progress assignments.
func (e *Engine) Score(agent string, owner *spec.Spec, task *spec.Task, inProgress int) Score {
	s := Score{
		Skill:      e.skillMultiplier(agent, task),
		Workload:   1.0,
		Priority:   e.priorityWeight(owner),
		Dependency: 1.0,
	}

	workload, violation := e.workloadMultiplier(agent, inProgress)
	s.Workload = workload
	if violation != nil {
		s.Violations = append(s.Violations, *violation)
	}

	if s.Skill == 0 {
		s.Violations = append(s.Violations, Violation{
			Rule:    "skill",
			Message: fmt.Sprintf("task requires %s, which is not in %s's capability set", task.Agent, agent),
		})
	}

	if unmet := e.unsatisfied(owner.ID, task); len(unmet) > 0 {
		s.Dependency = 0
		s.Violations = append(s.Violations, Violation{
			Rule:    "dependency",
			Message: fmt.Sprintf("unsatisfied dependencies: %s", strings.Join(unmet, ", ")),
		})
	}

	s.Total = s.Priority * s.Skill * s.Workload * s.Dependency
	return s
}

// IsBlocked reports whether the task has any unsatisfied dependency.
func (e *Engine) IsBlocked(ownerID string, task *spec.Task) bool {
	return len(e.unsatisfied(ownerID, task)) > 0
}

// DependencyChain resolves every depends_on reference of a task, in
// declaration order.
func (e *Engine) DependencyChain(ownerID string, task *spec.Task) []ChainLink {
	links := make([]ChainLink, 0, len(task.DependsOn))
	for _, ref := range task.DependsOn {
		link := ChainLink{Ref: ref, SpecID: ownerID, TaskID: ref}
		if specID, taskID, ok := spec.SplitCrossRef(ref); ok {
			link.SpecID, link.TaskID = specID, taskID
		}
		dep := e.graph.TaskOf(link.SpecID, link.TaskID)
		if dep == nil {
			link.Missing = true
		} else {
			link.Status = dep.Status
			link.Satisfied = dep.Status == spec.TaskComplete
		}
		links = append(links, link)
	}
	return links
}

// AdjacentTags returns the sorted capability tags adjacent to agent.
func (e *Engine) AdjacentTags(agent string) []string {
	tags := append([]string(nil), e.adjacency[agent]...)
	sort.Strings(tags)
	return tags
}

// skillMultiplier is 1.0 on an exact capability match or an untagged task,
// adjacentCredit when the task's tag is adjacent to the agent's, 0 otherwise.
func (e *Engine) skillMultiplier(agent string, task *spec.Task) float64 {
	if task.Agent == "" || task.Agent == agent {
		return 1.0
	}
	for _, adj := range e.adjacency[agent] {
		if adj == task.Agent {
			return adjacentCredit
		}
	}
	return 0
}

// workloadMultiplier is 1.0 below the soft limit, decays linearly from the
// soft limit down to 0 at the hard limit, and reports a violation at or past
// the hard limit. The decay band includes the soft limit itself, so with the
// default limits (2, 3) an agent at 2 in-progress tasks scores 0.5.
func (e *Engine) workloadMultiplier(agent string, inProgress int) (float64, *Violation) {
	if inProgress < e.softLimit {
		return 1.0, nil
	}
	if inProgress >= e.maxLimit {
		return 0, &Violation{
			Rule:    "workload",
			Message: fmt.Sprintf("%s already has %d in-progress tasks (limit %d)", agent, inProgress, e.maxLimit),
		}
	}
	return float64(e.maxLimit-inProgress) / float64(e.maxLimit-e.softLimit+1), nil
}

func (e *Engine) priorityWeight(owner *spec.Spec) float64 {
	if w, ok := priorityWeights[owner.Priority]; ok {
		return w
	}
	// Unknown priorities rank below P3 without zeroing the candidate.
	return 0.1
}

// unsatisfied returns the depends_on references that are not complete,
// including references that do not resolve.
func (e *Engine) unsatisfied(ownerID string, task *spec.Task) []string {
	var unmet []string
	for _, link := range e.DependencyChain(ownerID, task) {
		if !link.Satisfied {
			unmet = append(unmet, link.Ref)
		}
	}
	return unmet
}
