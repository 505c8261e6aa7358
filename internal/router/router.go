// Package router selects the next task for an agent by scoring every
// eligible task in the spec graph against the constraint engine and ranking
// the results.
package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/raveheart1/specflow/internal/constraint"
	"github.com/raveheart1/specflow/internal/spec"
	"github.com/raveheart1/specflow/internal/state"
)

// maxAlternatives bounds the alternatives list returned for dry-run display.
const maxAlternatives = 3

// Filters narrows the candidate set before ranking.
type Filters struct {
	// Priority keeps only specs with this priority (e.g. "P1").
	Priority string
	// Tag keeps only specs carrying this tag.
	Tag string
	// SpecID keeps only tasks of this spec.
	SpecID string
}

func (f Filters) empty() bool {
	return f.Priority == "" && f.Tag == "" && f.SpecID == ""
}

// Candidate is one scored task.
type Candidate struct {
	SpecID   string           `json:"spec_id"`
	TaskID   string           `json:"task_id"`
	Title    string           `json:"title"`
	Agent    string           `json:"agent,omitempty"`
	Priority spec.Priority    `json:"priority"`
	Score    constraint.Score `json:"-"`
	Total    float64          `json:"score"`
	// Resumption marks a task the caller already holds in_progress.
	Resumption bool `json:"resumption,omitempty"`
}

// BlockedTask is a task excluded from ranking because its dependencies are
// unmet. P0 blocked tasks are surfaced so critical work is never silently
// dropped.
type BlockedTask struct {
	SpecID   string        `json:"spec_id"`
	TaskID   string        `json:"task_id"`
	Priority spec.Priority `json:"priority"`
	Unmet    []string      `json:"unmet"`
}

// Metadata summarizes the candidate pool for the caller.
type Metadata struct {
	TotalAvailable int `json:"total_available"`
	AgentMatches   int `json:"agent_matches"`
}

// Recommendation is the router's answer for one NextTask call.
type Recommendation struct {
	// Task is the top choice; nil when nothing is eligible.
	Task *Candidate `json:"task,omitempty"`
	// Alternatives are the next-ranked candidates for dry-run display.
	Alternatives []Candidate `json:"alternatives,omitempty"`
	// Reasoning explains the selection in one or two sentences.
	Reasoning string `json:"reasoning"`
	// Blocked lists tasks held back only by unmet dependencies.
	Blocked []BlockedTask `json:"blocked,omitempty"`
	// Suggestions proposes next steps when no task was selected.
	Suggestions []string `json:"suggestions,omitempty"`
	Metadata    Metadata `json:"metadata"`
}

// Router ranks tasks against one (graph, workflow state) snapshot.
type Router struct {
	graph  *spec.Graph
	engine *constraint.Engine
	doc    *state.Document
}

// New creates a Router over a graph snapshot, its constraint engine, and the
// current workflow state document.
func New(graph *spec.Graph, engine *constraint.Engine, doc *state.Document) *Router {
	return &Router{graph: graph, engine: engine, doc: doc}
}

// Engine exposes the constraint engine for other components.
func (r *Router) Engine() *constraint.Engine {
	return r.engine
}

// DependencyChain resolves the dependency chain of one task.
func (r *Router) DependencyChain(specID, taskID string) []constraint.ChainLink {
	t := r.graph.TaskOf(specID, taskID)
	if t == nil {
		return nil
	}
	return r.engine.DependencyChain(specID, t)
}

// AllTasks enumerates every task in non-done, non-archived specs.
func (r *Router) AllTasks() []Candidate {
	var out []Candidate
	for _, id := range r.graph.IDs() {
		s := r.graph.Spec(id)
		if !specRoutable(s) {
			continue
		}
		for i := range s.Tasks {
			t := &s.Tasks[i]
			out = append(out, Candidate{
				SpecID:   s.ID,
				TaskID:   t.ID,
				Title:    t.Title,
				Agent:    t.Agent,
				Priority: s.Priority,
			})
		}
	}
	return out
}

// NextTask returns the ranked recommendation for agent under filters.
func (r *Router) NextTask(agent string, filters Filters) *Recommendation {
	rec := &Recommendation{}
	inProgress := r.doc.InProgressCount(agent)

	var candidates []Candidate
	for _, id := range r.graph.IDs() {
		s := r.graph.Spec(id)
		if !specRoutable(s) || !r.matchesFilters(s, filters) {
			continue
		}
		for i := range s.Tasks {
			t := &s.Tasks[i]
			resumption, eligible := r.eligibility(agent, s.ID, t)
			if !eligible {
				continue
			}
			rec.Metadata.TotalAvailable++

			score := r.engine.Score(agent, s, t, inProgress)
			if score.Skill > 0 {
				rec.Metadata.AgentMatches++
			}
			if score.Dependency == 0 {
				rec.Blocked = append(rec.Blocked, BlockedTask{
					SpecID:   s.ID,
					TaskID:   t.ID,
					Priority: s.Priority,
					Unmet:    unmetRefs(score),
				})
				continue
			}
			if score.Total == 0 {
				continue
			}
			candidates = append(candidates, Candidate{
				SpecID:     s.ID,
				TaskID:     t.ID,
				Title:      t.Title,
				Agent:      t.Agent,
				Priority:   s.Priority,
				Score:      score,
				Total:      score.Total,
				Resumption: resumption,
			})
		}
	}

	r.rank(candidates)

	if len(candidates) == 0 {
		rec.Suggestions = r.suggestions(agent, filters, rec)
		rec.Reasoning = "no eligible task found"
		return rec
	}

	top := candidates[0]
	rec.Task = &top
	if len(candidates) > 1 {
		n := len(candidates) - 1
		if n > maxAlternatives {
			n = maxAlternatives
		}
		rec.Alternatives = candidates[1 : 1+n]
	}
	rec.Reasoning = r.explain(top, len(candidates))
	return rec
}

// eligibility reports whether a task may be routed to agent at all. Ready
// tasks are open; in_progress tasks are eligible only for self-resumption.
func (r *Router) eligibility(agent, specID string, t *spec.Task) (resumption, eligible bool) {
	switch t.Status {
	case spec.TaskReady:
		return false, true
	case spec.TaskInProgress:
		record := r.doc.InProgress(specID, t.ID)
		if record != nil && record.AssignedAgent == agent {
			return true, true
		}
	}
	return false, false
}

func (r *Router) matchesFilters(s *spec.Spec, f Filters) bool {
	if f.Priority != "" && string(s.Priority) != f.Priority {
		return false
	}
	if f.SpecID != "" && s.ID != f.SpecID {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, tag := range s.Tags {
			if tag == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// rank sorts by score descending, tie-breaking by priority, then spec
// creation time, then ids for determinism.
func (r *Router) rank(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		at, bt := r.createdAt(a.SpecID), r.createdAt(b.SpecID)
		if at != bt {
			return at < bt
		}
		if a.SpecID != b.SpecID {
			return a.SpecID < b.SpecID
		}
		return a.TaskID < b.TaskID
	})
}

// createdAt returns the spec's creation time as unix nanos; specs without a
// creation date sort last among ties.
func (r *Router) createdAt(specID string) int64 {
	s := r.graph.Spec(specID)
	if s == nil || s.Created == nil {
		return int64(^uint64(0) >> 1)
	}
	return s.Created.UnixNano()
}

func (r *Router) explain(top Candidate, total int) string {
	var sb strings.Builder
	if top.Resumption {
		fmt.Fprintf(&sb, "resuming %s/%s already in progress", top.SpecID, top.TaskID)
	} else {
		fmt.Fprintf(&sb, "selected %s/%s (priority %s, score %.2f)", top.SpecID, top.TaskID, top.Priority, top.Total)
	}
	if total > 1 {
		fmt.Fprintf(&sb, " out of %d eligible tasks", total)
	}
	return sb.String()
}

// suggestions generates actionable next steps when nothing was selected.
func (r *Router) suggestions(agent string, filters Filters, rec *Recommendation) []string {
	var out []string
	switch {
	case rec.Metadata.TotalAvailable == 0 && len(rec.Blocked) == 0:
		out = append(out, "No available tasks: all tasks are complete, in progress, or blocked")
		out = append(out, "Add specs to the backlog or complete in-progress work")
	case rec.Metadata.AgentMatches == 0:
		out = append(out, fmt.Sprintf("No tasks match %s agent capabilities", agent))
		out = append(out, "Check task agent tags, or configure capability adjacency")
	case !filters.empty():
		out = append(out, "Filters may be too restrictive; retry without --priority/--tag/--spec")
	}
	for _, b := range rec.Blocked {
		if b.Priority == spec.PriorityP0 {
			out = append(out, fmt.Sprintf("Critical task %s/%s is blocked by: %s", b.SpecID, b.TaskID, strings.Join(b.Unmet, ", ")))
		}
	}
	if len(out) == 0 {
		out = append(out, "All matching tasks are currently blocked; complete their dependencies first")
	}
	return out
}

// specRoutable excludes finished and archived specs from routing.
func specRoutable(s *spec.Spec) bool {
	return s.Status != spec.StatusDone && s.Status != spec.StatusArchived
}

// unmetRefs extracts the dependency violation's references from a score.
func unmetRefs(score constraint.Score) []string {
	for _, v := range score.Violations {
		if v.Rule == "dependency" {
			parts := strings.SplitN(v.Message, ": ", 2)
			if len(parts) == 2 {
				return strings.Split(parts[1], ", ")
			}
		}
	}
	return nil
}
