package spec

import (
	"sort"
)

// Graph is the in-memory view of all loaded specs plus derived indices.
// Specs are keyed by id; edges are id references, never direct pointers,
// so reloads stay cheap and edits cannot leave dangling pointers.
type Graph struct {
	// Specs maps spec id to the parsed spec. When duplicate ids exist the
	// first file wins here; duplicates are recorded in Duplicates for the
	// integrity validator.
	Specs map[string]*Spec
	// ByStatus indexes spec ids by status.
	ByStatus map[Status][]string
	// ByTag indexes spec ids by tag.
	ByTag map[string][]string
	// Duplicates maps an id to every file path that declared it, for ids
	// declared more than once.
	Duplicates map[string][]string
	// Errors holds the parse issues collected during load.
	Errors []ParseIssue
	// Warnings holds non-fatal per-file parse warnings keyed by path.
	Warnings map[string][]string
}

// NewGraph builds a graph from parsed specs in load order.
func NewGraph(specs []*Spec, issues []ParseIssue, warnings map[string][]string) *Graph {
	g := &Graph{
		Specs:      make(map[string]*Spec, len(specs)),
		ByStatus:   make(map[Status][]string),
		ByTag:      make(map[string][]string),
		Duplicates: make(map[string][]string),
		Errors:     issues,
		Warnings:   warnings,
	}
	paths := make(map[string][]string)
	for _, s := range specs {
		if s.ID == "" {
			continue
		}
		paths[s.ID] = append(paths[s.ID], s.Path)
		if _, exists := g.Specs[s.ID]; exists {
			continue
		}
		g.Specs[s.ID] = s
		g.ByStatus[s.Status] = append(g.ByStatus[s.Status], s.ID)
		for _, tag := range s.Tags {
			g.ByTag[tag] = append(g.ByTag[tag], s.ID)
		}
	}
	for id, p := range paths {
		if len(p) > 1 {
			g.Duplicates[id] = p
		}
	}
	return g
}

// Spec returns the spec with the given id, or nil.
func (g *Graph) Spec(id string) *Spec {
	return g.Specs[id]
}

// TaskOf resolves (specID, taskID) to the task, or nil.
func (g *Graph) TaskOf(specID, taskID string) *Task {
	s := g.Specs[specID]
	if s == nil {
		return nil
	}
	return s.Task(taskID)
}

// IDs returns all spec ids in sorted order.
func (g *Graph) IDs() []string {
	ids := make([]string, 0, len(g.Specs))
	for id := range g.Specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResolveTaskRef resolves a depends_on entry relative to its owning spec.
// Plain TASK-### ids resolve within ownerID; SPEC:TASK references resolve
// across specs. Returns nil when the target does not exist.
func (g *Graph) ResolveTaskRef(ownerID, ref string) *Task {
	if specID, taskID, ok := SplitCrossRef(ref); ok {
		return g.TaskOf(specID, taskID)
	}
	return g.TaskOf(ownerID, ref)
}

// DependencyCycle searches the spec-level dependencies edges for a cycle.
// Returns the first cycle found as an id path (closed, first == last), or
// nil when the subgraph is acyclic.
func (g *Graph) DependencyCycle() []string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.Specs))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = visiting
		stack = append(stack, id)
		s := g.Specs[id]
		if s != nil {
			for _, dep := range s.Dependencies {
				switch state[dep] {
				case visiting:
					// Close the loop from the first occurrence of dep.
					for i, v := range stack {
						if v == dep {
							cycle = append(append(cycle, stack[i:]...), dep)
							return true
						}
					}
				case unvisited:
					if _, known := g.Specs[dep]; known && visit(dep) {
						return true
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	for _, id := range g.IDs() {
		if state[id] == unvisited && visit(id) {
			return cycle
		}
	}
	return nil
}
