// Package watch observes the spec tree and turns raw filesystem events into
// analyzed change events for the sync engine. Analysis runs on a single
// goroutine so the in-memory graph is never mutated concurrently.
package watch

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/raveheart1/specflow/internal/spec"
)

// ChangeType classifies what part of a spec file changed.
type ChangeType string

const (
	ChangeYAML   ChangeType = "yaml"
	ChangeBody   ChangeType = "body"
	ChangeJSON   ChangeType = "json"
	ChangeRename ChangeType = "rename"
	ChangeDelete ChangeType = "delete"
)

// Impact grades how much a change matters to workflow state.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// StatusChange describes a spec-level status transition.
type StatusChange struct {
	From spec.Status `json:"from"`
	To   spec.Status `json:"to"`
	// IsWorkflowChange marks transitions the workflow engine must react to.
	IsWorkflowChange bool `json:"is_workflow_change"`
}

// AssignmentChange describes an assignee transition.
type AssignmentChange struct {
	From string `json:"from"`
	To   string `json:"to"`
	// IsHandoff marks a direct transfer from one agent to another.
	IsHandoff bool `json:"is_handoff"`
}

// TaskStatusChange describes one task's status transition.
type TaskStatusChange struct {
	TaskID string          `json:"task_id"`
	From   spec.TaskStatus `json:"from"`
	To     spec.TaskStatus `json:"to"`
}

// Analysis is the payload of a change_analyzed event.
type Analysis struct {
	Path   string     `json:"path"`
	SpecID string     `json:"spec_id,omitempty"`
	Type   ChangeType `json:"type"`
	Impact Impact     `json:"impact"`

	StatusChange      *StatusChange      `json:"status_change,omitempty"`
	AssignmentChange  *AssignmentChange  `json:"assignment_change,omitempty"`
	TaskStatusChanges []TaskStatusChange `json:"task_status_changes,omitempty"`

	// NoOp marks an event whose content hash matched the cached content.
	NoOp bool `json:"no_op,omitempty"`
	// ParseFailed marks files that no longer parse.
	ParseFailed bool      `json:"parse_failed,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
	// Elapsed is the detection latency for performance accounting.
	Elapsed time.Duration `json:"-"`
}

// Detector classifies file changes against the spec store's cached view.
type Detector struct {
	store *spec.Store
}

// NewDetector creates a Detector reading previous content from store.
func NewDetector(store *spec.Store) *Detector {
	return &Detector{store: store}
}

// AnalyzeRemoval builds the analysis for a deleted or renamed-away path.
func (d *Detector) AnalyzeRemoval(path string, renamed bool) *Analysis {
	a := &Analysis{
		Path:       path,
		Type:       ChangeDelete,
		Impact:     ImpactHigh,
		ObservedAt: time.Now(),
	}
	if renamed {
		a.Type = ChangeRename
	}
	if prev, ok := d.store.Cached(path); ok {
		a.SpecID = prev.ID
	}
	d.store.Invalidate(path)
	return a
}

// Analyze classifies a write or create event for path. Returns a NoOp
// analysis when the content hash matches the cached content.
func (d *Detector) Analyze(path string) (*Analysis, error) {
	start := time.Now()
	a := &Analysis{Path: path, ObservedAt: start}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return d.AnalyzeRemoval(path, false), nil
		}
		return nil, err
	}

	if sum, ok := d.store.CachedSum(path); ok && sum == xxhash.Sum64(data) {
		a.NoOp = true
		a.Impact = ImpactLow
		a.Elapsed = time.Since(start)
		return a, nil
	}

	prev, hadPrev := d.store.Cached(path)

	d.store.Invalidate(path)
	current, _, err := d.store.LoadPath(path)
	if err != nil {
		a.ParseFailed = true
		a.Type = d.baseType(path)
		a.Impact = ImpactHigh
		a.Elapsed = time.Since(start)
		return a, nil
	}
	a.SpecID = current.ID

	if !hadPrev {
		// First sighting: treat as a full-document change.
		a.Type = d.baseType(path)
		a.Impact = ImpactHigh
		a.Elapsed = time.Since(start)
		return a, nil
	}

	d.classify(a, prev, current, path)
	a.Elapsed = time.Since(start)
	return a, nil
}

// classify fills type, impact, and semantic changes from the before/after
// pair.
func (d *Detector) classify(a *Analysis, prev, current *spec.Spec, path string) {
	frontMatterChanged := !frontMatterEqual(prev, current)
	bodyChanged := prev.Body != current.Body

	switch {
	case strings.EqualFold(filepath.Ext(path), ".json"):
		a.Type = ChangeJSON
	case frontMatterChanged:
		a.Type = ChangeYAML
	default:
		a.Type = ChangeBody
	}

	if prev.Status != current.Status {
		a.StatusChange = &StatusChange{
			From:             prev.Status,
			To:               current.Status,
			IsWorkflowChange: isWorkflowStatus(prev.Status) || isWorkflowStatus(current.Status),
		}
	}
	if prev.Assignee != current.Assignee {
		a.AssignmentChange = &AssignmentChange{
			From:      prev.Assignee,
			To:        current.Assignee,
			IsHandoff: prev.Assignee != "" && current.Assignee != "" && prev.Assignee != current.Assignee,
		}
	}
	a.TaskStatusChanges = taskStatusDiff(prev, current)

	a.Impact = d.grade(a, prev, current, frontMatterChanged, bodyChanged)
}

// grade applies the fixed impact rubric: identity/status/assignee/task-status
// changes are high, other front-matter changes medium, body-only prose low.
func (d *Detector) grade(a *Analysis, prev, current *spec.Spec, frontMatterChanged, bodyChanged bool) Impact {
	if prev.ID != current.ID || a.StatusChange != nil || a.AssignmentChange != nil || len(a.TaskStatusChanges) > 0 {
		return ImpactHigh
	}
	if frontMatterChanged {
		return ImpactMedium
	}
	if bodyChanged {
		return ImpactLow
	}
	return ImpactLow
}

// baseType maps an extension to a change type for whole-document changes.
func (d *Detector) baseType(path string) ChangeType {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ChangeJSON
	}
	return ChangeYAML
}

// isWorkflowStatus reports whether the status participates in the workflow
// lifecycle (as opposed to draft or archived bookkeeping).
func isWorkflowStatus(s spec.Status) bool {
	switch s {
	case spec.StatusBacklog, spec.StatusActive, spec.StatusDone, spec.StatusBlocked:
		return true
	}
	return false
}

// taskStatusDiff lists task status transitions between two versions.
func taskStatusDiff(prev, current *spec.Spec) []TaskStatusChange {
	var changes []TaskStatusChange
	for i := range current.Tasks {
		after := &current.Tasks[i]
		before := prev.Task(after.ID)
		if before == nil || before.Status == after.Status {
			continue
		}
		changes = append(changes, TaskStatusChange{
			TaskID: after.ID,
			From:   before.Status,
			To:     after.Status,
		})
	}
	return changes
}

// frontMatterEqual compares everything except the body.
func frontMatterEqual(a, b *spec.Spec) bool {
	ac, bc := *a, *b
	ac.Body, bc.Body = "", ""
	ac.Path, bc.Path = "", ""
	as, err1 := spec.Serialize(&ac)
	bs, err2 := spec.Serialize(&bc)
	if err1 != nil || err2 != nil {
		return false
	}
	return as == bs
}
