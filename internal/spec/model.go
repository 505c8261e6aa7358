// Package spec provides the specification data model, the front-matter
// parser, and the cached spec store. Specs are human-readable documents with
// a YAML front-matter block stored under status-named directories.
package spec

import (
	"regexp"
	"time"
)

// Type is the spec variant.
type Type string

const (
	TypeFeature       Type = "feature"
	TypeBug           Type = "bug"
	TypeResearchSpike Type = "research-spike"
	TypeMaintenance   Type = "maintenance"
	TypeRelease       Type = "release"
)

// ValidTypes is the closed set of accepted spec types.
var ValidTypes = []Type{TypeFeature, TypeBug, TypeResearchSpike, TypeMaintenance, TypeRelease}

// Status is the lifecycle state of a spec.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusBacklog  Status = "backlog"
	StatusActive   Status = "active"
	StatusDone     Status = "done"
	StatusBlocked  Status = "blocked"
	StatusArchived Status = "archived"
)

// ValidStatuses is the closed set of accepted spec statuses.
var ValidStatuses = []Status{StatusDraft, StatusBacklog, StatusActive, StatusDone, StatusBlocked, StatusArchived}

// Priority is the urgency class of a spec.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// ValidPriorities is the closed set of accepted priorities, highest first.
var ValidPriorities = []Priority{PriorityP0, PriorityP1, PriorityP2, PriorityP3}

// Rank returns the ordinal of the priority for tie-breaking (P0 = 0).
func (p Priority) Rank() int {
	for i, v := range ValidPriorities {
		if v == p {
			return i
		}
	}
	return len(ValidPriorities)
}

// TaskStatus is the lifecycle state of a task within a spec.
type TaskStatus string

const (
	TaskReady      TaskStatus = "ready"
	TaskInProgress TaskStatus = "in_progress"
	TaskComplete   TaskStatus = "complete"
	TaskBlocked    TaskStatus = "blocked"
)

// ValidTaskStatuses is the closed set of accepted task statuses.
var ValidTaskStatuses = []TaskStatus{TaskReady, TaskInProgress, TaskComplete, TaskBlocked}

var (
	// IDPattern matches a well-formed spec id, e.g. FEAT-001.
	IDPattern = regexp.MustCompile(`^[A-Z]+-\d{3}$`)
	// TaskIDPattern matches a well-formed task id, e.g. TASK-001.
	TaskIDPattern = regexp.MustCompile(`^TASK-\d{3}$`)
	// filenameIDPattern extracts a spec id prefix from a filename.
	filenameIDPattern = regexp.MustCompile(`([A-Z]+-\d{3})`)
	// crossRefPattern matches a cross-spec task reference, e.g.
	// FEAT-002:TASK-001.
	crossRefPattern = regexp.MustCompile(`^([A-Z]+-\d{3}):(TASK-\d{3})$`)
)

// Subtask is an ordered checklist item inside a task.
type Subtask struct {
	Description string `yaml:"description"`
	Completed   bool   `yaml:"completed"`
}

// Task is an ordered child work item of a spec.
type Task struct {
	// ID is unique within the owning spec and matches TASK-###.
	ID string `yaml:"id"`
	// Title is the human-readable summary.
	Title string `yaml:"title"`
	// Status is the task lifecycle state.
	Status TaskStatus `yaml:"status"`
	// Agent is the capability tag this task is routed to.
	Agent string `yaml:"agent,omitempty"`
	// Effort is a free-form effort estimate.
	Effort string `yaml:"effort,omitempty"`
	// Progress is a completion percentage in [0,100].
	Progress int `yaml:"progress,omitempty"`
	// Started, Completed and EstimatedCompletion are nullable timestamps.
	Started             *time.Time `yaml:"started,omitempty"`
	Completed           *time.Time `yaml:"completed,omitempty"`
	EstimatedCompletion *time.Time `yaml:"estimated_completion,omitempty"`
	// DependsOn lists task ids within the same spec, or cross-spec
	// references of the form SPEC-ID:TASK-ID.
	DependsOn []string `yaml:"depends_on,omitempty"`
	// Subtasks is the ordered checklist of sub-items.
	Subtasks []Subtask `yaml:"subtasks,omitempty"`
}

// BugDetails carries the bug-variant extension payload.
type BugDetails struct {
	Severity          string   `yaml:"severity,omitempty"`
	ReproductionSteps []string `yaml:"reproduction_steps,omitempty"`
}

// SpikeDetails carries the research-spike extension payload.
type SpikeDetails struct {
	ResearchQuestion string `yaml:"research_question,omitempty"`
	Timebox          string `yaml:"timebox,omitempty"`
}

// MaintenanceDetails carries the maintenance extension payload.
type MaintenanceDetails struct {
	Component string `yaml:"component,omitempty"`
}

// ReleaseDetails carries the release extension payload.
type ReleaseDetails struct {
	Version string `yaml:"version,omitempty"`
}

// Spec is a uniquely identified unit of work. Variants share this base and
// carry an optional per-variant payload; there is no inheritance.
type Spec struct {
	ID       string   `yaml:"id"`
	Type     Type     `yaml:"type"`
	Status   Status   `yaml:"status"`
	Title    string   `yaml:"title"`
	Priority Priority `yaml:"priority"`
	Effort   string   `yaml:"effort,omitempty"`
	Assignee string   `yaml:"assignee,omitempty"`
	Phase    string   `yaml:"phase,omitempty"`

	Created *time.Time `yaml:"created,omitempty"`
	Updated *time.Time `yaml:"updated,omitempty"`

	// Tags is a set; insertion order is irrelevant.
	Tags []string `yaml:"tags,omitempty"`
	// Dependencies and Blocking are directed edge sets of spec ids.
	Dependencies []string `yaml:"dependencies,omitempty"`
	Blocking     []string `yaml:"blocking,omitempty"`
	// Related is an undirected edge set of spec ids.
	Related []string `yaml:"related,omitempty"`

	// Tasks is the ordered child sequence.
	Tasks []Task `yaml:"tasks,omitempty"`

	Description        string `yaml:"description,omitempty"`
	AcceptanceCriteria string `yaml:"acceptance_criteria,omitempty"`
	TechnicalNotes     string `yaml:"technical_notes,omitempty"`

	// Variant payloads; at most one is non-nil, matching Type.
	Bug         *BugDetails         `yaml:"bug,omitempty"`
	Spike       *SpikeDetails       `yaml:"spike,omitempty"`
	Maintenance *MaintenanceDetails `yaml:"maintenance,omitempty"`
	Release     *ReleaseDetails     `yaml:"release,omitempty"`

	// Path is the absolute file path this spec was loaded from.
	// Not serialized; derived from the store.
	Path string `yaml:"-"`
	// Body is the free-text prose after the front-matter block.
	Body string `yaml:"-"`
}

// Task returns the task with the given id, or nil.
func (s *Spec) Task(taskID string) *Task {
	for i := range s.Tasks {
		if s.Tasks[i].ID == taskID {
			return &s.Tasks[i]
		}
	}
	return nil
}

// SplitCrossRef splits a cross-spec task reference into (specID, taskID).
// Returns ok=false for plain intra-spec task ids.
func SplitCrossRef(ref string) (specID, taskID string, ok bool) {
	m := crossRefPattern.FindStringSubmatch(ref)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// DeriveIDFromFilename extracts a spec id from a filename prefix.
// Returns "" when the filename carries no id.
func DeriveIDFromFilename(name string) string {
	return filenameIDPattern.FindString(name)
}
