// Package state owns the durable workflow state document: who is working on
// what, the completion history, and the derived project progress cache. The
// Manager is the single writer; every mutation is serialized through an
// exclusive file lock and lands via temp-file rename.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// documentVersion is the current schema version of the state document.
const documentVersion = 1

// AssignmentStatus is the lifecycle state of an assignment record.
type AssignmentStatus string

const (
	// AssignmentInProgress indicates the task is actively being worked.
	AssignmentInProgress AssignmentStatus = "in_progress"
	// AssignmentComplete indicates the task finished.
	AssignmentComplete AssignmentStatus = "complete"
	// AssignmentCancelled indicates the assignment was abandoned.
	AssignmentCancelled AssignmentStatus = "cancelled"
)

// AuditEntry is one append-only event on an assignment. Entries never mutate
// after creation.
type AuditEntry struct {
	Event     string         `yaml:"event"`
	Timestamp time.Time      `yaml:"ts"`
	Payload   map[string]any `yaml:"payload,omitempty"`
}

// Assignment is a durable record linking (spec, task, agent).
type Assignment struct {
	// ID is the unique record identifier.
	ID string `yaml:"id"`
	// SpecID and TaskID identify the work item.
	SpecID string `yaml:"spec_id"`
	TaskID string `yaml:"task_id"`
	// AssignedAgent is the capability-tagged worker identity.
	AssignedAgent string `yaml:"assigned_agent"`
	// Status is in_progress, complete, or cancelled.
	Status AssignmentStatus `yaml:"status"`
	// AssignedAt and StartedAt are set on creation.
	AssignedAt time.Time `yaml:"assigned_at"`
	StartedAt  time.Time `yaml:"started_at"`
	// CompletedAt is set on completion.
	CompletedAt *time.Time `yaml:"completed_at,omitempty"`
	// Notes carries free-form caller notes.
	Notes string `yaml:"notes,omitempty"`
	// Audit is the append-only per-record trail.
	Audit []AuditEntry `yaml:"audit,omitempty"`
}

// audit appends an event to the record's trail.
func (a *Assignment) audit(event string, payload map[string]any) {
	a.Audit = append(a.Audit, AuditEntry{Event: event, Timestamp: time.Now(), Payload: payload})
}

// ProjectProgress is a derived cache refreshed on every state mutation.
type ProjectProgress struct {
	InProgressTasks      int       `yaml:"in_progress_tasks"`
	CompletedAssignments int       `yaml:"completed_assignments"`
	AgentsActive         int       `yaml:"agents_active"`
	UpdatedAt            time.Time `yaml:"updated_at"`
}

// Document is the single durable workflow state document.
type Document struct {
	Version              int             `yaml:"version"`
	CurrentAssignments   []Assignment    `yaml:"current_assignments"`
	CompletedAssignments []Assignment    `yaml:"completed_assignments"`
	ProjectProgress      ProjectProgress `yaml:"project_progress"`
}

// NewDocument returns an empty state document at the current schema version.
func NewDocument() *Document {
	return &Document{Version: documentVersion}
}

// InProgress returns the in_progress record for (specID, taskID), or nil.
// The single-writer invariant guarantees at most one such record.
func (d *Document) InProgress(specID, taskID string) *Assignment {
	for i := range d.CurrentAssignments {
		a := &d.CurrentAssignments[i]
		if a.SpecID == specID && a.TaskID == taskID && a.Status == AssignmentInProgress {
			return a
		}
	}
	return nil
}

// InProgressByAgent returns the in_progress records held by agent.
func (d *Document) InProgressByAgent(agent string) []Assignment {
	var out []Assignment
	for _, a := range d.CurrentAssignments {
		if a.AssignedAgent == agent && a.Status == AssignmentInProgress {
			out = append(out, a)
		}
	}
	return out
}

// InProgressCount returns the number of in_progress records held by agent.
func (d *Document) InProgressCount(agent string) int {
	return len(d.InProgressByAgent(agent))
}

// refreshProgress recomputes the derived progress cache.
func (d *Document) refreshProgress() {
	agents := map[string]struct{}{}
	inProgress := 0
	for _, a := range d.CurrentAssignments {
		if a.Status == AssignmentInProgress {
			inProgress++
			agents[a.AssignedAgent] = struct{}{}
		}
	}
	d.ProjectProgress = ProjectProgress{
		InProgressTasks:      inProgress,
		CompletedAssignments: len(d.CompletedAssignments),
		AgentsActive:         len(agents),
		UpdatedAt:            time.Now(),
	}
}

// clone deep-copies the document so snapshots cannot alias manager state.
func (d *Document) clone() *Document {
	c := *d
	c.CurrentAssignments = cloneAssignments(d.CurrentAssignments)
	c.CompletedAssignments = cloneAssignments(d.CompletedAssignments)
	return &c
}

func cloneAssignments(in []Assignment) []Assignment {
	if in == nil {
		return nil
	}
	out := make([]Assignment, len(in))
	copy(out, in)
	for i := range out {
		out[i].Audit = append([]AuditEntry(nil), in[i].Audit...)
	}
	return out
}

// loadDocument reads the state document from disk. A missing file yields an
// empty document.
func loadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDocument(), nil
		}
		return nil, fmt.Errorf("reading workflow state: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing workflow state: %w", err)
	}
	if doc.Version == 0 {
		doc.Version = documentVersion
	}
	return &doc, nil
}

// saveDocument writes the document atomically: temp file in the same
// directory, then rename. A crash mid-write never leaves a torn document.
func saveDocument(path string, doc *Document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling workflow state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating workflow directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Best effort cleanup
		return fmt.Errorf("renaming temp state file: %w", err)
	}
	return nil
}
