// Package integrity enforces the structural invariants of the spec graph.
// The validator is read-only: it produces a typed report and never rewrites
// files.
package integrity

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/raveheart1/specflow/internal/spec"
)

// Severity classifies an issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Check names the invariant an issue belongs to.
type Check string

const (
	CheckParse          Check = "parse"
	CheckDuplicateID    Check = "duplicate_id"
	CheckFormat         Check = "format"
	CheckRequiredFields Check = "required_fields"
	CheckFileLocation   Check = "file_location"
	CheckFilenameID     Check = "filename_id"
	CheckReferences     Check = "references"
	CheckAcyclic        Check = "acyclic_dependencies"
	CheckTaskDeps       Check = "task_dependency_scope"
)

// Issue is one invariant violation found in the graph.
type Issue struct {
	Check          Check    `json:"check"`
	Severity       Severity `json:"severity"`
	SpecID         string   `json:"spec_id,omitempty"`
	File           string   `json:"file,omitempty"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// Validator runs the integrity checks over a spec graph.
type Validator struct {
	// archivedFolder is the configurable directory name for archived specs.
	archivedFolder string
}

// NewValidator creates a Validator. archivedFolder overrides the directory
// expected for specs with status archived; empty means "archived".
func NewValidator(archivedFolder string) *Validator {
	if archivedFolder == "" {
		archivedFolder = string(spec.StatusArchived)
	}
	return &Validator{archivedFolder: archivedFolder}
}

// Validate runs every check and returns the report. The graph is never
// mutated.
func (v *Validator) Validate(g *spec.Graph) *Report {
	r := NewReport()

	v.checkParseErrors(g, r)
	v.checkDuplicates(g, r)

	for _, id := range g.IDs() {
		s := g.Spec(id)
		v.checkFormat(s, r)
		v.checkRequiredFields(s, r)
		v.checkFileLocation(s, r)
		v.checkFilenameID(s, r)
		v.checkReferences(g, s, r)
		v.checkTaskDeps(g, s, r)
	}

	v.checkAcyclic(g, r)

	return r
}

// ValidateSpec runs the per-spec checks for one spec plus its referenced
// neighbours. Used by the sync engine after a file change.
func (v *Validator) ValidateSpec(g *spec.Graph, specID string) *Report {
	r := NewReport()
	v.checkDuplicates(g, r)

	seen := map[string]struct{}{}
	ids := []string{specID}
	if s := g.Spec(specID); s != nil {
		ids = append(ids, s.Dependencies...)
		ids = append(ids, s.Blocking...)
		ids = append(ids, s.Related...)
	}
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		s := g.Spec(id)
		if s == nil {
			continue
		}
		v.checkFormat(s, r)
		v.checkRequiredFields(s, r)
		v.checkFileLocation(s, r)
		v.checkFilenameID(s, r)
		v.checkReferences(g, s, r)
		v.checkTaskDeps(g, s, r)
	}
	v.checkAcyclic(g, r)
	return r
}

func (v *Validator) checkParseErrors(g *spec.Graph, r *Report) {
	for _, issue := range g.Errors {
		r.Add(Issue{
			Check:          CheckParse,
			Severity:       SeverityError,
			File:           issue.Path,
			Message:        issue.Message,
			Recommendation: "Fix the front-matter delimiters and YAML syntax",
		})
	}
}

func (v *Validator) checkDuplicates(g *spec.Graph, r *Report) {
	for id, paths := range g.Duplicates {
		r.Duplicates[id] = paths
		r.Add(Issue{
			Check:          CheckDuplicateID,
			Severity:       SeverityError,
			SpecID:         id,
			Message:        fmt.Sprintf("id %s is declared by %d files: %s", id, len(paths), strings.Join(paths, ", ")),
			Recommendation: "Renumber one of the specs so every id resolves to a single file",
		})
	}
}

func (v *Validator) checkFormat(s *spec.Spec, r *Report) {
	if s.ID != "" && !spec.IDPattern.MatchString(s.ID) {
		r.Add(Issue{
			Check:          CheckFormat,
			Severity:       SeverityError,
			SpecID:         s.ID,
			File:           s.Path,
			Message:        fmt.Sprintf("id %q does not match TYPE-###", s.ID),
			Recommendation: fmt.Sprintf("Rename to a normalized id such as %s", normalizeID(s.ID)),
		})
	}
	if s.Type != "" && !contains(spec.ValidTypes, s.Type) {
		r.Add(Issue{
			Check:          CheckFormat,
			Severity:       SeverityError,
			SpecID:         s.ID,
			File:           s.Path,
			Message:        fmt.Sprintf("unknown type %q", s.Type),
			Recommendation: "Use one of: feature, bug, research-spike, maintenance, release",
		})
	}
	if s.Status != "" && !contains(spec.ValidStatuses, s.Status) {
		r.Add(Issue{
			Check:          CheckFormat,
			Severity:       SeverityError,
			SpecID:         s.ID,
			File:           s.Path,
			Message:        fmt.Sprintf("unknown status %q", s.Status),
			Recommendation: "Use one of: draft, backlog, active, done, blocked, archived",
		})
	}
	if s.Priority != "" && !contains(spec.ValidPriorities, s.Priority) {
		r.Add(Issue{
			Check:          CheckFormat,
			Severity:       SeverityError,
			SpecID:         s.ID,
			File:           s.Path,
			Message:        fmt.Sprintf("unknown priority %q", s.Priority),
			Recommendation: "Use one of: P0, P1, P2, P3",
		})
	}
	for _, t := range s.Tasks {
		if !spec.TaskIDPattern.MatchString(t.ID) {
			r.Add(Issue{
				Check:          CheckFormat,
				Severity:       SeverityError,
				SpecID:         s.ID,
				File:           s.Path,
				Message:        fmt.Sprintf("task id %q does not match TASK-###", t.ID),
				Recommendation: "Renumber the task id",
			})
		}
	}
}

func (v *Validator) checkRequiredFields(s *spec.Spec, r *Report) {
	required := map[string]string{
		"id":       s.ID,
		"title":    s.Title,
		"type":     string(s.Type),
		"status":   string(s.Status),
		"priority": string(s.Priority),
	}
	for _, field := range []string{"id", "title", "type", "status", "priority"} {
		if required[field] == "" {
			r.Add(Issue{
				Check:          CheckRequiredFields,
				Severity:       SeverityError,
				SpecID:         s.ID,
				File:           s.Path,
				Message:        fmt.Sprintf("required field %q is missing", field),
				Recommendation: fmt.Sprintf("Add %s to the front-matter", field),
			})
		}
	}
}

func (v *Validator) checkFileLocation(s *spec.Spec, r *Report) {
	if s.Path == "" || s.Status == "" {
		return
	}
	dir := filepath.Base(filepath.Dir(s.Path))
	expected := string(s.Status)
	if s.Status == spec.StatusArchived {
		expected = v.archivedFolder
	}
	if dir != expected {
		r.Add(Issue{
			Check:          CheckFileLocation,
			Severity:       SeverityError,
			SpecID:         s.ID,
			File:           s.Path,
			Message:        fmt.Sprintf("status is %q but file lives in %q", s.Status, dir),
			Recommendation: fmt.Sprintf("Move the file into the %s/ directory or fix the status field", expected),
		})
	}
}

func (v *Validator) checkFilenameID(s *spec.Spec, r *Report) {
	if s.Path == "" || s.ID == "" {
		return
	}
	name := filepath.Base(s.Path)
	if !strings.HasPrefix(name, strings.ToLower(s.ID)) {
		r.Add(Issue{
			Check:          CheckFilenameID,
			Severity:       SeverityError,
			SpecID:         s.ID,
			File:           s.Path,
			Message:        fmt.Sprintf("filename %q does not begin with %q", name, strings.ToLower(s.ID)),
			Recommendation: fmt.Sprintf("Rename the file to start with %s", strings.ToLower(s.ID)),
		})
	}
}

func (v *Validator) checkReferences(g *spec.Graph, s *spec.Spec, r *Report) {
	refs := map[string][]string{
		"dependencies": s.Dependencies,
		"blocking":     s.Blocking,
		"related":      s.Related,
	}
	for field, ids := range refs {
		for _, id := range ids {
			if g.Spec(id) == nil {
				r.Add(Issue{
					Check:          CheckReferences,
					Severity:       SeverityError,
					SpecID:         s.ID,
					File:           s.Path,
					Message:        fmt.Sprintf("%s references unknown spec %s", field, id),
					Recommendation: "Remove the reference or create the missing spec",
				})
			}
		}
	}
	for _, t := range s.Tasks {
		for _, ref := range t.DependsOn {
			if _, _, cross := spec.SplitCrossRef(ref); !cross {
				continue
			}
			if g.ResolveTaskRef(s.ID, ref) == nil {
				r.Add(Issue{
					Check:          CheckReferences,
					Severity:       SeverityError,
					SpecID:         s.ID,
					File:           s.Path,
					Message:        fmt.Sprintf("task %s depends on unknown cross-spec task %s", t.ID, ref),
					Recommendation: "Fix the SPEC-ID:TASK-ID reference",
				})
			}
		}
	}
}

func (v *Validator) checkAcyclic(g *spec.Graph, r *Report) {
	cycle := g.DependencyCycle()
	if cycle == nil {
		return
	}
	r.Add(Issue{
		Check:          CheckAcyclic,
		Severity:       SeverityError,
		Message:        fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")),
		Recommendation: "Break the cycle by removing one of the dependencies",
	})
}

func (v *Validator) checkTaskDeps(g *spec.Graph, s *spec.Spec, r *Report) {
	for _, t := range s.Tasks {
		incomplete := false
		for _, ref := range t.DependsOn {
			if _, _, cross := spec.SplitCrossRef(ref); !cross {
				if s.Task(ref) == nil {
					r.Add(Issue{
						Check:          CheckTaskDeps,
						Severity:       SeverityError,
						SpecID:         s.ID,
						File:           s.Path,
						Message:        fmt.Sprintf("task %s depends on %s, which does not exist in %s", t.ID, ref, s.ID),
						Recommendation: "Fix the task id or add the missing task",
					})
					continue
				}
			}
			dep := g.ResolveTaskRef(s.ID, ref)
			if dep != nil && dep.Status != spec.TaskComplete {
				incomplete = true
			}
		}
		// A task may not run or finish ahead of its dependencies. This
		// also catches a dependency that moved back from complete to
		// ready after its dependents started.
		if incomplete && (t.Status == spec.TaskInProgress || t.Status == spec.TaskComplete) {
			r.Add(Issue{
				Check:          CheckTaskDeps,
				Severity:       SeverityError,
				SpecID:         s.ID,
				File:           s.Path,
				Message:        fmt.Sprintf("task %s is %s but has incomplete dependencies", t.ID, t.Status),
				Recommendation: "Complete the dependencies or move the task back to ready",
			})
		}
	}
}

// normalizeID suggests a TYPE-### renormalization for a malformed id.
func normalizeID(id string) string {
	upper := strings.ToUpper(strings.ReplaceAll(id, "_", "-"))
	if m := spec.DeriveIDFromFilename(upper); m != "" {
		return m
	}
	return "FEAT-001"
}

func contains[T comparable](set []T, v T) bool {
	for _, e := range set {
		if e == v {
			return true
		}
	}
	return false
}
