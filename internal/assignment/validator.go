// Package assignment proves a proposed (agent, spec, task) assignment is
// committable before any state is written. The validator is pure: identical
// inputs always produce identical results.
package assignment

import (
	"fmt"

	"github.com/raveheart1/specflow/internal/constraint"
	wferrors "github.com/raveheart1/specflow/internal/errors"
	"github.com/raveheart1/specflow/internal/spec"
	"github.com/raveheart1/specflow/internal/state"
)

// Request is one proposed assignment.
type Request struct {
	Agent  string
	SpecID string
	TaskID string
	// ConfirmCritical must be set to assign P0 work.
	ConfirmCritical bool
}

// Details exposes the intermediate facts the verdict was computed from.
type Details struct {
	TaskStatus      spec.TaskStatus  `json:"task_status,omitempty"`
	SpecPriority    spec.Priority    `json:"spec_priority,omitempty"`
	Score           constraint.Score `json:"-"`
	InProgressCount int              `json:"in_progress_count"`
	Resumption      bool             `json:"resumption,omitempty"`
}

// Result is the validator's verdict.
type Result struct {
	// IsValid is true when no violations were found.
	IsValid bool
	// CanProceed is true when the orchestrator may commit the assignment.
	CanProceed bool
	// Confidence in [0,1] reflects how cleanly the pairing fits.
	Confidence float64
	// Violations carry actionable errors from the fixed catalog.
	Violations []*wferrors.WorkflowError
	// Warnings are non-blocking observations.
	Warnings []string
	Details  Details
}

// Validator checks assignments against one (graph, state) snapshot.
type Validator struct {
	graph         *spec.Graph
	engine        *constraint.Engine
	doc           *state.Document
	maxConcurrent int
}

// New creates a Validator. maxConcurrent is the hard per-agent limit of
// in_progress tasks.
func New(graph *spec.Graph, engine *constraint.Engine, doc *state.Document, maxConcurrent int) *Validator {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &Validator{graph: graph, engine: engine, doc: doc, maxConcurrent: maxConcurrent}
}

// Validate runs every check and returns the verdict. Never mutates state.
func (v *Validator) Validate(req Request) Result {
	res := Result{Confidence: 1.0}
	fail := func(err *wferrors.WorkflowError) {
		res.Violations = append(res.Violations, err)
	}

	s := v.graph.Spec(req.SpecID)
	if s == nil {
		fail(wferrors.SpecNotFound(req.SpecID))
		return finalize(res)
	}
	res.Details.SpecPriority = s.Priority

	t := s.Task(req.TaskID)
	if t == nil {
		fail(wferrors.TaskNotFound(req.SpecID, req.TaskID))
		return finalize(res)
	}
	res.Details.TaskStatus = t.Status

	// Existing in_progress record: hard conflict unless the caller holds it.
	if record := v.doc.InProgress(req.SpecID, req.TaskID); record != nil {
		if record.AssignedAgent == req.Agent {
			res.Details.Resumption = true
			res.Warnings = append(res.Warnings, fmt.Sprintf("resuming task already assigned to %s", req.Agent))
		} else {
			fail(wferrors.TaskAlreadyAssigned(req.SpecID, req.TaskID, record.AssignedAgent))
		}
	} else if t.Status != spec.TaskReady {
		fail(wferrors.Newf(wferrors.ValidationViolation,
			"task %s/%s is not ready (status: %s)", req.SpecID, req.TaskID, t.Status))
	}

	inProgress := v.doc.InProgressCount(req.Agent)
	res.Details.InProgressCount = inProgress
	if !res.Details.Resumption && inProgress >= v.maxConcurrent {
		fail(wferrors.WorkloadExceeded(req.Agent, inProgress, v.maxConcurrent))
	}

	score := v.engine.Score(req.Agent, s, t, inProgress)
	res.Details.Score = score
	for _, violation := range score.Violations {
		switch violation.Rule {
		case "skill":
			fail(wferrors.Newf(wferrors.ValidationViolation, "%s", violation.Message))
		case "dependency":
			unmet := unmetOf(v.engine, req.SpecID, t)
			fail(wferrors.DependenciesUnsatisfied(req.TaskID, unmet))
		case "workload":
			// Already reported against the configured hard limit above.
		}
	}

	if s.Priority == spec.PriorityP0 && !req.ConfirmCritical {
		fail(wferrors.CriticalConfirmationRequired(req.TaskID))
	}

	if score.Skill > 0 && score.Skill < 1 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("adjacent capability match for %s (credit %.1f)", t.Agent, score.Skill))
	}
	if score.Workload > 0 && score.Workload < 1 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s is near the concurrent-task limit (%d in progress)", req.Agent, inProgress))
	}

	return finalize(res)
}

// finalize derives the verdict fields from the collected findings.
func finalize(res Result) Result {
	res.IsValid = len(res.Violations) == 0
	res.CanProceed = res.IsValid
	if !res.IsValid {
		res.Confidence = 0
		return res
	}
	confidence := res.Details.Score.Skill
	if confidence == 0 {
		confidence = 1.0
	}
	if w := res.Details.Score.Workload; w > 0 && w < confidence {
		confidence = w
	}
	res.Confidence = confidence
	return res
}

func unmetOf(engine *constraint.Engine, specID string, t *spec.Task) []string {
	var unmet []string
	for _, link := range engine.DependencyChain(specID, t) {
		if !link.Satisfied {
			unmet = append(unmet, link.Ref)
		}
	}
	return unmet
}
