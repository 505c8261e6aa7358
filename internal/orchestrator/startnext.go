package orchestrator

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/charmbracelet/log"

	"github.com/raveheart1/specflow/internal/assignment"
	"github.com/raveheart1/specflow/internal/bus"
	wferrors "github.com/raveheart1/specflow/internal/errors"
	"github.com/raveheart1/specflow/internal/router"
	"github.com/raveheart1/specflow/internal/state"
)

// StartNextOptions are the closed set of start-next parameters.
type StartNextOptions struct {
	Agent           string
	Filters         router.Filters
	DryRun          bool
	ConfirmCritical bool
	Notes           string
}

// StartNextResult is the pipeline outcome.
type StartNextResult struct {
	Success  bool `json:"success"`
	Assigned bool `json:"assigned"`
	DryRun   bool `json:"dry_run,omitempty"`

	// Task is the committed assignment; WouldAssign the dry-run equivalent.
	Task        *router.Candidate `json:"task,omitempty"`
	WouldAssign *router.Candidate `json:"would_assign,omitempty"`

	Alternatives []router.Candidate       `json:"alternatives,omitempty"`
	Reasoning    string                   `json:"reasoning,omitempty"`
	Suggestions  []string                 `json:"suggestions,omitempty"`
	Violations   []*wferrors.WorkflowError `json:"violations,omitempty"`
	Warnings     []string                 `json:"warnings,omitempty"`

	Audit       []AuditEntry `json:"audit"`
	Performance Performance  `json:"performance"`
}

// StartNext runs the full assignment pipeline: route, validate, commit.
func (o *Orchestrator) StartNext(opts StartNextOptions) *StartNextResult {
	watch := newStopwatch()
	audit := &auditLog{}
	result := &StartNextResult{}
	defer func() {
		result.Audit = audit.entries
		result.Performance = watch.performance()
		if result.Performance.TotalMs > pipelineBudget.Milliseconds() {
			log.Warn("start-next exceeded time budget", "total_ms", result.Performance.TotalMs)
		}
	}()

	// Step 1: the agent identity is mandatory.
	if opts.Agent == "" {
		audit.add("resolve_agent", "failed", "missing agent")
		result.Violations = append(result.Violations, wferrors.AgentRequired())
		return result
	}
	audit.add("resolve_agent", "ok", opts.Agent)

	// Step 2: route.
	var rec *router.Recommendation
	var routeErr error
	watch.step("route", func() {
		graph, report, blocked, err := o.loadGraph()
		if err != nil {
			routeErr = err
			return
		}
		if len(blocked) > 0 {
			audit.add("integrity_gate", "partial",
				fmt.Sprintf("%d spec(s) excluded by %d integrity error(s)", len(blocked), report.ErrorCount()))
		} else {
			audit.add("integrity_gate", "ok", "")
		}
		doc, err := o.manager.Snapshot()
		if err != nil {
			routeErr = err
			return
		}
		routable := prune(graph, blocked)
		rec = router.New(routable, o.engineFor(routable), doc).NextTask(opts.Agent, opts.Filters)
	})
	if routeErr != nil {
		audit.add("route", "failed", routeErr.Error())
		result.Violations = append(result.Violations, wferrors.As(wrapIO(routeErr)))
		return result
	}
	result.Alternatives = rec.Alternatives
	result.Reasoning = rec.Reasoning

	// Step 3: nothing eligible is a successful no-op with suggestions.
	if rec.Task == nil {
		audit.add("route", "empty", rec.Reasoning)
		result.Success = true
		result.Suggestions = rec.Suggestions
		return result
	}
	audit.add("route", "ok", fmt.Sprintf("%s/%s", rec.Task.SpecID, rec.Task.TaskID))

	// Step 4: prove the assignment before committing anything.
	var verdict assignment.Result
	watch.step("validate", func() {
		graph, _, blocked, err := o.loadGraph()
		if err != nil {
			routeErr = err
			return
		}
		doc, err := o.manager.Snapshot()
		if err != nil {
			routeErr = err
			return
		}
		routable := prune(graph, blocked)
		verdict = assignment.New(routable, o.engineFor(routable), doc, o.cfg.Constraints.MaxConcurrentPerAgent).
			Validate(assignment.Request{
				Agent:           opts.Agent,
				SpecID:          rec.Task.SpecID,
				TaskID:          rec.Task.TaskID,
				ConfirmCritical: opts.ConfirmCritical,
			})
	})
	if routeErr != nil {
		audit.add("validate", "failed", routeErr.Error())
		result.Violations = append(result.Violations, wferrors.As(wrapIO(routeErr)))
		return result
	}
	result.Warnings = append(result.Warnings, verdict.Warnings...)
	if !verdict.CanProceed {
		audit.add("validate", "rejected", fmt.Sprintf("%d violation(s)", len(verdict.Violations)))
		result.Violations = verdict.Violations
		return result
	}
	audit.add("validate", "ok", fmt.Sprintf("confidence %.2f", verdict.Confidence))

	// Step 5: dry runs stop before any mutation.
	if opts.DryRun {
		audit.add("assign", "skipped", "dry run")
		result.Success = true
		result.DryRun = true
		result.WouldAssign = rec.Task
		return result
	}

	// Step 6: commit through the state manager, retrying once on a lock
	// timeout after a jittered backoff.
	var record *state.Assignment
	var assignErr error
	watch.step("assign", func() {
		record, assignErr = o.assignWithRetry(rec.Task.SpecID, rec.Task.TaskID, opts.Agent, opts.Notes, audit)
	})
	if assignErr != nil {
		result.Violations = append(result.Violations, wferrors.As(assignErr))
		return result
	}
	audit.add("assign", "ok", record.ID)

	if o.eventBus != nil {
		o.eventBus.Publish(bus.TopicAssignmentMade, record)
	}

	result.Success = true
	result.Assigned = true
	result.Task = rec.Task
	return result
}

// assignWithRetry retries a single time on LockTimeout, the only retryable
// failure.
func (o *Orchestrator) assignWithRetry(specID, taskID, agent, notes string, audit *auditLog) (*state.Assignment, error) {
	record, err := o.manager.AssignTask(specID, taskID, agent, state.AssignOptions{Notes: notes})
	if err == nil {
		return record, nil
	}
	if !wferrors.KindOf(err).Retryable() {
		audit.add("assign", "failed", err.Error())
		return nil, err
	}

	backoff := time.Duration(100+rand.Intn(400)) * time.Millisecond
	audit.addAttempt("assign", "retrying", fmt.Sprintf("lock timeout, backing off %s", backoff), 2)
	time.Sleep(backoff)

	record, err = o.manager.AssignTask(specID, taskID, agent, state.AssignOptions{Notes: notes})
	if err != nil {
		audit.addAttempt("assign", "failed", err.Error(), 2)
		return nil, err
	}
	return record, nil
}

// wrapIO coerces infrastructure errors into the taxonomy for result
// serialization.
func wrapIO(err error) error {
	if wferrors.As(err) != nil {
		return err
	}
	return wferrors.Wrap(err, wferrors.IOError, "pipeline failed")
}
