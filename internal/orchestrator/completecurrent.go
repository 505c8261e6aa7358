package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/raveheart1/specflow/internal/bus"
	wferrors "github.com/raveheart1/specflow/internal/errors"
	"github.com/raveheart1/specflow/internal/handoff"
	"github.com/raveheart1/specflow/internal/state"
)

// CompleteCurrentOptions are the closed set of complete-current parameters.
type CompleteCurrentOptions struct {
	Agent  string
	SpecID string
	TaskID string
	Notes  string

	SkipLint  bool
	SkipTests bool
	NoCommit  bool
}

// CompleteCurrentResult is the pipeline outcome.
type CompleteCurrentResult struct {
	Success bool `json:"success"`

	SpecID string `json:"spec_id,omitempty"`
	TaskID string `json:"task_id,omitempty"`

	Completion *state.Completion `json:"completion,omitempty"`
	Handoff    *handoff.Result   `json:"handoff,omitempty"`

	CommitHash   string `json:"commit_hash,omitempty"`
	ChangedFiles int    `json:"changed_files,omitempty"`

	Violations []*wferrors.WorkflowError `json:"violations,omitempty"`
	Warnings   []string                  `json:"warnings,omitempty"`

	Audit       []AuditEntry `json:"audit"`
	Performance Performance  `json:"performance"`
}

// CompleteCurrent runs the completion pipeline: resolve the target
// assignment, run lint and tests, record the completion, commit the changed
// files, and evaluate handoff. Tool and commit failures after the durable
// completion are reported as warnings, never as pipeline failures.
func (o *Orchestrator) CompleteCurrent(ctx context.Context, opts CompleteCurrentOptions) *CompleteCurrentResult {
	watch := newStopwatch()
	audit := &auditLog{}
	result := &CompleteCurrentResult{}
	defer func() {
		result.Audit = audit.entries
		result.Performance = watch.performance()
		if result.Performance.TotalMs > pipelineBudget.Milliseconds() {
			log.Warn("complete-current exceeded time budget", "total_ms", result.Performance.TotalMs)
		}
	}()

	if opts.Agent == "" {
		audit.add("resolve_target", "failed", "missing agent")
		result.Violations = append(result.Violations, wferrors.AgentRequired())
		return result
	}

	// Step 1: resolve which assignment is being completed.
	target, err := o.resolveTarget(opts)
	if err != nil {
		audit.add("resolve_target", "failed", err.Error())
		result.Violations = append(result.Violations, wferrors.As(wrapIO(err)))
		return result
	}
	result.SpecID = target.SpecID
	result.TaskID = target.TaskID
	audit.add("resolve_target", "ok", fmt.Sprintf("%s/%s", target.SpecID, target.TaskID))

	// Step 2: capture the tracking window before any tool runs so the commit
	// only picks up files this completion touched.
	var tracked []string
	if !opts.NoCommit {
		tracked, err = o.committer.ChangedFiles()
		if err != nil {
			// Not fatal: the completion proceeds, the commit step is skipped.
			result.Warnings = append(result.Warnings, "could not read worktree status: "+err.Error())
			audit.add("track_changes", "failed", err.Error())
			opts.NoCommit = true
		} else {
			audit.add("track_changes", "ok", fmt.Sprintf("%d file(s) changed", len(tracked)))
		}
	}

	// Step 3: lint, with one auto-fix retry.
	if !opts.SkipLint {
		var lintErr error
		watch.step("lint", func() { lintErr = o.runLint(ctx, audit) })
		if lintErr != nil {
			result.Violations = append(result.Violations, wferrors.As(lintErr))
			return result
		}
	} else {
		audit.add("lint", "skipped", "--skip-lint")
	}

	// Step 4: tests. No retry: failing tests mean the work is not done.
	if !opts.SkipTests {
		var testErr error
		watch.step("test", func() { testErr = o.runTests(ctx, audit) })
		if testErr != nil {
			result.Violations = append(result.Violations, wferrors.As(testErr))
			return result
		}
	} else {
		audit.add("test", "skipped", "--skip-tests")
	}

	// Step 5: durable completion. Everything after this point succeeds or
	// degrades to a warning.
	var completion *state.Completion
	var completeErr error
	watch.step("complete", func() {
		completion, completeErr = o.manager.CompleteTask(target.SpecID, target.TaskID, state.CompleteOptions{
			Notes:       opts.Notes,
			CompletedBy: opts.Agent,
		})
	})
	if completeErr != nil {
		audit.add("complete", "failed", completeErr.Error())
		result.Violations = append(result.Violations, wferrors.As(wrapIO(completeErr)))
		return result
	}
	audit.add("complete", "ok", fmt.Sprintf("%.2fh", completion.DurationHours))
	result.Success = true
	result.Completion = completion

	// Step 6: commit. The completed spec and state files join the tracked set.
	if !opts.NoCommit {
		watch.step("commit", func() {
			hash, n, err := o.commitCompletion(target, tracked)
			if err != nil {
				audit.add("commit", "failed", err.Error())
				result.Warnings = append(result.Warnings,
					"task completed but commit failed: "+err.Error())
				return
			}
			result.CommitHash = hash
			result.ChangedFiles = n
			audit.add("commit", "ok", hash)
		})
	} else {
		audit.add("commit", "skipped", "--no-commit")
	}

	// Step 7: handoff evaluation over a fresh graph.
	watch.step("handoff", func() {
		graph, _, blocked, err := o.loadGraph()
		if err != nil {
			audit.add("handoff", "failed", err.Error())
			result.Warnings = append(result.Warnings, "handoff evaluation skipped: "+err.Error())
			return
		}
		routable := prune(graph, blocked)
		verdict := handoff.New(routable, o.engineFor(routable), o.eventBus).Evaluate(handoff.TaskCompleted{
			SpecID:    target.SpecID,
			TaskID:    target.TaskID,
			FromAgent: opts.Agent,
		})
		result.Handoff = &verdict
		if verdict.HandoffNeeded {
			audit.add("handoff", "ok", fmt.Sprintf("%s/%s -> %s", verdict.NextSpec, verdict.NextTask, verdict.NextAgent))
		} else {
			audit.add("handoff", "none", verdict.Reason)
		}
	})

	if o.eventBus != nil {
		o.eventBus.Publish(bus.TopicTaskCompleted, map[string]any{
			"spec_id":   target.SpecID,
			"task_id":   target.TaskID,
			"agent":     opts.Agent,
			"completed": completion.CompletedAt,
		})
	}
	return result
}

// resolveTarget picks the assignment being completed. An explicit spec/task
// must be held by the caller; otherwise the caller's single in_progress
// assignment is implied, and holding several without naming one is an error.
func (o *Orchestrator) resolveTarget(opts CompleteCurrentOptions) (*state.Assignment, error) {
	doc, err := o.manager.Snapshot()
	if err != nil {
		return nil, err
	}

	if opts.SpecID != "" && opts.TaskID != "" {
		record := doc.InProgress(opts.SpecID, opts.TaskID)
		if record == nil {
			return nil, wferrors.TaskNotInProgress(opts.SpecID, opts.TaskID, o.taskStatus(opts.SpecID, opts.TaskID))
		}
		if record.AssignedAgent != opts.Agent {
			return nil, wferrors.TaskAlreadyAssigned(opts.SpecID, opts.TaskID, record.AssignedAgent)
		}
		return record, nil
	}

	held := doc.InProgressByAgent(opts.Agent)
	switch len(held) {
	case 0:
		return nil, wferrors.New(wferrors.NotInProgress,
			fmt.Sprintf("agent %s has no in_progress assignment", opts.Agent),
			"Start a task first: specflow start-next --agent "+opts.Agent)
	case 1:
		return &held[0], nil
	default:
		refs := make([]string, len(held))
		for i, a := range held {
			refs[i] = fmt.Sprintf("%s/%s", a.SpecID, a.TaskID)
		}
		return nil, wferrors.New(wferrors.ValidationViolation,
			fmt.Sprintf("agent %s holds %d assignments; name the one to complete", opts.Agent, len(held)),
			"Pass --spec and --task, one of: "+strings.Join(refs, ", "))
	}
}

// taskStatus reports the observed spec-side status for error messages.
func (o *Orchestrator) taskStatus(specID, taskID string) string {
	graph, err := o.store.LoadAll()
	if err != nil {
		return "unknown"
	}
	s := graph.Spec(specID)
	if s == nil {
		return "unknown"
	}
	if t := s.Task(taskID); t != nil {
		return string(t.Status)
	}
	return "unknown"
}

// runLint executes the lint tool. A failure triggers the auto-fix variant
// (when configured) followed by exactly one re-lint.
func (o *Orchestrator) runLint(ctx context.Context, audit *auditLog) error {
	tool := o.cfg.ExternalTool.Lint
	res, err := o.tools.Run(ctx, "lint", tool)
	if err != nil {
		audit.add("lint", "failed", err.Error())
		return err
	}
	if res.Ok() {
		audit.add("lint", statusFor(res), "")
		return nil
	}

	audit.addAttempt("lint", "failed", trimOutput(res.Output), 1)
	if len(tool.FixArgs) > 0 {
		fix := tool
		fix.Args = tool.FixArgs
		if fixRes, err := o.tools.Run(ctx, "lint-fix", fix); err != nil {
			audit.add("lint_fix", "failed", err.Error())
		} else {
			audit.add("lint_fix", statusFor(fixRes), "")
		}
	}

	res, err = o.tools.Run(ctx, "lint", tool)
	if err != nil {
		audit.addAttempt("lint", "failed", err.Error(), 2)
		return err
	}
	if !res.Ok() {
		audit.addAttempt("lint", "failed", trimOutput(res.Output), 2)
		return wferrors.LintFailed(res.Output)
	}
	audit.addAttempt("lint", "ok", "passed after auto-fix", 2)
	return nil
}

// runTests executes the test tool once.
func (o *Orchestrator) runTests(ctx context.Context, audit *auditLog) error {
	res, err := o.tools.Run(ctx, "test", o.cfg.ExternalTool.Test)
	if err != nil {
		audit.add("test", "failed", err.Error())
		return err
	}
	if !res.Ok() {
		audit.add("test", "failed", trimOutput(res.Output))
		return wferrors.TestsFailed(res.Output)
	}
	audit.add("test", statusFor(res), "")
	return nil
}

// commitCompletion commits the tracked files plus anything the completion
// itself rewrote (the spec file, the workflow state).
func (o *Orchestrator) commitCompletion(target *state.Assignment, tracked []string) (string, int, error) {
	after, err := o.committer.ChangedFiles()
	if err != nil {
		return "", 0, err
	}
	paths := mergePaths(tracked, after)
	if len(paths) == 0 {
		return "", 0, nil
	}

	title := target.TaskID
	if graph, err := o.store.LoadAll(); err == nil {
		if s := graph.Spec(target.SpecID); s != nil {
			if t := s.Task(target.TaskID); t != nil && t.Title != "" {
				title = t.Title
			}
		}
	}

	hash, err := o.committer.CommitFiles(paths, commitMessage(target.SpecID, target.TaskID, title, target.AssignedAgent))
	if err != nil {
		return "", 0, err
	}
	return hash, len(paths), nil
}

func mergePaths(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, p := range append(append([]string(nil), a...), b...) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func statusFor(res ToolResult) string {
	if res.Skipped {
		return "skipped"
	}
	return "ok"
}

func trimOutput(output string) string {
	output = strings.TrimSpace(output)
	if len(output) > 300 {
		output = output[:300] + "..."
	}
	return output
}
