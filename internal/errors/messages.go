package errors

import (
	"fmt"
	"strings"
)

// Fixed catalog of user-visible failures. Every message pairs a taxonomy
// kind with suggested next actions so callers never invent ad-hoc text.

// AgentRequired creates an error for a missing --agent flag.
func AgentRequired() *WorkflowError {
	return New(ValidationViolation,
		"agent is required",
		"Pass your agent identity: specflow start-next --agent <name>",
		"List capability tags in use with: specflow status",
	)
}

// SpecNotFound creates an error for an unknown spec id.
func SpecNotFound(specID string) *WorkflowError {
	return New(ValidationViolation,
		fmt.Sprintf("spec not found: %s", specID),
		"Check available specs with: specflow validate",
		"Spec ids are case-sensitive (e.g., FEAT-001)",
	)
}

// TaskNotFound creates an error for an unknown task id within a spec.
func TaskNotFound(specID, taskID string) *WorkflowError {
	return New(ValidationViolation,
		fmt.Sprintf("task %s not found in spec %s", taskID, specID),
		"Check the spec's task list in its front-matter",
		"Task ids match TASK-### and are unique within a spec",
	)
}

// TaskAlreadyAssigned creates an AlreadyAssigned error naming the holder.
func TaskAlreadyAssigned(specID, taskID, agent string) *WorkflowError {
	return New(AlreadyAssigned,
		fmt.Sprintf("task %s/%s is already in progress (assigned to %s)", specID, taskID, agent),
		"Wait for the current assignment to complete",
		fmt.Sprintf("Or resume it yourself if you are %s: specflow start-next --agent %s", agent, agent),
	)
}

// TaskNotInProgress creates a NotInProgress error with the observed status.
func TaskNotInProgress(specID, taskID, status string) *WorkflowError {
	return New(NotInProgress,
		fmt.Sprintf("no in_progress assignment for %s/%s (task status: %s)", specID, taskID, status),
		"Start the task first: specflow start-next",
		"Check current assignments with: specflow status",
	)
}

// DependenciesUnsatisfied creates an error listing incomplete dependencies.
func DependenciesUnsatisfied(taskID string, incomplete []string) *WorkflowError {
	return New(ValidationViolation,
		fmt.Sprintf("task %s has unsatisfied dependencies", taskID),
		"Complete dependencies first: "+strings.Join(incomplete, ", "),
	)
}

// CriticalConfirmationRequired creates an error for unconfirmed P0 work.
func CriticalConfirmationRequired(taskID string) *WorkflowError {
	return New(ValidationViolation,
		fmt.Sprintf("P0 (Critical) tasks require explicit confirmation: %s", taskID),
		"Re-run with: specflow start-next --confirm-critical",
	)
}

// WorkloadExceeded creates an error for the per-agent concurrency limit.
func WorkloadExceeded(agent string, current, limit int) *WorkflowError {
	return New(ValidationViolation,
		fmt.Sprintf("agent %s has %d tasks in progress (limit %d)", agent, current, limit),
		"Complete a current task first: specflow complete-current",
		"Or raise constraints.maxConcurrentPerAgent in .specflow/config.yml",
	)
}

// StateLockTimeout creates a LockTimeout error for the workflow state file.
func StateLockTimeout(holder string, timeoutMs int) *WorkflowError {
	msg := fmt.Sprintf("could not acquire workflow state lock within %dms", timeoutMs)
	if holder != "" {
		msg += fmt.Sprintf(" (held by %s)", holder)
	}
	return New(LockTimeout, msg,
		"Retry the command; the lock is usually held briefly",
		"If no other specflow process is running, remove stale locks under .workflow/locks/",
	)
}

// LintFailed creates an ExternalToolFailure error with captured output.
func LintFailed(output string) *WorkflowError {
	return New(ExternalToolFailure,
		"lint failed after auto-fix retry",
		"Fix the reported issues, then re-run: specflow complete-current",
		"Or skip linting for this completion: --skip-lint",
	).withOutput(output)
}

// TestsFailed creates an ExternalToolFailure error with captured output.
func TestsFailed(output string) *WorkflowError {
	return New(ExternalToolFailure,
		"test command failed",
		"Fix the failing tests, then re-run: specflow complete-current",
		"Or skip tests for this completion: --skip-tests",
	).withOutput(output)
}

// ToolTimedOut creates an ExternalToolFailure error for a killed process.
func ToolTimedOut(name string, timeoutSec int) *WorkflowError {
	return New(ExternalToolFailure,
		fmt.Sprintf("%s timed out after %ds and was killed", name, timeoutSec),
		"Increase externalTool timeout in .specflow/config.yml",
	)
}

// IntegrityBlocked creates an IntegrityError that blocks pipelines.
func IntegrityBlocked(errorCount int) *WorkflowError {
	return New(IntegrityError,
		fmt.Sprintf("spec graph has %d integrity error(s)", errorCount),
		"Inspect the report: specflow validate",
		"Fix duplicate ids, dangling references, or dependency cycles before assigning work",
	)
}

// withOutput appends captured tool output to the message so it survives
// non-interactive result serialization.
func (e *WorkflowError) withOutput(output string) *WorkflowError {
	output = strings.TrimSpace(output)
	if output != "" {
		e.Message = e.Message + "\n" + output
	}
	return e
}
