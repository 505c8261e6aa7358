package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raveheart1/specflow/internal/bus"
	wferrors "github.com/raveheart1/specflow/internal/errors"
	"github.com/raveheart1/specflow/internal/orchestrator"
	"github.com/raveheart1/specflow/internal/output"
)

var completeCurrentCmd = &cobra.Command{
	Use:     "complete-current",
	Short:   "Complete an in-progress task: lint, tests, commit, handoff",
	GroupID: "workflow",
	Long: `Complete the agent's in-progress task. The pipeline runs the configured
lint command (with one auto-fix retry), the configured test command,
records the completion in the durable workflow state, commits the changed
files, and evaluates whether a dependent task should be handed off.

When the agent holds a single in-progress assignment it is implied;
otherwise name it with --spec and --task. Tool or commit failures after
the completion is recorded are reported as warnings.`,
	Example: `  # Complete your only in-progress task
  specflow complete-current --agent backend

  # Name the task when several are in progress
  specflow complete-current --agent backend --spec FEAT-001 --task TASK-002

  # Skip the tool gates (use sparingly)
  specflow complete-current --agent backend --skip-lint --skip-tests`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return fail(err)
		}

		agent, _ := cmd.Flags().GetString("agent")
		specID, _ := cmd.Flags().GetString("spec")
		taskID, _ := cmd.Flags().GetString("task")
		notes, _ := cmd.Flags().GetString("notes")
		skipLint, _ := cmd.Flags().GetBool("skip-lint")
		skipTests, _ := cmd.Flags().GetBool("skip-tests")
		noCommit, _ := cmd.Flags().GetBool("no-commit")

		orch := orchestrator.New(e.cfg, e.store, e.manager, bus.New(0))

		sp := output.NewSpinner("running completion pipeline")
		if !jsonRequested(cmd) {
			sp.Start()
		}
		result := orch.CompleteCurrent(cmd.Context(), orchestrator.CompleteCurrentOptions{
			Agent:     agent,
			SpecID:    specID,
			TaskID:    taskID,
			Notes:     notes,
			SkipLint:  skipLint,
			SkipTests: skipTests,
			NoCommit:  noCommit,
		})
		sp.Stop()

		if jsonRequested(cmd) {
			return printJSON(result, violationCode(result.Violations))
		}
		return renderCompleteCurrent(result)
	},
}

func init() {
	completeCurrentCmd.Flags().String("agent", "", "Agent capability tag (required)")
	completeCurrentCmd.Flags().String("spec", "", "Spec id of the task to complete")
	completeCurrentCmd.Flags().String("task", "", "Task id to complete")
	completeCurrentCmd.Flags().String("notes", "", "Completion note stored on the record")
	completeCurrentCmd.Flags().Bool("skip-lint", false, "Skip the lint gate")
	completeCurrentCmd.Flags().Bool("skip-tests", false, "Skip the test gate")
	completeCurrentCmd.Flags().Bool("no-commit", false, "Do not commit the changed files")
	rootCmd.AddCommand(completeCurrentCmd)
}

func renderCompleteCurrent(result *orchestrator.CompleteCurrentResult) error {
	out := os.Stdout

	if len(result.Violations) > 0 {
		for _, v := range result.Violations {
			wferrors.Print(v)
		}
		return exitWith(violationCode(result.Violations))
	}

	output.PrintSuccess(out, fmt.Sprintf("Completed %s",
		output.TaskRef(result.SpecID, result.TaskID)))
	if result.Completion != nil {
		fmt.Fprintf(out, "  duration: %.2fh\n", result.Completion.DurationHours)
	}
	if result.CommitHash != "" {
		fmt.Fprintf(out, "  commit: %s (%d files)\n", result.CommitHash[:7], result.ChangedFiles)
	}

	for _, w := range result.Warnings {
		output.PrintWarning(out, w)
	}

	if h := result.Handoff; h != nil {
		switch {
		case h.HandoffNeeded:
			fmt.Fprintf(out, "\nHandoff: %s is now unblocked",
				output.TaskRef(h.NextSpec, h.NextTask))
			if h.NextAgent != "" {
				fmt.Fprintf(out, " → %s", h.NextAgent)
			}
			fmt.Fprintln(out)
		case len(h.Candidates) > 1:
			fmt.Fprintf(out, "\n%d tasks became ready; no automatic handoff:\n", len(h.Candidates))
			for _, c := range h.Candidates {
				fmt.Fprintf(out, "  %s\n", output.TaskRef(c.SpecID, c.TaskID))
			}
		}
	}
	return nil
}
