package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raveheart1/specflow/internal/bus"
	wferrors "github.com/raveheart1/specflow/internal/errors"
	"github.com/raveheart1/specflow/internal/orchestrator"
	"github.com/raveheart1/specflow/internal/output"
	"github.com/raveheart1/specflow/internal/router"
)

var startNextCmd = &cobra.Command{
	Use:     "start-next",
	Short:   "Find and start the best next task for an agent",
	GroupID: "workflow",
	Long: `Find the highest-scoring eligible task for the given agent, validate the
assignment against dependency and workload constraints, and record it in
the durable workflow state. The spec file's front-matter is updated to
reflect the in_progress status.

Critical (P0) tasks require explicit confirmation with --confirm-critical.`,
	Example: `  # Start the best task for your capability tag
  specflow start-next --agent backend

  # Preview without mutating anything
  specflow start-next --agent backend --dry-run

  # Restrict routing to one spec or priority
  specflow start-next --agent backend --spec FEAT-001
  specflow start-next --agent backend --priority P1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return fail(err)
		}

		agent, _ := cmd.Flags().GetString("agent")
		priority, _ := cmd.Flags().GetString("priority")
		tag, _ := cmd.Flags().GetString("tag")
		specID, _ := cmd.Flags().GetString("spec")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		confirm, _ := cmd.Flags().GetBool("confirm-critical")
		notes, _ := cmd.Flags().GetString("notes")

		orch := orchestrator.New(e.cfg, e.store, e.manager, bus.New(0))
		result := orch.StartNext(orchestrator.StartNextOptions{
			Agent:           agent,
			Filters:         router.Filters{Priority: priority, Tag: tag, SpecID: specID},
			DryRun:          dryRun,
			ConfirmCritical: confirm,
			Notes:           notes,
		})

		if jsonRequested(cmd) {
			return printJSON(result, violationCode(result.Violations))
		}
		return renderStartNext(result)
	},
}

func init() {
	startNextCmd.Flags().String("agent", "", "Agent capability tag (required)")
	startNextCmd.Flags().String("priority", "", "Only consider specs with this priority (P0..P3)")
	startNextCmd.Flags().String("tag", "", "Only consider specs carrying this tag")
	startNextCmd.Flags().String("spec", "", "Only consider tasks of this spec id")
	startNextCmd.Flags().Bool("dry-run", false, "Report what would be assigned without mutating state")
	startNextCmd.Flags().Bool("confirm-critical", false, "Allow assignment of P0 (Critical) tasks")
	startNextCmd.Flags().String("notes", "", "Free-form note stored on the assignment record")
	rootCmd.AddCommand(startNextCmd)
}

func renderStartNext(result *orchestrator.StartNextResult) error {
	out := os.Stdout

	for _, w := range result.Warnings {
		output.PrintWarning(out, w)
	}
	if len(result.Violations) > 0 {
		for _, v := range result.Violations {
			wferrors.Print(v)
		}
		return exitWith(violationCode(result.Violations))
	}

	switch {
	case result.Assigned:
		output.PrintSuccess(out, fmt.Sprintf("Started %s: %s",
			output.TaskRef(result.Task.SpecID, result.Task.TaskID), result.Task.Title))
		fmt.Fprintf(out, "  priority: %s  score: %.2f\n",
			output.PriorityBadge(string(result.Task.Priority)), result.Task.Total)
		if result.Reasoning != "" {
			fmt.Fprintf(out, "  %s\n", result.Reasoning)
		}
	case result.DryRun && result.WouldAssign != nil:
		fmt.Fprintf(out, "Would assign %s: %s (score %.2f)\n",
			output.TaskRef(result.WouldAssign.SpecID, result.WouldAssign.TaskID),
			result.WouldAssign.Title, result.WouldAssign.Total)
	default:
		fmt.Fprintln(out, "No eligible task found.")
		for _, s := range result.Suggestions {
			fmt.Fprintf(out, "  • %s\n", s)
		}
	}

	if len(result.Alternatives) > 0 {
		fmt.Fprintln(out, "\nAlternatives:")
		for _, alt := range result.Alternatives {
			fmt.Fprintf(out, "  %s %s (score %.2f)\n",
				output.TaskRef(alt.SpecID, alt.TaskID), alt.Title, alt.Total)
		}
	}
	return nil
}

// violationCode derives the exit code from the first violation.
func violationCode(violations []*wferrors.WorkflowError) int {
	if len(violations) == 0 {
		return ExitSuccess
	}
	return ExitCodeFor(violations[0].Kind)
}

// printJSON writes v to stdout and converts code into the process exit.
func printJSON(v any, code int) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fail(err)
	}
	return exitWith(code)
}
