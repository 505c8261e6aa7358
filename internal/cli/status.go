package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/raveheart1/specflow/internal/output"
	"github.com/raveheart1/specflow/internal/spec"
	"github.com/raveheart1/specflow/internal/state"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show current assignments and project progress",
	GroupID: "repository",
	Example: `  specflow status
  specflow status --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return fail(err)
		}

		doc, err := e.manager.Snapshot()
		if err != nil {
			return fail(err)
		}
		graph, err := e.store.LoadAll()
		if err != nil {
			return fail(err)
		}

		if jsonRequested(cmd) {
			return printJSON(statusPayload(doc, graph), ExitSuccess)
		}
		renderStatus(doc, graph)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type specProgress struct {
	SpecID   string `json:"spec_id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	Done     int    `json:"tasks_done"`
	Total    int    `json:"tasks_total"`
}

func statusPayload(doc *state.Document, graph *spec.Graph) map[string]any {
	return map[string]any{
		"current_assignments": doc.CurrentAssignments,
		"project_progress":    doc.ProjectProgress,
		"completed":           len(doc.CompletedAssignments),
		"specs":               progressRows(graph),
	}
}

func progressRows(graph *spec.Graph) []specProgress {
	var rows []specProgress
	for _, id := range graph.IDs() {
		s := graph.Spec(id)
		done := 0
		for _, t := range s.Tasks {
			if t.Status == spec.TaskComplete {
				done++
			}
		}
		rows = append(rows, specProgress{
			SpecID:   s.ID,
			Title:    s.Title,
			Status:   string(s.Status),
			Priority: string(s.Priority),
			Done:     done,
			Total:    len(s.Tasks),
		})
	}
	return rows
}

func renderStatus(doc *state.Document, graph *spec.Graph) {
	out := os.Stdout

	output.PrintDivider(out, "assignments")
	if len(doc.CurrentAssignments) == 0 {
		fmt.Fprintln(out, "No tasks in progress.")
	} else {
		rows := make([][]string, 0, len(doc.CurrentAssignments))
		for _, a := range doc.CurrentAssignments {
			if a.Status != state.AssignmentInProgress {
				continue
			}
			rows = append(rows, []string{
				a.SpecID + "/" + a.TaskID,
				a.AssignedAgent,
				a.StartedAt.Format(time.RFC3339),
				output.FormatDuration(time.Since(a.StartedAt)),
			})
		}
		output.Table(out, []string{"TASK", "AGENT", "STARTED", "ELAPSED"}, rows)
	}

	fmt.Fprintln(out)
	output.PrintDivider(out, "specs")
	rows := [][]string{}
	for _, p := range progressRows(graph) {
		rows = append(rows, []string{
			p.SpecID,
			p.Priority,
			p.Status,
			fmt.Sprintf("%d/%d", p.Done, p.Total),
			p.Title,
		})
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No specs found.")
	} else {
		output.Table(out, []string{"SPEC", "PRI", "STATUS", "TASKS", "TITLE"}, rows)
	}

	fmt.Fprintf(out, "\n%d in progress, %d completed, %d agent(s) active\n",
		doc.ProjectProgress.InProgressTasks,
		len(doc.CompletedAssignments),
		doc.ProjectProgress.AgentsActive)
}
