package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raveheart1/specflow/internal/integrity"
	"github.com/raveheart1/specflow/internal/output"
)

var validateCmd = &cobra.Command{
	Use:     "validate",
	Short:   "Check the spec repository for integrity errors",
	GroupID: "repository",
	Long: `Run the read-only integrity checks over every spec: parse failures,
duplicate ids, id format, required fields, file location vs status,
filename/id agreement, dangling references, dependency cycles, and task
dependency regressions.

The report is persisted under the configured reports directory. Exits 4
when errors are present; warnings alone exit 0. Files are never modified.`,
	Example: `  specflow validate
  specflow validate --json
  specflow validate --spec FEAT-001`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return fail(err)
		}

		graph, err := e.store.LoadAll()
		if err != nil {
			return fail(err)
		}

		validator := integrity.NewValidator(e.cfg.ArchivedFolder)
		var report *integrity.Report
		if specID, _ := cmd.Flags().GetString("spec"); specID != "" {
			report = validator.ValidateSpec(graph, specID)
		} else {
			report = validator.Validate(graph)
		}

		if path, err := report.Write(e.cfg.IntegrityReportsDir); err != nil {
			output.PrintWarning(os.Stderr, "could not persist report: "+err.Error())
		} else if !jsonRequested(cmd) {
			fmt.Fprintf(os.Stdout, "Report written to %s\n", path)
		}

		code := ExitSuccess
		if report.ErrorCount() > 0 {
			code = ExitIntegrityError
		}
		if jsonRequested(cmd) {
			return printJSON(report, code)
		}
		renderReport(report)
		return exitWith(code)
	},
}

func init() {
	validateCmd.Flags().String("spec", "", "Validate one spec and its neighbors only")
	rootCmd.AddCommand(validateCmd)
}

func renderReport(report *integrity.Report) {
	out := os.Stdout

	if report.Ok() {
		output.PrintSuccess(out, "No integrity issues found")
		return
	}

	for _, check := range report.Checks() {
		issues := report.ByCheck()[check]
		fmt.Fprintf(out, "\n%s (%d):\n", check, len(issues))
		for _, issue := range issues {
			switch issue.Severity {
			case integrity.SeverityError:
				output.PrintFailure(out, issueLine(issue))
			default:
				output.PrintWarning(out, issueLine(issue))
			}
			if issue.Recommendation != "" {
				fmt.Fprintf(out, "    ↳ %s\n", issue.Recommendation)
			}
		}
	}
	fmt.Fprintf(out, "\n%d error(s), %d warning(s)\n", report.ErrorCount(), report.WarningCount())
}

func issueLine(issue integrity.Issue) string {
	where := issue.SpecID
	if where == "" {
		where = issue.File
	}
	if where == "" {
		return issue.Message
	}
	return fmt.Sprintf("%s: %s", where, issue.Message)
}
