// Package cli implements the specflow command tree.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	wferrors "github.com/raveheart1/specflow/internal/errors"
)

var rootCmd = &cobra.Command{
	Use:   "specflow",
	Short: "Local workflow automation for spec repositories",
	Long: `specflow coordinates multi-agent work over a file-backed spec repository.

Specs are markdown files with YAML front-matter, organized under
status-named directories (backlog/, active/, done/, ...). specflow routes
tasks to agents by capability tag, validates assignments against
dependency and workload constraints, keeps the durable workflow state in
sync with spec files, and runs the completion pipeline (lint, tests,
commit, handoff).`,
	Example: `  # Get and start the best next task for your agent
  specflow start-next --agent backend

  # Complete your in-progress task (lint, tests, commit, handoff)
  specflow complete-current --agent backend

  # Check the repository for integrity errors
  specflow validate

  # Show current assignments and progress
  specflow status

  # Run the file watcher and state-sync engine in the foreground
  specflow watch`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to project config file (default .specflow/config.yml)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().Bool("json", false, "Emit machine-readable JSON output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "workflow", Title: "Workflow Commands:"},
		&cobra.Group{ID: "repository", Title: "Repository Commands:"},
	)
}

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

// exitWith returns an error that makes Execute exit with code.
func exitWith(code int) error {
	if code == ExitSuccess {
		return nil
	}
	return &exitError{code: code}
}

// fail prints a workflow error with its next steps and converts it to the
// matching exit code.
func fail(err error) error {
	if werr := wferrors.As(err); werr != nil {
		wferrors.Print(werr)
		return exitWith(ExitCodeFor(werr.Kind))
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitWith(ExitValidationError)
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		// Usage errors from cobra were not printed by a command.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitValidationError
	}
	return ExitSuccess
}
