package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raveheart1/specflow/internal/bus"
	"github.com/raveheart1/specflow/internal/integrity"
	"github.com/raveheart1/specflow/internal/output"
	"github.com/raveheart1/specflow/internal/syncengine"
	"github.com/raveheart1/specflow/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Watch the spec tree and keep workflow state in sync",
	GroupID: "repository",
	Long: `Run the file watcher, change detector, event bus, and state-sync engine
in the foreground until interrupted. External edits to spec files are
debounced, classified, and reconciled into the durable workflow state;
unresolvable disagreements are written as conflict records instead of
being auto-fixed.`,
	Example: `  specflow watch
  specflow watch --debug`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return fail(err)
		}

		// Prime the store so the detector has a baseline to diff against.
		if _, err := e.store.LoadAll(); err != nil {
			return fail(err)
		}

		eventBus := bus.New(0)
		watcher := watch.NewWatcher(e.store, eventBus,
			time.Duration(e.cfg.Watch.DebounceMs)*time.Millisecond)
		engine := syncengine.New(
			e.store,
			integrity.NewValidator(e.cfg.ArchivedFolder),
			e.manager,
			eventBus,
			watcher,
			e.cfg.ConflictsDir(),
			time.Duration(e.cfg.Sync.HealthIntervalMs)*time.Millisecond,
			time.Duration(e.cfg.CacheMaxAgeSec)*time.Second,
		)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sub := eventBus.Subscribe(bus.TopicConflictDetected, func(ev bus.Event) {
			output.PrintWarning(os.Stderr, fmt.Sprintf("conflict detected: %v", ev.Payload))
		})
		defer eventBus.Unsubscribe(sub)

		fmt.Fprintf(os.Stdout, "Watching %s (debounce %dms). Ctrl-C to stop.\n",
			e.cfg.SpecsRoot, e.cfg.Watch.DebounceMs)

		if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
			return fail(err)
		}
		fmt.Fprintln(os.Stdout, "\nStopped.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
