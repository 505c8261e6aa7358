package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/raveheart1/specflow/internal/config"
	"github.com/raveheart1/specflow/internal/spec"
	"github.com/raveheart1/specflow/internal/state"
)

// env bundles the collaborators every command builds from configuration.
type env struct {
	cfg     *config.Configuration
	store   *spec.Store
	manager *state.Manager
}

// newEnv loads configuration and constructs the spec store and state
// manager. The spec tree is not read yet; callers load on demand.
func newEnv(cmd *cobra.Command) (*env, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	store, err := spec.NewStore(cfg.SpecsRoot, cfg.StatusFolders, cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	manager := state.NewManager(
		cfg.StatePath(),
		cfg.LocksDir(),
		time.Duration(cfg.Locks.TimeoutMs)*time.Millisecond,
		store,
	)
	return &env{cfg: cfg, store: store, manager: manager}, nil
}

// jsonRequested reports whether the persistent --json flag is set.
func jsonRequested(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}
