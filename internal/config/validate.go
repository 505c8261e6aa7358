package config

import "fmt"

// Validate checks configuration values for internal consistency.
// It does not touch the filesystem.
func Validate(cfg *Configuration) error {
	if cfg.SpecsRoot == "" {
		return fmt.Errorf("specs_root must not be empty")
	}
	if len(cfg.StatusFolders) == 0 {
		return fmt.Errorf("status_folders must not be empty")
	}
	if len(cfg.Priorities) == 0 {
		return fmt.Errorf("priorities must not be empty")
	}
	if cfg.Watch.DebounceMs < 0 {
		return fmt.Errorf("watch.debounce_ms must be >= 0, got %d", cfg.Watch.DebounceMs)
	}
	if cfg.Locks.TimeoutMs <= 0 {
		return fmt.Errorf("locks.timeout_ms must be > 0, got %d", cfg.Locks.TimeoutMs)
	}
	if cfg.Constraints.MaxConcurrentPerAgent <= 0 {
		return fmt.Errorf("constraints.max_concurrent_per_agent must be > 0, got %d",
			cfg.Constraints.MaxConcurrentPerAgent)
	}
	if cfg.Constraints.SoftConcurrentPerAgent > cfg.Constraints.MaxConcurrentPerAgent {
		return fmt.Errorf("constraints.soft_concurrent_per_agent (%d) must not exceed max_concurrent_per_agent (%d)",
			cfg.Constraints.SoftConcurrentPerAgent, cfg.Constraints.MaxConcurrentPerAgent)
	}
	if cfg.Sync.HealthIntervalMs <= 0 {
		return fmt.Errorf("sync.health_interval_ms must be > 0, got %d", cfg.Sync.HealthIntervalMs)
	}
	if cfg.CacheSize <= 0 {
		return fmt.Errorf("cache_size must be > 0, got %d", cfg.CacheSize)
	}
	return nil
}
