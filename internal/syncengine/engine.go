// Package syncengine reconciles externally observed spec changes with
// workflow state. It consumes change_analyzed events, decides whether a
// change warrants validation, and either syncs or records a conflict.
package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/raveheart1/specflow/internal/bus"
	"github.com/raveheart1/specflow/internal/integrity"
	"github.com/raveheart1/specflow/internal/spec"
	"github.com/raveheart1/specflow/internal/state"
	"github.com/raveheart1/specflow/internal/watch"
)

// Soft performance targets; exceeding one logs a warning metric.
const (
	detectionBudget  = time.Second
	syncBudget       = 2 * time.Second
	validationBudget = 100 * time.Millisecond
)

// Overall is the aggregated health verdict.
type Overall string

const (
	OverallHealthy  Overall = "healthy"
	OverallDegraded Overall = "degraded"
	OverallFailed   Overall = "failed"
	OverallStopped  Overall = "stopped"
	OverallShutdown Overall = "shutdown"
)

// HealthReport is the payload of a health_check_complete event.
type HealthReport struct {
	Overall    Overall   `json:"overall"`
	Components []string  `json:"components"`
	Errors     int       `json:"errors"`
	Synced     int       `json:"synced"`
	Conflicts  int       `json:"conflicts"`
	BusStats   bus.Stats `json:"-"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Conflict records a disagreement between a spec file and workflow state
// that neither side can unilaterally resolve.
type Conflict struct {
	SpecID     string    `json:"spec_id"`
	TaskID     string    `json:"task_id"`
	Field      string    `json:"field"`
	SpecValue  string    `json:"spec_value"`
	StateValue string    `json:"state_value"`
	DetectedAt time.Time `json:"detected_at"`
}

// Engine wires the watcher, validator, and state manager into the automated
// sync pipeline.
type Engine struct {
	store          *spec.Store
	validator      *integrity.Validator
	manager        *state.Manager
	eventBus       *bus.Bus
	watcher        *watch.Watcher
	conflictsDir   string
	healthInterval time.Duration
	cacheMaxAge    time.Duration

	changes chan *watch.Analysis

	mu        sync.Mutex
	running   bool
	errors    int
	synced    int
	conflicts int
}

// New creates an Engine. healthInterval of 0 disables the health monitor.
func New(store *spec.Store, validator *integrity.Validator, manager *state.Manager,
	eventBus *bus.Bus, watcher *watch.Watcher, conflictsDir string,
	healthInterval, cacheMaxAge time.Duration) *Engine {
	return &Engine{
		store:          store,
		validator:      validator,
		manager:        manager,
		eventBus:       eventBus,
		watcher:        watcher,
		conflictsDir:   conflictsDir,
		healthInterval: healthInterval,
		cacheMaxAge:    cacheMaxAge,
		changes:        make(chan *watch.Analysis, 128),
	}
}

// Run starts the dispatch loop, the watcher, the sync worker, and the health
// monitor, and blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	sub := e.eventBus.Subscribe(bus.TopicChangeAnalyzed, e.enqueue)
	defer e.eventBus.Unsubscribe(sub)

	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.eventBus.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return e.watcher.Run(ctx)
	})
	g.Go(func() error {
		return e.syncWorker(ctx)
	})
	if e.healthInterval > 0 {
		g.Go(func() error {
			return e.healthMonitor(ctx)
		})
	}
	return g.Wait()
}

// enqueue runs on the bus dispatch goroutine; the sync worker does the real
// work so handlers stay prompt.
func (e *Engine) enqueue(event bus.Event) {
	analysis, ok := event.Payload.(*watch.Analysis)
	if !ok {
		return
	}
	select {
	case e.changes <- analysis:
	default:
		log.Warn("sync queue full, dropping change", "path", analysis.Path)
	}
}

// syncWorker drains analyzed changes one at a time.
func (e *Engine) syncWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case analysis := <-e.changes:
			e.Process(analysis)
		}
	}
}

// Process applies the decision rules to one analyzed change. Exported so the
// orchestrators and tests can drive the pipeline synchronously.
func (e *Engine) Process(analysis *watch.Analysis) {
	if analysis.Elapsed > detectionBudget {
		log.Warn("change detection exceeded budget", "path", analysis.Path, "elapsed", analysis.Elapsed)
	}
	if !e.ShouldTriggerValidation(analysis) {
		log.Debug("change ignored", "path", analysis.Path, "impact", analysis.Impact)
		return
	}
	if analysis.SpecID == "" {
		// Deleted or unparseable files surface through full validation.
		e.recordError()
		return
	}

	start := time.Now()
	report, graph, err := e.validate(analysis.SpecID)
	if err != nil {
		e.recordError()
		e.eventBus.Publish(bus.TopicComponentError, err)
		return
	}
	if !report.Ok() {
		log.Warn("sync skipped: integrity errors", "spec", analysis.SpecID, "errors", report.ErrorCount())
		e.recordError()
		return
	}

	if conflicts := e.detectConflicts(graph, analysis.SpecID); len(conflicts) > 0 {
		for _, c := range conflicts {
			e.recordConflict(c)
		}
		return
	}

	result, err := e.manager.SyncSpecState(analysis.SpecID)
	if err != nil {
		e.recordError()
		e.eventBus.Publish(bus.TopicComponentError, err)
		return
	}
	e.mu.Lock()
	e.synced++
	e.mu.Unlock()

	if elapsed := time.Since(start); elapsed > syncBudget {
		log.Warn("sync exceeded budget", "spec", analysis.SpecID, "elapsed", elapsed)
	}
	if len(result.Completed)+len(result.Synthesized) > 0 {
		log.Info("spec state reconciled",
			"spec", analysis.SpecID,
			"completed", len(result.Completed),
			"synthesized", len(result.Synthesized))
	}
	for _, warning := range result.Warnings {
		log.Warn(warning, "spec", analysis.SpecID)
	}
}

// ShouldTriggerValidation applies the fixed decision rules.
func (e *Engine) ShouldTriggerValidation(a *watch.Analysis) bool {
	if a.NoOp {
		return false
	}
	switch a.Impact {
	case watch.ImpactHigh:
		return true
	case watch.ImpactMedium:
		if a.StatusChange != nil && a.StatusChange.IsWorkflowChange {
			return true
		}
		if a.AssignmentChange != nil && a.AssignmentChange.IsHandoff {
			return true
		}
		// JSON-shaped documents carry state in structured fields; any
		// status or task change is significant.
		if a.Type == watch.ChangeJSON && (a.StatusChange != nil || len(a.TaskStatusChanges) > 0) {
			return true
		}
	}
	return false
}

// validate reloads the graph and runs the integrity checks for the affected
// spec plus its referenced neighbours.
func (e *Engine) validate(specID string) (*integrity.Report, *spec.Graph, error) {
	graph, err := e.store.LoadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("reloading specs: %w", err)
	}
	start := time.Now()
	report := e.validator.ValidateSpec(graph, specID)
	if elapsed := time.Since(start); elapsed > validationBudget {
		log.Warn("validation exceeded budget", "spec", specID, "elapsed", elapsed)
	}
	return report, graph, nil
}

// detectConflicts finds disagreements the sync cannot resolve: a completed
// task whose spec and workflow timestamps differ.
func (e *Engine) detectConflicts(graph *spec.Graph, specID string) []Conflict {
	s := graph.Spec(specID)
	if s == nil {
		return nil
	}
	doc, err := e.manager.Snapshot()
	if err != nil {
		return nil
	}

	var conflicts []Conflict
	for _, t := range s.Tasks {
		if t.Status != spec.TaskComplete || t.Completed == nil {
			continue
		}
		for _, record := range doc.CompletedAssignments {
			if record.SpecID != specID || record.TaskID != t.ID || record.CompletedAt == nil {
				continue
			}
			// Sub-second drift comes from serialization truncation, not a
			// real disagreement.
			if diff := record.CompletedAt.Sub(*t.Completed); diff > time.Second || diff < -time.Second {
				conflicts = append(conflicts, Conflict{
					SpecID:     specID,
					TaskID:     t.ID,
					Field:      "completed_at",
					SpecValue:  t.Completed.Format(time.RFC3339),
					StateValue: record.CompletedAt.Format(time.RFC3339),
					DetectedAt: time.Now(),
				})
			}
		}
	}
	return conflicts
}

// recordConflict persists the conflict and emits conflict_detected. Neither
// side is overwritten.
func (e *Engine) recordConflict(c Conflict) {
	e.mu.Lock()
	e.conflicts++
	e.mu.Unlock()

	if err := os.MkdirAll(e.conflictsDir, 0o755); err != nil {
		log.Error("creating conflicts directory", "err", err)
		return
	}
	name := fmt.Sprintf("%s-%s-%s.json", c.SpecID, c.TaskID, c.DetectedAt.UTC().Format("20060102T150405Z"))
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		log.Error("encoding conflict record", "err", err)
		return
	}
	path := filepath.Join(e.conflictsDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Error("writing conflict record", "err", err)
		return
	}
	log.Warn("conflict detected", "spec", c.SpecID, "task", c.TaskID, "field", c.Field, "record", path)
	e.eventBus.Publish(bus.TopicConflictDetected, c)
}

// healthMonitor polls component liveness on the configured interval.
func (e *Engine) healthMonitor(ctx context.Context) error {
	ticker := time.NewTicker(e.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			report := e.Health()
			report.Overall = OverallShutdown
			e.eventBus.Publish(bus.TopicHealthCheckComplete, report)
			return nil
		case <-ticker.C:
			if e.cacheMaxAge > 0 {
				e.store.Maintain(e.cacheMaxAge)
			}
			report := e.Health()
			log.Debug("health check", "overall", report.Overall, "errors", report.Errors, "synced", report.Synced)
			e.eventBus.Publish(bus.TopicHealthCheckComplete, report)
		}
	}
}

// Health aggregates the current liveness snapshot.
func (e *Engine) Health() HealthReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := HealthReport{
		Components: []string{"watcher", "bus", "sync_worker", "spec_store"},
		Errors:     e.errors,
		Synced:     e.synced,
		Conflicts:  e.conflicts,
		BusStats:   e.eventBus.Stats(),
		CheckedAt:  time.Now(),
	}
	switch {
	case !e.running:
		report.Overall = OverallStopped
	case e.errors > 0 && e.synced == 0:
		report.Overall = OverallFailed
	case e.errors > 0 || e.conflicts > 0:
		report.Overall = OverallDegraded
	default:
		report.Overall = OverallHealthy
	}
	return report
}

func (e *Engine) recordError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
