package orchestrator

import (
	"time"

	"github.com/raveheart1/specflow/internal/bus"
	"github.com/raveheart1/specflow/internal/config"
	"github.com/raveheart1/specflow/internal/constraint"
	"github.com/raveheart1/specflow/internal/integrity"
	"github.com/raveheart1/specflow/internal/spec"
	"github.com/raveheart1/specflow/internal/state"
)

// pipelineBudget is the soft total-time target for both pipelines.
const pipelineBudget = 5 * time.Second

// Orchestrator wires the engine components into the command pipelines.
type Orchestrator struct {
	cfg       *config.Configuration
	store     *spec.Store
	manager   *state.Manager
	validator *integrity.Validator
	eventBus  *bus.Bus
	tools     ToolRunner
	committer Committer
}

// Option overrides a default collaborator, mainly for tests.
type Option func(*Orchestrator)

// WithToolRunner substitutes the external-tool runner.
func WithToolRunner(r ToolRunner) Option {
	return func(o *Orchestrator) { o.tools = r }
}

// WithCommitter substitutes the version-control backend.
func WithCommitter(c Committer) Option {
	return func(o *Orchestrator) { o.committer = c }
}

// New creates an Orchestrator with subprocess tools and a go-git committer
// rooted in the working directory.
func New(cfg *config.Configuration, store *spec.Store, manager *state.Manager, eventBus *bus.Bus, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		store:     store,
		manager:   manager,
		validator: integrity.NewValidator(cfg.ArchivedFolder),
		eventBus:  eventBus,
		tools:     NewToolRunner(""),
		committer: NewCommitter("."),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// loadGraph reloads the spec graph and runs the integrity checks. Returns
// the graph, the integrity report, and the set of spec ids the report
// blocks from pipeline use.
func (o *Orchestrator) loadGraph() (*spec.Graph, *integrity.Report, map[string]bool, error) {
	graph, err := o.store.LoadAll()
	if err != nil {
		return nil, nil, nil, err
	}
	report := o.validator.Validate(graph)

	blocked := make(map[string]bool)
	for _, issue := range report.Issues {
		if issue.Severity != integrity.SeverityError {
			continue
		}
		if issue.SpecID != "" {
			blocked[issue.SpecID] = true
		}
	}
	// Specs on a dependency cycle are blocked even though the cycle issue
	// carries no single spec id.
	for _, id := range graph.DependencyCycle() {
		blocked[id] = true
	}
	return graph, report, blocked, nil
}

// prune returns a graph without the blocked specs so the router never
// recommends work from a spec with integrity errors.
func prune(graph *spec.Graph, blocked map[string]bool) *spec.Graph {
	if len(blocked) == 0 {
		return graph
	}
	var kept []*spec.Spec
	for _, id := range graph.IDs() {
		if !blocked[id] {
			kept = append(kept, graph.Spec(id))
		}
	}
	return spec.NewGraph(kept, nil, nil)
}

// engineFor builds a constraint engine over the given graph using the
// configured limits and adjacency map.
func (o *Orchestrator) engineFor(graph *spec.Graph) *constraint.Engine {
	return constraint.New(graph,
		o.cfg.Constraints.Adjacency,
		o.cfg.Constraints.SoftConcurrentPerAgent,
		o.cfg.Constraints.MaxConcurrentPerAgent)
}
