package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/raveheart1/specflow/internal/bus"
	"github.com/raveheart1/specflow/internal/spec"
)

// FileChange is the payload of a file_change event.
type FileChange struct {
	Path string    `json:"path"`
	Op   string    `json:"op"`
	At   time.Time `json:"at"`
}

// Watcher observes the spec tree recursively, debounces bursts per path, and
// publishes file_change plus change_analyzed events.
type Watcher struct {
	store    *spec.Store
	eventBus *bus.Bus
	detector *Detector
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]*pendingChange
	flush   chan string
}

// pendingChange accumulates a burst of events for one path during the quiet
// period. Removal wins over writes within a burst.
type pendingChange struct {
	timer   *time.Timer
	removed bool
	renamed bool
}

// NewWatcher creates a Watcher. debounce is the per-path quiet period; 0
// uses one second.
func NewWatcher(store *spec.Store, eventBus *bus.Bus, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = time.Second
	}
	return &Watcher{
		store:    store,
		eventBus: eventBus,
		detector: NewDetector(store),
		debounce: debounce,
		pending:  make(map[string]*pendingChange),
		flush:    make(chan string, 256),
	}
}

// Run watches until ctx is done. Raw events are forwarded immediately;
// analysis happens after the per-path quiet period, serialized on this
// goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := w.addTree(fsw, w.store.Root()); err != nil {
		return err
	}
	log.Debug("watching spec tree", "root", w.store.Root(), "debounce", w.debounce)

	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleRaw(fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Error("watcher error", "err", err)
			w.eventBus.Publish(bus.TopicComponentError, err)
		case path := <-w.flush:
			w.analyze(path)
		}
	}
}

// handleRaw forwards a raw event and schedules the debounced analysis.
func (w *Watcher) handleRaw(fsw *fsnotify.Watcher, event fsnotify.Event) {
	// New directories join the recursive watch.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addTree(fsw, event.Name)
			return
		}
	}
	if !w.store.InSpecTree(event.Name) {
		return
	}
	// Skip the temp files of our own atomic writes.
	if filepath.Ext(event.Name) == ".tmp" {
		return
	}

	w.eventBus.Publish(bus.TopicFileChange, FileChange{
		Path: event.Name,
		Op:   event.Op.String(),
		At:   time.Now(),
	})
	w.schedule(event.Name, event.Has(fsnotify.Remove), event.Has(fsnotify.Rename))
}

// schedule (re)arms the quiet-period timer for path. Rapid bursts collapse
// into a single analysis.
func (w *Watcher) schedule(path string, removed, renamed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.pending[path]
	if !ok {
		p = &pendingChange{}
		w.pending[path] = p
	}
	p.removed = p.removed || removed
	p.renamed = p.renamed || renamed

	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(w.debounce, func() {
		select {
		case w.flush <- path:
		default:
			log.Warn("analysis queue full, dropping change", "path", path)
		}
	})
}

// analyze runs the detector for a quiesced path and publishes the result.
func (w *Watcher) analyze(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if ok {
		delete(w.pending, path)
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	var analysis *Analysis
	if p.removed || p.renamed {
		if _, err := os.Stat(path); err != nil {
			analysis = w.detector.AnalyzeRemoval(path, p.renamed)
		}
	}
	if analysis == nil {
		a, err := w.detector.Analyze(path)
		if err != nil {
			log.Error("change analysis failed", "path", path, "err", err)
			w.eventBus.Publish(bus.TopicComponentError, err)
			return
		}
		analysis = a
	}

	if analysis.NoOp {
		log.Debug("content unchanged, skipping", "path", path)
		return
	}
	log.Debug("change analyzed",
		"path", path, "type", analysis.Type, "impact", analysis.Impact, "elapsed", analysis.Elapsed)
	w.eventBus.Publish(bus.TopicChangeAnalyzed, analysis)
}

// addTree registers dir and every subdirectory with the fsnotify watcher.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				return fmt.Errorf("watching %s: %w", path, err)
			}
		}
		return nil
	})
}

// cancelPending stops all armed timers on shutdown.
func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, p := range w.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(w.pending, path)
	}
}
