package state

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	wferrors "github.com/raveheart1/specflow/internal/errors"
	"github.com/raveheart1/specflow/internal/spec"
)

// Manager is the single writer of the workflow state document. Mutations are
// serialized through an in-process mutex plus an exclusive file lock, so two
// processes sharing the same repository stay totally ordered.
type Manager struct {
	statePath string
	store     *spec.Store
	locks     *locker

	mu sync.Mutex
}

// AssignOptions carries optional AssignTask parameters.
type AssignOptions struct {
	// Notes is free-form caller context stored on the record.
	Notes string
}

// CompleteOptions carries optional CompleteTask parameters.
type CompleteOptions struct {
	Notes string
	// CompletedBy records who finished the work; "external" marks
	// completions observed from spec-file edits.
	CompletedBy string
}

// Completion summarizes a successful CompleteTask.
type Completion struct {
	CompletedAt   time.Time `json:"completed_at"`
	DurationHours float64   `json:"duration_hours"`
	Notes         string    `json:"notes,omitempty"`
}

// SyncResult reports what SyncSpecState reconciled.
type SyncResult struct {
	// Completed lists task ids moved to completed_assignments.
	Completed []string
	// Synthesized lists task ids for which a record was created after an
	// external edit marked them in_progress.
	Synthesized []string
	// Warnings carries human-readable reconciliation notes.
	Warnings []string
}

// NewManager creates a Manager writing to statePath, using locksDir for lock
// files and store for spec-file reflection.
func NewManager(statePath, locksDir string, lockTimeout time.Duration, store *spec.Store) *Manager {
	return &Manager{
		statePath: statePath,
		store:     store,
		locks:     newLocker(locksDir, lockTimeout),
	}
}

// AssignTask records agent starting (specID, taskID) and reflects
// in_progress into the spec file's front-matter. Fails with AlreadyAssigned
// when another in_progress record exists for the same task.
func (m *Manager) AssignTask(specID, taskID, agent string, opts AssignOptions) (*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	release, err := m.locks.acquire("state")
	if err != nil {
		return nil, err
	}
	defer release()

	doc, prev, err := m.loadWithSnapshot()
	if err != nil {
		return nil, err
	}

	if existing := doc.InProgress(specID, taskID); existing != nil {
		return nil, wferrors.TaskAlreadyAssigned(specID, taskID, existing.AssignedAgent)
	}

	now := time.Now()
	record := Assignment{
		ID:            uuid.NewString(),
		SpecID:        specID,
		TaskID:        taskID,
		AssignedAgent: agent,
		Status:        AssignmentInProgress,
		AssignedAt:    now,
		StartedAt:     now,
		Notes:         opts.Notes,
	}
	record.audit("assigned", map[string]any{"agent": agent})

	doc.CurrentAssignments = append(doc.CurrentAssignments, record)
	doc.refreshProgress()

	if err := saveDocument(m.statePath, doc); err != nil {
		return nil, wferrors.Wrap(err, wferrors.IOError, "persisting assignment")
	}

	if err := m.reflectTask(specID, taskID, spec.TaskInProgress, agent, &now, nil); err != nil {
		m.rollback(prev)
		return nil, err
	}

	log.Info("task assigned", "spec", specID, "task", taskID, "agent", agent)
	return &record, nil
}

// CompleteTask transitions the in_progress record for (specID, taskID) to
// complete, moves it to completed_assignments atomically, and reflects
// complete into the spec file. Fails with NotInProgress when no such record
// exists.
func (m *Manager) CompleteTask(specID, taskID string, opts CompleteOptions) (*Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	release, err := m.locks.acquire("state")
	if err != nil {
		return nil, err
	}
	defer release()

	doc, prev, err := m.loadWithSnapshot()
	if err != nil {
		return nil, err
	}

	record := doc.InProgress(specID, taskID)
	if record == nil {
		return nil, wferrors.TaskNotInProgress(specID, taskID, m.observedTaskStatus(specID, taskID))
	}

	now := time.Now()
	completedBy := opts.CompletedBy
	if completedBy == "" {
		completedBy = record.AssignedAgent
	}

	completed := *record
	completed.Status = AssignmentComplete
	completed.CompletedAt = &now
	if opts.Notes != "" {
		completed.Notes = opts.Notes
	}
	completed.audit("completed", map[string]any{"completed_by": completedBy})

	doc.CurrentAssignments = removeRecord(doc.CurrentAssignments, record.ID)
	doc.CompletedAssignments = append(doc.CompletedAssignments, completed)
	doc.refreshProgress()

	if err := saveDocument(m.statePath, doc); err != nil {
		return nil, wferrors.Wrap(err, wferrors.IOError, "persisting completion")
	}

	if err := m.reflectTask(specID, taskID, spec.TaskComplete, "", nil, &now); err != nil {
		m.rollback(prev)
		return nil, err
	}

	log.Info("task completed", "spec", specID, "task", taskID, "by", completedBy)
	return &Completion{
		CompletedAt:   now,
		DurationHours: now.Sub(completed.StartedAt).Hours(),
		Notes:         completed.Notes,
	}, nil
}

// CancelAssignment marks the in_progress record cancelled and reflects ready
// back into the spec file.
func (m *Manager) CancelAssignment(specID, taskID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	release, err := m.locks.acquire("state")
	if err != nil {
		return err
	}
	defer release()

	doc, prev, err := m.loadWithSnapshot()
	if err != nil {
		return err
	}
	record := doc.InProgress(specID, taskID)
	if record == nil {
		return wferrors.TaskNotInProgress(specID, taskID, m.observedTaskStatus(specID, taskID))
	}

	cancelled := *record
	cancelled.Status = AssignmentCancelled
	cancelled.audit("cancelled", map[string]any{"reason": reason})

	doc.CurrentAssignments = removeRecord(doc.CurrentAssignments, record.ID)
	doc.CompletedAssignments = append(doc.CompletedAssignments, cancelled)
	doc.refreshProgress()

	if err := saveDocument(m.statePath, doc); err != nil {
		return wferrors.Wrap(err, wferrors.IOError, "persisting cancellation")
	}
	if err := m.reflectTask(specID, taskID, spec.TaskReady, "", nil, nil); err != nil {
		m.rollback(prev)
		return err
	}
	return nil
}

// Snapshot returns a read-only copy of the current document.
func (m *Manager) Snapshot() (*Document, error) {
	doc, err := loadDocument(m.statePath)
	if err != nil {
		return nil, wferrors.Wrap(err, wferrors.IOError, "reading workflow state")
	}
	return doc.clone(), nil
}

// GetCurrentAssignments returns a copy of the current assignment list.
func (m *Manager) GetCurrentAssignments() ([]Assignment, error) {
	doc, err := m.Snapshot()
	if err != nil {
		return nil, err
	}
	return doc.CurrentAssignments, nil
}

// SyncSpecState reconciles workflow state with an externally observed spec
// change: tasks the spec marks complete while workflow says in_progress are
// completed with completedBy="external"; tasks the spec marks in_progress
// with no workflow record get a synthetic external record.
func (m *Manager) SyncSpecState(specID string) (*SyncResult, error) {
	s, _, err := m.store.Load(specID)
	if err != nil {
		return nil, err
	}

	doc, err := m.Snapshot()
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}
	for _, t := range s.Tasks {
		record := doc.InProgress(specID, t.ID)
		switch {
		case t.Status == spec.TaskComplete && record != nil:
			if _, err := m.CompleteTask(specID, t.ID, CompleteOptions{CompletedBy: "external"}); err != nil {
				return result, err
			}
			result.Completed = append(result.Completed, t.ID)
		case t.Status == spec.TaskInProgress && record == nil:
			agent := t.Agent
			if agent == "" {
				agent = "external"
			}
			if _, err := m.synthesizeAssignment(specID, t.ID, agent); err != nil {
				return result, err
			}
			result.Synthesized = append(result.Synthesized, t.ID)
			warning := fmt.Sprintf("task %s was started outside the workflow; recorded as external", t.ID)
			result.Warnings = append(result.Warnings, warning)
			log.Warn("synthetic assignment created", "spec", specID, "task", t.ID, "agent", agent)
		}
	}
	return result, nil
}

// CleanStaleLocks removes lock files held by dead processes.
func (m *Manager) CleanStaleLocks() int {
	return m.locks.cleanStale()
}

// StatePath returns the path of the durable state document.
func (m *Manager) StatePath() string {
	return m.statePath
}

// synthesizeAssignment records an assignment observed from an external edit.
// The spec file already says in_progress, so no reflection happens.
func (m *Manager) synthesizeAssignment(specID, taskID, agent string) (*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	release, err := m.locks.acquire("state")
	if err != nil {
		return nil, err
	}
	defer release()

	doc, err := loadDocument(m.statePath)
	if err != nil {
		return nil, wferrors.Wrap(err, wferrors.IOError, "reading workflow state")
	}
	if existing := doc.InProgress(specID, taskID); existing != nil {
		return existing, nil
	}

	now := time.Now()
	record := Assignment{
		ID:            uuid.NewString(),
		SpecID:        specID,
		TaskID:        taskID,
		AssignedAgent: agent,
		Status:        AssignmentInProgress,
		AssignedAt:    now,
		StartedAt:     now,
		Notes:         "created from external spec edit",
	}
	record.audit("assigned", map[string]any{"agent": agent, "source": "external"})

	doc.CurrentAssignments = append(doc.CurrentAssignments, record)
	doc.refreshProgress()
	if err := saveDocument(m.statePath, doc); err != nil {
		return nil, wferrors.Wrap(err, wferrors.IOError, "persisting synthetic assignment")
	}
	return &record, nil
}

// reflectTask rewrites the task's status (and timestamps) inside the spec
// file, under the per-path lock. The watcher will observe this write and the
// sync engine will recognize it as already reconciled.
func (m *Manager) reflectTask(specID, taskID string, status spec.TaskStatus, agent string, started, completed *time.Time) error {
	s, _, err := m.store.Load(specID)
	if err != nil {
		return wferrors.Wrap(err, wferrors.IOError, fmt.Sprintf("loading spec %s for reflection", specID))
	}

	task := s.Task(taskID)
	if task == nil {
		return wferrors.TaskNotFound(specID, taskID)
	}

	release, err := m.locks.acquire(s.Path)
	if err != nil {
		return err
	}
	defer release()

	task.Status = status
	if agent != "" {
		task.Agent = agent
	}
	if started != nil {
		task.Started = started
	}
	if completed != nil {
		task.Completed = completed
		task.Progress = 100
	}

	content, err := spec.Serialize(s)
	if err != nil {
		return wferrors.Wrap(err, wferrors.IOError, "serializing spec for reflection")
	}

	tmpPath := s.Path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(content), 0o644); err != nil {
		return wferrors.Wrap(err, wferrors.IOError, "writing temp spec file")
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		os.Remove(tmpPath)
		return wferrors.Wrap(err, wferrors.IOError, "renaming temp spec file")
	}

	m.store.Invalidate(s.Path)
	return nil
}

// loadWithSnapshot loads the document plus the raw previous bytes for
// rollback. A reflection failure restores the snapshot so the state write
// never outlives a failed spec write.
func (m *Manager) loadWithSnapshot() (*Document, []byte, error) {
	prev, err := os.ReadFile(m.statePath)
	if err != nil && !os.IsNotExist(err) {
		return nil, nil, wferrors.Wrap(err, wferrors.IOError, "reading workflow state")
	}
	doc, err := loadDocument(m.statePath)
	if err != nil {
		return nil, nil, wferrors.Wrap(err, wferrors.IOError, "parsing workflow state")
	}
	return doc, prev, nil
}

// rollback restores the pre-mutation state document.
func (m *Manager) rollback(prev []byte) {
	if prev == nil {
		os.Remove(m.statePath)
		return
	}
	tmpPath := m.statePath + ".tmp"
	if err := os.WriteFile(tmpPath, prev, 0o644); err != nil {
		log.Error("state rollback failed", "err", err)
		return
	}
	if err := os.Rename(tmpPath, m.statePath); err != nil {
		os.Remove(tmpPath)
		log.Error("state rollback failed", "err", err)
	}
}

// observedTaskStatus reports the task status as the spec file sees it, for
// NotInProgress error detail.
func (m *Manager) observedTaskStatus(specID, taskID string) string {
	s, _, err := m.store.Load(specID)
	if err != nil {
		return "unknown"
	}
	t := s.Task(taskID)
	if t == nil {
		return "missing"
	}
	return string(t.Status)
}

func removeRecord(records []Assignment, id string) []Assignment {
	out := records[:0]
	for _, r := range records {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}
