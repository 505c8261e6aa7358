// Package orchestrator implements the start-next and complete-current
// pipelines: routing, validation, durable state updates, external tools,
// version control, and handoff, with a per-step audit trail.
package orchestrator

import "time"

// AuditEntry records one pipeline step. Entries are append-only.
type AuditEntry struct {
	Step      string    `json:"step"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// auditLog accumulates pipeline steps in order.
type auditLog struct {
	entries []AuditEntry
}

func (l *auditLog) add(step, status, detail string) {
	l.entries = append(l.entries, AuditEntry{
		Step:      step,
		Status:    status,
		Detail:    detail,
		Timestamp: time.Now(),
	})
}

func (l *auditLog) addAttempt(step, status, detail string, attempt int) {
	l.entries = append(l.entries, AuditEntry{
		Step:      step,
		Status:    status,
		Detail:    detail,
		Attempt:   attempt,
		Timestamp: time.Now(),
	})
}

// Performance reports pipeline timing. Total exceeding the soft target is a
// warning, never a failure.
type Performance struct {
	TotalMs int64            `json:"total_ms"`
	StepsMs map[string]int64 `json:"steps_ms,omitempty"`
}

// stopwatch measures pipeline steps.
type stopwatch struct {
	start time.Time
	steps map[string]int64
}

func newStopwatch() *stopwatch {
	return &stopwatch{start: time.Now(), steps: make(map[string]int64)}
}

func (s *stopwatch) step(name string, fn func()) {
	begin := time.Now()
	fn()
	s.steps[name] = time.Since(begin).Milliseconds()
}

func (s *stopwatch) performance() Performance {
	return Performance{
		TotalMs: time.Since(s.start).Milliseconds(),
		StepsMs: s.steps,
	}
}
