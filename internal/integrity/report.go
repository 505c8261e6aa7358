package integrity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/charmbracelet/log"
)

// Report aggregates the issues found by a validation run.
type Report struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Issues      []Issue             `json:"issues"`
	Duplicates  map[string][]string `json:"duplicates,omitempty"`
}

// NewReport returns an empty report stamped with the current time.
func NewReport() *Report {
	return &Report{
		GeneratedAt: time.Now(),
		Duplicates:  make(map[string][]string),
	}
}

// Add appends an issue.
func (r *Report) Add(issue Issue) {
	r.Issues = append(r.Issues, issue)
}

// Ok reports whether the run found no errors. Warnings do not fail a run.
func (r *Report) Ok() bool {
	return r.ErrorCount() == 0
}

// ErrorCount returns the number of error-severity issues.
func (r *Report) ErrorCount() int {
	n := 0
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			n++
		}
	}
	return n
}

// WarningCount returns the number of warning-severity issues.
func (r *Report) WarningCount() int {
	n := 0
	for _, i := range r.Issues {
		if i.Severity == SeverityWarning {
			n++
		}
	}
	return n
}

// ByCheck groups issues by check name, each group in insertion order.
func (r *Report) ByCheck() map[Check][]Issue {
	grouped := make(map[Check][]Issue)
	for _, i := range r.Issues {
		grouped[i.Check] = append(grouped[i.Check], i)
	}
	return grouped
}

// Checks returns the check names present in the report, sorted.
func (r *Report) Checks() []Check {
	seen := map[Check]struct{}{}
	var checks []Check
	for _, i := range r.Issues {
		if _, ok := seen[i.Check]; ok {
			continue
		}
		seen[i.Check] = struct{}{}
		checks = append(checks, i.Check)
	}
	sort.Slice(checks, func(a, b int) bool { return checks[a] < checks[b] })
	return checks
}

// Write persists the report as timestamped JSON under dir, creating the
// directory if needed. Returns the written path.
func (r *Report) Write(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}
	name := r.GeneratedAt.UTC().Format("20060102T150405Z") + ".json"
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding integrity report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing integrity report: %w", err)
	}
	log.Debug("integrity report written", "path", path, "errors", r.ErrorCount(), "warnings", r.WarningCount())
	return path, nil
}
