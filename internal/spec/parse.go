package spec

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// delimiter separates the front-matter block from the body.
const delimiter = "---"

// bodyTaskPattern matches body checklist task declarations, e.g.
// "- [ ] TASK-001: Wire the parser" or "- [x] TASK-002: Done already".
var bodyTaskPattern = regexp.MustCompile(`^\s*-\s*\[([ xX])\]\s*(TASK-\d{3})\s*:\s*(.+)$`)

// dateLayouts are the accepted ISO-8601 shapes, tried in order.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseIssue records a document that could not be parsed. Issues are
// collected, never thrown; a bad file does not abort loading the rest.
type ParseIssue struct {
	Path    string
	Message string
}

func (p ParseIssue) Error() string {
	return fmt.Sprintf("%s: %s", p.Path, p.Message)
}

// frontMatter is the permissive wire shape of the front-matter block.
// Dates arrive as strings so unparseable values degrade to warnings
// instead of failing the whole document.
type frontMatter struct {
	ID       string   `yaml:"id"`
	Type     string   `yaml:"type"`
	Status   string   `yaml:"status"`
	Title    string   `yaml:"title"`
	Priority string   `yaml:"priority"`
	Effort   string   `yaml:"effort"`
	Assignee string   `yaml:"assignee"`
	Phase    string   `yaml:"phase"`
	Created  string   `yaml:"created"`
	Updated  string   `yaml:"updated"`
	Tags     []string `yaml:"tags"`

	Dependencies []string `yaml:"dependencies"`
	Blocking     []string `yaml:"blocking"`
	Related      []string `yaml:"related"`

	Tasks []taskMatter `yaml:"tasks"`

	Description        string `yaml:"description"`
	AcceptanceCriteria string `yaml:"acceptance_criteria"`
	TechnicalNotes     string `yaml:"technical_notes"`

	Bug         *BugDetails         `yaml:"bug"`
	Spike       *SpikeDetails       `yaml:"spike"`
	Maintenance *MaintenanceDetails `yaml:"maintenance"`
	Release     *ReleaseDetails     `yaml:"release"`
}

// taskMatter is the wire shape of a front-matter task entry.
type taskMatter struct {
	ID                  string    `yaml:"id"`
	Title               string    `yaml:"title"`
	Status              string    `yaml:"status"`
	Agent               string    `yaml:"agent"`
	Effort              string    `yaml:"effort"`
	Progress            int       `yaml:"progress"`
	Started             string    `yaml:"started"`
	Completed           string    `yaml:"completed"`
	EstimatedCompletion string    `yaml:"estimated_completion"`
	DependsOn           []string  `yaml:"depends_on"`
	Subtasks            []Subtask `yaml:"subtasks"`
}

// Parse parses a spec document. path is used for id derivation and issue
// reporting only; content is the full file text. Returns the parsed spec
// plus non-fatal warnings, or a ParseIssue when the document has no
// parseable front-matter block.
func Parse(path, content string) (*Spec, []string, error) {
	matterText, body, err := splitFrontMatter(content)
	if err != nil {
		return nil, nil, ParseIssue{Path: path, Message: err.Error()}
	}

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(matterText), &fm); err != nil {
		return nil, nil, ParseIssue{Path: path, Message: fmt.Sprintf("invalid front-matter YAML: %v", err)}
	}

	var warnings []string
	s := &Spec{
		ID:                 fm.ID,
		Type:               Type(fm.Type),
		Status:             Status(fm.Status),
		Title:              fm.Title,
		Priority:           Priority(fm.Priority),
		Effort:             fm.Effort,
		Assignee:           fm.Assignee,
		Phase:              fm.Phase,
		Tags:               fm.Tags,
		Dependencies:       fm.Dependencies,
		Blocking:           fm.Blocking,
		Related:            fm.Related,
		Description:        fm.Description,
		AcceptanceCriteria: fm.AcceptanceCriteria,
		TechnicalNotes:     fm.TechnicalNotes,
		Bug:                fm.Bug,
		Spike:              fm.Spike,
		Maintenance:        fm.Maintenance,
		Release:            fm.Release,
		Path:               path,
		Body:               body,
	}

	s.Created = parseDate(fm.Created, "created", &warnings)
	s.Updated = parseDate(fm.Updated, "updated", &warnings)

	if s.ID == "" {
		derived := DeriveIDFromFilename(strings.ToUpper(filepath.Base(path)))
		if derived != "" {
			s.ID = derived
			warnings = append(warnings, fmt.Sprintf("id missing from front-matter; derived %s from filename", derived))
		}
	}

	matterTasks := make([]Task, 0, len(fm.Tasks))
	for _, tm := range fm.Tasks {
		matterTasks = append(matterTasks, tm.toTask(&warnings))
	}
	s.Tasks = mergeTasks(matterTasks, extractBodyTasks(body))

	return s, warnings, nil
}

// splitFrontMatter extracts the front-matter block and the body.
// The block must open on the first line and close with another delimiter.
func splitFrontMatter(content string) (matter, body string, err error) {
	trimmed := strings.TrimPrefix(content, "\ufeff")
	lines := strings.SplitAfter(trimmed, "\n")
	if len(lines) == 0 || strings.TrimRight(lines[0], "\r\n") != delimiter {
		return "", "", fmt.Errorf("missing front-matter delimiter")
	}

	var sb strings.Builder
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], "\r\n") == delimiter {
			return sb.String(), strings.Join(lines[i+1:], ""), nil
		}
		sb.WriteString(lines[i])
	}
	return "", "", fmt.Errorf("unterminated front-matter block")
}

// toTask converts a wire task into the model, collecting date warnings.
func (tm taskMatter) toTask(warnings *[]string) Task {
	status := TaskStatus(tm.Status)
	if tm.Status == "" {
		status = TaskReady
	}
	return Task{
		ID:                  tm.ID,
		Title:               tm.Title,
		Status:              status,
		Agent:               tm.Agent,
		Effort:              tm.Effort,
		Progress:            clampProgress(tm.Progress),
		Started:             parseDate(tm.Started, tm.ID+".started", warnings),
		Completed:           parseDate(tm.Completed, tm.ID+".completed", warnings),
		EstimatedCompletion: parseDate(tm.EstimatedCompletion, tm.ID+".estimated_completion", warnings),
		DependsOn:           tm.DependsOn,
		Subtasks:            tm.Subtasks,
	}
}

// clampProgress bounds progress into [0,100].
func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// parseDate parses a lenient ISO-8601 string. Unparseable values become nil
// with a warning.
func parseDate(value, field string, warnings *[]string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	*warnings = append(*warnings, fmt.Sprintf("unparseable date for %s: %q", field, value))
	return nil
}

// extractBodyTasks finds checklist task declarations in the body.
// A checked box maps to complete, an unchecked one to ready.
func extractBodyTasks(body string) []Task {
	var tasks []Task
	for _, line := range strings.Split(body, "\n") {
		m := bodyTaskPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		status := TaskReady
		if m[1] != " " {
			status = TaskComplete
		}
		tasks = append(tasks, Task{
			ID:     m[2],
			Title:  strings.TrimSpace(m[3]),
			Status: status,
		})
	}
	return tasks
}

// mergeTasks merges front-matter and body task declarations.
// Front-matter wins on conflict; body-only tasks are appended in body order.
func mergeTasks(matter, body []Task) []Task {
	seen := make(map[string]struct{}, len(matter))
	merged := make([]Task, 0, len(matter)+len(body))
	for _, t := range matter {
		seen[t.ID] = struct{}{}
		merged = append(merged, t)
	}
	for _, t := range body {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		merged = append(merged, t)
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}
