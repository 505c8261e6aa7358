package spec

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullDoc = `---
id: FEAT-001
type: feature
status: active
title: Command palette
priority: P1
assignee: backend
created: 2026-08-01
tags: [ui, keyboard]
dependencies: [FEAT-000]
tasks:
  - id: TASK-001
    title: Wire the parser
    status: complete
    agent: backend
    progress: 100
    completed: 2026-08-10T14:00:00Z
  - id: TASK-002
    title: Render results
    status: ready
    agent: frontend
    depends_on: [TASK-001]
    subtasks:
      - description: Fuzzy matcher
        completed: true
bug:
description: Quick command access.
---
## Notes

Body prose here.
`

func TestParseFullDocument(t *testing.T) {
	s, warnings, err := Parse("active/feat-001-command-palette.md", fullDoc)

	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "FEAT-001", s.ID)
	assert.Equal(t, TypeFeature, s.Type)
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, PriorityP1, s.Priority)
	assert.Equal(t, []string{"ui", "keyboard"}, s.Tags)
	assert.Equal(t, []string{"FEAT-000"}, s.Dependencies)
	require.NotNil(t, s.Created)
	assert.Equal(t, 2026, s.Created.Year())

	require.Len(t, s.Tasks, 2)
	assert.Equal(t, TaskComplete, s.Tasks[0].Status)
	assert.Equal(t, 100, s.Tasks[0].Progress)
	require.NotNil(t, s.Tasks[0].Completed)
	assert.Equal(t, []string{"TASK-001"}, s.Tasks[1].DependsOn)
	require.Len(t, s.Tasks[1].Subtasks, 1)
	assert.True(t, s.Tasks[1].Subtasks[0].Completed)

	assert.Contains(t, s.Body, "Body prose here.")
}

func TestParseErrors(t *testing.T) {
	tests := map[string]struct {
		content string
		wantMsg string
	}{
		"no front matter": {
			content: "# Just markdown\n",
			wantMsg: "missing front-matter delimiter",
		},
		"unterminated block": {
			content: "---\nid: FEAT-001\n",
			wantMsg: "unterminated front-matter block",
		},
		"invalid yaml": {
			content: "---\nid: [unclosed\n---\n",
			wantMsg: "invalid front-matter YAML",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := Parse("active/broken.md", tt.content)

			require.Error(t, err)
			var issue ParseIssue
			require.ErrorAs(t, err, &issue)
			assert.Contains(t, issue.Message, tt.wantMsg)
			assert.Equal(t, "active/broken.md", issue.Path)
		})
	}
}

func TestParseByteOrderMark(t *testing.T) {
	s, _, err := Parse("active/feat-002.md", "\ufeff---\nid: FEAT-002\nstatus: active\n---\n")

	require.NoError(t, err)
	assert.Equal(t, "FEAT-002", s.ID)
}

func TestParseDerivesIDFromFilename(t *testing.T) {
	s, warnings, err := Parse("active/feat-003-search.md", "---\nstatus: active\ntitle: Search\n---\n")

	require.NoError(t, err)
	assert.Equal(t, "FEAT-003", s.ID)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "derived FEAT-003 from filename")
}

func TestParseBadDateWarns(t *testing.T) {
	doc := "---\nid: FEAT-004\nstatus: active\ncreated: next tuesday\n---\n"

	s, warnings, err := Parse("active/feat-004.md", doc)

	require.NoError(t, err)
	assert.Nil(t, s.Created)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "unparseable date")
}

func TestParseBodyChecklistTasks(t *testing.T) {
	doc := `---
id: FEAT-005
status: active
tasks:
  - id: TASK-001
    title: From front matter
    status: in_progress
---
- [ ] TASK-001: Stale duplicate in body
- [x] TASK-002: Ship it
- [ ] TASK-003: Polish
`
	s, _, err := Parse("active/feat-005.md", doc)

	require.NoError(t, err)
	require.Len(t, s.Tasks, 3)
	// Front-matter wins on conflict.
	assert.Equal(t, "From front matter", s.Tasks[0].Title)
	assert.Equal(t, TaskInProgress, s.Tasks[0].Status)
	// Checked body boxes map to complete, unchecked to ready.
	assert.Equal(t, TaskComplete, s.Tasks[1].Status)
	assert.Equal(t, "Ship it", s.Tasks[1].Title)
	assert.Equal(t, TaskReady, s.Tasks[2].Status)
}

func TestParseClampsProgress(t *testing.T) {
	doc := `---
id: FEAT-006
status: active
tasks:
  - id: TASK-001
    progress: 180
---
`
	s, _, err := Parse("active/feat-006.md", doc)

	require.NoError(t, err)
	assert.Equal(t, 100, s.Tasks[0].Progress)
	// Missing task status defaults to ready.
	assert.Equal(t, TaskReady, s.Tasks[0].Status)
}

func TestSerializeRoundTrip(t *testing.T) {
	started := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)
	original := &Spec{
		ID:       "BUG-010",
		Type:     TypeBug,
		Status:   StatusActive,
		Title:    "Data loss on save",
		Priority: PriorityP0,
		Assignee: "backend",
		Created:  &started,
		Tags:     []string{"storage"},
		Tasks: []Task{
			{
				ID: "TASK-001", Title: "Stop truncating writes",
				Status: TaskInProgress, Agent: "backend",
				Progress: 40, Started: &started,
				DependsOn: []string{"BUG-009:TASK-002"},
				Subtasks:  []Subtask{{Description: "Repro test", Completed: true}},
			},
		},
		Bug:  &BugDetails{Severity: "critical", ReproductionSteps: []string{"save twice"}},
		Body: "## Analysis\n\nThe writer truncates before fsync.\n",
	}

	text, err := Serialize(original)
	require.NoError(t, err)

	parsed, warnings, err := Parse("active/bug-010.md", text)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, original.ID, parsed.ID)
	assert.Equal(t, original.Type, parsed.Type)
	assert.Equal(t, original.Status, parsed.Status)
	assert.Equal(t, original.Priority, parsed.Priority)
	assert.Equal(t, original.Tags, parsed.Tags)
	assert.Equal(t, original.Bug, parsed.Bug)
	assert.Equal(t, original.Body, parsed.Body)
	require.Len(t, parsed.Tasks, 1)
	assert.Equal(t, original.Tasks[0].DependsOn, parsed.Tasks[0].DependsOn)
	assert.Equal(t, original.Tasks[0].Subtasks, parsed.Tasks[0].Subtasks)
	require.NotNil(t, parsed.Tasks[0].Started)
	assert.True(t, parsed.Tasks[0].Started.Equal(started))
	require.NotNil(t, parsed.Created)
	assert.True(t, parsed.Created.Equal(started))
}

func TestSerializeEmitsTasksIntoFrontMatter(t *testing.T) {
	s := &Spec{
		ID: "FEAT-007", Status: StatusActive,
		Tasks: []Task{{ID: "TASK-001", Title: "Only task", Status: TaskReady}},
		Body:  "- [ ] TASK-001: Only task\n",
	}

	text, err := Serialize(s)
	require.NoError(t, err)

	// Tasks live in front-matter, above the closing delimiter.
	head := text[:strings.LastIndex(text, "---")]
	assert.Contains(t, head, "TASK-001")
}

func TestSplitCrossRef(t *testing.T) {
	tests := map[string]struct {
		ref      string
		wantSpec string
		wantTask string
		wantOK   bool
	}{
		"cross spec":       {ref: "FEAT-002:TASK-001", wantSpec: "FEAT-002", wantTask: "TASK-001", wantOK: true},
		"plain task":       {ref: "TASK-001", wantOK: false},
		"lowercase spec":   {ref: "feat-002:TASK-001", wantOK: false},
		"short task digit": {ref: "FEAT-002:TASK-01", wantOK: false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			specID, taskID, ok := SplitCrossRef(tt.ref)

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantSpec, specID)
			assert.Equal(t, tt.wantTask, taskID)
		})
	}
}
