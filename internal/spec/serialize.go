package spec

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Serialize renders a spec back into front-matter + body form.
// Round-trip law: Parse(path, Serialize(s)) yields a spec equal to s for
// every model field. Tasks are always emitted into front-matter, which is
// the winning declaration site on re-parse.
func Serialize(s *Spec) (string, error) {
	fm := frontMatter{
		ID:                 s.ID,
		Type:               string(s.Type),
		Status:             string(s.Status),
		Title:              s.Title,
		Priority:           string(s.Priority),
		Effort:             s.Effort,
		Assignee:           s.Assignee,
		Phase:              s.Phase,
		Created:            formatDate(s.Created),
		Updated:            formatDate(s.Updated),
		Tags:               s.Tags,
		Dependencies:       s.Dependencies,
		Blocking:           s.Blocking,
		Related:            s.Related,
		Description:        s.Description,
		AcceptanceCriteria: s.AcceptanceCriteria,
		TechnicalNotes:     s.TechnicalNotes,
		Bug:                s.Bug,
		Spike:              s.Spike,
		Maintenance:        s.Maintenance,
		Release:            s.Release,
	}
	for _, t := range s.Tasks {
		fm.Tasks = append(fm.Tasks, taskMatter{
			ID:                  t.ID,
			Title:               t.Title,
			Status:              string(t.Status),
			Agent:               t.Agent,
			Effort:              t.Effort,
			Progress:            t.Progress,
			Started:             formatDate(t.Started),
			Completed:           formatDate(t.Completed),
			EstimatedCompletion: formatDate(t.EstimatedCompletion),
			DependsOn:           t.DependsOn,
			Subtasks:            t.Subtasks,
		})
	}

	data, err := yaml.Marshal(&fm)
	if err != nil {
		return "", fmt.Errorf("marshaling front-matter: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(delimiter)
	sb.WriteString("\n")
	sb.Write(data)
	sb.WriteString(delimiter)
	sb.WriteString("\n")
	sb.WriteString(s.Body)
	return sb.String(), nil
}

// formatDate renders a nullable timestamp as RFC 3339, or "".
func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
