package output

import (
	"time"

	"github.com/briandowns/spinner"
)

// Spinner wraps the terminal spinner, degrading to a no-op when stdout is
// not a terminal so piped output stays clean.
type Spinner struct {
	s *spinner.Spinner
}

// NewSpinner creates a spinner with the given suffix message. Call Start
// and Stop around the long-running step.
func NewSpinner(message string) *Spinner {
	if !IsTerminal() {
		return &Spinner{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	return &Spinner{s: s}
}

// Start begins the animation.
func (sp *Spinner) Start() {
	if sp.s != nil {
		sp.s.Start()
	}
}

// Stop halts the animation and clears the line.
func (sp *Spinner) Stop() {
	if sp.s != nil {
		sp.s.Stop()
	}
}

// Update replaces the suffix message while running.
func (sp *Spinner) Update(message string) {
	if sp.s != nil {
		sp.s.Suffix = " " + message
	}
}
