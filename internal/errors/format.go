package errors

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	// Color functions with auto-detection for terminal support.
	// These fall back gracefully when colors are unavailable.
	errorLabel = color.New(color.FgRed, color.Bold).SprintFunc()
	errorMsg   = color.New(color.FgRed).SprintFunc()
	fixLabel   = color.New(color.FgGreen, color.Bold).SprintFunc()
	bullet     = color.New(color.FgGreen).SprintFunc()
	kindFmt    = color.New(color.FgYellow).SprintFunc()
)

// Format renders a WorkflowError for terminal display, using colors when
// available.
func Format(err *WorkflowError) string {
	if err == nil {
		return ""
	}
	return format(err, true)
}

// FormatPlain renders a WorkflowError without colors.
func FormatPlain(err *WorkflowError) string {
	if err == nil {
		return ""
	}
	return format(err, false)
}

func format(err *WorkflowError, useColors bool) string {
	var sb strings.Builder

	if useColors {
		sb.WriteString(errorLabel("Error"))
		sb.WriteString(" [")
		sb.WriteString(kindFmt(err.Kind.String()))
		sb.WriteString("]: ")
		sb.WriteString(errorMsg(err.Error()))
	} else {
		sb.WriteString("Error [")
		sb.WriteString(err.Kind.String())
		sb.WriteString("]: ")
		sb.WriteString(err.Error())
	}
	sb.WriteString("\n")

	if len(err.Suggestions) > 0 {
		sb.WriteString("\n")
		if useColors {
			sb.WriteString(fixLabel("Next steps:"))
		} else {
			sb.WriteString("Next steps:")
		}
		sb.WriteString("\n")
		for _, step := range err.Suggestions {
			if useColors {
				sb.WriteString("  ")
				sb.WriteString(bullet("•"))
				sb.WriteString(" ")
			} else {
				sb.WriteString("  • ")
			}
			sb.WriteString(step)
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// Print writes a formatted WorkflowError to stderr.
func Print(err *WorkflowError) {
	Fprint(os.Stderr, err)
}

// Fprint writes a formatted WorkflowError to the given writer.
func Fprint(w io.Writer, err *WorkflowError) {
	if err == nil {
		return
	}
	fmt.Fprint(w, Format(err))
}
