package cli

import wferrors "github.com/raveheart1/specflow/internal/errors"

// Exit codes for the specflow CLI.
// These codes support programmatic composition and CI/CD integration.
const (
	// ExitSuccess indicates successful command execution.
	ExitSuccess = 0

	// ExitValidationError indicates an assignment or argument validation
	// failure.
	ExitValidationError = 1

	// ExitIOError indicates an I/O or lock acquisition failure.
	ExitIOError = 2

	// ExitToolFailure indicates an external tool (lint/test/VCS) failure.
	ExitToolFailure = 3

	// ExitIntegrityError indicates spec repository integrity errors.
	ExitIntegrityError = 4
)

// ExitCodeFor maps an error taxonomy kind to a process exit code.
func ExitCodeFor(kind wferrors.Kind) int {
	switch kind {
	case wferrors.IOError, wferrors.LockTimeout:
		return ExitIOError
	case wferrors.ExternalToolFailure:
		return ExitToolFailure
	case wferrors.IntegrityError, wferrors.ParseError:
		return ExitIntegrityError
	default:
		return ExitValidationError
	}
}
