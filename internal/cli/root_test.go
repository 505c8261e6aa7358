// Package cli tests root command structure and global flags for specflow.
package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	wferrors "github.com/raveheart1/specflow/internal/errors"
)

func TestRootCmd_Structure(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "specflow", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.NotEmpty(t, rootCmd.Example)
}

func TestRootCmd_PersistentFlags(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		flagName string
	}{
		"config flag exists": {flagName: "config"},
		"debug flag exists":  {flagName: "debug"},
		"json flag exists":   {flagName: "json"},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			flag := rootCmd.PersistentFlags().Lookup(tt.flagName)
			assert.NotNil(t, flag, "Flag %s should exist", tt.flagName)
		})
	}
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	t.Parallel()

	want := map[string]bool{
		"start-next":       false,
		"complete-current": false,
		"validate":         false,
		"status":           false,
		"watch":            false,
		"config":           false,
	}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		assert.True(t, found, "Subcommand %s should be registered", name)
	}
}

func TestRootCmd_SubcommandGroups(t *testing.T) {
	t.Parallel()

	groups := rootCmd.Groups()
	assert.Greater(t, len(groups), 0, "Root command should have groups defined")
}

func TestExitCodeFor(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		kind wferrors.Kind
		want int
	}{
		"validation violation": {kind: wferrors.ValidationViolation, want: ExitValidationError},
		"already assigned":     {kind: wferrors.AlreadyAssigned, want: ExitValidationError},
		"not in progress":      {kind: wferrors.NotInProgress, want: ExitValidationError},
		"io error":             {kind: wferrors.IOError, want: ExitIOError},
		"lock timeout":         {kind: wferrors.LockTimeout, want: ExitIOError},
		"external tool":        {kind: wferrors.ExternalToolFailure, want: ExitToolFailure},
		"integrity":            {kind: wferrors.IntegrityError, want: ExitIntegrityError},
		"parse":                {kind: wferrors.ParseError, want: ExitIntegrityError},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, ExitCodeFor(tt.kind))
		})
	}
}

func TestViolationCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ExitSuccess, violationCode(nil))
	assert.Equal(t, ExitIOError, violationCode([]*wferrors.WorkflowError{
		wferrors.New(wferrors.LockTimeout, "busy"),
		wferrors.New(wferrors.ValidationViolation, "secondary"),
	}))
}
