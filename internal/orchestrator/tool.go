package orchestrator

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/charmbracelet/log"

	"github.com/raveheart1/specflow/internal/config"
	wferrors "github.com/raveheart1/specflow/internal/errors"
)

// defaultToolTimeout bounds external tools when no timeout is configured.
const defaultToolTimeout = 5 * time.Minute

// ToolResult captures one external tool invocation.
type ToolResult struct {
	Name     string
	Output   string
	ExitCode int
	TimedOut bool
	Elapsed  time.Duration
	// Skipped is true when no command is configured.
	Skipped bool
}

// Ok reports whether the tool ran (or was skipped) successfully.
func (r ToolResult) Ok() bool {
	return r.Skipped || (!r.TimedOut && r.ExitCode == 0)
}

// ToolRunner executes configured external tools. Tests substitute a stub.
type ToolRunner interface {
	Run(ctx context.Context, name string, tool config.ToolConfig, args ...string) (ToolResult, error)
}

// execRunner runs tools as real subprocesses in a fixed working directory.
// Tools inherit the process environment.
type execRunner struct {
	dir string
}

// NewToolRunner creates the default subprocess-backed ToolRunner.
func NewToolRunner(dir string) ToolRunner {
	return &execRunner{dir: dir}
}

// Run executes the tool with a hard timeout; on expiry the process is killed
// and the result reports TimedOut.
func (r *execRunner) Run(ctx context.Context, name string, tool config.ToolConfig, args ...string) (ToolResult, error) {
	result := ToolResult{Name: name}
	if tool.Command == "" {
		result.Skipped = true
		return result, nil
	}

	timeout := defaultToolTimeout
	if tool.TimeoutSec > 0 {
		timeout = time.Duration(tool.TimeoutSec) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := append(append([]string(nil), tool.Args...), args...)
	cmd := exec.CommandContext(ctx, tool.Command, argv...)
	cmd.Dir = r.dir

	start := time.Now()
	output, err := cmd.CombinedOutput()
	result.Elapsed = time.Since(start)
	result.Output = string(output)

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		log.Error("external tool killed on timeout", "tool", name, "timeout", timeout)
		return result, wferrors.ToolTimedOut(name, int(timeout.Seconds()))
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, wferrors.Wrap(err, wferrors.ExternalToolFailure, "running "+name)
	}
	return result, nil
}
