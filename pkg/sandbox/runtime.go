package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// CommandOutput is the captured result of one runtime CLI invocation. A
// non-zero exit code is reported here, not as an error; errors are reserved
// for spawn failures and timeouts.
type CommandOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner abstracts the container runtime CLI so the manager can be tested
// without docker installed.
type Runner interface {
	Run(ctx context.Context, args ...string) (*CommandOutput, error)
}

// CLIRunner shells out to the docker (or compatible) binary.
type CLIRunner struct {
	Bin string
}

// NewCLIRunner creates a runner for the given binary, defaulting to docker.
func NewCLIRunner(bin string) *CLIRunner {
	if strings.TrimSpace(bin) == "" {
		bin = "docker"
	}
	return &CLIRunner{Bin: bin}
}

// Run executes one runtime command and captures its output.
func (r *CLIRunner) Run(ctx context.Context, args ...string) (*CommandOutput, error) {
	cmd := exec.CommandContext(ctx, r.Bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &CommandOutput{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if ctx.Err() == context.DeadlineExceeded {
		return out, ErrExecTimeout
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, err
	}
	return out, nil
}

// firstLine trims an output down to its first non-empty line for diagnostics.
func firstLine(s string) string {
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// errorMessage prefers stderr over stdout when a runtime command fails.
func errorMessage(out *CommandOutput) string {
	if out == nil {
		return "unknown runtime error"
	}
	if msg := firstLine(out.Stderr); msg != "" {
		return msg
	}
	if msg := firstLine(out.Stdout); msg != "" {
		return msg
	}
	return "unknown runtime error"
}

// runWithTimeout bounds one runtime call without touching the caller's ctx.
func runWithTimeout(ctx context.Context, runner Runner, timeout time.Duration, args ...string) (*CommandOutput, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return runner.Run(callCtx, args...)
}
