package coretools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rasyid/kantor/pkg/sandbox"
	"github.com/rasyid/kantor/pkg/toolexecutor"
)

const (
	hostExecMaxSec    = 30
	sandboxExecMaxSec = 120
)

// shellOperators are rejected outright: commands run without a shell, so
// anything that needs one is a sign the model is trying to chain.
var shellOperators = []string{"|", "&&", "||", ";", "$(", "`"}

func runShellTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "run_shell",
		Description: "Run a safe shell command in workspace. Supports simple commands without pipes.",
		Category:    toolexecutor.CategoryShell,
		Timeout:     150 * time.Second,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "command", Type: "string", Description: "Shell command, e.g. `ls -la` or `rg TODO .`", Required: true},
			{Name: "cwd", Type: "string", Description: "Working directory relative to workspace", Default: "."},
			{Name: "timeout_sec", Type: "integer", Description: "Timeout in seconds (host runs clamp to 30)", Minimum: floatPtr(1), Maximum: floatPtr(120), Default: 15},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			command := strings.TrimSpace(stringParam(params, "command", ""))
			cwd := stringParam(params, "cwd", ".")
			timeoutSec := intParam(params, "timeout_sec", 15)

			argv, err := splitCommand(command)
			if err != nil {
				return fail("Command parse failed: %v", err), nil
			}
			if len(argv) == 0 {
				return fail("Empty command"), nil
			}

			for _, op := range shellOperators {
				if strings.Contains(command, op) {
					return fail("Complex shell operators are blocked for safety. Use a single command only."), nil
				}
			}

			if !commandAllowed(argv[0], opts.Tools.AllowedCommands) {
				return fail("Command not allowed: %s. Allowed: %s", argv[0], strings.Join(opts.Tools.AllowedCommands, ", ")), nil
			}

			realCwd, err := opts.Roots.Resolve(cwd)
			if err != nil {
				return fail("%v", err), nil
			}

			if opts.Sandbox != nil {
				return runInSandbox(ctx, opts, argv, command, realCwd, timeoutSec), nil
			}
			return runOnHost(ctx, opts, argv, command, realCwd, timeoutSec), nil
		},
	}
}

func runOnHost(ctx context.Context, opts Options, argv []string, command, cwd string, timeoutSec int) map[string]interface{} {
	timeout := time.Duration(clampInt(timeoutSec, 1, hostExecMaxSec)) * time.Second
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	cmd.Dir = cwd
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return fail("Command timed out after %ds", timeoutSec)
	}

	returncode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			returncode = exitErr.ExitCode()
		} else {
			return fail("run_shell failed: %v", runErr)
		}
	}

	maxChars := opts.maxOutputChars()
	return map[string]interface{}{
		"ok":         returncode == 0,
		"returncode": returncode,
		"stdout":     truncateOutput(stdout.String(), maxChars),
		"stderr":     truncateOutput(stderr.String(), maxChars),
		"cwd":        cwd,
		"command":    command,
	}
}

func runInSandbox(ctx context.Context, opts Options, argv []string, command, hostCwd string, timeoutSec int) map[string]interface{} {
	conversationID := ""
	if execCtx := toolexecutor.ExecContextFromContext(ctx); execCtx != nil {
		conversationID = execCtx.ConversationID
	}

	env, err := opts.Sandbox.EnsureEnvironment(ctx, conversationID)
	if err != nil {
		return fail("sandbox unavailable: %v", err)
	}

	timeout := time.Duration(clampInt(timeoutSec, 1, sandboxExecMaxSec)) * time.Second
	res, err := opts.Sandbox.Execute(ctx, env, argv, hostCwd, timeout)
	if err != nil {
		if errors.Is(err, sandbox.ErrExecTimeout) {
			return fail("Command timed out after %ds", timeoutSec)
		}
		return fail("run_shell failed: %v", err)
	}

	maxChars := opts.maxOutputChars()
	return map[string]interface{}{
		"ok":         res.ExitCode == 0,
		"returncode": res.ExitCode,
		"stdout":     truncateOutput(res.Stdout, maxChars),
		"stderr":     truncateOutput(res.Stderr, maxChars),
		"cwd":        hostCwd,
		"command":    command,
		"sandbox":    true,
		"container":  env.Container,
	}
}

func commandAllowed(name string, allowed []string) bool {
	for _, entry := range allowed {
		if entry == name {
			return true
		}
	}
	return false
}

// splitCommand tokenizes a command line the way a POSIX shell would,
// without invoking one: quotes group words, backslash escapes the next
// character outside single quotes.
func splitCommand(command string) ([]string, error) {
	var argv []string
	var current strings.Builder
	inWord := false
	var quote byte

	for i := 0; i < len(command); i++ {
		c := command[i]
		switch {
		case quote == '\'':
			if c == '\'' {
				quote = 0
			} else {
				current.WriteByte(c)
			}
		case quote == '"':
			if c == '"' {
				quote = 0
				break
			}
			if c == '\\' && i+1 < len(command) && (command[i+1] == '"' || command[i+1] == '\\') {
				i++
				current.WriteByte(command[i])
				break
			}
			current.WriteByte(c)
		case c == '\'' || c == '"':
			quote = c
			inWord = true
		case c == '\\':
			if i+1 >= len(command) {
				return nil, fmt.Errorf("trailing backslash")
			}
			i++
			current.WriteByte(command[i])
			inWord = true
		case c == ' ' || c == '\t' || c == '\n':
			if inWord {
				argv = append(argv, current.String())
				current.Reset()
				inWord = false
			}
		default:
			current.WriteByte(c)
			inWord = true
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	if inWord {
		argv = append(argv, current.String())
	}
	return argv, nil
}
