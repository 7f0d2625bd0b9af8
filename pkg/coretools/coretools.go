package coretools

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rasyid/kantor/internal/config"
	"github.com/rasyid/kantor/pkg/sandbox"
	"github.com/rasyid/kantor/pkg/toolexecutor"
	"github.com/rasyid/kantor/pkg/workspace"
)

// Options wires shared dependencies into the core tool suite.
type Options struct {
	Tools config.ToolsConfig
	Roots *workspace.Roots

	// Sandbox routes run_shell into per-conversation containers when set.
	// Nil executes on the host.
	Sandbox *sandbox.Manager
}

// Register registers the built-in office tool suite.
func Register(executor *toolexecutor.ToolExecutor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	if opts.Roots == nil {
		return errors.New("workspace roots are required")
	}

	tools := []toolexecutor.ToolDefinition{
		runShellTool(opts),
		listDirectoryTool(opts),
		readTextFileTool(opts),
		writeTextFileTool(opts),
		replaceInFileTool(opts),
		copyFileTool(opts),
		extractArchiveTool(opts),
		fetchWebTool(opts),
		webSearchTool(opts),
		downloadFileTool(opts),
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func (o Options) maxOutputChars() int {
	if o.Tools.MaxOutputChars > 0 {
		return o.Tools.MaxOutputChars
	}
	return 12000
}

// fail builds the error payload every tool reports problems through. Tool
// failures are data for the model, not Go errors.
func fail(format string, args ...interface{}) map[string]interface{} {
	return map[string]interface{}{"ok": false, "error": fmt.Sprintf(format, args...)}
}

func truncateOutput(text string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = 12000
	}
	if len(text) <= maxChars {
		return text
	}
	return fmt.Sprintf("%s\n\n[output truncated: %d chars]", cutString(text, maxChars), len(text))
}

// cutString cuts s to at most n bytes without splitting a UTF-8 sequence.
func cutString(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func stringParam(params map[string]interface{}, key, fallback string) string {
	if raw, ok := params[key].(string); ok && strings.TrimSpace(raw) != "" {
		return raw
	}
	return fallback
}

func intParam(params map[string]interface{}, key string, fallback int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return fallback
}

func boolParam(params map[string]interface{}, key string, fallback bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return fallback
}

func clampInt(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

func floatPtr(v float64) *float64 {
	return &v
}
