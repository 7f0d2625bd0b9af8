package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rasyid/kantor/internal/observability"
	"github.com/rasyid/kantor/internal/tracing"
	"github.com/rasyid/kantor/pkg/model"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxOutputChars = 12000
)

// ToolCategory groups tools for policy and reporting purposes.
type ToolCategory string

const (
	CategoryRead    ToolCategory = "read"
	CategoryWrite   ToolCategory = "write"
	CategoryShell   ToolCategory = "shell"
	CategoryWeb     ToolCategory = "web"
	CategoryGeneral ToolCategory = "general"
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Minimum     *float64    `json:"minimum,omitempty"`
	Maximum     *float64    `json:"maximum,omitempty"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    ToolCategory    `json:"category,omitempty"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
	// Timeout overrides the executor default for tools that manage longer
	// operations themselves (sandbox execs, downloads). Zero means default.
	Timeout time.Duration `json:"-"`
}

// ExecutionContext carries per-run information into tool handlers.
type ExecutionContext struct {
	ConversationID string
	RunID          string
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success   bool                   `json:"success"`
	Output    interface{}            `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Render serializes the result output for feeding back to a model.
func (tr ToolResult) Render() string {
	if !tr.Success {
		payload, err := json.Marshal(map[string]interface{}{"ok": false, "error": tr.Error})
		if err != nil {
			return fmt.Sprintf(`{"ok": false, "error": %q}`, tr.Error)
		}
		return string(payload)
	}
	if s, ok := tr.Output.(string); ok {
		return s
	}
	payload, err := json.Marshal(tr.Output)
	if err != nil {
		return fmt.Sprintf(`{"ok": false, "error": "unserializable tool output: %v"}`, err)
	}
	return string(payload)
}

// Config configures a ToolExecutor.
type Config struct {
	// Policy restricts which registered tools may run. Nil allows all.
	Policy *ToolPolicy

	// Timeout bounds a single handler invocation. Zero means 30s.
	Timeout time.Duration

	// MaxOutputChars caps the rendered handler output. Zero means 12000.
	MaxOutputChars int

	Logger zerolog.Logger
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	cfg     Config
	logger  zerolog.Logger
	mu      sync.RWMutex
	tools   map[string]*ToolDefinition
	schemas map[string]*compiledSchema
}

// New creates a new ToolExecutor
func New(cfg Config) *ToolExecutor {
	observability.EnsureRegistered()

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxOutputChars <= 0 {
		cfg.MaxOutputChars = defaultMaxOutputChars
	}

	return &ToolExecutor{
		cfg:     cfg,
		logger:  cfg.Logger.With().Str("component", "toolexecutor").Logger(),
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*compiledSchema),
	}
}

// RegisterTool registers a new tool
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := compileSchema(def.Parameters)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if _, exists := te.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}

	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema

	te.logger.Debug().Str("tool", def.Name).Str("category", string(def.Category)).Msg("Tool registered")
	return nil
}

// GetTool returns a tool definition by name, or nil when unknown.
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()
	return te.tools[name]
}

// ListTools returns the names of all registered tools allowed by policy.
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	names := make([]string, 0, len(te.tools))
	for name := range te.tools {
		if te.cfg.Policy.IsToolAllowed(name) {
			names = append(names, name)
		}
	}
	return names
}

// ToolSchemas returns provider-neutral schemas for every registered tool
// allowed by policy, in stable name order.
func (te *ToolExecutor) ToolSchemas() []model.ToolSchema {
	te.mu.RLock()
	defer te.mu.RUnlock()

	schemas := make([]model.ToolSchema, 0, len(te.tools))
	for _, name := range sortedNames(te.tools) {
		if !te.cfg.Policy.IsToolAllowed(name) {
			continue
		}
		def := te.tools[name]
		schemas = append(schemas, model.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  te.schemas[name].document,
		})
	}
	return schemas
}

// Execute runs a registered tool with the given parameters. Failures are
// reported inside the result, never as panics or stray errors, so the
// agent loop can always feed something back to the model.
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}) ToolResult {
	ctx, span := tracing.StartSpan(ctx, "kantor.toolexecutor", "toolexecutor.execute",
		attribute.String("tool.name", toolName),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, te.logger).With().Str("tool", toolName).Logger()
	start := time.Now()
	conversationID := conversationFromContext(ctx)

	if !te.cfg.Policy.IsToolAllowed(toolName) {
		logger.Warn().Msg("Tool execution blocked by policy")
		observability.RecordToolAudit(ctx, toolName, conversationID, "denied", nil)
		span.SetStatus(codes.Error, "denied by policy")
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool '%s' is not allowed by policy", toolName),
		}
	}

	te.mu.RLock()
	def := te.tools[toolName]
	schema := te.schemas[toolName]
	te.mu.RUnlock()

	if def == nil {
		logger.Error().Msg("Tool not found")
		observability.RecordToolAudit(ctx, toolName, conversationID, "unknown_tool", nil)
		span.SetStatus(codes.Error, "unknown tool")
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool not found: %s", toolName),
		}
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	if err := schema.validate(params); err != nil {
		logger.Error().Err(err).Msg("Parameter validation failed")
		observability.RecordToolAudit(ctx, toolName, conversationID, "invalid_args", nil)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid arguments")
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("parameter validation failed: %v", err),
		}
	}

	timeout := te.cfg.Timeout
	if def.Timeout > 0 {
		timeout = def.Timeout
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Debug().Msg("Executing tool")

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)
	go func() {
		result, err := def.Handler(timeoutCtx, params)
		if err != nil {
			errChan <- err
			return
		}
		resultChan <- result
	}()

	select {
	case output := <-resultChan:
		duration := time.Since(start)
		rendered, truncated := te.capOutput(output)

		observability.RecordToolExecution(toolName, duration, true)
		observability.RecordToolAudit(ctx, toolName, conversationID, "ok", map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
		})
		logger.Debug().
			Dur("duration", duration).
			Bool("truncated", truncated).
			Msg("Tool execution completed")

		return ToolResult{
			Success:   true,
			Output:    rendered,
			Truncated: truncated,
			Metadata:  map[string]interface{}{"duration_ms": duration.Milliseconds()},
		}

	case err := <-errChan:
		duration := time.Since(start)

		observability.RecordToolExecution(toolName, duration, false)
		observability.RecordToolAudit(ctx, toolName, conversationID, "error", map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
		})
		logger.Error().Dur("duration", duration).Err(err).Msg("Tool execution failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")

		return ToolResult{
			Success:  false,
			Error:    err.Error(),
			Metadata: map[string]interface{}{"duration_ms": duration.Milliseconds()},
		}

	case <-timeoutCtx.Done():
		duration := time.Since(start)

		observability.RecordToolExecution(toolName, duration, false)
		observability.RecordToolAudit(ctx, toolName, conversationID, "timeout", map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
		})
		logger.Error().Dur("duration", duration).Msg("Tool execution timeout")
		span.SetStatus(codes.Error, "timeout")

		return ToolResult{
			Success:  false,
			Error:    fmt.Sprintf("tool execution timeout after %v", timeout),
			Metadata: map[string]interface{}{"duration_ms": duration.Milliseconds()},
		}
	}
}

// capOutput enforces the output character cap. Structured outputs within
// the cap stay structured; oversized ones are rendered and cut with a
// marker so the model still sees the head of the payload.
func (te *ToolExecutor) capOutput(output interface{}) (interface{}, bool) {
	rendered := renderOutput(output)
	if len(rendered) <= te.cfg.MaxOutputChars {
		return output, false
	}

	te.logger.Warn().
		Int("original", len(rendered)).
		Int("cap", te.cfg.MaxOutputChars).
		Msg("Tool output truncated")

	cut := fmt.Sprintf("%s\n\n[output truncated: %d chars]", rendered[:te.cfg.MaxOutputChars], len(rendered))
	return cut, true
}

func renderOutput(output interface{}) string {
	if s, ok := output.(string); ok {
		return s
	}
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprintf("%v", output)
	}
	return string(data)
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
	}
	return nil
}

func sortedNames(tools map[string]*ToolDefinition) []string {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func conversationFromContext(ctx context.Context) string {
	if execCtx := ExecContextFromContext(ctx); execCtx != nil {
		return execCtx.ConversationID
	}
	return ""
}
