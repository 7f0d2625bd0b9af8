package orchestrator

import (
	"context"

	"github.com/rasyid/kantor/pkg/model"
	"github.com/rasyid/kantor/pkg/toolexecutor"
)

// ToolRunner bridges the tool executor into the agent runner's tool
// interface: results render to the JSON payload the loop feeds back, so
// executor-level failures reach the model as {"ok": false} data.
type ToolRunner struct {
	executor *toolexecutor.ToolExecutor
}

// NewToolRunner wraps a tool executor for the agent runner.
func NewToolRunner(executor *toolexecutor.ToolExecutor) *ToolRunner {
	return &ToolRunner{executor: executor}
}

// Execute runs one tool call and serializes its result.
func (t *ToolRunner) Execute(ctx context.Context, name string, args map[string]interface{}) string {
	return t.executor.Execute(ctx, name, args).Render()
}

// Schemas lists the registered tools in provider wire form.
func (t *ToolRunner) Schemas() []model.ToolSchema {
	return t.executor.ToolSchemas()
}
