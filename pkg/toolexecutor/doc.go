// Package toolexecutor owns the registry the agent loop draws tools from and
// runs every handler under a common guard rail: arguments are validated
// against the tool's JSON schema, the allow/deny policy is consulted, the
// handler runs inside a timeout, and oversized output is truncated with a
// marker. Handler failures come back inside the ToolResult rather than as Go
// errors, so a broken tool never aborts the turn that called it.
//
// A tool declares its parameters and the schema is derived from them:
//
//	exec := toolexecutor.New(toolexecutor.Config{})
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name:        "echo",
//		Description: "Echo input",
//		Parameters:  []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler:     func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return params["text"], nil },
//	})
package toolexecutor
