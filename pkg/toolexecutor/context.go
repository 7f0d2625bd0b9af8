package toolexecutor

import "context"

type ctxKey int

const execCtxKey ctxKey = iota

// ContextWithExecContext returns a context carrying the run identity so tool
// handlers can tag their work with the owning conversation and run.
func ContextWithExecContext(ctx context.Context, execCtx *ExecutionContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if execCtx == nil {
		return ctx
	}
	return context.WithValue(ctx, execCtxKey, execCtx)
}

// ExecContextFromContext returns the run identity attached by the caller, or
// nil when the tool runs outside a chat turn.
func ExecContextFromContext(ctx context.Context) *ExecutionContext {
	if ctx == nil {
		return nil
	}
	execCtx, _ := ctx.Value(execCtxKey).(*ExecutionContext)
	return execCtx
}
