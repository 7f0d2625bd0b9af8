package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPropagateToLogger(t *testing.T) {
	t.Run("should add tracing fields to log output", func(t *testing.T) {
		var buf bytes.Buffer
		base := zerolog.New(&buf)

		ctx := context.Background()
		ctx = WithTraceID(ctx, "trace-123")
		ctx = WithRunID(ctx, "run-456")
		ctx = WithConversationID(ctx, "conv-789")

		logger := PropagateToLogger(ctx, base)
		logger.Info().Msg("hello")

		out := buf.String()
		assert.Contains(t, out, `"trace_id":"trace-123"`)
		assert.Contains(t, out, `"run_id":"run-456"`)
		assert.Contains(t, out, `"conversation_id":"conv-789"`)
	})

	t.Run("should leave logger untouched for a bare context", func(t *testing.T) {
		var buf bytes.Buffer
		base := zerolog.New(&buf)

		logger := PropagateToLogger(context.Background(), base)
		logger.Info().Msg("hello")

		out := buf.String()
		assert.NotContains(t, out, "trace_id")
		assert.NotContains(t, out, "run_id")
	})
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-abc")
	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	assert.Contains(t, buf.String(), `"trace_id":"trace-abc"`)
}
