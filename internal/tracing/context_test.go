package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTraceID(t *testing.T) {
	t.Run("should generate unique trace IDs", func(t *testing.T) {
		id1 := NewTraceID()
		id2 := NewTraceID()

		assert.NotEmpty(t, id1)
		assert.NotEmpty(t, id2)
		assert.NotEqual(t, id1, id2)
	})
}

func TestContextAccessors(t *testing.T) {
	t.Run("should round-trip trace ID", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "trace-123")
		assert.Equal(t, "trace-123", GetTraceID(ctx))
	})

	t.Run("should round-trip run ID", func(t *testing.T) {
		ctx := WithRunID(context.Background(), "run-456")
		assert.Equal(t, "run-456", GetRunID(ctx))
	})

	t.Run("should round-trip conversation ID", func(t *testing.T) {
		ctx := WithConversationID(context.Background(), "conv-789")
		assert.Equal(t, "conv-789", GetConversationID(ctx))
	})

	t.Run("should return empty string for missing values", func(t *testing.T) {
		ctx := context.Background()
		assert.Empty(t, GetTraceID(ctx))
		assert.Empty(t, GetRunID(ctx))
		assert.Empty(t, GetConversationID(ctx))
	})
}

func TestFromContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithRunID(ctx, "run-456")
	ctx = WithConversationID(ctx, "conv-789")

	tc := FromContext(ctx)

	assert.Equal(t, "trace-123", tc.TraceID)
	assert.Equal(t, "run-456", tc.RunID)
	assert.Equal(t, "conv-789", tc.ConversationID)
}

func TestNewContext(t *testing.T) {
	t.Run("should install all fields", func(t *testing.T) {
		tc := &TraceContext{
			TraceID:        "trace-123",
			RunID:          "run-456",
			ConversationID: "conv-789",
		}

		ctx := NewContext(context.Background(), tc)

		assert.Equal(t, "trace-123", GetTraceID(ctx))
		assert.Equal(t, "run-456", GetRunID(ctx))
		assert.Equal(t, "conv-789", GetConversationID(ctx))
	})

	t.Run("should skip empty fields", func(t *testing.T) {
		ctx := NewContext(context.Background(), &TraceContext{})
		assert.Empty(t, GetTraceID(ctx))
	})
}

func TestNewTurnContext(t *testing.T) {
	t.Run("should mint trace and run IDs on a bare context", func(t *testing.T) {
		ctx := NewTurnContext(context.Background(), "conv-1")

		assert.NotEmpty(t, GetTraceID(ctx))
		assert.NotEmpty(t, GetRunID(ctx))
		assert.Equal(t, "conv-1", GetConversationID(ctx))
	})

	t.Run("should keep an existing trace ID", func(t *testing.T) {
		parent := WithTraceID(context.Background(), "trace-parent")
		ctx := NewTurnContext(parent, "conv-1")

		assert.Equal(t, "trace-parent", GetTraceID(ctx))
	})

	t.Run("should mint a fresh run ID per turn", func(t *testing.T) {
		parent := context.Background()
		ctx1 := NewTurnContext(parent, "conv-1")
		ctx2 := NewTurnContext(parent, "conv-1")

		assert.NotEqual(t, GetRunID(ctx1), GetRunID(ctx2))
	})
}
