package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("should append and return turns in order", func(t *testing.T) {
		store := NewMemoryStore()

		require.NoError(t, store.Append(ctx, "conv-1", Turn{Role: "user", Text: "hello"}))
		require.NoError(t, store.Append(ctx, "conv-1", Turn{Role: "assistant", Text: "hi"}))

		history, err := store.History(ctx, "conv-1")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "hello", history[0].Text)
		assert.Equal(t, "hi", history[1].Text)
		assert.False(t, history[0].CreatedAt.IsZero())
	})

	t.Run("should isolate conversations", func(t *testing.T) {
		store := NewMemoryStore()

		require.NoError(t, store.Append(ctx, "conv-1", Turn{Role: "user", Text: "one"}))
		require.NoError(t, store.Append(ctx, "conv-2", Turn{Role: "user", Text: "two"}))

		count, err := store.TurnCount(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		history, err := store.History(ctx, "conv-2")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "two", history[0].Text)
	})

	t.Run("should return copies of the history", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Append(ctx, "conv-1", Turn{Role: "user", Text: "original"}))

		history, err := store.History(ctx, "conv-1")
		require.NoError(t, err)
		history[0].Text = "mutated"

		again, err := store.History(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, "original", again[0].Text)
	})

	t.Run("should replace history wholesale", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Append(ctx, "conv-1",
			Turn{Role: "user", Text: "a"},
			Turn{Role: "assistant", Text: "b"},
			Turn{Role: "user", Text: "c"},
		))

		require.NoError(t, store.ReplaceHistory(ctx, "conv-1", []Turn{{Role: "user", Text: "c"}}))

		count, err := store.TurnCount(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("should store and return the summary", func(t *testing.T) {
		store := NewMemoryStore()

		summary, err := store.Summary(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, "", summary)

		require.NoError(t, store.SetSummary(ctx, "conv-1", "the plan so far"))

		summary, err = store.Summary(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, "the plan so far", summary)
	})

	t.Run("should report an empty history for unknown conversations", func(t *testing.T) {
		store := NewMemoryStore()

		history, err := store.History(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, history)

		count, err := store.TurnCount(ctx, "missing")
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})
}

func TestWindow(t *testing.T) {
	turns := make([]Turn, 10)
	for i := range turns {
		turns[i] = Turn{Role: "user", Text: fmt.Sprintf("turn-%d", i)}
	}

	t.Run("should keep the trailing turns", func(t *testing.T) {
		windowed := Window(turns, 3)

		require.Len(t, windowed, 3)
		assert.Equal(t, "turn-7", windowed[0].Text)
		assert.Equal(t, "turn-9", windowed[2].Text)
	})

	t.Run("should return everything when the window is larger", func(t *testing.T) {
		assert.Len(t, Window(turns, 50), 10)
	})

	t.Run("should return everything for a non-positive window", func(t *testing.T) {
		assert.Len(t, Window(turns, 0), 10)
	})
}
