package routing

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rasyid/kantor/internal/config"
	"github.com/rasyid/kantor/pkg/model"
)

type nullClient struct {
	provider string
}

func (c *nullClient) Complete(context.Context, model.Request) (*model.Response, error) {
	return &model.Response{}, nil
}

func (c *nullClient) Provider() string { return c.provider }

type countingFactory struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *countingFactory) NewClient(profile config.ModelProfile) (model.Client, error) {
	f.mu.Lock()
	f.calls = append(f.calls, profile.ID)
	f.mu.Unlock()
	if err := f.fail[profile.ID]; err != nil {
		return nil, err
	}
	return &nullClient{provider: profile.Provider}, nil
}

func testModels() config.ModelsConfig {
	return config.ModelsConfig{
		Default: "gpt-4.1",
		Summary: "gpt-4.1-mini",
		Aliases: map[string]string{
			"fast":  "gpt-4.1-mini",
			"smart": "claude-sonnet-4-5",
		},
		Fallback: []string{"gpt-4o-mini", "claude-haiku-4"},
	}
}

func testProfiles() []config.ModelProfile {
	return []config.ModelProfile{
		{ID: "anthropic-default", Provider: "anthropic", APIKey: "sk-ant-test", Priority: 2},
		{ID: "openai-default", Provider: "openai", APIKey: "sk-test", Priority: 1},
	}
}

func newTestRouter(t *testing.T, factory ClientFactory) *Router {
	t.Helper()
	r, err := New(Config{
		Models:   testModels(),
		Profiles: testProfiles(),
		Factory:  factory,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return r
}

func TestNew(t *testing.T) {
	t.Run("should require a factory", func(t *testing.T) {
		_, err := New(Config{})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "factory")
	})

	t.Run("should order profiles by priority", func(t *testing.T) {
		r := newTestRouter(t, &countingFactory{})

		assert.Equal(t, "openai-default", r.profiles[0].ID)
		assert.Equal(t, "anthropic-default", r.profiles[1].ID)
	})
}

func TestCanonicalModel(t *testing.T) {
	r := newTestRouter(t, &countingFactory{})

	t.Run("should fall back to the default for an empty name", func(t *testing.T) {
		assert.Equal(t, "gpt-4.1", r.CanonicalModel(""))
	})

	t.Run("should map aliases", func(t *testing.T) {
		assert.Equal(t, "gpt-4.1-mini", r.CanonicalModel("fast"))
		assert.Equal(t, "claude-sonnet-4-5", r.CanonicalModel("smart"))
	})

	t.Run("should pass through unaliased names", func(t *testing.T) {
		assert.Equal(t, "gpt-4o", r.CanonicalModel("gpt-4o"))
	})
}

func TestSummaryModel(t *testing.T) {
	t.Run("should return the configured summary model", func(t *testing.T) {
		r := newTestRouter(t, &countingFactory{})

		assert.Equal(t, "gpt-4.1-mini", r.SummaryModel())
	})

	t.Run("should fall back to the default model", func(t *testing.T) {
		models := testModels()
		models.Summary = ""
		r, err := New(Config{Models: models, Factory: &countingFactory{}, Logger: zerolog.Nop()})
		require.NoError(t, err)

		assert.Equal(t, "gpt-4.1", r.SummaryModel())
	})
}

func TestChain(t *testing.T) {
	r := newTestRouter(t, &countingFactory{})

	t.Run("should build the candidate chain from config", func(t *testing.T) {
		primary, fallbacks := r.Chain("")

		assert.Equal(t, "gpt-4.1", primary)
		assert.Equal(t, []string{"gpt-4o-mini", "claude-haiku-4"}, fallbacks)
	})

	t.Run("should drop the primary from the fallbacks", func(t *testing.T) {
		primary, fallbacks := r.Chain("gpt-4o-mini")

		assert.Equal(t, "gpt-4o-mini", primary)
		assert.Equal(t, []string{"claude-haiku-4"}, fallbacks)
	})

	t.Run("should canonicalize the requested alias", func(t *testing.T) {
		primary, _ := r.Chain("smart")

		assert.Equal(t, "claude-sonnet-4-5", primary)
	})
}

func TestInferProvider(t *testing.T) {
	assert.Equal(t, "openai", InferProvider("gpt-4.1"))
	assert.Equal(t, "openai", InferProvider("o3-mini"))
	assert.Equal(t, "openai", InferProvider("chatgpt-4o-latest"))
	assert.Equal(t, "anthropic", InferProvider("claude-sonnet-4-5"))
	assert.Equal(t, "", InferProvider("llama-3-70b"))
}

func TestPreferredShape(t *testing.T) {
	r := newTestRouter(t, &countingFactory{})

	assert.Equal(t, model.ShapeResponses, r.PreferredShape("gpt-4.1"))
	assert.Equal(t, model.ShapeResponses, r.PreferredShape("fast"))
	assert.Equal(t, model.ShapeChatCompletions, r.PreferredShape("claude-sonnet-4-5"))
}

func TestResolve(t *testing.T) {
	t.Run("should resolve a model to its provider client", func(t *testing.T) {
		factory := &countingFactory{}
		r := newTestRouter(t, factory)

		client, canonical, err := r.Resolve("fast")

		require.NoError(t, err)
		assert.Equal(t, "gpt-4.1-mini", canonical)
		assert.Equal(t, "openai", client.Provider())
	})

	t.Run("should cache the client per profile", func(t *testing.T) {
		factory := &countingFactory{}
		r := newTestRouter(t, factory)

		first, _, err := r.Resolve("gpt-4.1")
		require.NoError(t, err)
		second, _, err := r.Resolve("gpt-4o-mini")
		require.NoError(t, err)

		assert.Same(t, first, second)
		assert.Equal(t, []string{"openai-default"}, factory.calls)
	})

	t.Run("should route anthropic models to the anthropic profile", func(t *testing.T) {
		factory := &countingFactory{}
		r := newTestRouter(t, factory)

		client, canonical, err := r.Resolve("claude-haiku-4")

		require.NoError(t, err)
		assert.Equal(t, "claude-haiku-4", canonical)
		assert.Equal(t, "anthropic", client.Provider())
	})

	t.Run("should use the first profile for unrecognized names", func(t *testing.T) {
		factory := &countingFactory{}
		r := newTestRouter(t, factory)

		client, canonical, err := r.Resolve("llama-3-70b")

		require.NoError(t, err)
		assert.Equal(t, "llama-3-70b", canonical)
		assert.Equal(t, "openai", client.Provider())
	})

	t.Run("should error when no profile serves the provider", func(t *testing.T) {
		r, err := New(Config{
			Models:   testModels(),
			Profiles: []config.ModelProfile{{ID: "openai-default", Provider: "openai", Priority: 1}},
			Factory:  &countingFactory{},
			Logger:   zerolog.Nop(),
		})
		require.NoError(t, err)

		_, _, err = r.Resolve("claude-sonnet-4-5")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "no credential profile for provider anthropic")
	})

	t.Run("should error when no profiles are configured", func(t *testing.T) {
		r, err := New(Config{Models: testModels(), Factory: &countingFactory{}, Logger: zerolog.Nop()})
		require.NoError(t, err)

		_, _, err = r.Resolve("gpt-4.1")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "no credential profiles")
	})

	t.Run("should surface factory errors", func(t *testing.T) {
		factory := &countingFactory{fail: map[string]error{"openai-default": fmt.Errorf("bad key")}}
		r := newTestRouter(t, factory)

		_, _, err := r.Resolve("gpt-4.1")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "openai-default")
	})
}
