package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	t.Run("valid anthropic key", func(t *testing.T) {
		err := v.ValidateAPIKey("sk-ant-test123", "anthropic")
		assert.NoError(t, err)
	})

	t.Run("invalid anthropic key", func(t *testing.T) {
		err := v.ValidateAPIKey("invalid-key", "anthropic")
		assert.Error(t, err)
	})

	t.Run("valid openai key", func(t *testing.T) {
		err := v.ValidateAPIKey("sk-test123", "openai")
		assert.NoError(t, err)
	})

	t.Run("invalid openai key", func(t *testing.T) {
		err := v.ValidateAPIKey("invalid-key", "openai")
		assert.Error(t, err)
	})

	t.Run("empty key", func(t *testing.T) {
		err := v.ValidateAPIKey("", "anthropic")
		assert.Error(t, err)
	})
}

func TestValidateModel(t *testing.T) {
	v := NewValidator()

	t.Run("known model", func(t *testing.T) {
		err := v.ValidateModel("gpt-4.1")
		assert.NoError(t, err)
	})

	t.Run("custom model allowed", func(t *testing.T) {
		err := v.ValidateModel("my-custom-model")
		assert.NoError(t, err)
	})

	t.Run("empty model", func(t *testing.T) {
		err := v.ValidateModel("")
		assert.Error(t, err)
	})
}

func TestValidateTemperature(t *testing.T) {
	v := NewValidator()

	t.Run("in range", func(t *testing.T) {
		assert.NoError(t, v.ValidateTemperature(0))
		assert.NoError(t, v.ValidateTemperature(0.7))
		assert.NoError(t, v.ValidateTemperature(2))
	})

	t.Run("out of range", func(t *testing.T) {
		assert.Error(t, v.ValidateTemperature(-0.1))
		assert.Error(t, v.ValidateTemperature(2.1))
	})
}

func TestValidateMaxTokens(t *testing.T) {
	v := NewValidator()

	t.Run("positive tokens", func(t *testing.T) {
		assert.NoError(t, v.ValidateMaxTokens(8192))
	})

	t.Run("zero tokens", func(t *testing.T) {
		assert.Error(t, v.ValidateMaxTokens(0))
	})

	t.Run("too many tokens", func(t *testing.T) {
		assert.Error(t, v.ValidateMaxTokens(300000))
	})
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	t.Run("valid levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error"} {
			assert.NoError(t, v.ValidateLogLevel(level))
		}
	})

	t.Run("invalid level", func(t *testing.T) {
		assert.Error(t, v.ValidateLogLevel("verbose"))
	})
}

func TestValidateDomain(t *testing.T) {
	v := NewValidator()

	t.Run("bare host", func(t *testing.T) {
		assert.NoError(t, v.ValidateDomain("example.com"))
		assert.NoError(t, v.ValidateDomain("docs.python.org"))
	})

	t.Run("URL rejected", func(t *testing.T) {
		assert.Error(t, v.ValidateDomain("https://example.com"))
		assert.Error(t, v.ValidateDomain("example.com/path"))
	})

	t.Run("leading or trailing dot rejected", func(t *testing.T) {
		assert.Error(t, v.ValidateDomain(".example.com"))
		assert.Error(t, v.ValidateDomain("example.com."))
	})

	t.Run("empty rejected", func(t *testing.T) {
		assert.Error(t, v.ValidateDomain("  "))
	})
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("clean config has no findings", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Profiles = []ModelProfile{
			{ID: "main", Provider: "openai", APIKey: "sk-test", Priority: 1},
		}

		errs := v.ValidateConfig(cfg)
		assert.Empty(t, errs)
	})

	t.Run("collects all findings", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Profiles = []ModelProfile{{ID: "p", Provider: "openai", APIKey: "bad"}}
		cfg.Logging.Level = "loud"
		cfg.Tools.Web.AllowedDomains = []string{"http://x/y"}

		errs := v.ValidateConfig(cfg)
		assert.Len(t, errs, 3)
	})
}
