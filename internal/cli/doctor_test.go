package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rasyid/kantor/internal/config"
)

func TestDoctorCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		cmd := GetRootCmd()

		found := false
		for _, c := range cmd.Commands() {
			if c.Name() == "doctor" {
				found = true
				break
			}
		}
		assert.True(t, found, "doctor command should exist")
	})

	t.Run("help text", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"doctor", "--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)
		assert.Contains(t, output.String(), "local setup")
	})

	t.Run("fails without credentials", func(t *testing.T) {
		cfgPath := writeTestConfig(t, nil)

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"doctor", "--config", cfgPath})

		output := &bytes.Buffer{}
		cmd.SetOut(output)
		cmd.SetErr(output)

		err := cmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "check(s) failed")

		text := output.String()
		assert.Contains(t, text, "[!!]")
		assert.Contains(t, text, "no credential profiles configured")
	})

	t.Run("passes with a full setup", func(t *testing.T) {
		cfgPath := writeTestConfig(t, func(cfg *config.Config) {
			cfg.Profiles = []config.ModelProfile{
				{ID: "openai-main", Provider: "openai", APIKey: "sk-test"},
			}
		})

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"doctor", "--config", cfgPath})

		output := &bytes.Buffer{}
		cmd.SetOut(output)
		cmd.SetErr(output)

		err := cmd.Execute()
		require.NoError(t, err)

		text := output.String()
		assert.Contains(t, text, "All checks passed.")
		assert.Contains(t, text, "openai x1")
		assert.Contains(t, text, "gpt-4.1 (+2 fallbacks)")
		assert.Contains(t, text, "disabled (run_shell executes on the host)")
		assert.NotContains(t, text, "[!!]")
	})

	t.Run("flags a default model no profile can serve", func(t *testing.T) {
		cfgPath := writeTestConfig(t, func(cfg *config.Config) {
			cfg.Profiles = []config.ModelProfile{
				{ID: "anthropic-main", Provider: "anthropic", APIKey: "sk-ant-test"},
			}
		})

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"doctor", "--config", cfgPath})

		output := &bytes.Buffer{}
		cmd.SetOut(output)
		cmd.SetErr(output)

		err := cmd.Execute()
		require.Error(t, err)

		text := output.String()
		assert.Contains(t, text, "anthropic x1")
		assert.Contains(t, text, "no credential profile for provider openai")
	})
}
