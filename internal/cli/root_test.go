package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := GetRootCmd()
	cmd.SetArgs(args)

	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)

	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	t.Run("should print the templated version line", func(t *testing.T) {
		out, err := execRoot(t, "--version")
		require.NoError(t, err)

		assert.Equal(t, "kantor version "+GetVersion(), strings.TrimSpace(out))
	})

	t.Run("should describe the core and its subcommands in help", func(t *testing.T) {
		out, err := execRoot(t, "--help")
		require.NoError(t, err)

		assert.Contains(t, out, "Kantor")
		assert.Contains(t, out, "tool-call loop")
		for _, sub := range []string{"chat", "doctor", "configure"} {
			assert.Contains(t, out, sub)
		}
	})

	t.Run("should leave the global flags empty by default", func(t *testing.T) {
		flags := GetRootCmd().PersistentFlags()

		configFlag := flags.Lookup("config")
		require.NotNil(t, configFlag)
		assert.Empty(t, configFlag.DefValue)

		levelFlag := flags.Lookup("log-level")
		require.NotNil(t, levelFlag)
		assert.Empty(t, levelFlag.DefValue)
	})
}

func TestGetVersion(t *testing.T) {
	assert.True(t, strings.HasPrefix(GetVersion(), "0."), "version should stay in the 0.x line")
}
