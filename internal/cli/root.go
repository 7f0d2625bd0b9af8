package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "kantor",
	Short: "Kantor - LLM office-agent orchestration core",
	Long: `Kantor runs LLM agent turns against local files, shell commands and the web:
a tool-call loop with context budgeting, model failover, per-conversation
admission control and optional container sandboxing.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.kantor/kantor.json)")
	flags.StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// Execute runs the CLI; main reports any error through the exit code.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd exposes the root command so tests can drive it. Cobra keeps
// parsed flag values across Execute calls on the same command tree, so any
// flag a previous caller set is undone before handing the tree out.
func GetRootCmd() *cobra.Command {
	resetFlags(rootCmd)
	return rootCmd
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// GetVersion reports the build version.
func GetVersion() string {
	return version
}
