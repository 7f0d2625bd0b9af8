package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rasyid/kantor/internal/config"
	"github.com/rasyid/kantor/pkg/model"
	"github.com/rasyid/kantor/pkg/routing"
	"github.com/rasyid/kantor/pkg/sandbox"
	"github.com/rasyid/kantor/pkg/workspace"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the local setup",
	Long: `Check the local setup: configuration, credentials, model routing,
workspace roots, tool policy and the container runtime. Prints one line per
check and fails when any check does.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	failures := 0
	report := func(ok bool, name, detail string) {
		mark := "ok"
		if !ok {
			mark = "!!"
			failures++
		}
		cmd.Printf("[%s] %-11s %s\n", mark, name, detail)
	}

	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		report(false, "config", err.Error())
		return fmt.Errorf("1 check(s) failed")
	}
	report(true, "config", loader.GetConfigPath())

	if err := cfg.Validate(); err != nil {
		report(false, "validate", err.Error())
	} else {
		report(true, "validate", "configuration is valid")
	}

	checkCredentials(report, cfg)
	checkModels(report, cfg)
	checkWorkspace(report, cfg)
	checkTools(report, cfg)
	checkSandbox(cmd, report, cfg)

	if failures > 0 {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	cmd.Println()
	cmd.Println("All checks passed.")
	return nil
}

func checkCredentials(report func(bool, string, string), cfg *config.Config) {
	if len(cfg.Profiles) == 0 {
		report(false, "credentials", "no credential profiles configured; run: kantor configure")
		return
	}

	counts := map[string]int{}
	for _, profile := range cfg.Profiles {
		counts[profile.Provider]++
	}
	parts := make([]string, 0, len(counts))
	for _, provider := range []string{"anthropic", "openai"} {
		if n := counts[provider]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s x%d", provider, n))
		}
	}
	report(true, "credentials", strings.Join(parts, ", "))
}

// checkModels resolves the default failover chain without making any
// network calls, catching models that no configured profile can serve.
func checkModels(report func(bool, string, string), cfg *config.Config) {
	router, err := routing.New(routing.Config{
		Models:   cfg.Models,
		Profiles: cfg.Profiles,
		Factory:  &model.ClientFactory{},
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		report(false, "models", err.Error())
		return
	}

	primary, fallbacks := router.Chain("")
	if _, _, err := router.Resolve(primary); err != nil {
		report(false, "models", fmt.Sprintf("default %s: %v", primary, err))
		return
	}

	unreachable := []string{}
	for _, name := range fallbacks {
		if _, _, err := router.Resolve(name); err != nil {
			unreachable = append(unreachable, name)
		}
	}
	if len(unreachable) > 0 {
		report(false, "models", fmt.Sprintf("default %s ok, but no profile serves fallback(s): %s",
			primary, strings.Join(unreachable, ", ")))
		return
	}
	report(true, "models", fmt.Sprintf("%s (+%d fallbacks)", primary, len(fallbacks)))
}

func checkWorkspace(report func(bool, string, string), cfg *config.Config) {
	roots, err := workspace.NewRoots(cfg.Workspace)
	if err != nil {
		report(false, "workspace", err.Error())
		return
	}

	info, err := os.Stat(roots.WorkspaceRoot())
	if err != nil || !info.IsDir() {
		report(false, "workspace", fmt.Sprintf("root %s is not a directory", roots.WorkspaceRoot()))
		return
	}
	report(true, "workspace", fmt.Sprintf("%s (+%d allowed roots)",
		roots.WorkspaceRoot(), len(roots.AllRoots())-1))
}

func checkTools(report func(bool, string, string), cfg *config.Config) {
	if !cfg.Tools.Enabled {
		report(true, "tools", "disabled")
	} else {
		report(true, "tools", fmt.Sprintf("%d shell commands allowed", len(cfg.Tools.AllowedCommands)))
	}

	if cfg.Tools.Web.AllowAllDomains {
		report(true, "web", "all domains allowed")
	} else {
		report(true, "web", fmt.Sprintf("%d domains allowed", len(cfg.Tools.Web.AllowedDomains)))
	}
}

// checkSandbox probes the container runtime only when the sandbox is
// enabled; a disabled sandbox is a valid host-execution setup.
func checkSandbox(cmd *cobra.Command, report func(bool, string, string), cfg *config.Config) {
	if !cfg.Sandbox.Enabled {
		report(true, "sandbox", "disabled (run_shell executes on the host)")
		return
	}

	manager, err := sandbox.New(sandbox.Config{
		Sandbox:       cfg.Sandbox,
		WorkspaceRoot: cfg.Workspace.Root,
		AllowedRoots:  cfg.Workspace.AllowedRoots,
		Logger:        zerolog.Nop(),
	})
	if err != nil {
		report(false, "sandbox", err.Error())
		return
	}

	ok, detail := manager.Available(cmd.Context())
	report(ok, "sandbox", detail)
}
