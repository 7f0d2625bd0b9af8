package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rasyid/kantor/internal/config"
	"github.com/rasyid/kantor/internal/logger"
	"github.com/rasyid/kantor/internal/tracing"
	"github.com/rasyid/kantor/pkg/agent"
	"github.com/rasyid/kantor/pkg/budget"
	"github.com/rasyid/kantor/pkg/coretools"
	"github.com/rasyid/kantor/pkg/failover"
	"github.com/rasyid/kantor/pkg/model"
	"github.com/rasyid/kantor/pkg/orchestrator"
	"github.com/rasyid/kantor/pkg/routing"
	"github.com/rasyid/kantor/pkg/runqueue"
	"github.com/rasyid/kantor/pkg/sandbox"
	"github.com/rasyid/kantor/pkg/session"
	"github.com/rasyid/kantor/pkg/toolexecutor"
	"github.com/rasyid/kantor/pkg/workspace"
)

var (
	chatConversationID string
	chatModel          string
	chatStyle          string
	chatNoTools        bool
	chatShowTrace      bool
	chatJSON           bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message...]",
	Short: "Run one agent turn",
	Long: `Run one agent turn against the configured models and tools.
The message is taken from the arguments, or from stdin when none are given.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatConversationID, "conversation", "", "conversation id (empty starts a new one)")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "model name or alias override")
	chatCmd.Flags().StringVar(&chatStyle, "style", "", "response style (short, normal, long)")
	chatCmd.Flags().BoolVar(&chatNoTools, "no-tools", false, "answer without tool calls")
	chatCmd.Flags().BoolVar(&chatShowTrace, "show-trace", false, "print the execution plan and trace after the answer")
	chatCmd.Flags().BoolVar(&chatJSON, "json", false, "print the full response as JSON")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	message, err := readMessage(cmd, args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	if err := tracing.InitOpenTelemetry("kantor", GetVersion()); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() { _ = tracing.ShutdownOpenTelemetry(context.Background()) }()

	orch, janitor, err := buildOrchestrator(cfg, log.GetZerolog())
	if err != nil {
		return err
	}
	if janitor != nil {
		janitor.Start()
		defer janitor.Stop()
	}

	resp, err := orch.HandleChat(cmd.Context(), orchestrator.ChatRequest{
		ConversationID: chatConversationID,
		Message:        message,
		Settings: agent.Settings{
			Model:         chatModel,
			EnableTools:   cfg.Tools.Enabled && !chatNoTools,
			ResponseStyle: chatStyle,
		},
	})
	if err != nil {
		return err
	}

	if chatJSON {
		payload, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode response: %w", err)
		}
		cmd.Println(string(payload))
		return nil
	}

	cmd.Println(resp.Text)
	if chatShowTrace {
		printTrace(cmd, resp)
	}
	return nil
}

// readMessage joins the message from args, falling back to stdin so the
// command composes with pipes.
func readMessage(cmd *cobra.Command, args []string) (string, error) {
	message := strings.TrimSpace(strings.Join(args, " "))
	if message != "" {
		return message, nil
	}

	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read message from stdin: %w", err)
	}
	message = strings.TrimSpace(string(data))
	if message == "" {
		return "", fmt.Errorf("message is required (pass it as arguments or on stdin)")
	}
	return message, nil
}

// newLogger builds the process logger from config, honoring the --log-level
// override.
func newLogger(cfg *config.Config) (*logger.Logger, error) {
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:     level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

// buildOrchestrator wires the full turn pipeline from config: workspace
// roots, tool executor with the built-in tool suite, optional sandbox,
// model routing and failover, the agent runner, and session bookkeeping.
// The returned janitor is nil unless sandbox sweeping is configured.
func buildOrchestrator(cfg *config.Config, log zerolog.Logger) (*orchestrator.Orchestrator, *sandbox.Janitor, error) {
	roots, err := workspace.NewRoots(cfg.Workspace)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up workspace roots: %w", err)
	}

	var sbx *sandbox.Manager
	var janitor *sandbox.Janitor
	if cfg.Sandbox.Enabled {
		sbx, err = sandbox.New(sandbox.Config{
			Sandbox:       cfg.Sandbox,
			WorkspaceRoot: roots.WorkspaceRoot(),
			AllowedRoots:  roots.AllRoots()[1:],
			Logger:        log,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to set up sandbox manager: %w", err)
		}
		if cfg.Sandbox.JanitorEnabled {
			janitor, err = sandbox.NewJanitor(sbx, cfg.Sandbox.JanitorSpec,
				time.Duration(cfg.Sandbox.IdleTTLMin)*time.Minute, log)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to set up sandbox janitor: %w", err)
			}
		}
	}

	executor := toolexecutor.New(toolexecutor.Config{
		MaxOutputChars: cfg.Tools.MaxOutputChars,
		Logger:         log,
	})
	if err := coretools.Register(executor, coretools.Options{
		Tools:   cfg.Tools,
		Roots:   roots,
		Sandbox: sbx,
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to register tools: %w", err)
	}

	router, err := routing.New(routing.Config{
		Models:   cfg.Models,
		Profiles: cfg.Profiles,
		Factory:  &model.ClientFactory{},
		Logger:   log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up model router: %w", err)
	}

	controller, err := failover.New(failover.Config{
		BaseCooldown: time.Duration(cfg.Failover.BaseCooldownSec) * time.Second,
		MaxCooldown:  time.Duration(cfg.Failover.MaxCooldownSec) * time.Second,
		Resolver:     router,
		Logger:       log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up failover controller: %w", err)
	}

	runner, err := agent.NewRunner(agent.Config{
		Invoker: controller,
		Router:  router,
		Tools:   orchestrator.NewToolRunner(executor),
		Budgeter: budget.New(budget.Config{
			SoftLimitChars:    cfg.Budget.SoftLimitChars,
			HardLimitChars:    cfg.Budget.HardLimitChars,
			HeadChars:         cfg.Budget.HeadChars,
			TailChars:         cfg.Budget.TailChars,
			KeepRecentResults: cfg.Budget.KeepRecentResults,
		}),
		Agent:  cfg.Agent,
		Logger: log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up agent runner: %w", err)
	}

	store := session.NewMemoryStore()
	summaryModel, summaryFallbacks := router.Chain(router.SummaryModel())
	compactor, err := session.NewCompactor(session.CompactorConfig{
		Store:               store,
		Invoker:             controller,
		SummaryModel:        summaryModel,
		Fallbacks:           summaryFallbacks,
		Shape:               router.PreferredShape(summaryModel),
		SummaryTriggerTurns: cfg.Session.SummaryTriggerTurns,
		KeepLastTurns:       cfg.Session.KeepLastTurns,
		Logger:              log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up session compactor: %w", err)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Runner: runner,
		Queue: runqueue.New(runqueue.Config{
			MaxConcurrentRuns: cfg.Queue.MaxConcurrentRuns,
			Logger:            log,
		}),
		Store:        store,
		Compactor:    compactor,
		WaitNoticeMs: cfg.Queue.WaitNoticeMs,
		Logger:       log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up orchestrator: %w", err)
	}
	return orch, janitor, nil
}

// printTrace appends the plan, trace and tool events below the answer.
func printTrace(cmd *cobra.Command, resp *orchestrator.ChatResponse) {
	cmd.Println()
	if len(resp.ExecutionPlan) > 0 {
		cmd.Println("Plan:")
		for _, line := range resp.ExecutionPlan {
			cmd.Printf("  %s\n", line)
		}
	}
	if len(resp.ExecutionTrace) > 0 {
		cmd.Println("Trace:")
		for _, line := range resp.ExecutionTrace {
			cmd.Printf("  %s\n", line)
		}
	}
	for _, event := range resp.ToolEvents {
		preview := event.OutputPreview
		if len(preview) > 160 {
			preview = preview[:160] + "..."
		}
		cmd.Printf("Tool %s (%d ms): %s\n", event.Name, event.DurationMs, preview)
	}
	cmd.Printf("Model %s | tokens %d in / %d out | conversation %s\n",
		resp.EffectiveModel, resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.ConversationID)
}
