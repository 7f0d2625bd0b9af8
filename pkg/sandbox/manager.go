package sandbox

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rasyid/kantor/internal/config"
	"github.com/rasyid/kantor/internal/observability"
	"github.com/rasyid/kantor/internal/tracing"
)

const (
	// probeCacheWindow is how long one runtime availability probe stays
	// valid.
	probeCacheWindow = 5 * time.Second

	// keepAliveCommand keeps the container alive between execs.
	keepAliveCommand = "while true; do sleep 3600; done"

	minExecTimeout = 1 * time.Second
	maxExecTimeout = 120 * time.Second
)

// Config holds the manager dependencies.
type Config struct {
	Sandbox       config.SandboxConfig
	WorkspaceRoot string
	AllowedRoots  []string
	Runner        Runner
	Logger        zerolog.Logger
}

// Environment identifies a running per-conversation container.
type Environment struct {
	Container      string
	ConversationID string
}

// ExecResult is the outcome of one command inside the sandbox.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Manager keeps one container per conversation alive and routes commands
// into it. Containers are cheap to keep around: stopped ones restart on the
// next turn instead of being recreated.
type Manager struct {
	cfg    config.SandboxConfig
	root   string
	prefix string
	mounts []Mount
	runner Runner
	logger zerolog.Logger
	nowFn  func() time.Time

	probeMu  sync.Mutex
	probeAt  time.Time
	probeOK  bool
	probeMsg string

	createMu sync.Mutex
	creating map[string]*sync.Mutex

	usageMu  sync.Mutex
	lastUsed map[string]time.Time
}

// New creates a sandbox manager.
func New(cfg Config) (*Manager, error) {
	observability.EnsureRegistered()

	if strings.TrimSpace(cfg.WorkspaceRoot) == "" {
		return nil, fmt.Errorf("workspace root is required")
	}

	sbx := cfg.Sandbox
	if strings.TrimSpace(sbx.Image) == "" {
		sbx.Image = "python:3.11-slim"
	}
	if strings.TrimSpace(sbx.ContainerPrefix) == "" {
		sbx.ContainerPrefix = "kantor-sbx"
	}
	if sbx.PidsLimit < 16 {
		sbx.PidsLimit = 16
	}
	if sbx.ExecTimeoutSec < 1 {
		sbx.ExecTimeoutSec = 60
	}

	runner := cfg.Runner
	if runner == nil {
		runner = NewCLIRunner("docker")
	}

	root := filepath.Clean(cfg.WorkspaceRoot)
	return &Manager{
		cfg:      sbx,
		root:     root,
		prefix:   sanitizeSegment(sbx.ContainerPrefix, 24),
		mounts:   buildMounts(root, cfg.AllowedRoots),
		runner:   runner,
		logger:   cfg.Logger,
		nowFn:    time.Now,
		creating: make(map[string]*sync.Mutex),
		lastUsed: make(map[string]time.Time),
	}, nil
}

// Available reports whether the container runtime answers, with a human
// readable status line. The probe result is cached briefly.
func (m *Manager) Available(ctx context.Context) (bool, string) {
	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	now := m.nowFn()
	if !m.probeAt.IsZero() && now.Sub(m.probeAt) < probeCacheWindow {
		return m.probeOK, m.probeMsg
	}
	m.probeAt = now
	m.probeOK = false
	m.probeMsg = ""

	diagnostics := []string{}
	checks := [][]string{
		{"version", "--format", "{{.Server.Version}}"},
		{"info", "--format", "{{.ServerVersion}}"},
	}
	for _, check := range checks {
		out, err := runWithTimeout(ctx, m.runner, 10*time.Second, check...)
		if err != nil {
			diagnostics = append(diagnostics, err.Error())
			continue
		}
		if out.ExitCode == 0 {
			version := strings.TrimSpace(out.Stdout)
			if version == "" {
				version = "unknown version"
			}
			m.probeOK = true
			m.probeMsg = fmt.Sprintf("container runtime ready (%s)", version)
			return true, m.probeMsg
		}
		diagnostics = append(diagnostics, errorMessage(out))
	}

	if len(diagnostics) > 0 {
		m.probeMsg = diagnostics[0]
	} else {
		m.probeMsg = "container runtime unavailable"
	}
	return false, m.probeMsg
}

// EnsureEnvironment returns a running container for the conversation,
// restarting a stopped one or creating it on first use.
func (m *Manager) EnsureEnvironment(ctx context.Context, conversationID string) (*Environment, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"kantor.sandbox",
		"sandbox.ensure_environment",
		attribute.String("conversation_id", conversationID),
	)
	defer span.End()

	if ok, msg := m.Available(ctx); !ok {
		err := fmt.Errorf("%w: %s", ErrRuntimeUnavailable, msg)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	name := containerName(m.prefix, m.root, conversationID)
	logger := tracing.LoggerFromContext(ctx, m.logger).With().
		Str("conversation_id", conversationID).
		Str("container", name).
		Logger()

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	inspect, err := runWithTimeout(ctx, m.runner, 5*time.Second, "inspect", "-f", "{{.State.Running}}", name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("inspect sandbox container %s: %w", name, err)
	}

	switch {
	case inspect.ExitCode == 0 && strings.EqualFold(strings.TrimSpace(inspect.Stdout), "true"):
		// Already running.

	case inspect.ExitCode == 0:
		started, serr := runWithTimeout(ctx, m.runner, 10*time.Second, "start", name)
		if serr != nil {
			span.RecordError(serr)
			span.SetStatus(codes.Error, serr.Error())
			return nil, fmt.Errorf("start sandbox container %s: %w", name, serr)
		}
		if started.ExitCode != 0 {
			err := fmt.Errorf("start sandbox container %s: %s", name, errorMessage(started))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		observability.RecordSandboxContainer("restarted")
		observability.RecordSandboxAudit(ctx, "container_restart", conversationID, "success", map[string]interface{}{
			"container": name,
		})
		logger.Info().Msg("Sandbox container restarted")

	default:
		created, cerr := runWithTimeout(ctx, m.runner, 30*time.Second, m.createArgs(name)...)
		if cerr != nil {
			span.RecordError(cerr)
			span.SetStatus(codes.Error, cerr.Error())
			return nil, fmt.Errorf("create sandbox container %s: %w", name, cerr)
		}
		if created.ExitCode != 0 {
			err := fmt.Errorf("create sandbox container %s: %s", name, errorMessage(created))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		observability.RecordSandboxContainer("created")
		observability.RecordSandboxAudit(ctx, "container_create", conversationID, "success", map[string]interface{}{
			"container": name,
			"image":     m.cfg.Image,
		})
		logger.Info().Str("image", m.cfg.Image).Msg("Sandbox container created")
	}

	m.touch(name)
	return &Environment{Container: name, ConversationID: conversationID}, nil
}

// createArgs assembles the docker run invocation for a new container.
func (m *Manager) createArgs(name string) []string {
	args := []string{
		"run", "-d",
		"--name", name,
		"--workdir", workspaceMountPoint,
		"--pids-limit", strconv.Itoa(m.cfg.PidsLimit),
	}
	if m.cfg.CPUs > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(m.cfg.CPUs, 'f', -1, 64))
	}
	if m.cfg.MemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", m.cfg.MemoryMB))
	}
	if net := strings.TrimSpace(m.cfg.Network); net != "" {
		args = append(args, "--network", net)
	}
	args = append(args,
		"--label", "kantor.sandbox=1",
		"--label", "kantor.workspace="+m.root,
	)
	for _, mt := range m.mounts {
		args = append(args, "-v", mt.Host+":"+mt.Container)
	}
	return append(args, m.cfg.Image, "sh", "-lc", keepAliveCommand)
}

// Execute runs argv inside the conversation's container. workingDirHost is a
// host path translated through the mount table; empty means the workspace
// root. The timeout is clamped to 1s..120s.
func (m *Manager) Execute(ctx context.Context, env *Environment, argv []string, workingDirHost string, timeout time.Duration) (*ExecResult, error) {
	if env == nil || env.Container == "" {
		return nil, fmt.Errorf("sandbox environment is required")
	}
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"kantor.sandbox",
		"sandbox.execute",
		attribute.String("container", env.Container),
		attribute.String("command", argv[0]),
	)
	defer span.End()

	workdir := workspaceMountPoint
	if strings.TrimSpace(workingDirHost) != "" {
		translated, err := translatePath(m.mounts, workingDirHost)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		workdir = translated
	}

	if timeout <= 0 {
		timeout = time.Duration(m.cfg.ExecTimeoutSec) * time.Second
	}
	if timeout < minExecTimeout {
		timeout = minExecTimeout
	}
	if timeout > maxExecTimeout {
		timeout = maxExecTimeout
	}

	args := append([]string{"exec", "-w", workdir, env.Container}, argv...)
	start := time.Now()
	out, err := runWithTimeout(ctx, m.runner, timeout, args...)
	duration := time.Since(start)
	if out == nil {
		out = &CommandOutput{}
	}

	logger := tracing.LoggerFromContext(ctx, m.logger).With().
		Str("container", env.Container).
		Logger()

	if err != nil {
		observability.RecordSandboxExec(duration, false)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrExecTimeout) {
			logger.Warn().Dur("timeout", timeout).Strs("argv", argv).Msg("Sandbox command timed out")
			return &ExecResult{
				ExitCode: -1,
				Stdout:   out.Stdout,
				Stderr:   out.Stderr,
				Duration: duration,
			}, fmt.Errorf("%w after %s", ErrExecTimeout, timeout)
		}
		return nil, fmt.Errorf("sandbox exec failed: %w", err)
	}

	m.touch(env.Container)
	observability.RecordSandboxExec(duration, out.ExitCode == 0)
	logger.Debug().
		Strs("argv", argv).
		Str("workdir", workdir).
		Int("exit_code", out.ExitCode).
		Dur("duration", duration).
		Msg("Sandbox command executed")

	return &ExecResult{
		ExitCode: out.ExitCode,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		Duration: duration,
	}, nil
}

// ContainerPathForHost maps a host path through the mount table.
func (m *Manager) ContainerPathForHost(hostPath string) (string, error) {
	return translatePath(m.mounts, hostPath)
}

// MountMappings returns a copy of the mount table.
func (m *Manager) MountMappings() []Mount {
	out := make([]Mount, len(m.mounts))
	copy(out, m.mounts)
	return out
}

// StopIdle stops containers that have not executed anything for at least
// ttl. Stopped containers restart on their conversation's next turn.
func (m *Manager) StopIdle(ctx context.Context, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}

	now := m.nowFn()
	m.usageMu.Lock()
	idle := []string{}
	for name, last := range m.lastUsed {
		if now.Sub(last) >= ttl {
			idle = append(idle, name)
		}
	}
	m.usageMu.Unlock()

	stopped := 0
	for _, name := range idle {
		out, err := runWithTimeout(ctx, m.runner, 15*time.Second, "stop", name)
		if err != nil || out.ExitCode != 0 {
			m.logger.Warn().Str("container", name).Msg("Failed to stop idle sandbox container")
			continue
		}
		m.usageMu.Lock()
		delete(m.lastUsed, name)
		m.usageMu.Unlock()

		observability.RecordSandboxContainer("stopped_idle")
		observability.RecordSandboxAudit(ctx, "container_stop_idle", "janitor", "success", map[string]interface{}{
			"container": name,
		})
		m.logger.Info().Str("container", name).Dur("ttl", ttl).Msg("Stopped idle sandbox container")
		stopped++
	}
	return stopped
}

func (m *Manager) lockFor(name string) *sync.Mutex {
	m.createMu.Lock()
	defer m.createMu.Unlock()

	lock, ok := m.creating[name]
	if !ok {
		lock = &sync.Mutex{}
		m.creating[name] = lock
	}
	return lock
}

func (m *Manager) touch(name string) {
	m.usageMu.Lock()
	m.lastUsed[name] = m.nowFn()
	m.usageMu.Unlock()
}
