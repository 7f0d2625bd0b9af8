package sandbox

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rasyid/kantor/internal/config"
)

// fakeRunner scripts runtime replies per command verb and records every
// invocation, including the context deadline it ran under.
type fakeRunner struct {
	mu        sync.Mutex
	calls     [][]string
	deadlines []time.Duration
	replies   map[string][]*CommandOutput
	errs      map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		replies: map[string][]*CommandOutput{},
		errs:    map[string]error{},
	}
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) (*CommandOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, args)
	remaining := time.Duration(0)
	if deadline, ok := ctx.Deadline(); ok {
		remaining = time.Until(deadline)
	}
	f.deadlines = append(f.deadlines, remaining)

	verb := args[0]
	if err := f.errs[verb]; err != nil {
		return &CommandOutput{}, err
	}
	queue := f.replies[verb]
	if len(queue) == 0 {
		return &CommandOutput{}, nil
	}
	out := queue[0]
	if len(queue) > 1 {
		f.replies[verb] = queue[1:]
	}
	return out, nil
}

func (f *fakeRunner) reply(verb string, outs ...*CommandOutput) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[verb] = append(f.replies[verb], outs...)
}

func (f *fakeRunner) callsFor(verb string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := [][]string{}
	for _, call := range f.calls {
		if call[0] == verb {
			out = append(out, call)
		}
	}
	return out
}

func (f *fakeRunner) lastDeadline() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deadlines[len(f.deadlines)-1]
}

func testSandboxConfig() config.SandboxConfig {
	return config.SandboxConfig{
		Enabled:         true,
		Image:           "python:3.11-slim",
		ContainerPrefix: "kantor-sbx",
		MemoryMB:        1024,
		CPUs:            1.5,
		PidsLimit:       256,
		ExecTimeoutSec:  60,
	}
}

func newTestManager(t *testing.T, runner Runner) *Manager {
	t.Helper()

	m, err := New(Config{
		Sandbox:       testSandboxConfig(),
		WorkspaceRoot: "/srv/workspace",
		AllowedRoots:  []string{"/srv/data"},
		Runner:        runner,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	return m
}

// markAvailable scripts a healthy runtime probe.
func markAvailable(runner *fakeRunner) {
	runner.reply("version", &CommandOutput{Stdout: "24.0.7\n"})
}

func TestNew(t *testing.T) {
	t.Run("should require a workspace root", func(t *testing.T) {
		_, err := New(Config{Sandbox: testSandboxConfig()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "workspace root")
	})

	t.Run("should floor the pids limit at 16", func(t *testing.T) {
		cfg := testSandboxConfig()
		cfg.PidsLimit = 4
		m, err := New(Config{Sandbox: cfg, WorkspaceRoot: "/srv/workspace", Runner: newFakeRunner(), Logger: zerolog.Nop()})
		require.NoError(t, err)
		assert.Equal(t, 16, m.cfg.PidsLimit)
	})
}

func TestEnsureEnvironment(t *testing.T) {
	ctx := context.Background()

	t.Run("should create a container on first use", func(t *testing.T) {
		runner := newFakeRunner()
		markAvailable(runner)
		runner.reply("inspect", &CommandOutput{ExitCode: 1, Stderr: "No such object"})
		runner.reply("run", &CommandOutput{Stdout: "abc123\n"})
		m := newTestManager(t, runner)

		env, err := m.EnsureEnvironment(ctx, "conv-1")
		require.NoError(t, err)

		wantName := containerName("kantor-sbx", "/srv/workspace", "conv-1")
		assert.Equal(t, wantName, env.Container)

		inspects := runner.callsFor("inspect")
		require.Len(t, inspects, 1)
		assert.Equal(t, []string{"inspect", "-f", "{{.State.Running}}", wantName}, inspects[0])

		runs := runner.callsFor("run")
		require.Len(t, runs, 1)
		args := strings.Join(runs[0], " ")
		assert.Contains(t, args, "--name "+wantName)
		assert.Contains(t, args, "--workdir /workspace")
		assert.Contains(t, args, "--pids-limit 256")
		assert.Contains(t, args, "--cpus 1.5")
		assert.Contains(t, args, "--memory 1024m")
		assert.Contains(t, args, "--label kantor.sandbox=1")
		assert.Contains(t, args, "--label kantor.workspace=/srv/workspace")
		assert.Contains(t, args, "-v /srv/workspace:/workspace")
		assert.Contains(t, args, "-v /srv/data:/allowed/1-data")
		assert.Contains(t, args, "python:3.11-slim sh -lc "+keepAliveCommand)
	})

	t.Run("should restart a stopped container instead of recreating it", func(t *testing.T) {
		runner := newFakeRunner()
		markAvailable(runner)
		runner.reply("inspect", &CommandOutput{ExitCode: 0, Stdout: "false\n"})
		runner.reply("start", &CommandOutput{ExitCode: 0})
		m := newTestManager(t, runner)

		env, err := m.EnsureEnvironment(ctx, "conv-1")
		require.NoError(t, err)
		assert.NotEmpty(t, env.Container)

		assert.Len(t, runner.callsFor("start"), 1)
		assert.Empty(t, runner.callsFor("run"))
	})

	t.Run("should reuse a running container untouched", func(t *testing.T) {
		runner := newFakeRunner()
		markAvailable(runner)
		runner.reply("inspect", &CommandOutput{ExitCode: 0, Stdout: "true\n"})
		m := newTestManager(t, runner)

		_, err := m.EnsureEnvironment(ctx, "conv-1")
		require.NoError(t, err)

		assert.Empty(t, runner.callsFor("start"))
		assert.Empty(t, runner.callsFor("run"))
	})

	t.Run("should surface runtime unavailability", func(t *testing.T) {
		runner := newFakeRunner()
		runner.reply("version", &CommandOutput{ExitCode: 1, Stderr: "Cannot connect to the Docker daemon"})
		runner.reply("info", &CommandOutput{ExitCode: 1, Stderr: "Cannot connect to the Docker daemon"})
		m := newTestManager(t, runner)

		_, err := m.EnsureEnvironment(ctx, "conv-1")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRuntimeUnavailable)
		assert.Contains(t, err.Error(), "Cannot connect")
	})

	t.Run("should fail when container creation fails", func(t *testing.T) {
		runner := newFakeRunner()
		markAvailable(runner)
		runner.reply("inspect", &CommandOutput{ExitCode: 1})
		runner.reply("run", &CommandOutput{ExitCode: 125, Stderr: "pull access denied"})
		m := newTestManager(t, runner)

		_, err := m.EnsureEnvironment(ctx, "conv-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pull access denied")
	})
}

func TestAvailableCaching(t *testing.T) {
	runner := newFakeRunner()
	markAvailable(runner)
	m := newTestManager(t, runner)

	now := time.Now()
	m.nowFn = func() time.Time { return now }

	ok, msg := m.Available(context.Background())
	require.True(t, ok)
	assert.Contains(t, msg, "24.0.7")
	assert.Len(t, runner.callsFor("version"), 1)

	// Second probe inside the cache window must not hit the runtime.
	ok, _ = m.Available(context.Background())
	require.True(t, ok)
	assert.Len(t, runner.callsFor("version"), 1)

	// After the window expires the probe runs again.
	now = now.Add(6 * time.Second)
	markAvailable(runner)
	ok, _ = m.Available(context.Background())
	require.True(t, ok)
	assert.Len(t, runner.callsFor("version"), 2)
}

func TestAvailableFallsBackToInfo(t *testing.T) {
	runner := newFakeRunner()
	runner.reply("version", &CommandOutput{ExitCode: 1, Stderr: "flag provided but not defined"})
	runner.reply("info", &CommandOutput{Stdout: "23.0.1\n"})
	m := newTestManager(t, runner)

	ok, msg := m.Available(context.Background())
	require.True(t, ok)
	assert.Contains(t, msg, "23.0.1")
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	env := &Environment{Container: "kantor-sbx-abc-conv-1", ConversationID: "conv-1"}

	t.Run("should translate the working directory and run exec", func(t *testing.T) {
		runner := newFakeRunner()
		runner.reply("exec", &CommandOutput{Stdout: "main.go\n"})
		m := newTestManager(t, runner)

		res, err := m.Execute(ctx, env, []string{"ls", "-la"}, "/srv/workspace/project", 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExitCode)
		assert.Equal(t, "main.go\n", res.Stdout)

		execs := runner.callsFor("exec")
		require.Len(t, execs, 1)
		assert.Equal(t, []string{"exec", "-w", "/workspace/project", env.Container, "ls", "-la"}, execs[0])
	})

	t.Run("should default the working directory to /workspace", func(t *testing.T) {
		runner := newFakeRunner()
		m := newTestManager(t, runner)

		_, err := m.Execute(ctx, env, []string{"pwd"}, "", 5*time.Second)
		require.NoError(t, err)

		execs := runner.callsFor("exec")
		require.Len(t, execs, 1)
		assert.Equal(t, "/workspace", execs[0][2])
	})

	t.Run("should refuse an unmounted working directory", func(t *testing.T) {
		runner := newFakeRunner()
		m := newTestManager(t, runner)

		_, err := m.Execute(ctx, env, []string{"ls"}, "/etc", 5*time.Second)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPathNotMounted)
		assert.Empty(t, runner.callsFor("exec"))
	})

	t.Run("should refuse an empty argv", func(t *testing.T) {
		m := newTestManager(t, newFakeRunner())
		_, err := m.Execute(ctx, env, nil, "", 5*time.Second)
		assert.ErrorIs(t, err, ErrEmptyCommand)
	})

	t.Run("should report non-zero exit codes without erroring", func(t *testing.T) {
		runner := newFakeRunner()
		runner.reply("exec", &CommandOutput{ExitCode: 3, Stderr: "no such file"})
		m := newTestManager(t, runner)

		res, err := m.Execute(ctx, env, []string{"cat", "missing"}, "", 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, 3, res.ExitCode)
		assert.Equal(t, "no such file", res.Stderr)
	})

	t.Run("should clamp the timeout to 120 seconds", func(t *testing.T) {
		runner := newFakeRunner()
		m := newTestManager(t, runner)

		_, err := m.Execute(ctx, env, []string{"sleep", "1"}, "", 10*time.Minute)
		require.NoError(t, err)

		remaining := runner.lastDeadline()
		assert.Greater(t, remaining, 60*time.Second)
		assert.LessOrEqual(t, remaining, 120*time.Second)
	})

	t.Run("should surface timeouts with a partial result", func(t *testing.T) {
		runner := newFakeRunner()
		runner.errs["exec"] = ErrExecTimeout
		m := newTestManager(t, runner)

		res, err := m.Execute(ctx, env, []string{"sleep", "999"}, "", 2*time.Second)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrExecTimeout)
		require.NotNil(t, res)
		assert.Equal(t, -1, res.ExitCode)
	})
}

func TestStopIdle(t *testing.T) {
	runner := newFakeRunner()
	m := newTestManager(t, runner)

	now := time.Now()
	m.nowFn = func() time.Time { return now }
	m.touch("sbx-old")
	m.touch("sbx-fresh")

	// Age only the first container past the TTL.
	m.usageMu.Lock()
	m.lastUsed["sbx-old"] = now.Add(-5 * time.Hour)
	m.usageMu.Unlock()

	stopped := m.StopIdle(context.Background(), 4*time.Hour)
	assert.Equal(t, 1, stopped)

	stops := runner.callsFor("stop")
	require.Len(t, stops, 1)
	assert.Equal(t, []string{"stop", "sbx-old"}, stops[0])

	// The stopped container left the usage table; a second sweep is a no-op.
	assert.Zero(t, m.StopIdle(context.Background(), 4*time.Hour))
}
