package sandbox

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgescan/scan-engine/internal/scanners"
	"forgescan/scan-engine/internal/security"
)

// shellTool registers a /bin/sh script as a tool. The sanitized target is
// passed to the script as $1.
func shellTool(name, script string) scanners.Tool {
	return scanners.Tool{
		Name:        name,
		Binary:      "sh",
		DefaultArgs: []string{"-c", script, "sh"},
		Timeout:     10 * time.Second,
	}
}

func shellExecutor(t *testing.T, cfg Config, tools ...scanners.Tool) *Executor {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	if cfg.ToolsPath == "" {
		cfg.ToolsPath = "/bin:/usr/bin"
	}
	cfg.WorkDir = t.TempDir()
	return New(cfg, scanners.NewRegistry(tools, nil), ProcessRunner{})
}

func TestExecuteCapturesOutput(t *testing.T) {
	e := shellExecutor(t, Config{}, shellTool("echo", `echo "scanning $1"; echo oops >&2`))

	res, err := e.Execute(context.Background(), Request{Tool: "echo", Target: "example.com"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "scanning example.com\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Equal(t, "sh", res.Command[0])
	assert.Equal(t, "example.com", res.Command[len(res.Command)-1])
	assert.False(t, res.Timestamp.IsZero())
	assert.Equal(t, 0, e.Active())
}

func TestExecuteNonZeroExitIsData(t *testing.T) {
	// exit code 0 is the only success signal, even for tools that exit
	// non-zero when they report findings
	e := shellExecutor(t, Config{}, shellTool("finds", `echo "VULNERABLE"; exit 3`))

	res, err := e.Execute(context.Background(), Request{Tool: "finds", Target: "example.com"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "VULNERABLE\n", res.Stdout)
}

func TestExecuteForceKillsAfterGrace(t *testing.T) {
	grace := 200 * time.Millisecond
	e := shellExecutor(t, Config{KillGrace: grace}, shellTool("stubborn", `trap '' TERM; sleep 30`))

	start := time.Now()
	res, err := e.Execute(context.Background(), Request{Tool: "stubborn", Target: "example.com", Timeout: time.Second})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessTimeout)
	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, time.Second, te.Timeout)

	require.NotNil(t, res)
	assert.True(t, res.TimedOut)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Less(t, elapsed, time.Second+grace+2*time.Second)
	assert.Equal(t, 0, e.Active())
}

func TestExecuteGracefulTermination(t *testing.T) {
	e := shellExecutor(t, Config{KillGrace: 5 * time.Second}, shellTool("polite", `trap 'exit 0' TERM; sleep 30 & wait`))

	start := time.Now()
	res, err := e.Execute(context.Background(), Request{Tool: "polite", Target: "example.com", Timeout: 300 * time.Millisecond})

	assert.ErrorIs(t, err, ErrProcessTimeout)
	require.NotNil(t, res)
	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), 3*time.Second, "SIGTERM should end the tool well before the grace window")
}

func TestExecuteTruncatesOutput(t *testing.T) {
	e := shellExecutor(t, Config{MaxOutputBytes: 16}, shellTool("chatty", `i=0; while [ $i -lt 50 ]; do echo "line $i"; i=$((i+1)); done`))

	res, err := e.Execute(context.Background(), Request{Tool: "chatty", Target: "example.com"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Truncated)
	assert.Len(t, res.Stdout, 16)
}

func TestExecuteSpawnError(t *testing.T) {
	e := shellExecutor(t, Config{}, scanners.Tool{Name: "ghost", Binary: "definitely-not-installed", Timeout: time.Second})

	res, err := e.Execute(context.Background(), Request{Tool: "ghost", Target: "example.com"})
	assert.ErrorIs(t, err, ErrProcessSpawn)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, 0, e.Active())
}

func TestExecuteRestrictedPath(t *testing.T) {
	e := shellExecutor(t, Config{ToolsPath: t.TempDir()}, shellTool("echo", "echo hi"))

	_, err := e.Execute(context.Background(), Request{Tool: "echo", Target: "example.com"})
	assert.ErrorIs(t, err, ErrProcessSpawn, "binaries outside the tools path must not resolve")
}

func TestExecuteParentCancel(t *testing.T) {
	e := shellExecutor(t, Config{KillGrace: 100 * time.Millisecond}, shellTool("slow", "sleep 30"))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res, err := e.Execute(ctx, Request{Tool: "slow", Target: "example.com"})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.False(t, res.TimedOut)
}

// blockingRunner holds every run until release is closed and records the
// peak number of concurrent runs.
type blockingRunner struct {
	release chan struct{}
	started chan struct{}
	calls   atomic.Int32
	current atomic.Int32
	peak    atomic.Int32
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{release: make(chan struct{}), started: make(chan struct{}, 64)}
}

func (r *blockingRunner) Run(ctx context.Context, c Command) (Outcome, error) {
	r.calls.Add(1)
	n := r.current.Add(1)
	defer r.current.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	r.started <- struct{}{}
	select {
	case <-r.release:
		return Outcome{ExitCode: 0, Stdout: strings.Join(c.Args, " ")}, nil
	case <-ctx.Done():
		return Outcome{ExitCode: -1}, ctx.Err()
	}
}

func fakeExecutor(max int, runner Runner) *Executor {
	tools := []scanners.Tool{{Name: "fake", Binary: "fake", Timeout: time.Minute}}
	return New(Config{MaxConcurrent: max}, scanners.NewRegistry(tools, nil), runner)
}

func TestExecuteConcurrencyLimitFailsFast(t *testing.T) {
	t.Parallel()

	runner := newBlockingRunner()
	e := fakeExecutor(2, runner)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Execute(context.Background(), Request{Tool: "fake", Target: "example.com"})
		}()
	}
	<-runner.started
	<-runner.started
	assert.Equal(t, 2, e.Active())

	for i := 0; i < 4; i++ {
		res, err := e.Execute(context.Background(), Request{Tool: "fake", Target: "example.com"})
		assert.ErrorIs(t, err, ErrConcurrencyLimit)
		assert.Nil(t, res)
	}

	close(runner.release)
	wg.Wait()
	assert.Equal(t, int32(2), runner.calls.Load())
	assert.Equal(t, 0, e.Active())
}

func TestExecuteWaitForSlotNeverExceedsCap(t *testing.T) {
	t.Parallel()

	runner := newBlockingRunner()
	e := fakeExecutor(3, runner)

	const n = 12
	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Execute(context.Background(), Request{Tool: "fake", Target: "example.com", WaitForSlot: true})
			if err == nil && res.Success {
				ok.Add(1)
			}
		}()
	}
	for i := 0; i < 3; i++ {
		<-runner.started
	}
	assert.Equal(t, 3, e.Active())
	close(runner.release)
	wg.Wait()

	assert.Equal(t, int32(n), ok.Load(), "queued requests must run, never drop")
	assert.LessOrEqual(t, runner.peak.Load(), int32(3))
}

func TestExecuteRejectsBeforeSpawn(t *testing.T) {
	t.Parallel()

	runner := newBlockingRunner()
	close(runner.release)
	reg := scanners.NewRegistry([]scanners.Tool{
		{Name: "fake", Binary: "fake", Timeout: time.Minute},
		{Name: "gone", Binary: "gone", Timeout: time.Minute},
	}, nil)
	reg.SetStatus("gone", scanners.Status{Checked: true})
	e := New(Config{}, reg, runner)

	_, err := e.Execute(context.Background(), Request{Tool: "zap", Target: "example.com"})
	assert.ErrorIs(t, err, scanners.ErrToolUnknown)

	_, err = e.Execute(context.Background(), Request{Tool: "gone", Target: "example.com"})
	assert.ErrorIs(t, err, scanners.ErrToolUnavailable)

	_, err = e.Execute(context.Background(), Request{Tool: "fake", Target: "http://x.com; rm -rf /"})
	assert.ErrorIs(t, err, security.ErrInvalidTarget)

	assert.Equal(t, int32(0), runner.calls.Load())
	assert.Equal(t, 0, e.Active())
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	maxSlots int
}

func (o *recordingObserver) SlotsChanged(active int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if active > o.maxSlots {
		o.maxSlots = active
	}
}

func (o *recordingObserver) ExecutionFinished(tool, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, tool+":"+outcome)
}

func TestExecuteReportsToObserver(t *testing.T) {
	t.Parallel()

	runner := newBlockingRunner()
	close(runner.release)
	obs := &recordingObserver{}
	tools := []scanners.Tool{{Name: "fake", Binary: "fake", Timeout: time.Minute}}
	e := New(Config{}, scanners.NewRegistry(tools, nil), runner, WithObserver(obs))

	_, err := e.Execute(context.Background(), Request{Tool: "fake", Target: "example.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fake:success"}, obs.outcomes)
	assert.Equal(t, 1, obs.maxSlots)
}

func TestLimitedBuffer(t *testing.T) {
	t.Parallel()

	b := NewLimitedBuffer(5)
	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = b.Write([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, 5, n, "writes report full length so copiers never fail")
	assert.Equal(t, "abcde", b.String())
	assert.True(t, b.Truncated())

	unbounded := NewLimitedBuffer(0)
	_, _ = unbounded.Write([]byte(strings.Repeat("x", 100)))
	assert.Len(t, unbounded.String(), 100)
	assert.False(t, unbounded.Truncated())
}

func TestSlots(t *testing.T) {
	t.Parallel()

	s := NewSlots(2)
	assert.True(t, s.TryAcquire())
	assert.True(t, s.TryAcquire())
	assert.False(t, s.TryAcquire())
	assert.Equal(t, 2, s.Active())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Acquire(ctx), context.DeadlineExceeded)

	s.Release()
	require.NoError(t, s.Acquire(context.Background()))
	s.Release()
	s.Release()
	assert.Equal(t, 0, s.Active())
}
