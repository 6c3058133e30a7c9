// Package sandbox runs external security tools under a global concurrency
// ceiling, a per-execution timeout and bounded output capture.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"forgescan/scan-engine/internal/model"
	"forgescan/scan-engine/internal/scanners"
	"forgescan/scan-engine/internal/security"
)

// Defaults for Config zero values.
const (
	DefaultMaxConcurrent  = 5
	DefaultKillGrace      = 5 * time.Second
	DefaultMaxOutputBytes = 10 << 20
	DefaultToolsPath      = "/usr/local/bin:/usr/bin:/bin"
)

// Execution outcomes reported to the Observer.
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeTimeout    = "timeout"
	OutcomeSpawnError = "spawn_error"
	OutcomeCancelled  = "cancelled"
)

type Config struct {
	MaxConcurrent  int
	ToolsPath      string
	WorkDir        string
	KillGrace      time.Duration
	MaxOutputBytes int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.ToolsPath == "" {
		c.ToolsPath = DefaultToolsPath
	}
	if c.WorkDir == "" {
		c.WorkDir = os.TempDir()
	}
	if c.KillGrace <= 0 {
		c.KillGrace = DefaultKillGrace
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return c
}

// Request asks for one tool run. Timeout overrides the registry default when
// positive. WaitForSlot queues the request behind the concurrency ceiling
// instead of failing with ErrConcurrencyLimit.
type Request struct {
	Tool        string
	Args        []string
	Target      string
	Timeout     time.Duration
	WaitForSlot bool
}

// Observer receives execution accounting, e.g. for metrics.
type Observer interface {
	SlotsChanged(active int)
	ExecutionFinished(tool, outcome string, elapsed time.Duration)
}

type Option func(*Executor)

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// Executor is the single owner of the execution slots. Share one pointer
// between every caller that spawns tools.
type Executor struct {
	cfg      Config
	registry *scanners.Registry
	runner   Runner
	slots    *Slots
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer
}

func New(cfg Config, registry *scanners.Registry, runner Runner, opts ...Option) *Executor {
	cfg = cfg.withDefaults()
	if runner == nil {
		runner = ProcessRunner{}
	}
	e := &Executor{
		cfg:      cfg,
		registry: registry,
		runner:   runner,
		slots:    NewSlots(cfg.MaxConcurrent),
		logger:   slog.Default(),
		tracer:   otel.Tracer("forgescan/sandbox"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Registry() *scanners.Registry { return e.registry }

func (e *Executor) Active() int { return e.slots.Active() }

func (e *Executor) MaxConcurrent() int { return e.slots.Max() }

// Execute runs one tool against target. Errors before the spawn (unknown or
// unavailable tool, no free slot, invalid target) return a nil execution.
// Once a process was attempted the execution is always returned, and
// timeouts and spawn failures are reported both in it and as the error.
// A non-zero exit code is not an error.
func (e *Executor) Execute(ctx context.Context, req Request) (*model.ToolExecution, error) {
	tool, err := e.registry.Resolve(req.Tool)
	if err != nil {
		return nil, err
	}

	if req.WaitForSlot {
		if err := e.slots.Acquire(ctx); err != nil {
			return nil, err
		}
	} else if !e.slots.TryAcquire() {
		return nil, fmt.Errorf("%w: %d of %d slots in use", ErrConcurrencyLimit, e.slots.Active(), e.slots.Max())
	}
	e.slotsChanged()
	defer func() {
		e.slots.Release()
		e.slotsChanged()
	}()

	target, err := security.Sanitize(req.Target)
	if err != nil {
		return nil, err
	}

	args := tool.BuildArgs(req.Args, target)
	timeout := tool.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	ctx, span := e.tracer.Start(ctx, "sandbox.execute", trace.WithAttributes(
		attribute.String("tool", tool.Name),
		attribute.String("timeout", timeout.String()),
	))
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := e.logger.With("tool", tool.Name)
	log.Debug("spawning tool", "args", args, "timeout", timeout)

	start := time.Now()
	out, runErr := e.runner.Run(runCtx, Command{
		Tool:       tool.Name,
		Binary:     tool.Binary,
		Image:      tool.Image,
		Args:       args,
		Dir:        e.cfg.WorkDir,
		Env:        e.env(),
		SearchPath: e.cfg.ToolsPath,
		Grace:      e.cfg.KillGrace,
		MaxOutput:  e.cfg.MaxOutputBytes,
	})
	elapsed := time.Since(start)

	exec := &model.ToolExecution{
		Tool:            tool.Name,
		Command:         append([]string{tool.Binary}, args...),
		ExitCode:        out.ExitCode,
		Stdout:          out.Stdout,
		Stderr:          out.Stderr,
		Success:         runErr == nil && out.ExitCode == 0,
		ExecutionTimeMs: elapsed.Milliseconds(),
		Timestamp:       time.Now(),
		Truncated:       out.Truncated,
	}
	span.SetAttributes(attribute.Int("exit_code", out.ExitCode))

	var outcome string
	switch {
	case runErr == nil && exec.Success:
		outcome = OutcomeSuccess
	case runErr == nil:
		outcome = OutcomeFailure
	case ctx.Err() != nil:
		outcome = OutcomeCancelled
		err = ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		outcome = OutcomeTimeout
		exec.TimedOut = true
		err = &TimeoutError{Tool: tool.Name, Timeout: timeout}
	default:
		outcome = OutcomeSpawnError
		err = &SpawnError{Tool: tool.Name, Err: runErr}
	}

	if e.observer != nil {
		e.observer.ExecutionFinished(tool.Name, outcome, elapsed)
	}
	if err != nil {
		exec.Success = false
		exec.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		log.Warn("tool execution failed", "outcome", outcome, "error", err, "elapsed", elapsed)
		return exec, err
	}

	log.Info("tool finished", "exit_code", exec.ExitCode, "elapsed", elapsed, "truncated", exec.Truncated)
	return exec, nil
}

func (e *Executor) env() []string {
	env := []string{"PATH=" + e.cfg.ToolsPath, "LANG=C.UTF-8"}
	if home, err := os.UserHomeDir(); err == nil {
		env = append(env, "HOME="+home)
	}
	return env
}

func (e *Executor) slotsChanged() {
	if e.observer != nil {
		e.observer.SlotsChanged(e.slots.Active())
	}
}
