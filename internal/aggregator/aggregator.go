// Package aggregator runs several tools against one target and merges their
// normalized findings into a single result.
package aggregator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"forgescan/scan-engine/internal/model"
	"forgescan/scan-engine/internal/sandbox"
	"forgescan/scan-engine/internal/scanners"
)

// ToolSpec is one tool to run with caller arguments.
type ToolSpec struct {
	Name string
	Args []string
}

// Progress is reported after every tool settles.
type Progress struct {
	Tool      string
	Success   bool
	Completed int
	Total     int
}

// Percent is the share of settled tools, 0..100.
func (p Progress) Percent() int {
	if p.Total == 0 {
		return 100
	}
	return p.Completed * 100 / p.Total
}

type ProgressFunc func(Progress)

// Executor runs a single tool; *sandbox.Executor is the production one.
type Executor interface {
	Execute(ctx context.Context, req sandbox.Request) (*model.ToolExecution, error)
}

// Parsers resolves a tool name to its output parser.
type Parsers interface {
	Parser(name string) scanners.Parser
}

type RunOptions struct {
	// Timeout overrides every tool's default timeout when positive.
	Timeout    time.Duration
	OnProgress ProgressFunc
}

type Aggregator struct {
	exec    Executor
	parsers Parsers
	logger  *slog.Logger
	tracer  trace.Tracer
}

func New(exec Executor, parsers Parsers, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		exec:    exec,
		parsers: parsers,
		logger:  logger,
		tracer:  otel.Tracer("forgescan/aggregator"),
	}
}

// RunMany runs every tool and always accounts for each of them: a tool that
// could not run or failed becomes a failed ToolExecution, never an error.
// Only the output of successful tools is parsed.
func (a *Aggregator) RunMany(ctx context.Context, tools []ToolSpec, target string, mode model.ExecMode, opts RunOptions) *model.AggregatedResult {
	if mode != model.ExecSequential {
		mode = model.ExecParallel
	}
	ctx, span := a.tracer.Start(ctx, "aggregator.run_many", trace.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.Int("tools", len(tools)),
	))
	defer span.End()

	start := time.Now()
	p := &progress{total: len(tools), fn: opts.OnProgress}

	var execs []model.ToolExecution
	if mode == model.ExecSequential {
		execs = a.runSequential(ctx, tools, target, opts.Timeout, p)
	} else {
		execs = a.runParallel(ctx, tools, target, opts.Timeout, p)
	}

	res := &model.AggregatedResult{
		Target:          target,
		ToolExecutions:  execs,
		Vulnerabilities: a.normalize(execs),
	}
	res.Summary = model.Summarize(res.Vulnerabilities)

	end := time.Now()
	md := model.Metadata{
		StartTime:      start,
		EndTime:        end,
		DurationMs:     end.Sub(start).Milliseconds(),
		Mode:           mode,
		TotalTools:     len(tools),
		CompletedTools: len(execs),
	}
	for _, e := range execs {
		if e.Success {
			md.SuccessfulTools++
		} else {
			md.FailedTools++
		}
	}
	switch {
	case md.FailedTools == 0:
		md.Status = model.RunCompleted
	case md.SuccessfulTools == 0:
		md.Status = model.RunFailed
	default:
		md.Status = model.RunPartial
	}
	res.Metadata = md

	span.SetAttributes(
		attribute.Int("successful_tools", md.SuccessfulTools),
		attribute.Int("vulnerabilities", res.Summary.Total),
	)
	a.logger.Info("aggregation finished",
		"target", target, "mode", mode, "status", md.Status,
		"successful", md.SuccessfulTools, "failed", md.FailedTools,
		"vulnerabilities", res.Summary.Total, "duration_ms", md.DurationMs)
	return res
}

func (a *Aggregator) runSequential(ctx context.Context, tools []ToolSpec, target string, timeout time.Duration, p *progress) []model.ToolExecution {
	out := make([]model.ToolExecution, 0, len(tools))
	for _, t := range tools {
		e := a.runOne(ctx, t, target, timeout)
		out = append(out, e)
		p.settled(e)
	}
	return out
}

func (a *Aggregator) runParallel(ctx context.Context, tools []ToolSpec, target string, timeout time.Duration, p *progress) []model.ToolExecution {
	out := make([]model.ToolExecution, len(tools))
	var wg sync.WaitGroup
	for i, t := range tools {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = a.runOne(ctx, t, target, timeout)
			p.settled(out[i])
		}()
	}
	wg.Wait()
	return out
}

func (a *Aggregator) runOne(ctx context.Context, t ToolSpec, target string, timeout time.Duration) model.ToolExecution {
	exec, err := a.exec.Execute(ctx, sandbox.Request{
		Tool:        t.Name,
		Args:        t.Args,
		Target:      target,
		Timeout:     timeout,
		WaitForSlot: true,
	})
	if exec == nil {
		exec = &model.ToolExecution{
			Tool:      t.Name,
			ExitCode:  -1,
			Timestamp: time.Now(),
		}
	}
	if err != nil {
		exec.Success = false
		if exec.Error == "" {
			exec.Error = err.Error()
		}
		a.logger.Warn("tool failed", "tool", t.Name, "error", err)
	}
	return *exec
}

// normalize parses the output of successful executions and drops duplicate
// findings.
func (a *Aggregator) normalize(execs []model.ToolExecution) []model.Vulnerability {
	seen := make(map[string]struct{})
	vulns := []model.Vulnerability{}
	for _, e := range execs {
		if !e.Success {
			continue
		}
		found, err := a.parsers.Parser(e.Tool).Parse(e.Stdout)
		if err != nil {
			a.logger.Warn("parse tool output", "tool", e.Tool, "error", err, "kept", len(found))
		}
		for _, v := range found {
			if v.Tool == "" {
				v.Tool = e.Tool
			}
			fp := v.Fingerprint()
			if _, dup := seen[fp]; dup {
				continue
			}
			seen[fp] = struct{}{}
			vulns = append(vulns, v)
		}
	}
	return vulns
}

type progress struct {
	mu        sync.Mutex
	total     int
	completed int
	fn        ProgressFunc
}

func (p *progress) settled(e model.ToolExecution) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
	if p.fn != nil {
		p.fn(Progress{Tool: e.Tool, Success: e.Success, Completed: p.completed, Total: p.total})
	}
}
