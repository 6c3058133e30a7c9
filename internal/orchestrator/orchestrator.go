// Package orchestrator is the entry point for scans: it validates requests,
// records them, hands them to the queue and turns aggregated tool output into
// a finished scan.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"forgescan/scan-engine/internal/aggregator"
	"forgescan/scan-engine/internal/broadcast"
	"forgescan/scan-engine/internal/model"
	"forgescan/scan-engine/internal/queue"
	"forgescan/scan-engine/internal/retry"
	"forgescan/scan-engine/internal/scanners"
	"forgescan/scan-engine/internal/security"
	"forgescan/scan-engine/internal/store"
)

// ErrValidation wraps every rejection of a scan request.
var ErrValidation = errors.New("validation error")

type Queue interface {
	Start(ctx context.Context, h queue.Handler) queue.Mode
	Enqueue(ctx context.Context, job model.ScanJob) (string, error)
	Cancel(ctx context.Context, scanID string) bool
	Stats(ctx context.Context) queue.Stats
}

type Runner interface {
	RunMany(ctx context.Context, tools []aggregator.ToolSpec, target string, mode model.ExecMode, opts aggregator.RunOptions) *model.AggregatedResult
}

// Tools resolves runnable tools; *scanners.Registry implements it.
type Tools interface {
	Resolve(name string) (scanners.Tool, error)
}

// Observer is told when a scan reaches a terminal state.
type Observer interface {
	ScanFinished(status model.ScanState)
}

type Request struct {
	Target   string
	ScanType string
	ScanMode string
	Options  model.Options
}

type Created struct {
	ScanID string `json:"scanId"`
	JobID  string `json:"jobId"`
}

type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

func WithPublisher(p broadcast.Publisher) Option { return func(o *Orchestrator) { o.pub = p } }

func WithObserver(obs Observer) Option { return func(o *Orchestrator) { o.observer = obs } }

type Orchestrator struct {
	store    store.Store
	queue    Queue
	runner   Runner
	tools    Tools
	pub      broadcast.Publisher
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer
}

var _ queue.Handler = (*Orchestrator)(nil)

func New(st store.Store, q Queue, runner Runner, tools Tools, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  st,
		queue:  q,
		runner: runner,
		tools:  tools,
		pub:    broadcast.Discard{},
		logger: slog.Default(),
		tracer: otel.Tracer("forgescan/orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start registers the orchestrator as the queue's job handler and probes the
// broker.
func (o *Orchestrator) Start(ctx context.Context) queue.Mode {
	mode := o.queue.Start(ctx, o)
	o.logger.Info("orchestrator started", "mode", mode.String())
	return mode
}

// CreateScan validates req, records a PENDING scan and enqueues it. Requests
// that fail validation never touch the queue or the store. When enqueueing
// fails the scan is marked FAILED and the error is returned.
func (o *Orchestrator) CreateScan(ctx context.Context, req Request) (Created, error) {
	typ, ok := model.ParseScanType(req.ScanType)
	if !ok {
		return Created{}, fmt.Errorf("%w: unknown scan type %q", ErrValidation, req.ScanType)
	}
	target, err := security.Sanitize(req.Target)
	if err != nil {
		return Created{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	job := model.ScanJob{
		ScanID:   uuid.NewString(),
		Target:   target,
		Selector: model.ToolSelector{ScanType: typ, ScanMode: req.ScanMode},
		Options:  req.Options,
	}
	if err := security.ValidateJob(job); err != nil {
		return Created{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	log := o.logger.With("scan_id", job.ScanID)
	if err := o.store.CreateScan(ctx, model.Scan{
		ID:        job.ScanID,
		Target:    target,
		ScanType:  typ,
		ScanMode:  req.ScanMode,
		Status:    model.StatePending,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return Created{}, fmt.Errorf("create scan record: %w", err)
	}
	o.pub.Publish(broadcast.ScanTopic(job.ScanID), broadcast.Event{Status: string(model.StatePending)})
	log.Info("scan created", "target", target, "scan_type", typ, "scan_mode", req.ScanMode)

	jobID, err := o.queue.Enqueue(ctx, job)
	if err != nil {
		o.Failed(context.WithoutCancel(ctx), job, err)
		return Created{ScanID: job.ScanID}, fmt.Errorf("enqueue scan: %w", err)
	}
	return Created{ScanID: job.ScanID, JobID: jobID}, nil
}

// CancelScan reports whether the scan was cancelled. Finished scans and
// scans running in direct mode cannot be cancelled.
func (o *Orchestrator) CancelScan(ctx context.Context, scanID string) bool {
	ok := o.queue.Cancel(ctx, scanID)
	if ok {
		o.finished(model.StateCancelled)
	}
	return ok
}

func (o *Orchestrator) QueueStats(ctx context.Context) queue.Stats {
	return o.queue.Stats(ctx)
}

// CountScans counts recorded scans matching f.
func (o *Orchestrator) CountScans(ctx context.Context, f store.Filter) (int, error) {
	return o.store.CountScans(ctx, f)
}

// Scan returns a scan record with its vulnerabilities.
func (o *Orchestrator) Scan(ctx context.Context, scanID string) (model.Scan, []model.Vulnerability, error) {
	s, err := o.store.GetScan(ctx, scanID)
	if err != nil {
		return model.Scan{}, nil, err
	}
	vulns, err := o.store.Vulnerabilities(ctx, scanID)
	if err != nil {
		return model.Scan{}, nil, err
	}
	return s, vulns, nil
}

// Execute runs the tools for job and persists the aggregated result. Tool
// failures are part of the result; only an unusable single-tool scan, a
// cancelled context or a persistence error fail the job.
func (o *Orchestrator) Execute(ctx context.Context, job model.ScanJob) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.execute", trace.WithAttributes(
		attribute.String("scan_id", job.ScanID),
		attribute.String("scan_type", string(job.Selector.ScanType)),
	))
	defer span.End()
	log := o.logger.With("scan_id", job.ScanID)

	tools := aggregator.Plan(job)
	if job.Selector.ScanType == model.ScanTypeMulti {
		if _, known := aggregator.ModeTools(job.Selector.ScanMode); !known {
			log.Warn("unknown scan mode, running default tools", "scan_mode", job.Selector.ScanMode, "tools", aggregator.DefaultModeTools)
		}
	} else if _, err := o.tools.Resolve(tools[0].Name); err != nil {
		span.SetStatus(codes.Error, "tool not runnable")
		return retry.Stop(err)
	}

	topic := broadcast.ScanTopic(job.ScanID)
	res := o.runner.RunMany(ctx, tools, job.Target, job.Options.ExecMode, aggregator.RunOptions{
		Timeout: job.Options.Timeout,
		OnProgress: func(p aggregator.Progress) {
			o.pub.Publish(topic, broadcast.ProgressEvent(p.Percent(), map[string]any{
				"tool":           p.Tool,
				"success":        p.Success,
				"completedTools": p.Completed,
				"totalTools":     p.Total,
			}))
		},
	})
	if err := ctx.Err(); err != nil {
		return err
	}

	// persistence is not interrupted by cancellation from here on
	pctx := context.WithoutCancel(ctx)
	current, err := o.store.GetScan(pctx, job.ScanID)
	if err != nil {
		return fmt.Errorf("load scan: %w", err)
	}
	if current.Status.Terminal() {
		log.Info("scan finished elsewhere, dropping result", "status", current.Status)
		return nil
	}
	if err := o.store.InsertVulnerabilities(pctx, job.ScanID, res.Vulnerabilities); err != nil {
		return fmt.Errorf("insert vulnerabilities: %w", err)
	}
	if err := o.store.UpdateScanStatus(pctx, job.ScanID, model.StateCompleted, store.Fields{Result: res}); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			log.Info("scan finished elsewhere", "error", err)
			return nil
		}
		return fmt.Errorf("mark scan completed: %w", err)
	}

	span.SetAttributes(attribute.Int("vulnerabilities", res.Summary.Total))
	o.pub.Publish(topic, broadcast.Event{Status: string(model.StateCompleted), Data: res})
	o.finished(model.StateCompleted)
	log.Info("scan completed", "status", res.Metadata.Status, "vulnerabilities", res.Summary.Total, "duration_ms", res.Metadata.DurationMs)
	return nil
}

// Failed marks the scan FAILED with the error text and tells subscribers.
func (o *Orchestrator) Failed(ctx context.Context, job model.ScanJob, err error) {
	log := o.logger.With("scan_id", job.ScanID)
	msg := err.Error()

	if uerr := o.store.UpdateScanStatus(ctx, job.ScanID, model.StateFailed, store.Fields{Error: msg}); uerr != nil {
		log.Warn("mark scan failed", "error", uerr, "cause", msg)
		return
	}
	o.pub.Publish(broadcast.ScanTopic(job.ScanID), broadcast.Event{Status: string(model.StateFailed), Message: msg})
	o.finished(model.StateFailed)
	log.Warn("scan failed", "error", msg)
}

func (o *Orchestrator) finished(s model.ScanState) {
	if o.observer != nil {
		o.observer.ScanFinished(s)
	}
}
