// Package queue schedules scan jobs through a broker and falls back, once and
// for good, to running them synchronously when the broker goes away.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"forgescan/scan-engine/internal/broadcast"
	"forgescan/scan-engine/internal/model"
	"forgescan/scan-engine/internal/retry"
	"forgescan/scan-engine/internal/store"
)

// Mode only moves from Probing to Broker to Direct, never back.
type Mode int32

const (
	ModeProbing Mode = iota
	ModeBroker
	ModeDirect
)

func (m Mode) String() string {
	switch m {
	case ModeBroker:
		return "broker"
	case ModeDirect:
		return "direct"
	default:
		return "probing"
	}
}

const (
	DefaultProbeTimeout = 3 * time.Second
	DefaultWorkers      = 3
	DefaultPollInterval = 500 * time.Millisecond

	// DirectJobPrefix starts every job id handed out in direct mode.
	DirectJobPrefix = "direct-"
)

type Config struct {
	ProbeTimeout time.Duration
	Workers      int
	PollInterval time.Duration
	Policy       retry.Policy
	ForceDirect  bool
}

func (c Config) withDefaults() Config {
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Policy.MaxAttempts <= 0 {
		c.Policy = retry.JobPolicy()
	}
	return c
}

// Handler runs jobs. Execute owns the RUNNING -> COMPLETED transition;
// Failed is called once a job will not be attempted again.
type Handler interface {
	Execute(ctx context.Context, job model.ScanJob) error
	Failed(ctx context.Context, job model.ScanJob, err error)
}

// Observer is told about mode changes, e.g. for metrics.
type Observer interface {
	ModeChanged(m Mode)
}

type Stats struct {
	Waiting   int64  `json:"waiting"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Delayed   int64  `json:"delayed"`
	Mode      string `json:"mode"`
}

type Option func(*Queue)

func WithLogger(l *slog.Logger) Option { return func(q *Queue) { q.logger = l } }

func WithObserver(o Observer) Option { return func(q *Queue) { q.observer = o } }

type Queue struct {
	cfg      Config
	broker   Broker
	store    store.Store
	pub      broadcast.Publisher
	handler  Handler
	logger   *slog.Logger
	observer Observer

	mode      atomic.Int32
	closeOnce sync.Once

	stopWorkers context.CancelFunc
	workers     sync.WaitGroup

	mu      sync.Mutex
	running map[string]*activeJob
}

type activeJob struct {
	jobID     string
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// New builds a queue over broker. A nil broker means direct mode only.
func New(cfg Config, broker Broker, st store.Store, pub broadcast.Publisher, opts ...Option) *Queue {
	if pub == nil {
		pub = broadcast.Discard{}
	}
	q := &Queue{
		cfg:     cfg.withDefaults(),
		broker:  broker,
		store:   st,
		pub:     pub,
		logger:  slog.Default(),
		running: make(map[string]*activeJob),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "queue")
	return q
}

func (q *Queue) Mode() Mode { return Mode(q.mode.Load()) }

// Start probes the broker and, when it answers within the probe timeout,
// starts the worker pool. Otherwise the queue falls back to direct mode.
func (q *Queue) Start(ctx context.Context, h Handler) Mode {
	q.handler = h

	if q.cfg.ForceDirect || q.broker == nil {
		q.degrade(errors.New("direct mode forced"))
		return ModeDirect
	}

	pctx, cancel := context.WithTimeout(ctx, q.cfg.ProbeTimeout)
	err := q.broker.Ping(pctx)
	cancel()
	if err != nil {
		q.degrade(fmt.Errorf("%w: %v", ErrBackendUnavailable, err))
		return ModeDirect
	}
	if !q.mode.CompareAndSwap(int32(ModeProbing), int32(ModeBroker)) {
		return q.Mode()
	}
	q.modeChanged(ModeBroker)
	q.logger.Info("broker reachable, starting workers", "workers", q.cfg.Workers)

	wctx, stop := context.WithCancel(context.WithoutCancel(ctx))
	q.stopWorkers = stop
	for i := range q.cfg.Workers {
		q.workers.Add(1)
		go q.worker(wctx, i)
	}
	return ModeBroker
}

// Close stops the workers, requeueing their jobs, and closes the broker.
func (q *Queue) Close() error {
	if q.stopWorkers != nil {
		q.stopWorkers()
	}
	q.workers.Wait()
	return q.closeBroker()
}

func (q *Queue) closeBroker() error {
	var err error
	q.closeOnce.Do(func() {
		if q.broker != nil {
			err = q.broker.Close()
		}
	})
	return err
}

// degrade latches the queue into direct mode. Only the first call has any
// effect.
func (q *Queue) degrade(cause error) {
	for {
		cur := q.mode.Load()
		if Mode(cur) == ModeDirect {
			return
		}
		if q.mode.CompareAndSwap(cur, int32(ModeDirect)) {
			break
		}
	}
	q.logger.Warn("falling back to direct execution", "cause", cause)
	q.modeChanged(ModeDirect)
	// in-flight jobs finish on their own; idle workers notice the mode
	if err := q.closeBroker(); err != nil {
		q.logger.Debug("close broker", "error", err)
	}
}

func (q *Queue) modeChanged(m Mode) {
	if q.observer != nil {
		q.observer.ModeChanged(m)
	}
}

// brokerErr inspects an error returned by the broker and degrades on
// connection failures. It reports whether the caller should give up on the
// broker.
func (q *Queue) brokerErr(err error) bool {
	if err == nil {
		return false
	}
	if IsConnectionError(err) {
		q.degrade(err)
		return true
	}
	return false
}

// Enqueue submits job and returns its job id. In direct mode the job runs to
// completion before Enqueue returns; failures of the scan itself are
// reported through the handler, not as an error.
func (q *Queue) Enqueue(ctx context.Context, job model.ScanJob) (string, error) {
	if q.handler == nil {
		return "", ErrNotStarted
	}
	if q.Mode() != ModeBroker {
		return q.runDirect(ctx, job)
	}

	env := Envelope{
		ID:          uuid.NewString(),
		ScanID:      job.ScanID,
		Job:         job,
		Priority:    Priority(job.Selector.ScanType),
		MaxAttempts: q.cfg.Policy.MaxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}
	if err := q.store.UpdateScanStatus(ctx, job.ScanID, model.StateQueued, store.Fields{JobID: env.ID}); err != nil {
		return "", fmt.Errorf("mark scan queued: %w", err)
	}

	pos, err := q.broker.Enqueue(ctx, env)
	if err != nil {
		if q.brokerErr(err) {
			return q.runDirect(ctx, job)
		}
		return "", fmt.Errorf("enqueue: %w", err)
	}

	q.logger.Info("job queued", "scan_id", job.ScanID, "job_id", env.ID, "priority", env.Priority, "position", pos)
	q.pub.Publish(broadcast.ScanTopic(job.ScanID), broadcast.Event{
		Status: string(model.StateQueued),
		Data:   map[string]any{"jobId": env.ID, "position": pos, "priority": env.Priority},
	})
	q.publishStats(ctx)
	return env.ID, nil
}

func (q *Queue) runDirect(ctx context.Context, job model.ScanJob) (string, error) {
	id := DirectJobPrefix + uuid.NewString()
	log := q.logger.With("scan_id", job.ScanID, "job_id", id, "mode", ModeDirect.String())

	if err := q.store.UpdateScanStatus(ctx, job.ScanID, model.StateRunning, store.Fields{JobID: id}); err != nil {
		return "", fmt.Errorf("mark scan running: %w", err)
	}
	q.pub.Publish(broadcast.ScanTopic(job.ScanID), broadcast.Event{
		Status: string(model.StateRunning),
		Data:   map[string]any{"jobId": id},
	})

	log.Info("running job directly")
	if err := q.handler.Execute(ctx, job); err != nil {
		log.Warn("direct job failed", "error", err)
		q.handler.Failed(context.WithoutCancel(ctx), job, err)
	}
	return id, nil
}

// Cancel removes a waiting, delayed or active job for scanID and marks the
// scan CANCELLED. It returns false in direct mode, when no job matches, or
// when the scan already finished.
func (q *Queue) Cancel(ctx context.Context, scanID string) bool {
	err := q.TryCancel(ctx, scanID)
	if err != nil {
		q.logger.Info("cancel rejected", "scan_id", scanID, "error", err)
	}
	return err == nil
}

// TryCancel is Cancel with the reason for a refusal: ErrCancelUnsupported
// outside broker mode, ErrNothingToCancel when no unfinished job matches, or
// the broker or store error.
func (q *Queue) TryCancel(ctx context.Context, scanID string) error {
	if q.Mode() != ModeBroker {
		return ErrCancelUnsupported
	}

	scan, err := q.store.GetScan(ctx, scanID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNothingToCancel, err)
	}
	if scan.Status.Terminal() {
		return fmt.Errorf("%w: scan is %s", ErrNothingToCancel, scan.Status)
	}

	env, state, err := q.find(ctx, scanID)
	if err != nil {
		q.brokerErr(err)
		return fmt.Errorf("cancel lookup: %w", err)
	}
	if env == nil {
		return ErrNothingToCancel
	}

	removed, err := q.broker.Remove(ctx, env.ID)
	if err != nil {
		q.brokerErr(err)
		return fmt.Errorf("cancel remove: %w", err)
	}
	if !removed {
		return ErrNothingToCancel
	}

	if err := q.store.UpdateScanStatus(ctx, scanID, model.StateCancelled, store.Fields{}); err != nil {
		return fmt.Errorf("mark scan cancelled: %w", err)
	}
	// a waiting job may have been picked up since it was listed
	q.mu.Lock()
	if aj, ok := q.running[scanID]; ok && aj.jobID == env.ID {
		aj.cancelled.Store(true)
		aj.cancel()
	}
	q.mu.Unlock()

	q.logger.Info("job cancelled", "scan_id", scanID, "job_id", env.ID, "state", state)
	q.pub.Publish(broadcast.ScanTopic(scanID), broadcast.Event{
		Status: string(model.StateCancelled),
		Data:   map[string]any{"jobId": env.ID},
	})
	q.publishStats(ctx)
	return nil
}

func (q *Queue) find(ctx context.Context, scanID string) (*Envelope, JobState, error) {
	for _, state := range []JobState{JobWaiting, JobDelayed, JobActive} {
		envs, err := q.broker.List(ctx, state)
		if err != nil {
			return nil, "", err
		}
		for i := range envs {
			if envs[i].ScanID == scanID {
				return &envs[i], state, nil
			}
		}
	}
	return nil, "", nil
}

// Stats reports broker counts. Outside broker mode every count is zero.
func (q *Queue) Stats(ctx context.Context) Stats {
	mode := q.Mode()
	if mode != ModeBroker {
		return Stats{Mode: mode.String()}
	}
	c, err := q.broker.Counts(ctx)
	if err != nil {
		if q.brokerErr(err) {
			return Stats{Mode: ModeDirect.String()}
		}
		q.logger.Warn("queue counts", "error", err)
		return Stats{Mode: mode.String()}
	}
	return Stats{
		Waiting:   c.Waiting,
		Active:    c.Active,
		Completed: c.Completed,
		Failed:    c.Failed,
		Delayed:   c.Delayed,
		Mode:      mode.String(),
	}
}

func (q *Queue) publishStats(ctx context.Context) {
	st := q.Stats(ctx)
	q.pub.Publish(broadcast.QueueTopic, broadcast.Event{Status: st.Mode, Data: st})
}
