package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"forgescan/scan-engine/internal/aggregator"
	"forgescan/scan-engine/internal/broadcast"
	"forgescan/scan-engine/internal/config"
	"forgescan/scan-engine/internal/docker"
	"forgescan/scan-engine/internal/metrics"
	"forgescan/scan-engine/internal/orchestrator"
	"forgescan/scan-engine/internal/queue"
	"forgescan/scan-engine/internal/queue/membroker"
	"forgescan/scan-engine/internal/queue/redisbroker"
	"forgescan/scan-engine/internal/retry"
	"forgescan/scan-engine/internal/sandbox"
	"forgescan/scan-engine/internal/scanners"
	"forgescan/scan-engine/internal/store"
)

// engine is the assembled set of components behind every command.
type engine struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *scanners.Registry
	metrics  *metrics.Metrics
	hub      *broadcast.Hub
	store    *store.Memory
	queue    *queue.Queue
	orch     *orchestrator.Orchestrator
	closers  []func() error
}

func newRegistry(cfg config.Config) (*scanners.Registry, error) {
	tools := scanners.DefaultTools()
	if cfg.Tools.Catalog != "" {
		cat, err := scanners.LoadCatalog(cfg.Tools.Catalog)
		if err != nil {
			return nil, err
		}
		if tools, err = cat.Apply(tools); err != nil {
			return nil, err
		}
	}
	reg := scanners.NewRegistry(tools, scanners.DefaultParsers())
	for name, d := range cfg.Tools.Timeouts {
		if err := reg.SetTimeout(name, d); err != nil {
			return nil, fmt.Errorf("%w: tools.timeouts: %w", config.ErrInvalidConfig, err)
		}
	}
	return reg, nil
}

// newRunner returns the sandbox runner for the configured runtime and probes
// the registry's tools with it.
func newRunner(ctx context.Context, cfg config.Config, reg *scanners.Registry, logger *slog.Logger) (sandbox.Runner, func() error, error) {
	if cfg.Sandbox.Runtime == config.RuntimeDocker {
		r, err := docker.NewContainerRunner(logger)
		if err != nil {
			return nil, nil, err
		}
		if err := r.Probe(ctx, reg); err != nil {
			logger.Warn("docker probe failed, tools marked unavailable", "err", err)
		}
		return r, r.Close, nil
	}

	prober := scanners.NewProber(cfg.Sandbox.ToolsPath, logger)
	prober.Probe(ctx, reg)
	return sandbox.ProcessRunner{}, nil, nil
}

func newBroker(cfg config.Config) queue.Broker {
	switch {
	case cfg.Queue.ForceDirect:
		return nil
	case cfg.Broker.Addr == config.MemoryBroker:
		return membroker.New()
	default:
		return redisbroker.New(redisbroker.Options{
			Addr:        cfg.Broker.Addr,
			Username:    cfg.Broker.Username,
			Password:    cfg.Broker.Password,
			DB:          cfg.Broker.DB,
			Prefix:      cfg.Broker.Prefix,
			DialTimeout: cfg.Broker.ProbeTimeout,
		})
	}
}

func newEngine(ctx context.Context, cfg config.Config, logger *slog.Logger) (*engine, error) {
	reg, err := newRegistry(cfg)
	if err != nil {
		return nil, err
	}
	runner, closeRunner, err := newRunner(ctx, cfg, reg, logger)
	if err != nil {
		return nil, err
	}

	e := &engine{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  metrics.New(),
		hub:      broadcast.NewHub(logger),
		store:    store.NewMemory(),
	}
	if closeRunner != nil {
		e.closers = append(e.closers, closeRunner)
	}

	exec := sandbox.New(sandbox.Config{
		MaxConcurrent:  cfg.Sandbox.MaxConcurrentExecutions,
		ToolsPath:      cfg.Sandbox.ToolsPath,
		WorkDir:        cfg.Sandbox.WorkDir,
		KillGrace:      cfg.Sandbox.KillGrace,
		MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
	}, reg, runner, sandbox.WithLogger(logger), sandbox.WithObserver(e.metrics))
	agg := aggregator.New(exec, reg, logger)

	e.queue = queue.New(queue.Config{
		ProbeTimeout: cfg.Broker.ProbeTimeout,
		Workers:      cfg.Queue.MaxConcurrentScans,
		PollInterval: cfg.Queue.PollInterval,
		Policy: retry.Policy{
			MaxAttempts: cfg.Queue.MaxAttempts,
			InitDelay:   cfg.Queue.Backoff,
			MaxDelay:    5 * time.Minute,
			Strategy:    retry.Exponential,
		},
		ForceDirect: cfg.Queue.ForceDirect,
	}, newBroker(cfg), e.store, e.hub, queue.WithLogger(logger), queue.WithObserver(e.metrics))
	e.closers = append(e.closers, e.queue.Close)

	e.orch = orchestrator.New(e.store, e.queue, agg, reg,
		orchestrator.WithLogger(logger),
		orchestrator.WithPublisher(e.hub),
		orchestrator.WithObserver(e.metrics),
	)
	return e, nil
}

// close releases components in reverse order of creation.
func (e *engine) close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	return errors.Join(errs...)
}
