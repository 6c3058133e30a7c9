package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"forgescan/scan-engine/internal/broadcast"
	"forgescan/scan-engine/internal/model"
	"forgescan/scan-engine/internal/retry"
	"forgescan/scan-engine/internal/store"
)

func (q *Queue) worker(ctx context.Context, n int) {
	defer q.workers.Done()
	log := q.logger.With("worker", n)

	for ctx.Err() == nil && q.Mode() == ModeBroker {
		env, err := q.broker.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || q.brokerErr(err) {
				break
			}
			log.Warn("dequeue", "error", err)
			q.idle(ctx)
			continue
		}
		if env == nil {
			q.idle(ctx)
			continue
		}
		q.process(ctx, *env)
	}
	log.Debug("worker stopped", "mode", q.Mode())
}

func (q *Queue) idle(ctx context.Context) {
	t := time.NewTimer(q.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (q *Queue) process(ctx context.Context, env Envelope) {
	log := q.logger.With("scan_id", env.ScanID, "job_id", env.ID, "attempt", env.Attempts+1)
	// broker bookkeeping must survive worker shutdown
	bg := context.WithoutCancel(ctx)

	jobCtx, cancel := context.WithCancel(ctx)
	aj := &activeJob{jobID: env.ID, cancel: cancel}
	q.mu.Lock()
	q.running[env.ScanID] = aj
	q.mu.Unlock()
	defer func() {
		cancel()
		q.mu.Lock()
		if q.running[env.ScanID] == aj {
			delete(q.running, env.ScanID)
		}
		q.mu.Unlock()
	}()

	if err := q.store.UpdateScanStatus(bg, env.ScanID, model.StateRunning, store.Fields{JobID: env.ID}); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
			log.Info("skipping job for finished scan", "reason", err)
			q.ack(bg, func(ctx context.Context) error { return q.broker.Complete(ctx, env.ID) })
			return
		}
		log.Error("mark scan running", "error", err)
	}
	q.pub.Publish(broadcast.ScanTopic(env.ScanID), broadcast.Event{
		Status: string(model.StateRunning),
		Data:   map[string]any{"jobId": env.ID, "attempt": env.Attempts + 1},
	})
	q.publishStats(bg)

	err := q.handler.Execute(jobCtx, env.Job)
	switch {
	case aj.cancelled.Load():
		log.Info("job stopped after cancellation")
		return
	case err == nil:
		q.ack(bg, func(ctx context.Context) error { return q.broker.Complete(ctx, env.ID) })
	case ctx.Err() != nil && q.Mode() == ModeBroker:
		// shutdown: hand the job back without spending an attempt
		log.Info("requeueing job on shutdown")
		q.ack(bg, func(ctx context.Context) error { return q.broker.Retry(ctx, env, 0) })
	default:
		q.retryOrFail(bg, env, err)
	}
	q.publishStats(bg)
}

func (q *Queue) retryOrFail(ctx context.Context, env Envelope, err error) {
	log := q.logger.With("scan_id", env.ScanID, "job_id", env.ID)
	env.Attempts++
	env.LastError = err.Error()

	policy := q.cfg.Policy
	if env.MaxAttempts > 0 {
		policy.MaxAttempts = env.MaxAttempts
	}
	delay, again := policy.Next(env.Attempts, err)

	if again && q.Mode() == ModeBroker {
		log.Warn("job attempt failed, retrying", "attempt", env.Attempts, "delay", delay, "error", err)
		if q.ack(ctx, func(ctx context.Context) error { return q.broker.Retry(ctx, env, delay) }) {
			q.pub.Publish(broadcast.ScanTopic(env.ScanID), broadcast.Event{
				Status:  string(model.StateRunning),
				Message: fmt.Sprintf("attempt %d failed, retrying in %s", env.Attempts, delay),
				Data:    map[string]any{"jobId": env.ID, "attempt": env.Attempts, "retryIn": delay.Milliseconds()},
			})
			return
		}
	}

	log.Warn("job failed", "attempts", env.Attempts, "error", err)
	if q.Mode() == ModeBroker {
		q.ack(ctx, func(ctx context.Context) error { return q.broker.Fail(ctx, env) })
	}
	q.handler.Failed(ctx, env.Job, err)
}

// ack runs a broker bookkeeping call with a short retry. It reports success.
func (q *Queue) ack(ctx context.Context, fn func(context.Context) error) bool {
	if q.Mode() != ModeBroker {
		return false
	}
	err := retry.Do(ctx, retry.AckPolicy(), func() error {
		err := fn(ctx)
		if IsConnectionError(err) {
			return retry.Stop(err)
		}
		return err
	})
	if err != nil {
		q.brokerErr(err)
		q.logger.Warn("broker acknowledgement failed", "error", err)
		return false
	}
	return true
}
