// Package retry holds the backoff policy shared by the job queue, both for
// re-scheduling failed jobs through the broker and for retrying broker
// acknowledgements in place.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

type Strategy int

const (
	// Exponential doubles the delay each attempt: InitDelay * 2^attempt.
	Exponential Strategy = iota
	Linear
	Constant
)

// Policy controls how often and how far apart a job is attempted.
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	InitDelay   time.Duration // delay before the first retry
	MaxDelay    time.Duration // cap on any single delay; 0 means uncapped
	Strategy    Strategy
	Jitter      bool // ±25% on each delay
}

// JobPolicy is the queue default: 3 attempts, exponential from 2s.
func JobPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		InitDelay:   2 * time.Second,
		MaxDelay:    5 * time.Minute,
		Strategy:    Exponential,
	}
}

// AckPolicy is used for broker bookkeeping calls that must not be lost.
func AckPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		InitDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Strategy:    Exponential,
		Jitter:      true,
	}
}

// StopError marks an error as permanent.
type StopError struct {
	Err error
}

func (e *StopError) Error() string { return e.Err.Error() }
func (e *StopError) Unwrap() error { return e.Err }

// Stop wraps err so that it is never retried.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &StopError{Err: err}
}

// IsStop reports whether err, or anything it wraps, is a StopError.
func IsStop(err error) bool {
	var stop *StopError
	return errors.As(err, &stop)
}

// Next reports whether another attempt is allowed after the given number of
// failed attempts (1-based) ended in err, and how long to wait before it.
func (p Policy) Next(failed int, err error) (time.Duration, bool) {
	if IsStop(err) || failed >= p.MaxAttempts {
		return 0, false
	}
	return p.Delay(failed - 1), true
}

// Delay computes the wait before retry number attempt (0-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	var delay time.Duration
	switch p.Strategy {
	case Exponential:
		delay = p.InitDelay * time.Duration(math.Pow(2, float64(attempt)))
	case Linear:
		delay = p.InitDelay * time.Duration(attempt+1)
	case Constant:
		delay = p.InitDelay
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter && delay > 0 {
		if quarter := int64(delay) / 4; quarter > 0 {
			j := time.Duration(rand.Int64N(quarter))
			if rand.IntN(2) == 0 {
				delay += j
			} else {
				delay -= j
			}
		}
	}
	return delay
}

type sleeper interface {
	sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do calls fn until it succeeds, returns a StopError, the attempts run out
// or ctx ends. The last error is returned unwrapped.
func Do(ctx context.Context, p Policy, fn func() error) error {
	return doWithSleeper(ctx, p, fn, realSleeper{})
}

func doWithSleeper(ctx context.Context, p Policy, fn func() error, s sleeper) error {
	if p.MaxAttempts <= 0 {
		return nil
	}

	var lastErr error
	for attempt := range p.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var stop *StopError
		if errors.As(lastErr, &stop) {
			return stop.Err
		}

		if attempt < p.MaxAttempts-1 {
			if err := s.sleep(ctx, p.Delay(attempt)); err != nil {
				return err
			}
		}
	}
	return lastErr
}
