package sandbox

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConcurrencyLimit is returned by Execute when every slot is taken
	// and the request did not set WaitForSlot. The aggregator always waits,
	// so only direct Executor callers see it.
	ErrConcurrencyLimit = errors.New("sandbox: concurrency limit reached")
	ErrProcessTimeout   = errors.New("sandbox: process timed out")
	ErrProcessSpawn     = errors.New("sandbox: process spawn failed")
)

// TimeoutError reports a tool that was terminated after its timeout.
type TimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Tool, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrProcessTimeout }

// SpawnError reports a tool process that could not be started.
type SpawnError struct {
	Tool string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("%s: spawn failed: %v", e.Tool, e.Err)
}

func (e *SpawnError) Unwrap() []error { return []error{ErrProcessSpawn, e.Err} }
