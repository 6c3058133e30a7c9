package queue

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"forgescan/scan-engine/internal/model"
)

var (
	// ErrBackendUnavailable marks connection-level broker failures. It never
	// reaches callers of the Queue; it triggers the fallback to direct mode.
	ErrBackendUnavailable = errors.New("queue backend unavailable")
	ErrCancelUnsupported  = errors.New("cancellation is not supported in direct mode")
	ErrNothingToCancel    = errors.New("no unfinished job to cancel")
	ErrNotStarted         = errors.New("queue not started")
)

// Envelope is a job as held by a broker.
type Envelope struct {
	ID          string        `json:"id"`
	ScanID      string        `json:"scan_id"`
	Job         model.ScanJob `json:"job"`
	Priority    int           `json:"priority"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	EnqueuedAt  time.Time     `json:"enqueued_at"`
	LastError   string        `json:"last_error,omitempty"`
}

type JobState string

const (
	JobWaiting JobState = "waiting"
	JobDelayed JobState = "delayed"
	JobActive  JobState = "active"
)

type Counts struct {
	Waiting   int64
	Active    int64
	Delayed   int64
	Completed int64
	Failed    int64
}

// Broker is the narrow contract the queue needs from a job broker. Lower
// priority values are dequeued first and equal priorities are FIFO.
// Implementations wrap connection-level failures in ErrBackendUnavailable.
type Broker interface {
	Ping(ctx context.Context) error
	// Enqueue adds env to the waiting set and returns the number of jobs
	// ahead of it.
	Enqueue(ctx context.Context, env Envelope) (int64, error)
	// Dequeue moves the next due job to the active set. It returns nil
	// without error when nothing is waiting.
	Dequeue(ctx context.Context) (*Envelope, error)
	// Retry moves an active job to the delayed set until delay has passed.
	Retry(ctx context.Context, env Envelope, delay time.Duration) error
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, env Envelope) error
	// Remove deletes a job in any non-final state and reports whether it
	// was present.
	Remove(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, state JobState) ([]Envelope, error)
	Counts(ctx context.Context) (Counts, error)
	Close() error
}

// IsConnectionError reports whether err means the broker cannot be reached
// or cannot accept writes.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return strings.Contains(err.Error(), "READONLY")
}
