// Package store is the persistence contract the engine relies on, with an
// in-memory implementation.
package store

import (
	"context"
	"errors"
	"time"

	"forgescan/scan-engine/internal/model"
)

var (
	ErrNotFound          = errors.New("scan not found")
	ErrExists            = errors.New("scan already exists")
	ErrInvalidTransition = errors.New("invalid scan state transition")
)

// Fields are the optional values written alongside a status change. Zero
// values leave the stored value untouched.
type Fields struct {
	JobID  string
	Error  string
	Result *model.AggregatedResult
}

// Filter selects scans for CountScans. Zero values match everything.
type Filter struct {
	Status model.ScanState
	Target string
	Since  time.Time
}

type Store interface {
	CreateScan(ctx context.Context, scan model.Scan) error
	GetScan(ctx context.Context, id string) (model.Scan, error)
	// UpdateScanStatus moves a scan to status. It fails with
	// ErrInvalidTransition when the current state does not allow it, which
	// keeps terminal states final.
	UpdateScanStatus(ctx context.Context, id string, status model.ScanState, f Fields) error
	InsertVulnerabilities(ctx context.Context, scanID string, vulns []model.Vulnerability) error
	Vulnerabilities(ctx context.Context, scanID string) ([]model.Vulnerability, error)
	CountScans(ctx context.Context, f Filter) (int, error)
}
