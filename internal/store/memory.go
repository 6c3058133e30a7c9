package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"forgescan/scan-engine/internal/model"
)

type Memory struct {
	mu    sync.RWMutex
	scans map[string]model.Scan
	vulns map[string][]model.Vulnerability
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		scans: make(map[string]model.Scan),
		vulns: make(map[string][]model.Vulnerability),
		now:   time.Now,
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) CreateScan(_ context.Context, scan model.Scan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.scans[scan.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, scan.ID)
	}
	if scan.Status == "" {
		scan.Status = model.StatePending
	}
	if scan.CreatedAt.IsZero() {
		scan.CreatedAt = m.now()
	}
	m.scans[scan.ID] = scan
	return nil
}

func (m *Memory) GetScan(_ context.Context, id string) (model.Scan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.scans[id]
	if !ok {
		return model.Scan{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

func (m *Memory) UpdateScanStatus(_ context.Context, id string, status model.ScanState, f Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.scans[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !s.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, status)
	}

	now := m.now()
	s.Status = status
	if f.JobID != "" {
		s.JobID = f.JobID
	}
	if f.Error != "" {
		s.Error = f.Error
	}
	if f.Result != nil {
		s.Result = f.Result
	}
	if status == model.StateRunning && s.StartedAt == nil {
		s.StartedAt = &now
	}
	if status.Terminal() {
		s.CompletedAt = &now
	}
	m.scans[id] = s
	return nil
}

func (m *Memory) InsertVulnerabilities(_ context.Context, scanID string, vulns []model.Vulnerability) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.scans[scanID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, scanID)
	}
	m.vulns[scanID] = append(m.vulns[scanID], vulns...)
	s.VulnerabilityCount = len(m.vulns[scanID])
	m.scans[scanID] = s
	return nil
}

func (m *Memory) Vulnerabilities(_ context.Context, scanID string) ([]model.Vulnerability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.scans[scanID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, scanID)
	}
	return append([]model.Vulnerability(nil), m.vulns[scanID]...), nil
}

func (m *Memory) CountScans(_ context.Context, f Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, s := range m.scans {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.Target != "" && s.Target != f.Target {
			continue
		}
		if !f.Since.IsZero() && s.CreatedAt.Before(f.Since) {
			continue
		}
		n++
	}
	return n, nil
}
