package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgescan/scan-engine/internal/model"
)

func TestMemoryLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.CreateScan(ctx, model.Scan{ID: "s1", Target: "example.com", ScanType: model.ScanTypeNmap}))
	assert.ErrorIs(t, m.CreateScan(ctx, model.Scan{ID: "s1"}), ErrExists)

	s, err := m.GetScan(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StatePending, s.Status)
	assert.False(t, s.CreatedAt.IsZero())

	require.NoError(t, m.UpdateScanStatus(ctx, "s1", model.StateQueued, Fields{JobID: "j1"}))
	require.NoError(t, m.UpdateScanStatus(ctx, "s1", model.StateRunning, Fields{}))
	s, _ = m.GetScan(ctx, "s1")
	require.NotNil(t, s.StartedAt)
	assert.Equal(t, "j1", s.JobID)

	res := &model.AggregatedResult{Target: "example.com"}
	require.NoError(t, m.UpdateScanStatus(ctx, "s1", model.StateCompleted, Fields{Result: res}))
	s, _ = m.GetScan(ctx, "s1")
	assert.Equal(t, model.StateCompleted, s.Status)
	assert.Same(t, res, s.Result)
	require.NotNil(t, s.CompletedAt)
}

func TestMemoryTerminalStatesAreFinal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.CreateScan(ctx, model.Scan{ID: "s1"}))
	require.NoError(t, m.UpdateScanStatus(ctx, "s1", model.StateCancelled, Fields{}))

	err := m.UpdateScanStatus(ctx, "s1", model.StateFailed, Fields{Error: "late failure"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	s, _ := m.GetScan(ctx, "s1")
	assert.Equal(t, model.StateCancelled, s.Status)
	assert.Empty(t, s.Error)

	require.NoError(t, m.CreateScan(ctx, model.Scan{ID: "s2", Status: model.StateRunning}))
	assert.ErrorIs(t, m.UpdateScanStatus(ctx, "s2", model.StateQueued, Fields{}), ErrInvalidTransition)
	assert.ErrorIs(t, m.UpdateScanStatus(ctx, "missing", model.StateQueued, Fields{}), ErrNotFound)
}

func TestMemoryVulnerabilitiesAndCounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	old := time.Now().Add(-time.Hour)
	require.NoError(t, m.CreateScan(ctx, model.Scan{ID: "a", Target: "example.com", CreatedAt: old}))
	require.NoError(t, m.CreateScan(ctx, model.Scan{ID: "b", Target: "example.com"}))
	require.NoError(t, m.CreateScan(ctx, model.Scan{ID: "c", Target: "other.org"}))
	require.NoError(t, m.UpdateScanStatus(ctx, "c", model.StateFailed, Fields{Error: "boom"}))

	vulns := []model.Vulnerability{{Severity: model.SeverityHigh, Title: "x"}, {Severity: model.SeverityLow, Title: "y"}}
	require.NoError(t, m.InsertVulnerabilities(ctx, "b", vulns))
	require.NoError(t, m.InsertVulnerabilities(ctx, "b", vulns[:1]))
	assert.ErrorIs(t, m.InsertVulnerabilities(ctx, "zzz", vulns), ErrNotFound)

	got, err := m.Vulnerabilities(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, got, 3)
	s, _ := m.GetScan(ctx, "b")
	assert.Equal(t, 3, s.VulnerabilityCount)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 3},
		{"by target", Filter{Target: "example.com"}, 2},
		{"by status", Filter{Status: model.StateFailed}, 1},
		{"since", Filter{Since: time.Now().Add(-time.Minute)}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := m.CountScans(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}
