package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:6379", c.Broker.Addr)
	assert.Equal(t, "forgescan", c.Broker.Prefix)
	assert.Equal(t, 3*time.Second, c.Broker.ProbeTimeout)
	assert.False(t, c.Queue.ForceDirect)
	assert.Equal(t, 3, c.Queue.MaxConcurrentScans)
	assert.Equal(t, 3, c.Queue.MaxAttempts)
	assert.Equal(t, 2*time.Second, c.Queue.Backoff)
	assert.Equal(t, 5, c.Sandbox.MaxConcurrentExecutions)
	assert.Equal(t, 5*time.Second, c.Sandbox.KillGrace)
	assert.Equal(t, 10<<20, c.Sandbox.MaxOutputBytes)
	assert.Equal(t, RuntimeProcess, c.Sandbox.Runtime)
	assert.Empty(t, c.Tools.Timeouts)
	assert.Equal(t, "127.0.0.1:9001", c.HTTP.Addr)
	assert.Equal(t, "info", c.Log.Level)
	assert.Empty(t, c.Telemetry.OTLPEndpoint)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("FORGESCAN_BROKER_ADDR", "redis.internal:6380")
	t.Setenv("FORGESCAN_QUEUE_FORCE_DIRECT", "true")
	t.Setenv("FORGESCAN_SANDBOX_MAX_CONCURRENT_EXECUTIONS", "2")
	t.Setenv("FORGESCAN_SANDBOX_KILL_GRACE", "750ms")
	t.Setenv("FORGESCAN_TOOLS_TIMEOUTS", "nmap=5m, nuclei=20m")
	t.Setenv("FORGESCAN_LOG_FORMAT", "JSON")

	c, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", c.Broker.Addr)
	assert.True(t, c.Queue.ForceDirect)
	assert.Equal(t, 2, c.Sandbox.MaxConcurrentExecutions)
	assert.Equal(t, 750*time.Millisecond, c.Sandbox.KillGrace)
	assert.Equal(t, map[string]time.Duration{
		"nmap":   5 * time.Minute,
		"nuclei": 20 * time.Minute,
	}, c.Tools.Timeouts)
	assert.Equal(t, "json", c.Log.Format)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
broker:
  addr: memory
sandbox:
  runtime: docker
tools:
  timeouts:
    sqlmap: 15m
http:
  addr: 0.0.0.0:8080
`), 0o600))

	v := New()
	v.Set("config", path)
	c, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, MemoryBroker, c.Broker.Addr)
	assert.Equal(t, RuntimeDocker, c.Sandbox.Runtime)
	assert.Equal(t, 15*time.Minute, c.Tools.Timeouts["sqlmap"])
	assert.Equal(t, "0.0.0.0:8080", c.HTTP.Addr)
}

func TestLoadMissingConfigFile(t *testing.T) {
	v := New()
	v.Set("config", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load(v)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
		want string
	}{
		{"zero executions", "sandbox.max_concurrent_executions", 0, "sandbox.max_concurrent_executions"},
		{"negative workers", "queue.max_concurrent_scans", -1, "queue.max_concurrent_scans"},
		{"unknown runtime", "sandbox.runtime", "vm", "sandbox.runtime"},
		{"bad level", "log.level", "loud", "log.level"},
		{"bad format", "log.format", "xml", "log.format"},
		{"zero grace", "sandbox.kill_grace", "0s", "kill_grace"},
		{"malformed timeouts", "tools.timeouts", "nmap:5m", "tool=duration"},
		{"unparseable timeout", "tools.timeouts", "nmap=soon", "nmap"},
		{"non-positive timeout", "tools.timeouts", "nmap=-1s", "nmap"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.Set(tt.key, tt.val)
			_, err := Load(v)
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseTimeoutsSkipsEmptyPairs(t *testing.T) {
	got, err := parseTimeouts("nmap=1m,,")
	require.NoError(t, err)
	assert.Equal(t, map[string]time.Duration{"nmap": time.Minute}, got)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Log{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "scan_id", "s-1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"scan_id":"s-1"`)
}
