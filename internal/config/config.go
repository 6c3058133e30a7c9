// Package config loads engine settings from flags, FORGESCAN_* environment
// variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"forgescan/scan-engine/internal/queue"
	"forgescan/scan-engine/internal/sandbox"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const EnvPrefix = "FORGESCAN"

const (
	RuntimeProcess = "process"
	RuntimeDocker  = "docker"

	// MemoryBroker selects the in-process broker instead of Redis.
	MemoryBroker = "memory"
)

type Broker struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	Prefix       string
	ProbeTimeout time.Duration
}

type Queue struct {
	ForceDirect        bool
	MaxConcurrentScans int
	MaxAttempts        int
	Backoff            time.Duration
	PollInterval       time.Duration
}

type Sandbox struct {
	MaxConcurrentExecutions int
	ToolsPath               string
	WorkDir                 string
	KillGrace               time.Duration
	MaxOutputBytes          int
	Runtime                 string
}

type Tools struct {
	Timeouts map[string]time.Duration
	Catalog  string
}

type HTTP struct {
	Addr        string
	SubmitRate  float64
	SubmitBurst int
}

type Log struct {
	Level  string
	Format string
}

type Telemetry struct {
	OTLPEndpoint string
	Insecure     bool
}

type Config struct {
	Broker    Broker
	Queue     Queue
	Sandbox   Sandbox
	Tools     Tools
	HTTP      HTTP
	Log       Log
	Telemetry Telemetry
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("broker.addr", "127.0.0.1:6379")
	v.SetDefault("broker.username", "")
	v.SetDefault("broker.password", "")
	v.SetDefault("broker.db", 0)
	v.SetDefault("broker.prefix", "forgescan")
	v.SetDefault("broker.probe_timeout", queue.DefaultProbeTimeout)

	v.SetDefault("queue.force_direct", false)
	v.SetDefault("queue.max_concurrent_scans", queue.DefaultWorkers)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff", 2*time.Second)
	v.SetDefault("queue.poll_interval", queue.DefaultPollInterval)

	v.SetDefault("sandbox.max_concurrent_executions", sandbox.DefaultMaxConcurrent)
	v.SetDefault("sandbox.tools_path", sandbox.DefaultToolsPath)
	v.SetDefault("sandbox.work_dir", os.TempDir())
	v.SetDefault("sandbox.kill_grace", sandbox.DefaultKillGrace)
	v.SetDefault("sandbox.max_output_bytes", sandbox.DefaultMaxOutputBytes)
	v.SetDefault("sandbox.runtime", RuntimeProcess)

	v.SetDefault("tools.timeouts", "")
	v.SetDefault("tools.catalog", "")

	v.SetDefault("http.addr", "127.0.0.1:9001")
	v.SetDefault("http.submit_rate", 2.0)
	v.SetDefault("http.submit_burst", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.insecure", true)
}

// Load reads v into a Config. When the "config" key names a file it is read
// first; flags and environment still take precedence over it.
func Load(v *viper.Viper) (Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
		}
	}

	timeouts, err := parseTimeouts(v.Get("tools.timeouts"))
	if err != nil {
		return Config{}, err
	}

	c := Config{
		Broker: Broker{
			Addr:         v.GetString("broker.addr"),
			Username:     v.GetString("broker.username"),
			Password:     v.GetString("broker.password"),
			DB:           v.GetInt("broker.db"),
			Prefix:       v.GetString("broker.prefix"),
			ProbeTimeout: v.GetDuration("broker.probe_timeout"),
		},
		Queue: Queue{
			ForceDirect:        v.GetBool("queue.force_direct"),
			MaxConcurrentScans: v.GetInt("queue.max_concurrent_scans"),
			MaxAttempts:        v.GetInt("queue.max_attempts"),
			Backoff:            v.GetDuration("queue.backoff"),
			PollInterval:       v.GetDuration("queue.poll_interval"),
		},
		Sandbox: Sandbox{
			MaxConcurrentExecutions: v.GetInt("sandbox.max_concurrent_executions"),
			ToolsPath:               v.GetString("sandbox.tools_path"),
			WorkDir:                 v.GetString("sandbox.work_dir"),
			KillGrace:               v.GetDuration("sandbox.kill_grace"),
			MaxOutputBytes:          v.GetInt("sandbox.max_output_bytes"),
			Runtime:                 strings.ToLower(v.GetString("sandbox.runtime")),
		},
		Tools: Tools{
			Timeouts: timeouts,
			Catalog:  v.GetString("tools.catalog"),
		},
		HTTP: HTTP{
			Addr:        v.GetString("http.addr"),
			SubmitRate:  v.GetFloat64("http.submit_rate"),
			SubmitBurst: v.GetInt("http.submit_burst"),
		},
		Log: Log{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
		Telemetry: Telemetry{
			OTLPEndpoint: v.GetString("telemetry.otlp_endpoint"),
			Insecure:     v.GetBool("telemetry.insecure"),
		},
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error
	positive := map[string]int{
		"queue.max_concurrent_scans":        c.Queue.MaxConcurrentScans,
		"queue.max_attempts":                c.Queue.MaxAttempts,
		"sandbox.max_concurrent_executions": c.Sandbox.MaxConcurrentExecutions,
		"sandbox.max_output_bytes":          c.Sandbox.MaxOutputBytes,
		"http.submit_burst":                 c.HTTP.SubmitBurst,
	}
	keys := make([]string, 0, len(positive))
	for k := range positive {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if positive[k] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", k, positive[k]))
		}
	}
	if c.Broker.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("broker.probe_timeout must be positive"))
	}
	if c.Sandbox.KillGrace <= 0 {
		errs = append(errs, errors.New("sandbox.kill_grace must be positive"))
	}
	if c.HTTP.SubmitRate <= 0 {
		errs = append(errs, errors.New("http.submit_rate must be positive"))
	}
	switch c.Sandbox.Runtime {
	case RuntimeProcess, RuntimeDocker:
	default:
		errs = append(errs, fmt.Errorf("sandbox.runtime %q is not %s or %s", c.Sandbox.Runtime, RuntimeProcess, RuntimeDocker))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// parseTimeouts accepts "nmap=5m,nuclei=20m" from the environment or a map
// from the config file.
func parseTimeouts(raw any) (map[string]time.Duration, error) {
	out := map[string]time.Duration{}
	add := func(tool, val string) error {
		d, err := time.ParseDuration(strings.TrimSpace(val))
		if err != nil || d <= 0 {
			return fmt.Errorf("%w: tools.timeouts: bad timeout %q for %s", ErrInvalidConfig, val, tool)
		}
		out[strings.TrimSpace(tool)] = d
		return nil
	}

	switch t := raw.(type) {
	case nil:
	case string:
		for _, pair := range strings.Split(t, ",") {
			if strings.TrimSpace(pair) == "" {
				continue
			}
			tool, val, ok := strings.Cut(pair, "=")
			if !ok {
				return nil, fmt.Errorf("%w: tools.timeouts: %q is not tool=duration", ErrInvalidConfig, pair)
			}
			if err := add(tool, val); err != nil {
				return nil, err
			}
		}
	case map[string]any:
		for tool, val := range t {
			if err := add(tool, fmt.Sprint(val)); err != nil {
				return nil, err
			}
		}
	case map[string]string:
		for tool, val := range t {
			if err := add(tool, val); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("%w: tools.timeouts has unsupported type %T", ErrInvalidConfig, raw)
	}
	return out, nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}

// NewLogger builds the process logger from the log settings.
func (l Log) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
