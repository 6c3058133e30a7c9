package scanners

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"
)

// DefaultProbeTimeout bounds each which/version call.
const DefaultProbeTimeout = 5 * time.Second

var versionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bv(\d+\.\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)version[:\s]+v?(\d+\.\d+(?:\.\d+)?)`),
	regexp.MustCompile(`\b(\d+\.\d+(?:\.\d+)?)\b`),
}

// CommandFunc runs name with args and returns its combined output.
type CommandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Prober checks that catalog binaries exist and records their versions.
type Prober struct {
	Run     CommandFunc
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewProber returns a prober that runs commands with PATH restricted to
// searchPath.
func NewProber(searchPath string, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		Run:     execCommand(searchPath),
		Timeout: DefaultProbeTimeout,
		Logger:  logger,
	}
}

func execCommand(searchPath string) CommandFunc {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Env = []string{"PATH=" + searchPath}
		return cmd.CombinedOutput()
	}
}

// Probe checks every tool in r concurrently. Failures only mark the tool
// unavailable.
func (p *Prober) Probe(ctx context.Context, r *Registry) []Entry {
	var wg sync.WaitGroup
	for _, name := range r.Names() {
		t, _ := r.Tool(name)
		wg.Add(1)
		go func(t Tool) {
			defer wg.Done()
			st := p.probeTool(ctx, t)
			r.SetStatus(t.Name, st)
			if !st.Available {
				p.logger().Warn("tool unavailable", "tool", t.Name, "error", st.Error)
				return
			}
			p.logger().Debug("tool available", "tool", t.Name, "path", st.Path, "version", st.Version)
		}(t)
	}
	wg.Wait()
	return r.Entries()
}

// ProbeOne re-checks a single tool on demand.
func (p *Prober) ProbeOne(ctx context.Context, r *Registry, name string) (Status, error) {
	t, ok := r.Tool(name)
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrToolUnknown, name)
	}
	st := p.probeTool(ctx, t)
	r.SetStatus(name, st)
	return st, nil
}

func (p *Prober) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Prober) probeTool(ctx context.Context, t Tool) Status {
	st := Status{Checked: true, Version: "unknown", CheckedAt: time.Now()}

	path, err := p.run(ctx, "which", t.Binary)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Path = strings.TrimSpace(firstLine(path))
	if st.Path == "" {
		st.Error = "which returned no path"
		return st
	}
	st.Available = true

	if len(t.VersionArgs) == 0 {
		return st
	}
	// run the binary which found, not whatever the engine's PATH resolves;
	// some tools print their version and exit non-zero
	out, err := p.run(ctx, st.Path, t.VersionArgs...)
	if len(out) == 0 && err != nil {
		return st
	}
	st.Version = ExtractVersion(out)
	return st
}

func (p *Prober) run(ctx context.Context, name string, args ...string) (string, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := p.Run(ctx, name, args...)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return string(out), fmt.Errorf("%s: timed out after %s", name, timeout)
	}
	return string(out), err
}

// ExtractVersion pulls a version number out of free-form version output. It
// tries vX.Y.Z, "version X.Y" and bare X.Y in that order, then falls back to
// the first line, then "unknown".
func ExtractVersion(out string) string {
	for _, re := range versionPatterns {
		if m := re.FindStringSubmatch(out); m != nil {
			return m[1]
		}
	}
	if line := strings.TrimSpace(firstLine(out)); line != "" {
		if len(line) > 80 {
			line = line[:80]
		}
		return line
	}
	return "unknown"
}

func firstLine(s string) string {
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line
		}
	}
	return ""
}
