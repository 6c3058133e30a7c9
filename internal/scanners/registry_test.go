package scanners

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildArgsInjectsTarget(t *testing.T) {
	t.Parallel()

	r := Default()
	tests := []struct {
		tool string
		want []string
	}{
		{"nuclei", []string{"-jsonl", "-silent", "-no-color", "-rl", "10", "-u", "https://example.com/app"}},
		{"nikto", []string{"-nointeractive", "-ask", "no", "-rl", "10", "-h", "https://example.com/app"}},
		{"nmap", []string{"-sV", "-T4", "-Pn", "--top-ports", "1000", "-rl", "10", "example.com"}},
		{"subfinder", []string{"-silent", "-rl", "10", "-d", "example.com"}},
		{"whatweb", []string{"--color=never", "-a", "1", "-rl", "10", "https://example.com/app"}},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			tool, ok := r.Tool(tt.tool)
			require.True(t, ok)
			got := tool.BuildArgs([]string{"-rl", "10"}, "https://example.com/app")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildArgsDoesNotAliasDefaults(t *testing.T) {
	t.Parallel()

	tool := Tool{Name: "x", DefaultArgs: make([]string, 1, 8)}
	tool.DefaultArgs[0] = "-a"
	first := tool.BuildArgs(nil, "one.example")
	second := tool.BuildArgs(nil, "two.example")
	assert.Equal(t, []string{"-a", "one.example"}, first)
	assert.Equal(t, []string{"-a", "two.example"}, second)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	r := Default()

	_, err := r.Resolve("zap")
	assert.ErrorIs(t, err, ErrToolUnknown)

	tool, err := r.Resolve("nmap")
	require.NoError(t, err, "unprobed tools are assumed present")
	assert.Equal(t, "nmap", tool.Binary)

	r.SetStatus("nmap", Status{Checked: true, Available: false})
	_, err = r.Resolve("nmap")
	assert.ErrorIs(t, err, ErrToolUnavailable)
}

func TestSetTimeout(t *testing.T) {
	t.Parallel()

	r := Default()
	require.NoError(t, r.SetTimeout("nuclei", 90*time.Second))
	tool, _ := r.Tool("nuclei")
	assert.Equal(t, 90*time.Second, tool.Timeout)

	assert.ErrorIs(t, r.SetTimeout("zap", time.Second), ErrToolUnknown)
	assert.Error(t, r.SetTimeout("nuclei", 0))
}

func TestParseOutputTagsTool(t *testing.T) {
	t.Parallel()

	r := Default()
	tool, _ := r.Tool("whatweb")
	vulns, err := tool.ParseOutput("WARNING: jQuery 1.4 detected")
	require.NoError(t, err)
	require.Len(t, vulns, 1)
	assert.Equal(t, "whatweb", vulns[0].Tool)
}

func TestExtractVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		out, want string
	}{
		{"[INF] Nuclei Engine Version: v3.1.0", "3.1.0"},
		{"Nmap version 7.94 ( https://nmap.org )", "7.94"},
		{"sqlmap 1.7.2#stable", "1.7.2"},
		{"whatweb build 2024", "whatweb build 2024"},
		{"\n\n", "unknown"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractVersion(tt.out))
		})
	}
}

func TestProberMarksAvailability(t *testing.T) {
	t.Parallel()

	r := Default()
	var calls atomic.Int32
	var mu sync.Mutex
	var versioned []string
	p := &Prober{
		Timeout: time.Second,
		Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			calls.Add(1)
			if name == "which" {
				if args[0] == "nuclei" || args[0] == "nmap" {
					return []byte("/opt/tools/" + args[0] + "\n"), nil
				}
				return nil, errors.New("exit status 1")
			}
			mu.Lock()
			versioned = append(versioned, name)
			mu.Unlock()
			if name == "/opt/tools/nmap" {
				return []byte("Nmap version 7.94"), nil
			}
			// nuclei prints its version and exits non-zero
			return []byte("Nuclei Engine Version: v3.2.4"), errors.New("exit status 2")
		},
	}

	entries := p.Probe(context.Background(), r)
	require.Len(t, entries, len(DefaultTools()))

	nmapStatus := r.Status("nmap")
	assert.True(t, nmapStatus.Available)
	assert.Equal(t, "/opt/tools/nmap", nmapStatus.Path)
	assert.Equal(t, "7.94", nmapStatus.Version)
	assert.Equal(t, "3.2.4", r.Status("nuclei").Version)
	// version flags go to the binary which found, never a bare name
	assert.ElementsMatch(t, []string{"/opt/tools/nmap", "/opt/tools/nuclei"}, versioned)

	nikto := r.Status("nikto")
	assert.True(t, nikto.Checked)
	assert.False(t, nikto.Available)
	assert.Equal(t, "unknown", nikto.Version)

	_, err := r.Resolve("nikto")
	assert.ErrorIs(t, err, ErrToolUnavailable)
}

func TestProberTimeout(t *testing.T) {
	t.Parallel()

	r := Default()
	p := &Prober{
		Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	st, err := p.ProbeOne(context.Background(), r, "sslscan")
	require.NoError(t, err)
	assert.False(t, st.Available)
	assert.True(t, strings.Contains(st.Error, "timed out"))

	_, err = p.ProbeOne(context.Background(), r, "zap")
	assert.ErrorIs(t, err, ErrToolUnknown)
}

func TestCatalogApply(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tools:
  nmap:
    timeout: 5m
    default_args: ["-sT"]
  nuclei:
    image: registry.local/nuclei:3
`), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)

	tools, err := c.Apply(DefaultTools())
	require.NoError(t, err)

	r := NewRegistry(tools, nil)
	nmap, _ := r.Tool("nmap")
	assert.Equal(t, 5*time.Minute, nmap.Timeout)
	assert.Equal(t, []string{"-sT"}, nmap.DefaultArgs)
	nuclei, _ := r.Tool("nuclei")
	assert.Equal(t, "registry.local/nuclei:3", nuclei.Image)

	bad := &Catalog{Tools: map[string]CatalogOverride{"zap": {Timeout: "1m"}}}
	_, err = bad.Apply(DefaultTools())
	assert.ErrorIs(t, err, ErrToolUnknown)

	badTimeout := &Catalog{Tools: map[string]CatalogOverride{"nmap": {Timeout: "soon"}}}
	_, err = badTimeout.Apply(DefaultTools())
	assert.Error(t, err)
}
