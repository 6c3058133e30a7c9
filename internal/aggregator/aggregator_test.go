package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgescan/scan-engine/internal/model"
	"forgescan/scan-engine/internal/sandbox"
	"forgescan/scan-engine/internal/scanners"
)

type fakeResult struct {
	stdout   string
	exitCode int
	err      error
	noExec   bool
	delay    time.Duration
}

type fakeExecutor struct {
	mu      sync.Mutex
	results map[string]fakeResult
	order   []string
	reqs    []sandbox.Request
}

func (f *fakeExecutor) Execute(ctx context.Context, req sandbox.Request) (*model.ToolExecution, error) {
	f.mu.Lock()
	r := f.results[req.Tool]
	f.order = append(f.order, req.Tool)
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.noExec {
		return nil, r.err
	}
	return &model.ToolExecution{
		Tool:      req.Tool,
		Command:   []string{req.Tool, req.Target},
		ExitCode:  r.exitCode,
		Stdout:    r.stdout,
		Success:   r.err == nil && r.exitCode == 0,
		Timestamp: time.Now(),
	}, r.err
}

const nmapOut = `PORT    STATE SERVICE VERSION
22/tcp  open  ssh     OpenSSH 8.9
80/tcp  open  http    nginx
`

const nucleiOut = `{"template-id":"tech-detect","info":{"name":"Nginx detect","severity":"info"},"matched-at":"https://example.com"}
{"template-id":"cve-x","info":{"name":"Old nginx","severity":"HIGH"},"matched-at":"https://example.com"}
`

func newAggregator(results map[string]fakeResult) (*Aggregator, *fakeExecutor) {
	f := &fakeExecutor{results: results}
	return New(f, scanners.Default(), nil), f
}

func TestRunManyParallelAccountsForFailures(t *testing.T) {
	t.Parallel()

	agg, f := newAggregator(map[string]fakeResult{
		"nmap":    {stdout: nmapOut},
		"nuclei":  {stdout: nucleiOut},
		"nikto":   {stdout: "+ vulnerable header", err: &sandbox.TimeoutError{Tool: "nikto", Timeout: time.Second}},
		"sslscan": {noExec: true, err: fmt.Errorf("%w: sslscan", scanners.ErrToolUnavailable)},
		"whatweb": {stdout: "security warning everywhere", exitCode: 1},
	})

	var mu sync.Mutex
	var seen []Progress
	tools := []ToolSpec{{Name: "nmap"}, {Name: "nuclei"}, {Name: "nikto"}, {Name: "sslscan"}, {Name: "whatweb"}}
	res := agg.RunMany(context.Background(), tools, "https://example.com", model.ExecParallel, RunOptions{
		OnProgress: func(p Progress) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, p)
		},
	})

	require.Len(t, res.ToolExecutions, 5)
	for i, e := range res.ToolExecutions {
		assert.Equal(t, tools[i].Name, e.Tool, "results keep the requested order")
	}
	assert.Equal(t, 5, res.Metadata.TotalTools)
	assert.Equal(t, 5, res.Metadata.CompletedTools)
	assert.Equal(t, 2, res.Metadata.SuccessfulTools)
	assert.Equal(t, 3, res.Metadata.FailedTools)
	assert.Equal(t, model.RunPartial, res.Metadata.Status)
	assert.Equal(t, model.ExecParallel, res.Metadata.Mode)

	// only nmap and nuclei output is parsed
	assert.Equal(t, 4, res.Summary.Total)
	assert.Equal(t, 1, res.Summary.High)
	assert.Equal(t, 3, res.Summary.Info)
	for _, v := range res.Vulnerabilities {
		assert.Contains(t, []string{"nmap", "nuclei"}, v.Tool)
	}

	ssl := res.ToolExecutions[3]
	assert.False(t, ssl.Success)
	assert.Equal(t, -1, ssl.ExitCode)
	assert.Contains(t, ssl.Error, "unavailable")

	nikto := res.ToolExecutions[2]
	assert.False(t, nikto.Success)
	assert.NotEmpty(t, nikto.Error)

	require.Len(t, seen, 5)
	assert.Equal(t, 5, seen[4].Completed)
	assert.Equal(t, 100, seen[4].Percent())

	for _, r := range f.reqs {
		assert.True(t, r.WaitForSlot, "aggregated runs queue behind the slot limit")
	}
}

func TestRunManySequentialKeepsGoing(t *testing.T) {
	t.Parallel()

	agg, f := newAggregator(map[string]fakeResult{
		"nmap":    {err: &sandbox.SpawnError{Tool: "nmap", Err: errors.New("not found")}},
		"sslscan": {stdout: "TLSv1.0   enabled\n"},
	})

	res := agg.RunMany(context.Background(), []ToolSpec{{Name: "nmap"}, {Name: "sslscan"}}, "example.com", model.ExecSequential, RunOptions{Timeout: time.Minute})

	assert.Equal(t, []string{"nmap", "sslscan"}, f.order)
	require.Len(t, res.ToolExecutions, 2)
	assert.False(t, res.ToolExecutions[0].Success)
	assert.True(t, res.ToolExecutions[1].Success)
	assert.Equal(t, model.ExecSequential, res.Metadata.Mode)
	for _, r := range f.reqs {
		assert.Equal(t, time.Minute, r.Timeout)
	}
}

func TestRunManyAllFailed(t *testing.T) {
	t.Parallel()

	agg, _ := newAggregator(map[string]fakeResult{
		"nmap": {noExec: true, err: sandbox.ErrConcurrencyLimit},
	})
	res := agg.RunMany(context.Background(), []ToolSpec{{Name: "nmap"}}, "example.com", "", RunOptions{})

	assert.Equal(t, model.RunFailed, res.Metadata.Status)
	assert.Equal(t, model.ExecParallel, res.Metadata.Mode, "unset mode runs in parallel")
	assert.Empty(t, res.Vulnerabilities)
	assert.NotNil(t, res.Vulnerabilities)
}

func TestRunManyParallelOverlaps(t *testing.T) {
	t.Parallel()

	agg, _ := newAggregator(map[string]fakeResult{
		"nmap":    {delay: 200 * time.Millisecond},
		"whatweb": {delay: 200 * time.Millisecond},
		"sslscan": {delay: 200 * time.Millisecond},
	})

	start := time.Now()
	res := agg.RunMany(context.Background(), []ToolSpec{{Name: "nmap"}, {Name: "whatweb"}, {Name: "sslscan"}}, "example.com", model.ExecParallel, RunOptions{})
	assert.Less(t, time.Since(start), 550*time.Millisecond)
	assert.Equal(t, model.RunCompleted, res.Metadata.Status)
}

func TestRunManyDeduplicates(t *testing.T) {
	t.Parallel()

	dup := "80/tcp open http\n80/tcp open http\n"
	agg, _ := newAggregator(map[string]fakeResult{"nmap": {stdout: dup}})

	res := agg.RunMany(context.Background(), []ToolSpec{{Name: "nmap"}}, "example.com", model.ExecSequential, RunOptions{})
	assert.Len(t, res.Vulnerabilities, 1)
	assert.Equal(t, 1, res.Summary.Total)
}

func TestRunManyKeepsDistinctScriptFindings(t *testing.T) {
	t.Parallel()

	out := `80/tcp  open  http
| http-slowloris-check:
|   VULNERABLE:
|     State: LIKELY VULNERABLE
445/tcp open  microsoft-ds
| smb-vuln-ms17-010:
|   VULNERABLE:
|     State: VULNERABLE
`
	agg, _ := newAggregator(map[string]fakeResult{"nmap": {stdout: out}})

	res := agg.RunMany(context.Background(), []ToolSpec{{Name: "nmap"}}, "10.0.0.5", model.ExecSequential, RunOptions{})

	var scripts []string
	for _, v := range res.Vulnerabilities {
		if v.Type == "nse-finding" {
			scripts = append(scripts, v.Location+" "+v.Title)
		}
	}
	assert.ElementsMatch(t, []string{
		"80/tcp Potential vulnerability detected by http-slowloris-check",
		"445/tcp Potential vulnerability detected by smb-vuln-ms17-010",
	}, scripts)
	assert.Equal(t, 4, res.Summary.Total)
}

func TestRunManyGenericFallbackParser(t *testing.T) {
	t.Parallel()

	agg, _ := newAggregator(map[string]fakeResult{"whatweb": {stdout: "Possible Security issue: X-Powered-By"}})

	res := agg.RunMany(context.Background(), []ToolSpec{{Name: "whatweb"}}, "https://example.com", model.ExecSequential, RunOptions{})
	require.Len(t, res.Vulnerabilities, 1)
	assert.Equal(t, model.SeverityMedium, res.Vulnerabilities[0].Severity)
	assert.Equal(t, "whatweb", res.Vulnerabilities[0].Tool)
}

func TestModeTools(t *testing.T) {
	t.Parallel()

	tools, ok := ModeTools("full")
	assert.True(t, ok)
	assert.Equal(t, []string{"nmap", "nuclei", "nikto", "sslscan", "whatweb"}, tools)

	tools, ok = ModeTools("does-not-exist")
	assert.False(t, ok)
	assert.Equal(t, []string{"nmap"}, tools, "unknown modes run the minimal default")

	tools[0] = "mutated"
	again, _ := ModeTools("does-not-exist")
	assert.Equal(t, "nmap", again[0])

	assert.Equal(t, []string{"full", "network", "quick", "vulnerability", "web"}, Modes())
}

func TestPlan(t *testing.T) {
	t.Parallel()

	single := Plan(model.ScanJob{
		Selector: model.ToolSelector{ScanType: model.ScanTypeNuclei},
		Options:  model.Options{ExtraArgs: []string{"-tags", "cve"}},
	})
	assert.Equal(t, []ToolSpec{{Name: "nuclei", Args: []string{"-tags", "cve"}}}, single)

	multi := Plan(model.ScanJob{
		Selector: model.ToolSelector{ScanType: model.ScanTypeMulti, ScanMode: "network"},
		Options:  model.Options{ExtraArgs: []string{"-tags", "cve"}},
	})
	assert.Equal(t, []ToolSpec{{Name: "nmap"}, {Name: "sslscan"}}, multi)
}
