package scanners

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"forgescan/scan-engine/internal/model"
)

var (
	ErrToolUnknown     = errors.New("tool unknown")
	ErrToolUnavailable = errors.New("tool unavailable")
)

type Category string

const (
	CategoryNetwork       Category = "network"
	CategoryWeb           Category = "web"
	CategoryCrypto        Category = "crypto"
	CategoryVulnerability Category = "vulnerability"
)

// Tool describes one external scanner binary.
type Tool struct {
	Name        string
	Binary      string
	Image       string
	Category    Category
	DefaultArgs []string
	Timeout     time.Duration
	Target      TargetInjector
	VersionArgs []string
	Parser      Parser
}

// BuildArgs returns defaults + extra with the target injected the way the
// tool expects it. The target must already be sanitized.
func (t Tool) BuildArgs(extra []string, target string) []string {
	args := make([]string, 0, len(t.DefaultArgs)+len(extra)+2)
	args = append(args, t.DefaultArgs...)
	args = append(args, extra...)
	inj := t.Target
	if inj == nil {
		inj = BareTarget{}
	}
	return inj.Inject(args, target)
}

// ParseOutput normalizes raw tool output into vulnerabilities tagged with the
// tool name.
func (t Tool) ParseOutput(raw string) ([]model.Vulnerability, error) {
	if t.Parser == nil {
		return nil, fmt.Errorf("%s: no parser registered", t.Name)
	}
	vulns, err := t.Parser.Parse(raw)
	for i := range vulns {
		if vulns[i].Tool == "" {
			vulns[i].Tool = t.Name
		}
	}
	return vulns, err
}

// Status is the probed state of a tool.
type Status struct {
	Checked   bool      `json:"checked"`
	Available bool      `json:"available"`
	Path      string    `json:"path,omitempty"`
	Version   string    `json:"version"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at,omitempty"`
}

// Entry is a registry row as shown to callers.
type Entry struct {
	Name     string        `json:"name"`
	Binary   string        `json:"binary"`
	Category Category      `json:"category"`
	Timeout  time.Duration `json:"timeout"`
	Status   Status        `json:"status"`
}

// Registry is the tool catalog. The catalog is fixed after construction apart
// from timeout overrides; probe status is guarded by mu.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	status  map[string]Status
	parsers *ParserTable
}

func NewRegistry(tools []Tool, parsers *ParserTable) *Registry {
	if parsers == nil {
		parsers = DefaultParsers()
	}
	r := &Registry{
		tools:   make(map[string]Tool, len(tools)),
		status:  make(map[string]Status, len(tools)),
		parsers: parsers,
	}
	for _, t := range tools {
		if t.Parser == nil {
			t.Parser = parsers.Lookup(t.Name)
		}
		r.tools[t.Name] = t
	}
	return r
}

// Default returns a registry over the built-in catalog.
func Default() *Registry {
	return NewRegistry(DefaultTools(), DefaultParsers())
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Tool(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Resolve returns a tool that may be executed. Tools that were never probed
// are assumed present; a failed probe marks them unavailable.
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return Tool{}, fmt.Errorf("%w: %s", ErrToolUnknown, name)
	}
	if st := r.status[name]; st.Checked && !st.Available {
		return Tool{}, fmt.Errorf("%w: %s", ErrToolUnavailable, name)
	}
	return t, nil
}

// Parser returns the parser for a tool name, falling back to the generic
// heuristic for names outside the catalog.
func (r *Registry) Parser(name string) Parser {
	if t, ok := r.Tool(name); ok && t.Parser != nil {
		return t.Parser
	}
	return r.parsers.Lookup(name)
}

func (r *Registry) SetStatus(name string, st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		r.status[name] = st
	}
}

func (r *Registry) Status(name string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status[name]
}

func (r *Registry) SetTimeout(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("timeout for %s must be positive", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolUnknown, name)
	}
	t.Timeout = d
	r.tools[name] = t
	return nil
}

func (r *Registry) Entries() []Entry {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		out = append(out, Entry{
			Name:     t.Name,
			Binary:   t.Binary,
			Category: t.Category,
			Timeout:  t.Timeout,
			Status:   r.status[name],
		})
	}
	return out
}

// DefaultTools is the built-in catalog.
func DefaultTools() []Tool {
	return []Tool{
		{
			Name:        "nmap",
			Binary:      "nmap",
			Image:       "instrumentisto/nmap:latest",
			Category:    CategoryNetwork,
			DefaultArgs: []string{"-sV", "-T4", "-Pn", "--top-ports", "1000"},
			Timeout:     10 * time.Minute,
			Target:      BareTarget{HostOnly: true},
			VersionArgs: []string{"--version"},
		},
		{
			Name:        "nuclei",
			Binary:      "nuclei",
			Image:       "projectdiscovery/nuclei:latest",
			Category:    CategoryVulnerability,
			DefaultArgs: []string{"-jsonl", "-silent", "-no-color"},
			Timeout:     30 * time.Minute,
			Target:      FlagTarget{Flag: "-u"},
			VersionArgs: []string{"-version"},
		},
		{
			Name:        "nikto",
			Binary:      "nikto",
			Image:       "sullo/nikto:latest",
			Category:    CategoryWeb,
			DefaultArgs: []string{"-nointeractive", "-ask", "no"},
			Timeout:     20 * time.Minute,
			Target:      FlagTarget{Flag: "-h"},
			VersionArgs: []string{"-Version"},
		},
		{
			Name:        "sqlmap",
			Binary:      "sqlmap",
			Image:       "googlesky/sqlmap:latest",
			Category:    CategoryWeb,
			DefaultArgs: []string{"--batch", "--level", "1", "--risk", "1", "--disable-coloring"},
			Timeout:     30 * time.Minute,
			Target:      FlagTarget{Flag: "-u"},
			VersionArgs: []string{"--version"},
		},
		{
			Name:        "sslscan",
			Binary:      "sslscan",
			Image:       "shamelesscookie/sslscan:latest",
			Category:    CategoryCrypto,
			DefaultArgs: []string{"--no-colour"},
			Timeout:     5 * time.Minute,
			Target:      BareTarget{HostOnly: true},
			VersionArgs: []string{"--version"},
		},
		{
			Name:        "whatweb",
			Binary:      "whatweb",
			Image:       "guidelacour/whatweb:latest",
			Category:    CategoryWeb,
			DefaultArgs: []string{"--color=never", "-a", "1"},
			Timeout:     3 * time.Minute,
			Target:      BareTarget{},
			VersionArgs: []string{"--version"},
		},
		{
			Name:        "wpscan",
			Binary:      "wpscan",
			Image:       "wpscanteam/wpscan:latest",
			Category:    CategoryWeb,
			DefaultArgs: []string{"--no-banner", "--format", "cli-no-colour", "--disable-tls-checks"},
			Timeout:     20 * time.Minute,
			Target:      FlagTarget{Flag: "--url"},
			VersionArgs: []string{"--version"},
		},
		{
			Name:        "subfinder",
			Binary:      "subfinder",
			Image:       "projectdiscovery/subfinder:latest",
			Category:    CategoryNetwork,
			DefaultArgs: []string{"-silent"},
			Timeout:     10 * time.Minute,
			Target:      FlagTarget{Flag: "-d", HostOnly: true},
			VersionArgs: []string{"-version"},
		},
	}
}
