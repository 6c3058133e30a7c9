package scanners

import (
	"sync"

	"forgescan/scan-engine/internal/scanners/generic"
	"forgescan/scan-engine/internal/scanners/nikto"
	"forgescan/scan-engine/internal/scanners/nmap"
	"forgescan/scan-engine/internal/scanners/nuclei"
	"forgescan/scan-engine/internal/scanners/sqlmap"
	"forgescan/scan-engine/internal/scanners/sslscan"
	"forgescan/scan-engine/internal/scanners/subfinder"
)

// ParserTable maps tool names to output parsers. Adding a tool means
// registering its parser here; nothing downstream switches on tool names.
type ParserTable struct {
	mu       sync.RWMutex
	parsers  map[string]Parser
	fallback func(tool string) Parser
}

func NewParserTable(fallback func(tool string) Parser) *ParserTable {
	return &ParserTable{
		parsers:  make(map[string]Parser),
		fallback: fallback,
	}
}

func (t *ParserTable) Register(tool string, p Parser) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.parsers[tool] = p
}

// Lookup returns the parser registered for tool, or the fallback parser.
func (t *ParserTable) Lookup(tool string) Parser {
	t.mu.RLock()
	p, ok := t.parsers[tool]
	t.mu.RUnlock()
	if ok {
		return p
	}
	if t.fallback == nil {
		return nil
	}
	return t.fallback(tool)
}

func genericFor(tool string) Parser {
	return generic.Parser{Tool: tool}
}

// DefaultParsers registers a parser for every built-in tool with a
// recognizable output format. Everything else uses the generic heuristic.
func DefaultParsers() *ParserTable {
	t := NewParserTable(genericFor)
	t.Register("nuclei", ParserFunc(nuclei.Parse))
	t.Register("nmap", ParserFunc(nmap.Parse))
	t.Register("nikto", ParserFunc(nikto.Parse))
	t.Register("sqlmap", ParserFunc(sqlmap.Parse))
	t.Register("sslscan", ParserFunc(sslscan.Parse))
	t.Register("subfinder", ParserFunc(subfinder.Parse))
	return t
}
