package aggregator

import (
	"sort"

	"forgescan/scan-engine/internal/model"
)

// DefaultModeTools is what an unrecognized scan mode runs. Unknown modes are
// not rejected so that callers with newer mode names still get a scan.
var DefaultModeTools = []string{"nmap"}

var scanModes = map[string][]string{
	"full":          {"nmap", "nuclei", "nikto", "sslscan", "whatweb"},
	"network":       {"nmap", "sslscan"},
	"web":           {"whatweb", "nikto", "nuclei"},
	"vulnerability": {"nuclei", "sqlmap"},
	"quick":         {"nmap", "whatweb"},
}

// ModeTools expands a scan mode into its tool list. The second result is
// false when mode is unknown and the default list was used.
func ModeTools(mode string) ([]string, bool) {
	tools, ok := scanModes[mode]
	if !ok {
		tools = DefaultModeTools
	}
	return append([]string(nil), tools...), ok
}

func Modes() []string {
	out := make([]string, 0, len(scanModes))
	for m := range scanModes {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Plan resolves a job into the tool runs it needs. Extra arguments only
// apply to single-tool scans; a flag for one tool is meaningless to another.
func Plan(job model.ScanJob) []ToolSpec {
	if name, ok := job.Selector.ScanType.ToolName(); ok {
		return []ToolSpec{{Name: name, Args: job.Options.ExtraArgs}}
	}
	names, _ := ModeTools(job.Selector.ScanMode)
	specs := make([]ToolSpec, len(names))
	for i, n := range names {
		specs[i] = ToolSpec{Name: n}
	}
	return specs
}
