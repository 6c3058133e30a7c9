package model

import (
	"strings"
	"time"
)

type ScanType string

const (
	ScanTypeNmap      ScanType = "NMAP"
	ScanTypeNuclei    ScanType = "NUCLEI"
	ScanTypeNikto     ScanType = "NIKTO"
	ScanTypeSQLMap    ScanType = "SQLMAP"
	ScanTypeSSLScan   ScanType = "SSLSCAN"
	ScanTypeWhatWeb   ScanType = "WHATWEB"
	ScanTypeWPScan    ScanType = "WPSCAN"
	ScanTypeSubfinder ScanType = "SUBFINDER"
	ScanTypeMulti     ScanType = "MULTI"
)

// singleToolTypes maps a single-tool scan type to the registry name of its tool.
var singleToolTypes = map[ScanType]string{
	ScanTypeNmap:      "nmap",
	ScanTypeNuclei:    "nuclei",
	ScanTypeNikto:     "nikto",
	ScanTypeSQLMap:    "sqlmap",
	ScanTypeSSLScan:   "sslscan",
	ScanTypeWhatWeb:   "whatweb",
	ScanTypeWPScan:    "wpscan",
	ScanTypeSubfinder: "subfinder",
}

// ParseScanType normalizes s and reports whether it names a known scan type.
func ParseScanType(s string) (ScanType, bool) {
	t := ScanType(strings.ToUpper(strings.TrimSpace(s)))
	if t == ScanTypeMulti {
		return t, true
	}
	_, ok := singleToolTypes[t]
	return t, ok
}

// ToolName returns the tool behind a single-tool scan type.
func (t ScanType) ToolName() (string, bool) {
	name, ok := singleToolTypes[t]
	return name, ok
}

// ExecMode controls how a multi-tool scan runs its tools.
type ExecMode string

const (
	ExecParallel   ExecMode = "parallel"
	ExecSequential ExecMode = "sequential"
)

// ToolSelector is either a single scan type or a named scan mode.
type ToolSelector struct {
	ScanType ScanType `json:"scan_type"`
	ScanMode string   `json:"scan_mode,omitempty"`
}

// Options is the per-job option bag.
type Options struct {
	Timeout   time.Duration `json:"timeout,omitempty"`
	ExtraArgs []string      `json:"extra_args,omitempty"`
	ExecMode  ExecMode      `json:"exec_mode,omitempty"`
}

type ScanJob struct {
	ScanID   string       `json:"scan_id"`
	Target   string       `json:"target"`
	Selector ToolSelector `json:"selector"`
	Options  Options      `json:"options"`
}
