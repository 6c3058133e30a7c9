package scanners

import "forgescan/scan-engine/internal/security"

// FlagTarget passes the target as the value of Flag, e.g. "-u <target>".
// HostOnly reduces URL targets to their hostname first.
type FlagTarget struct {
	Flag     string
	HostOnly bool
}

func (f FlagTarget) Inject(args []string, target string) []string {
	if f.HostOnly {
		target = security.Hostname(target)
	}
	return append(args, f.Flag, target)
}

// BareTarget appends the target as the last positional argument.
type BareTarget struct {
	HostOnly bool
}

func (b BareTarget) Inject(args []string, target string) []string {
	if b.HostOnly {
		target = security.Hostname(target)
	}
	return append(args, target)
}
