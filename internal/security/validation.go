package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	"forgescan/scan-engine/internal/model"
)

var (
	ErrInvalidTarget = errors.New("invalid target")
	ErrInvalidJob    = errors.New("invalid job")
)

// MaxJobTimeout caps per-job timeout overrides.
const MaxJobTimeout = 2 * time.Hour

var uuidRegex = regexp.MustCompile(
	`^[a-fA-F0-9-]{36}$`,
)

var hostnameRegex = regexp.MustCompile(
	`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`,
)

var metaStripper = strings.NewReplacer(
	";", "", "&", "", "|", "", "`", "", "$", "",
	"(", "", ")", "", "{", "", "}", "", "[", "", "]", "", "\\", "",
)

// Sanitize strips shell metacharacters from raw and accepts the result only if
// it is an absolute http(s) URL, a dotted-quad IPv4 address or an RFC 1123
// hostname. Every target must pass through here before it reaches an argv.
func Sanitize(raw string) (string, error) {
	clean := strings.TrimSpace(metaStripper.Replace(raw))
	if clean == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTarget)
	}
	if strings.ContainsAny(clean, " \t\r\n\x00'\"<>") {
		return "", fmt.Errorf("%w: %q contains forbidden characters", ErrInvalidTarget, raw)
	}
	if strings.HasPrefix(clean, "-") {
		return "", fmt.Errorf("%w: %q looks like a flag", ErrInvalidTarget, raw)
	}

	if strings.Contains(clean, "://") {
		if err := validateURL(clean); err != nil {
			return "", err
		}
		return clean, nil
	}
	if isIPv4(clean) || isHostname(clean) {
		return clean, nil
	}
	return "", fmt.Errorf("%w: %q is not a URL, IPv4 address or hostname", ErrInvalidTarget, raw)
}

func validateURL(s string) error {
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in URL", ErrInvalidTarget)
	}
	host := u.Hostname()
	if !isIPv4(host) && !isHostname(host) {
		return fmt.Errorf("%w: invalid host %q", ErrInvalidTarget, host)
	}
	return nil
}

func isIPv4(s string) bool {
	if strings.Count(s, ".") != 3 {
		return false
	}
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

func isHostname(s string) bool {
	if len(s) > 253 || !hostnameRegex.MatchString(s) {
		return false
	}
	// a numeric top label is a malformed address, not a name
	tld := s[strings.LastIndex(s, ".")+1:]
	return strings.Trim(tld, "0123456789") != ""
}

// Hostname reduces a sanitized target to its host part. Bare hosts are
// returned unchanged.
func Hostname(target string) string {
	if !strings.Contains(target, "://") {
		return target
	}
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	return u.Hostname()
}

// ValidateJob checks a job before it is handed to the queue.
func ValidateJob(job model.ScanJob) error {
	if !uuidRegex.MatchString(job.ScanID) {
		return fmt.Errorf("%w: invalid scan_id", ErrInvalidJob)
	}
	if job.Options.Timeout < 0 || job.Options.Timeout > MaxJobTimeout {
		return fmt.Errorf("%w: invalid timeout", ErrInvalidJob)
	}

	switch job.Options.ExecMode {
	case "", model.ExecParallel, model.ExecSequential:
	default:
		return fmt.Errorf("%w: invalid exec mode %q", ErrInvalidJob, job.Options.ExecMode)
	}

	if _, ok := model.ParseScanType(string(job.Selector.ScanType)); !ok {
		return fmt.Errorf("%w: invalid scan_type", ErrInvalidJob)
	}

	clean, err := Sanitize(job.Target)
	if err != nil {
		return err
	}
	if clean != job.Target {
		return fmt.Errorf("%w: target is not sanitized", ErrInvalidJob)
	}
	tool, _ := job.Selector.ScanType.ToolName()
	for _, a := range job.Options.ExtraArgs {
		if strings.ContainsAny(a, ";&|`$\n") {
			return fmt.Errorf("%w: extra argument %q", ErrInvalidJob, a)
		}
		if f := deniedFlag(tool, a); f != "" {
			return fmt.Errorf("%w: flag %s is not allowed for %s", ErrInvalidJob, f, tool)
		}
	}
	return nil
}
