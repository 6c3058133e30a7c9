package nikto

import (
	"regexp"
	"strings"

	"forgescan/scan-engine/internal/model"
)

// banner lines carry scan metadata rather than findings.
var banner = []string{
	"Target IP:", "Target Hostname:", "Target Port:", "Start Time:", "End Time:",
	"Server:", "host(s) tested", "requests:", "SSL Info:", "Platform:",
}

var (
	cvePat   = regexp.MustCompile(`CVE-\d{4}-\d{4,7}`)
	pathPat  = regexp.MustCompile(`^(/\S*):\s+(.*)$`)
	osvdbPat = regexp.MustCompile(`^OSVDB-\d+:\s+`)
)

// Parse reads nikto's text output, where each finding is a "+ " line.
func Parse(raw string) ([]model.Vulnerability, error) {
	findings := []model.Vulnerability{}

	for line := range strings.Lines(raw) {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "+ ") {
			continue
		}
		text := strings.TrimSpace(strings.TrimPrefix(line, "+ "))
		if text == "" || isBanner(text) {
			continue
		}
		text = osvdbPat.ReplaceAllString(text, "")

		v := model.Vulnerability{
			Severity:    model.SeverityLow,
			Type:        "web-misconfiguration",
			Title:       title(text),
			Description: text,
			Tool:        "nikto",
		}
		if m := pathPat.FindStringSubmatch(text); m != nil {
			v.Location = m[1]
			v.Title = title(m[2])
		}
		if cve := cvePat.FindString(text); cve != "" {
			v.Severity = model.SeverityMedium
			v.Reference = "https://nvd.nist.gov/vuln/detail/" + cve
		}
		findings = append(findings, v)
	}
	return findings, nil
}

func isBanner(text string) bool {
	for _, b := range banner {
		if strings.Contains(text, b) {
			return true
		}
	}
	return false
}

func title(text string) string {
	if i := strings.IndexAny(text, ".:"); i > 0 && i < 120 {
		return text[:i]
	}
	if len(text) > 120 {
		return text[:120]
	}
	return text
}
