package subfinder

import (
	"regexp"
	"strings"

	"forgescan/scan-engine/internal/model"
)

var hostPat = regexp.MustCompile(`^[a-zA-Z0-9_]([a-zA-Z0-9_-]*[a-zA-Z0-9])?(\.[a-zA-Z0-9_]([a-zA-Z0-9_-]*[a-zA-Z0-9])?)+$`)

// Parse turns subfinder -silent output, one host per line, into INFO
// findings. Duplicates are dropped.
func Parse(raw string) ([]model.Vulnerability, error) {
	findings := []model.Vulnerability{}
	seen := map[string]bool{}

	for line := range strings.Lines(raw) {
		host := strings.ToLower(strings.TrimSpace(line))
		if !hostPat.MatchString(host) || seen[host] {
			continue
		}
		seen[host] = true
		findings = append(findings, model.Vulnerability{
			Severity: model.SeverityInfo,
			Type:     "subdomain",
			Title:    "Subdomain discovered: " + host,
			Location: host,
			Tool:     "subfinder",
		})
	}
	return findings, nil
}
