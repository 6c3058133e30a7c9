package sslscan

import (
	"regexp"
	"strings"

	"forgescan/scan-engine/internal/model"
)

var (
	protoPat    = regexp.MustCompile(`^(SSLv2|SSLv3|TLSv1\.0|TLSv1\.1)\s+enabled`)
	acceptedPat = regexp.MustCompile(`^(?:Preferred|Accepted)\s+(\S+)\s+\d+\s+bits\s+(\S+)`)
	weakCipher  = regexp.MustCompile(`(?i)(RC4|DES|NULL|EXP|anon|MD5)`)
)

// Parse reads sslscan text output and reports deprecated protocols, weak
// accepted ciphers and heartbleed.
func Parse(raw string) ([]model.Vulnerability, error) {
	findings := []model.Vulnerability{}
	seen := map[string]bool{}

	add := func(v model.Vulnerability) {
		key := v.Type + "|" + v.Title
		if seen[key] {
			return
		}
		seen[key] = true
		v.Tool = "sslscan"
		findings = append(findings, v)
	}

	for line := range strings.Lines(raw) {
		line = strings.TrimSpace(line)

		if m := protoPat.FindStringSubmatch(line); m != nil {
			sev := model.SeverityMedium
			if strings.HasPrefix(m[1], "SSL") {
				sev = model.SeverityHigh
			}
			add(model.Vulnerability{
				Severity: sev,
				Type:     "deprecated-protocol",
				Title:    m[1] + " enabled",
				Solution: "Disable " + m[1] + " and serve TLS 1.2 or newer only.",
			})
			continue
		}

		if m := acceptedPat.FindStringSubmatch(line); m != nil && weakCipher.MatchString(m[2]) {
			add(model.Vulnerability{
				Severity:    model.SeverityMedium,
				Type:        "weak-cipher",
				Title:       "Weak cipher accepted: " + m[2],
				Description: line,
				Location:    m[1],
				Solution:    "Remove " + m[2] + " from the server cipher list.",
			})
			continue
		}

		if strings.Contains(line, "vulnerable to heartbleed") && !strings.Contains(line, "not vulnerable") {
			add(model.Vulnerability{
				Severity:  model.SeverityCritical,
				Type:      "heartbleed",
				Title:     "Heartbleed (CVE-2014-0160)",
				Location:  strings.Fields(line)[0],
				Reference: "https://nvd.nist.gov/vuln/detail/CVE-2014-0160",
				Solution:  "Upgrade OpenSSL.",
			})
		}
	}
	return findings, nil
}
