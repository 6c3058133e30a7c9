package sqlmap

import (
	"fmt"
	"regexp"
	"strings"

	"forgescan/scan-engine/internal/model"
)

var paramPat = regexp.MustCompile(`^Parameter:\s+(\S+)\s+\((\w+)\)`)

const solution = "Use parameterized queries and validate input server-side."

// Parse extracts injection points from sqlmap's summary block:
//
//	Parameter: id (GET)
//	    Type: boolean-based blind
//	    Title: AND boolean-based blind - WHERE or HAVING clause
func Parse(raw string) ([]model.Vulnerability, error) {
	findings := []model.Vulnerability{}
	identified := false
	param, place, technique := "", "", ""

	for line := range strings.Lines(raw) {
		line = strings.TrimSpace(line)
		switch {
		case strings.Contains(line, "identified the following injection point"):
			identified = true
		case paramPat.MatchString(line):
			m := paramPat.FindStringSubmatch(line)
			param, place, technique = m[1], m[2], ""
		case strings.HasPrefix(line, "Type:") && param != "":
			technique = strings.TrimSpace(strings.TrimPrefix(line, "Type:"))
		case strings.HasPrefix(line, "Title:") && technique != "":
			findings = append(findings, model.Vulnerability{
				Severity:    model.SeverityHigh,
				Type:        "sql-injection",
				Title:       fmt.Sprintf("SQL injection (%s)", technique),
				Description: strings.TrimSpace(strings.TrimPrefix(line, "Title:")),
				Solution:    solution,
				Location:    fmt.Sprintf("%s parameter %q", place, param),
				Tool:        "sqlmap",
			})
			technique = ""
		}
	}

	if identified && len(findings) == 0 {
		findings = append(findings, model.Vulnerability{
			Severity: model.SeverityHigh,
			Type:     "sql-injection",
			Title:    "SQL injection",
			Solution: solution,
			Tool:     "sqlmap",
		})
	}
	return findings, nil
}
