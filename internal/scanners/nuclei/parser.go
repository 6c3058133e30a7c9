package nuclei

import (
	"encoding/json"
	"strings"

	"forgescan/scan-engine/internal/model"
)

type result struct {
	TemplateID string `json:"template-id"`
	Type       string `json:"type"`
	Host       string `json:"host"`
	MatchedAt  string `json:"matched-at"`
	Info       struct {
		Name           string          `json:"name"`
		Severity       string          `json:"severity"`
		Description    string          `json:"description"`
		Remediation    string          `json:"remediation"`
		Reference      json.RawMessage `json:"reference"`
		Classification struct {
			CVEID []string `json:"cve-id"`
		} `json:"classification"`
	} `json:"info"`
}

// Parse reads nuclei -jsonl output. Each line is decoded on its own and lines
// that are not JSON objects are skipped.
func Parse(raw string) ([]model.Vulnerability, error) {
	findings := []model.Vulnerability{}

	for line := range strings.Lines(raw) {
		line = strings.TrimSpace(line)
		if line == "" || line[0] != '{' {
			continue
		}
		var r result
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			continue
		}
		findings = append(findings, toVulnerability(r))
	}
	return findings, nil
}

func toVulnerability(r result) model.Vulnerability {
	title := r.Info.Name
	if title == "" {
		title = r.TemplateID
	}
	typ := r.Type
	if typ == "" {
		typ = "template"
	}
	location := r.MatchedAt
	if location == "" {
		location = r.Host
	}
	return model.Vulnerability{
		Severity:    model.ParseSeverity(r.Info.Severity),
		Type:        typ,
		Title:       title,
		Description: r.Info.Description,
		Solution:    r.Info.Remediation,
		Reference:   reference(r),
		Location:    location,
		Tool:        "nuclei",
	}
}

// reference is either a string or a list in nuclei templates.
func reference(r result) string {
	if len(r.Info.Reference) > 0 {
		var list []string
		if err := json.Unmarshal(r.Info.Reference, &list); err == nil && len(list) > 0 {
			return list[0]
		}
		var s string
		if err := json.Unmarshal(r.Info.Reference, &s); err == nil && s != "" {
			return s
		}
	}
	if len(r.Info.Classification.CVEID) > 0 {
		return "https://nvd.nist.gov/vuln/detail/" + strings.ToUpper(r.Info.Classification.CVEID[0])
	}
	return ""
}
