// Package generic is the fallback parser for tools without a dedicated one.
package generic

import (
	"strings"
	"unicode/utf8"

	"forgescan/scan-engine/internal/model"
)

const excerptLen = 500

var keywords = []string{"vulnerable", "security", "warning"}

type Parser struct {
	Tool string
}

// Parse emits a single MEDIUM finding when the output mentions any of the
// keywords. It is lossy on purpose.
func (p Parser) Parse(raw string) ([]model.Vulnerability, error) {
	lower := strings.ToLower(raw)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return []model.Vulnerability{{
				Severity:    model.SeverityMedium,
				Type:        "generic",
				Title:       "Potential security issue reported by " + p.name(),
				Description: excerpt(raw),
				Tool:        p.Tool,
			}}, nil
		}
	}
	return nil, nil
}

func (p Parser) name() string {
	if p.Tool == "" {
		return "tool"
	}
	return p.Tool
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= excerptLen {
		return s
	}
	cut := excerptLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
