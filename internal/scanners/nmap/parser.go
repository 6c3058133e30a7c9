package nmap

import (
	"fmt"
	"regexp"
	"strings"

	"forgescan/scan-engine/internal/model"
)

var (
	openPort = regexp.MustCompile(`^(\d+)/(tcp|udp)\s+open\s+(\S+)(?:\s+(.*))?$`)
	portLine = regexp.MustCompile(`^(\d+/(?:tcp|udp))\s+\S+`)
	cvePat   = regexp.MustCompile(`CVE-\d{4}-\d{4,7}`)
	// "| smb-vuln-ms17-010:" or "|_http-title: ..." opens a script block;
	// nested lines are indented further.
	scriptPat = regexp.MustCompile(`^\|_?\s?([a-zA-Z0-9][\w.-]*):(?:\s|$)`)
)

// Parse reads nmap's normal output. Open ports become INFO findings and NSE
// lines flagged VULNERABLE or naming a CVE become MEDIUM findings attributed
// to their script and port.
func Parse(raw string) ([]model.Vulnerability, error) {
	findings := []model.Vulnerability{}
	port, script := "", ""

	for line := range strings.Lines(raw) {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "Nmap scan report for"):
			port, script = "", ""
			continue
		case strings.HasPrefix(line, "Host script results"):
			port, script = "host", ""
			continue
		}

		if m := openPort.FindStringSubmatch(line); m != nil {
			port, script = m[1]+"/"+m[2], ""
			desc := fmt.Sprintf("Port %s/%s is open running %s", m[1], m[2], m[3])
			if v := strings.TrimSpace(m[4]); v != "" {
				desc += " (" + v + ")"
			}
			findings = append(findings, model.Vulnerability{
				Severity:    model.SeverityInfo,
				Type:        "open-port",
				Title:       fmt.Sprintf("Open port %s/%s (%s)", m[1], m[2], m[3]),
				Description: desc,
				Location:    port,
				Tool:        "nmap",
			})
			continue
		}
		if m := portLine.FindStringSubmatch(line); m != nil {
			port, script = m[1], ""
			continue
		}
		if !strings.HasPrefix(line, "|") {
			script = ""
		} else if m := scriptPat.FindStringSubmatch(line); m != nil {
			script = m[1]
		}

		cve := cvePat.FindString(line)
		if cve == "" && !strings.Contains(line, "VULNERABLE") {
			continue
		}
		v := model.Vulnerability{
			Severity:    model.SeverityMedium,
			Type:        "nse-finding",
			Title:       "Potential vulnerability detected by nmap script",
			Description: strings.TrimLeft(line, "|_ "),
			Location:    port,
			Tool:        "nmap",
		}
		if script != "" {
			v.Title = "Potential vulnerability detected by " + script
			v.Description = script + ": " + v.Description
		}
		if cve != "" {
			v.Title = cve
			v.Reference = "https://nvd.nist.gov/vuln/detail/" + cve
		}
		findings = append(findings, v)
	}
	return findings, nil
}
