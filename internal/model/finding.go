package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// Severities lists every level from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// ParseSeverity maps a tool-reported severity onto the normalized scale.
// Matching is case-insensitive; anything unrecognized becomes INFO.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium", "moderate":
		return SeverityMedium
	case "low":
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Vulnerability is a normalized finding produced by one tool parser.
type Vulnerability struct {
	Severity    Severity `json:"severity"`
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Solution    string   `json:"solution,omitempty"`
	Reference   string   `json:"reference,omitempty"`
	Location    string   `json:"location,omitempty"`
	Tool        string   `json:"tool"`
}

// Fingerprint identifies a finding by provenance, type, title and location.
func (v Vulnerability) Fingerprint() string {
	data := []byte(v.Tool + ":" + v.Type + ":" + v.Title + ":" + v.Location)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Summary counts vulnerabilities per severity.
type Summary struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

func (s *Summary) Add(sev Severity) {
	switch sev {
	case SeverityCritical:
		s.Critical++
	case SeverityHigh:
		s.High++
	case SeverityMedium:
		s.Medium++
	case SeverityLow:
		s.Low++
	default:
		s.Info++
	}
	s.Total++
}

// Summarize counts vulns by severity.
func Summarize(vulns []Vulnerability) Summary {
	var s Summary
	for _, v := range vulns {
		s.Add(v.Severity)
	}
	return s
}
