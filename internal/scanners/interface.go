package scanners

import "forgescan/scan-engine/internal/model"

type Parser interface {
	Parse(raw string) ([]model.Vulnerability, error)
}

// ParserFunc adapts a plain function to Parser.
type ParserFunc func(raw string) ([]model.Vulnerability, error)

func (f ParserFunc) Parse(raw string) ([]model.Vulnerability, error) { return f(raw) }

// TargetInjector appends a sanitized target to a tool's argument vector.
type TargetInjector interface {
	Inject(args []string, target string) []string
}
