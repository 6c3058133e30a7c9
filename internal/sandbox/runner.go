package sandbox

import (
	"context"
	"time"
)

// Command is a fully resolved tool invocation.
type Command struct {
	Tool       string
	Binary     string
	Image      string
	Args       []string
	Dir        string
	Env        []string
	SearchPath string
	Grace      time.Duration
	MaxOutput  int
}

// Outcome is what a runner observed. ExitCode is -1 when the process was
// killed by a signal or never produced a status.
type Outcome struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Truncated bool
}

// Runner starts a command and waits for it. A non-zero exit is reported in
// the Outcome, not as an error; errors mean the command could not be
// started or ctx ended first. When ctx ends the runner must terminate the
// command gracefully and force it after Command.Grace.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Outcome, error)
}
