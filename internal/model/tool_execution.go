package model

import "time"

// ToolExecution is the immutable record of one tool run.
type ToolExecution struct {
	Tool            string    `json:"tool"`
	Command         []string  `json:"command"`
	ExitCode        int       `json:"exit_code"`
	Stdout          string    `json:"stdout"`
	Stderr          string    `json:"stderr"`
	Success         bool      `json:"success"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	Timestamp       time.Time `json:"timestamp"`
	TimedOut        bool      `json:"timed_out,omitempty"`
	Truncated       bool      `json:"truncated,omitempty"`
	Error           string    `json:"error,omitempty"`
}
