package model

import "time"

type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

type Metadata struct {
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMs      int64     `json:"duration_ms"`
	Status          RunStatus `json:"status"`
	Mode            ExecMode  `json:"mode"`
	TotalTools      int       `json:"total_tools"`
	CompletedTools  int       `json:"completed_tools"`
	SuccessfulTools int       `json:"successful_tools"`
	FailedTools     int       `json:"failed_tools"`
}

// AggregatedResult is the merged outcome of every tool run for one scan.
type AggregatedResult struct {
	Target          string          `json:"target"`
	ToolExecutions  []ToolExecution `json:"tool_executions"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	Summary         Summary         `json:"summary"`
	Metadata        Metadata        `json:"metadata"`
}
