package model

import "time"

// Scan is the persisted record of one scan request.
type Scan struct {
	ID                 string            `json:"id"`
	Target             string            `json:"target"`
	ScanType           ScanType          `json:"scan_type"`
	ScanMode           string            `json:"scan_mode,omitempty"`
	Status             ScanState         `json:"status"`
	JobID              string            `json:"job_id,omitempty"`
	Error              string            `json:"error,omitempty"`
	Result             *AggregatedResult `json:"result,omitempty"`
	VulnerabilityCount int               `json:"vulnerability_count"`
	CreatedAt          time.Time         `json:"created_at"`
	StartedAt          *time.Time        `json:"started_at,omitempty"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty"`
}
