package queue

import "forgescan/scan-engine/internal/model"

// LowestPriority is used for scan types without an entry.
const LowestPriority = 10

// Cheap scans run first.
var priorities = map[model.ScanType]int{
	model.ScanTypeSSLScan:   1,
	model.ScanTypeWhatWeb:   1,
	model.ScanTypeNmap:      2,
	model.ScanTypeSubfinder: 2,
	model.ScanTypeNuclei:    3,
	model.ScanTypeNikto:     3,
	model.ScanTypeWPScan:    4,
	model.ScanTypeSQLMap:    5,
	model.ScanTypeMulti:     6,
}

// Priority returns the dequeue priority for t; lower runs sooner.
func Priority(t model.ScanType) int {
	if p, ok := priorities[t]; ok {
		return p
	}
	return LowestPriority
}
