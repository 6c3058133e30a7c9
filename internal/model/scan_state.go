package model

type ScanState string

const (
	StatePending   ScanState = "PENDING"
	StateQueued    ScanState = "QUEUED"
	StateRunning   ScanState = "RUNNING"
	StateCompleted ScanState = "COMPLETED"
	StateFailed    ScanState = "FAILED"
	StateCancelled ScanState = "CANCELLED"
)

var stateRank = map[ScanState]int{
	StatePending: 0,
	StateQueued:  1,
	StateRunning: 2,
}

// Terminal reports whether no further transition is allowed out of s.
func (s ScanState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether s may move to next. Pre-terminal states only
// move forward (re-entering the same state is allowed so a retried job can be
// marked RUNNING again); any pre-terminal state may end in a terminal one.
func (s ScanState) CanTransition(next ScanState) bool {
	if s.Terminal() {
		return false
	}
	if next.Terminal() {
		return true
	}
	from, ok := stateRank[s]
	if !ok {
		return false
	}
	to, ok := stateRank[next]
	if !ok {
		return false
	}
	return to >= from
}
