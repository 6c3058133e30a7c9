package sandbox

import (
	"context"
	"sync/atomic"
)

// Slots is the global execution budget. One slot is held per running tool
// process; the channel capacity is the ceiling.
type Slots struct {
	sem    chan struct{}
	active atomic.Int64
}

func NewSlots(max int) *Slots {
	if max <= 0 {
		max = 1
	}
	return &Slots{sem: make(chan struct{}, max)}
}

// TryAcquire takes a slot without waiting.
func (s *Slots) TryAcquire() bool {
	select {
	case s.sem <- struct{}{}:
		s.active.Add(1)
		return true
	default:
		return false
	}
}

// Acquire waits for a slot or for ctx to end.
func (s *Slots) Acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		s.active.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Slots) Release() {
	s.active.Add(-1)
	<-s.sem
}

func (s *Slots) Active() int { return int(s.active.Load()) }

func (s *Slots) Max() int { return cap(s.sem) }
