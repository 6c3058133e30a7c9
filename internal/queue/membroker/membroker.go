// Package membroker is an in-process queue.Broker. It keeps nothing across
// restarts and is meant for tests and single-node local runs.
package membroker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"forgescan/scan-engine/internal/queue"
)

type entry struct {
	env     queue.Envelope
	seq     int64
	readyAt time.Time
}

type Broker struct {
	mu        sync.Mutex
	seq       int64
	waiting   []*entry
	delayed   map[string]*entry
	active    map[string]*entry
	completed int64
	failed    int64
	down      error
	closed    bool
	now       func() time.Time
}

var _ queue.Broker = (*Broker)(nil)

func New() *Broker {
	return &Broker{
		delayed: make(map[string]*entry),
		active:  make(map[string]*entry),
		now:     time.Now,
	}
}

// SetDown makes every following call fail as if the connection was lost.
// A nil error brings the broker back.
func (b *Broker) SetDown(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = err
}

func (b *Broker) check() error {
	if b.closed {
		return fmt.Errorf("%w: broker closed", queue.ErrBackendUnavailable)
	}
	if b.down != nil {
		return fmt.Errorf("%w: %v", queue.ErrBackendUnavailable, b.down)
	}
	return nil
}

func (b *Broker) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.check()
}

func (b *Broker) insert(e *entry) int64 {
	i := sort.Search(len(b.waiting), func(i int) bool {
		w := b.waiting[i]
		if w.env.Priority != e.env.Priority {
			return w.env.Priority > e.env.Priority
		}
		return w.seq > e.seq
	})
	b.waiting = append(b.waiting, nil)
	copy(b.waiting[i+1:], b.waiting[i:])
	b.waiting[i] = e
	return int64(i)
}

func (b *Broker) Enqueue(_ context.Context, env queue.Envelope) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return 0, err
	}
	b.seq++
	return b.insert(&entry{env: env, seq: b.seq}), nil
}

func (b *Broker) Dequeue(context.Context) (*queue.Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return nil, err
	}

	now := b.now()
	for id, e := range b.delayed {
		if !e.readyAt.After(now) {
			delete(b.delayed, id)
			b.insert(e)
		}
	}
	if len(b.waiting) == 0 {
		return nil, nil
	}
	e := b.waiting[0]
	b.waiting = b.waiting[1:]
	b.active[e.env.ID] = e
	env := e.env
	return &env, nil
}

func (b *Broker) Retry(_ context.Context, env queue.Envelope, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return err
	}
	e, ok := b.active[env.ID]
	if !ok {
		return nil
	}
	delete(b.active, env.ID)
	e.env = env
	e.readyAt = b.now().Add(delay)
	b.delayed[env.ID] = e
	return nil
}

func (b *Broker) Complete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return err
	}
	if _, ok := b.active[id]; ok {
		delete(b.active, id)
		b.completed++
	}
	return nil
}

func (b *Broker) Fail(_ context.Context, env queue.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return err
	}
	if _, ok := b.active[env.ID]; ok {
		delete(b.active, env.ID)
		b.failed++
	}
	return nil
}

func (b *Broker) Remove(_ context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return false, err
	}
	for i, e := range b.waiting {
		if e.env.ID == id {
			b.waiting = append(b.waiting[:i], b.waiting[i+1:]...)
			return true, nil
		}
	}
	if _, ok := b.delayed[id]; ok {
		delete(b.delayed, id)
		return true, nil
	}
	if _, ok := b.active[id]; ok {
		delete(b.active, id)
		return true, nil
	}
	return false, nil
}

func (b *Broker) List(_ context.Context, state queue.JobState) ([]queue.Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return nil, err
	}

	var out []queue.Envelope
	switch state {
	case queue.JobWaiting:
		for _, e := range b.waiting {
			out = append(out, e.env)
		}
	case queue.JobDelayed:
		out = collect(b.delayed)
	case queue.JobActive:
		out = collect(b.active)
	default:
		return nil, fmt.Errorf("unknown job state %q", state)
	}
	return out, nil
}

func collect(m map[string]*entry) []queue.Envelope {
	es := make([]*entry, 0, len(m))
	for _, e := range m {
		es = append(es, e)
	}
	sort.Slice(es, func(i, j int) bool { return es[i].seq < es[j].seq })
	out := make([]queue.Envelope, len(es))
	for i, e := range es {
		out[i] = e.env
	}
	return out
}

func (b *Broker) Counts(context.Context) (queue.Counts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return queue.Counts{}, err
	}
	return queue.Counts{
		Waiting:   int64(len(b.waiting)),
		Active:    int64(len(b.active)),
		Delayed:   int64(len(b.delayed)),
		Completed: b.completed,
		Failed:    b.failed,
	}, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
