// Package broadcast fans status events out to subscribers by topic.
package broadcast

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// QueueTopic carries queue-wide statistics.
const QueueTopic = "queue"

// ScanTopic is the topic for events about one scan.
func ScanTopic(scanID string) string { return "scan:" + scanID }

// Event is one status message. Every event carries a timestamp and either a
// status or a progress value.
type Event struct {
	Topic     string    `json:"topic"`
	Status    string    `json:"status,omitempty"`
	Progress  *int      `json:"progress,omitempty"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressEvent builds an event reporting pct percent done.
func ProgressEvent(pct int, data any) Event {
	return Event{Progress: &pct, Data: data}
}

type Publisher interface {
	Publish(topic string, ev Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(string, Event) {}

const DefaultBuffer = 64

// Hub is an in-process Publisher. Publishing never blocks: a subscriber whose
// buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	dropped atomic.Int64
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger,
	}
}

type Subscription struct {
	hub   *Hub
	topic string
	ch    chan Event
	once  sync.Once
}

// C delivers events until Close is called.
func (s *Subscription) C() <-chan Event { return s.ch }

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs[s.topic], s)
		if len(s.hub.subs[s.topic]) == 0 {
			delete(s.hub.subs, s.topic)
		}
		close(s.ch)
		s.hub.mu.Unlock()
	})
}

func (h *Hub) Subscribe(topic string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{hub: h, topic: topic, ch: make(chan Event, buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[*Subscription]struct{})
	}
	h.subs[topic][s] = struct{}{}
	return s
}

func (h *Hub) Publish(topic string, ev Event) {
	ev.Topic = topic
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[topic] {
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
			h.logger.Debug("subscriber too slow, event dropped", "topic", topic)
		}
	}
}

// Subscribers returns the number of live subscriptions on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Dropped is the number of events lost to full subscriber buffers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }
