package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRoutesByTopic(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	scan := h.Subscribe(ScanTopic("abc"), 4)
	queue := h.Subscribe(QueueTopic, 4)
	defer scan.Close()
	defer queue.Close()

	h.Publish(ScanTopic("abc"), Event{Status: "RUNNING"})
	h.Publish(ScanTopic("other"), Event{Status: "RUNNING"})
	h.Publish(QueueTopic, Event{Status: "broker"})

	ev := <-scan.C()
	assert.Equal(t, "scan:abc", ev.Topic)
	assert.Equal(t, "RUNNING", ev.Status)
	assert.False(t, ev.Timestamp.IsZero())

	ev = <-queue.C()
	assert.Equal(t, "queue", ev.Topic)

	select {
	case ev := <-scan.C():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestHubNeverBlocks(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	sub := h.Subscribe("t", 1)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Publish("t", ProgressEvent(i*10, nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Equal(t, int64(9), h.Dropped())

	ev := <-sub.C()
	require.NotNil(t, ev.Progress)
	assert.Equal(t, 0, *ev.Progress)
}

func TestSubscriptionClose(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	sub := h.Subscribe("t", 0)
	assert.Equal(t, 1, h.Subscribers("t"))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, h.Subscribers("t"))

	_, open := <-sub.C()
	assert.False(t, open)

	h.Publish("t", Event{Status: "x"})
}
