package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestJobPolicyBackoff(t *testing.T) {
	t.Parallel()

	p := JobPolicy()
	boom := errors.New("tool crashed")

	d, ok := p.Next(1, boom)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, d)

	d, ok = p.Next(2, boom)
	require.True(t, ok)
	assert.Equal(t, 4*time.Second, d)

	_, ok = p.Next(3, boom)
	assert.False(t, ok, "three attempts in total")

	_, ok = p.Next(1, Stop(boom))
	assert.False(t, ok, "permanent errors are never retried")
}

func TestDelayStrategies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		policy   Policy
		attempt  int
		expected time.Duration
	}{
		{"exponential third", Policy{InitDelay: time.Second, Strategy: Exponential}, 2, 4 * time.Second},
		{"exponential capped", Policy{InitDelay: time.Second, MaxDelay: 3 * time.Second, Strategy: Exponential}, 5, 3 * time.Second},
		{"linear", Policy{InitDelay: time.Second, Strategy: Linear}, 2, 3 * time.Second},
		{"constant", Policy{InitDelay: time.Second, Strategy: Constant}, 7, time.Second},
		{"negative attempt", Policy{InitDelay: time.Second, Strategy: Exponential}, -1, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.policy.Delay(tt.attempt))
		})
	}
}

func TestDelayJitterBounds(t *testing.T) {
	t.Parallel()

	p := Policy{InitDelay: time.Second, Strategy: Constant, Jitter: true}
	for range 100 {
		d := p.Delay(0)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	s := &recordingSleeper{}
	calls := 0
	err := doWithSleeper(context.Background(), Policy{MaxAttempts: 3, InitDelay: 10 * time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, s)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, s.delays)
}

func TestDoStopsOnPermanent(t *testing.T) {
	t.Parallel()

	boom := errors.New("bad request")
	calls := 0
	err := doWithSleeper(context.Background(), JobPolicy(), func() error {
		calls++
		return Stop(boom)
	}, &recordingSleeper{})

	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
	assert.False(t, IsStop(err))
	assert.True(t, IsStop(Stop(boom)))
	assert.Nil(t, Stop(nil))
}

func TestDoHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, JobPolicy(), func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
