package lockout

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls atomic.Int32
}

func (c *countingSweeper) Sweep() int {
	c.calls.Add(1)
	return 1
}

func TestSweeper_InvalidSchedule(t *testing.T) {
	_, err := NewSweeper(&countingSweeper{}, "every now and then", nil)
	assert.Error(t, err)
}

func TestSweeper_RunOnce(t *testing.T) {
	target := &countingSweeper{}
	s, err := NewSweeper(target, "", nil)
	require.NoError(t, err)

	s.RunOnce()
	assert.Equal(t, int32(1), target.calls.Load())
}

func TestSweeper_Schedule(t *testing.T) {
	target := &countingSweeper{}
	s, err := NewSweeper(target, "@every 1s", nil)
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool { return target.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	<-s.Stop().Done()
}

func TestSweeper_MemoryTracker(t *testing.T) {
	clock := newFakeClock()
	tr := NewMemoryTracker(&Config{Threshold: 5, LockoutDuration: time.Minute, FailureWindow: time.Minute}, WithClock(clock.Now))
	tr.RecordFailure(t.Context(), "k")

	s, err := NewSweeper(tr, DefaultSweepSchedule, nil)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	s.RunOnce()
	assert.Equal(t, 0, tr.Len())
}
