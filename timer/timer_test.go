package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resolution = 5 * time.Millisecond

func TestTimerManager_OneShot(t *testing.T) {
	m := NewTimerManagerWithResolution(resolution)
	defer m.Stop()

	fired := make(chan struct{}, 1)
	m.AddTimer(10*time.Millisecond, 0, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}

	require.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, resolution)
}

func TestTimerManager_Repeating(t *testing.T) {
	m := NewTimerManagerWithResolution(resolution)
	defer m.Stop()

	var count atomic.Int32
	id := m.AddTimer(0, 10*time.Millisecond, func() { count.Add(1) })

	require.Eventually(t, func() bool { return count.Load() >= 3 }, time.Second, resolution)

	m.RemoveTimer(id)
	time.Sleep(20 * time.Millisecond)
	after := count.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, count.Load())
	assert.Equal(t, 0, m.Len())
}

func TestTimerManager_RemoveBeforeFiring(t *testing.T) {
	m := NewTimerManagerWithResolution(resolution)
	defer m.Stop()

	var fired atomic.Bool
	id := m.AddTimer(50*time.Millisecond, 0, func() { fired.Store(true) })
	m.RemoveTimer(id)
	m.RemoveTimer(id)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestTimerManager_Order(t *testing.T) {
	m := NewTimerManagerWithResolution(time.Hour)
	defer m.Stop()

	now := time.Now()
	m.AddTimer(3*time.Second, 0, func() {})
	m.AddTimer(time.Second, 0, func() {})
	m.AddTimer(2*time.Second, 0, func() {})

	ready := m.due(now.Add(2500 * time.Millisecond))
	require.Len(t, ready, 2)
	assert.True(t, ready[0].Execute.Before(ready[1].Execute))
	assert.Equal(t, 1, m.Len())
}

func TestTimerManager_PanicDoesNotStopRepeats(t *testing.T) {
	m := NewTimerManagerWithResolution(resolution)
	defer m.Stop()

	var count atomic.Int32
	m.AddTimer(0, 5*time.Millisecond, func() {
		if count.Add(1) == 1 {
			panic("boom")
		}
	})

	require.Eventually(t, func() bool { return count.Load() >= 2 }, time.Second, resolution)
}

func TestTimerManager_StopWaitsForCallbacks(t *testing.T) {
	m := NewTimerManagerWithResolution(resolution)

	started := make(chan struct{})
	var finished atomic.Bool
	m.AddTimer(0, 0, func() {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	})

	<-started
	m.Stop()
	assert.True(t, finished.Load())
	m.Stop()
}
