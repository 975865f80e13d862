package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type triggerLog struct {
	mu    sync.Mutex
	fired []string
}

func (l *triggerLog) trigger(storeID string, _ Reason) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fired = append(l.fired, storeID)
}

func (l *triggerLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fired)
}

func TestTimerSchedulerFiresOnce(t *testing.T) {
	log := &triggerLog{}
	s := newTimerScheduler(log.trigger)

	require.NoError(t, s.ScheduleRetry(context.Background(), "store-a", time.Millisecond))
	require.Eventually(t, func() bool { return log.count() == 1 }, time.Second, time.Millisecond)

	s.mu.Lock()
	assert.Empty(t, s.timers)
	s.mu.Unlock()
}

func TestTimerSchedulerKeepsReplacementOfFiredTimer(t *testing.T) {
	log := &triggerLog{}
	s := newTimerScheduler(log.trigger)

	// The first timer fires while a replacement is being armed.
	s.mu.Lock()
	s.arm("store-a", time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	s.arm("store-a", time.Hour)
	replacement := s.timers["store-a"]
	s.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	s.mu.Lock()
	assert.Same(t, replacement, s.timers["store-a"])
	s.mu.Unlock()
	assert.Zero(t, log.count())

	s.stop()
	s.mu.Lock()
	assert.Empty(t, s.timers)
	s.mu.Unlock()
}

func TestTimerSchedulerIgnoresScheduleAfterStop(t *testing.T) {
	log := &triggerLog{}
	s := newTimerScheduler(log.trigger)
	s.stop()

	require.NoError(t, s.ScheduleRetry(context.Background(), "store-a", 0))
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, log.count())
}
