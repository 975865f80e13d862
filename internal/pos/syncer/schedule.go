package syncer

import (
	"context"
	"sync"
	"time"
)

// timerScheduler re-triggers a store after its backoff using in-process
// timers. One timer per store; a new schedule replaces the previous one.
type timerScheduler struct {
	trigger func(storeID string, reason Reason)

	mu      sync.Mutex
	stopped bool
	timers  map[string]*time.Timer
}

func newTimerScheduler(trigger func(string, Reason)) *timerScheduler {
	return &timerScheduler{trigger: trigger, timers: make(map[string]*time.Timer)}
}

func (s *timerScheduler) ScheduleRetry(_ context.Context, storeID string, after time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.arm(storeID, after)
	return nil
}

// arm needs s.mu held. A replaced timer that already fired finds another
// timer in the map and neither removes it nor triggers.
func (s *timerScheduler) arm(storeID string, after time.Duration) {
	if prev, ok := s.timers[storeID]; ok {
		prev.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(after, func() {
		s.mu.Lock()
		if s.timers[storeID] != t {
			s.mu.Unlock()
			return
		}
		delete(s.timers, storeID)
		s.mu.Unlock()
		s.trigger(storeID, ReasonSchedule)
	})
	s.timers[storeID] = t
}

func (s *timerScheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
