// Package netstatus tracks whether the backend is reachable.
package netstatus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Status reports connectivity. It may change at any time.
type Status interface {
	Online() bool
}

// Pinger probes the backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Transition is emitted when connectivity flips.
type Transition struct {
	Online bool
	At     time.Time
}

// Monitor polls a Pinger and fans out transitions to subscribers.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	online atomic.Bool
	forced atomic.Bool

	mu   sync.Mutex
	subs []chan Transition
}

// NewMonitor builds a Monitor that starts in the offline state until the
// first successful probe.
func NewMonitor(pinger Pinger, interval, timeout time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{pinger: pinger, interval: interval, timeout: timeout, logger: logger}
}

// Online reports the last observed connectivity.
func (m *Monitor) Online() bool {
	return !m.forced.Load() && m.online.Load()
}

// ForceOffline pins the monitor offline, e.g. for airplane-mode testing at
// the counter. Passing false resumes probing results.
func (m *Monitor) ForceOffline(v bool) {
	was := m.Online()
	m.forced.Store(v)
	m.notify(was)
}

// Subscribe returns a channel receiving every transition. Slow subscribers
// miss transitions rather than blocking the monitor.
func (m *Monitor) Subscribe() <-chan Transition {
	ch := make(chan Transition, 4)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Run probes until ctx is cancelled, then closes subscriber channels.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer m.closeSubs()

	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe runs a single health check and records the result.
func (m *Monitor) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := m.pinger.Ping(probeCtx)
	was := m.Online()
	m.online.Store(err == nil)
	if err != nil && was {
		m.logger.Warn("backend unreachable", slog.Any("error", err))
	}
	m.notify(was)
	return err == nil
}

func (m *Monitor) notify(was bool) {
	now := m.Online()
	if now == was {
		return
	}
	m.logger.Info("connectivity changed", slog.Bool("online", now))
	t := Transition{Online: now, At: time.Now()}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- t:
		default:
		}
	}
}

func (m *Monitor) closeSubs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
}

// Static is a manually controlled Status.
type Static struct {
	v atomic.Bool
}

// NewStatic returns a Static with the given initial value.
func NewStatic(online bool) *Static {
	s := &Static{}
	s.v.Store(online)
	return s
}

// Online implements Status.
func (s *Static) Online() bool { return s.v.Load() }

// Set changes the reported connectivity.
func (s *Static) Set(online bool) { s.v.Store(online) }
