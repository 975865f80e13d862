package netstatus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyPinger struct {
	down atomic.Bool
}

func (p *flakyPinger) Ping(ctx context.Context) error {
	if p.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func TestProbeEmitsTransitions(t *testing.T) {
	pinger := &flakyPinger{}
	m := NewMonitor(pinger, time.Hour, time.Second, nil)
	sub := m.Subscribe()

	assert.False(t, m.Online())
	assert.True(t, m.Probe(context.Background()))
	assert.True(t, m.Online())
	require.True(t, (<-sub).Online)

	// No transition when the state does not change.
	m.Probe(context.Background())
	select {
	case tr := <-sub:
		t.Fatalf("unexpected transition %+v", tr)
	default:
	}

	pinger.down.Store(true)
	assert.False(t, m.Probe(context.Background()))
	require.False(t, (<-sub).Online)
}

func TestForceOfflineOverridesProbe(t *testing.T) {
	m := NewMonitor(&flakyPinger{}, time.Hour, time.Second, nil)
	m.Probe(context.Background())
	sub := m.Subscribe()

	m.ForceOffline(true)
	assert.False(t, m.Online())
	require.False(t, (<-sub).Online)

	m.ForceOffline(false)
	assert.True(t, m.Online())
	require.True(t, (<-sub).Online)
}

func TestRunClosesSubscribersOnCancel(t *testing.T) {
	m := NewMonitor(&flakyPinger{}, 5*time.Millisecond, time.Second, nil)
	sub := m.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.True(t, (<-sub).Online)
	cancel()
	<-done
	_, ok := <-sub
	assert.False(t, ok)
}

func TestStatic(t *testing.T) {
	s := NewStatic(false)
	assert.False(t, s.Online())
	s.Set(true)
	assert.True(t, s.Online())
}
