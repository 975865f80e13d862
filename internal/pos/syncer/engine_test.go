package syncer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/localdb"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/netstatus"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/offline"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/remote"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/totals"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeBackend behaves like salesd: it deduplicates on client_sale_id.
type fakeBackend struct {
	mu          sync.Mutex
	sales       map[string]string
	calls       []string
	fail        map[string]error
	inflight    int
	maxInflight int
	onSubmit    func(remote.SubmitRequest)
	block       chan struct{}
	entered     chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{sales: make(map[string]string), fail: make(map[string]error)}
}

func (f *fakeBackend) Submit(ctx context.Context, req remote.SubmitRequest) (remote.SubmitResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.ClientSaleID)
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	hook, block, entered := f.onSubmit, f.block, f.entered
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if hook != nil {
		hook(req)
	}
	if block != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[req.ClientSaleID]; err != nil {
		return remote.SubmitResult{}, err
	}
	if id, ok := f.sales[req.ClientSaleID]; ok {
		return remote.SubmitResult{Outcome: remote.OutcomeDuplicate, RemoteSaleID: id}, nil
	}
	id := fmt.Sprintf("S-%d", len(f.sales)+1)
	f.sales[req.ClientSaleID] = id
	return remote.SubmitResult{Outcome: remote.OutcomeCreated, RemoteSaleID: id}, nil
}

func (f *fakeBackend) setFailure(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, id)
		return
	}
	f.fail[id] = err
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) SaleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sales)
}

type recordingScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingScheduler) ScheduleRetry(_ context.Context, _ string, after time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, after)
	return nil
}

type deniedLocker struct{}

func (deniedLocker) TryLock(context.Context, string) (Lease, bool, error) {
	return nil, false, nil
}

type submitterFunc func(context.Context, remote.SubmitRequest) (remote.SubmitResult, error)

func (f submitterFunc) Submit(ctx context.Context, req remote.SubmitRequest) (remote.SubmitResult, error) {
	return f(ctx, req)
}

type fixture struct {
	path      string
	engine    *Engine
	queue     *offline.Queue
	backend   *fakeBackend
	network   *netstatus.Static
	clock     *testClock
	scheduler *recordingScheduler
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	db, err := localdb.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	ids := []string{"A", "B", "C", "D", "E"}
	var next atomic.Int32
	queue := offline.NewQueue(offline.NewRepository(db), nil,
		offline.WithClock(clock.Now),
		offline.WithIDGenerator(func() string { return ids[next.Add(1)-1] }),
	)

	f := &fixture{
		path:      path,
		queue:     queue,
		backend:   newFakeBackend(),
		network:   netstatus.NewStatic(true),
		clock:     clock,
		scheduler: &recordingScheduler{},
	}
	cfg := Config{
		Queue:     queue,
		Submitter: f.backend,
		Network:   f.network,
		Scheduler: f.scheduler,
		Backoff:   Backoff{Base: 5 * time.Second, Max: time.Minute},
		Clock:     clock.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	engine, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	f.engine = engine
	return f
}

// peer opens a second engine on the same queue file through its own
// connection, the way the worker runs next to the agent on one device.
func (f *fixture) peer(t *testing.T, opts ...func(*Config)) *Engine {
	t.Helper()
	db, err := localdb.Open(context.Background(), f.path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := Config{
		Queue:     offline.NewQueue(offline.NewRepository(db), nil, offline.WithClock(f.clock.Now)),
		Submitter: f.backend,
		Network:   f.network,
		Scheduler: &recordingScheduler{},
		Backoff:   Backoff{Base: 5 * time.Second, Max: time.Minute},
		Clock:     f.clock.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	engine, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine
}

func (f *fixture) enqueue(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.queue.Enqueue(context.Background(), offline.EnqueueInput{
			StoreID:        "store-a",
			OrganizationID: "org-1",
			Payload: totals.Payload{
				Items:         []totals.Item{{ProductID: "p-1", Qty: 1, UnitPrice: 1000}},
				PaymentMethod: totals.PaymentCash,
				PaidAmount:    1000,
			},
		})
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}
}

func (f *fixture) row(t *testing.T, id string) offline.QueuedSale {
	t.Helper()
	sale, err := f.queue.GetByClientID(context.Background(), "store-a", id)
	require.NoError(t, err)
	return sale
}

func TestPassDrainsQueueInOrder(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, 3)

	res, err := f.engine.SyncNow(context.Background(), "store-a")
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, f.backend.Calls())
	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, 0, res.Remaining)
	assert.False(t, res.Coalesced)

	n, err := f.queue.CountPending(context.Background(), "store-a")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRetryableFailureStopsPass(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, 3)
	f.backend.setFailure("A", &remote.SubmitError{Retryable: true, Status: 503, Reason: "unavailable"})

	res, err := f.engine.SyncNow(context.Background(), "store-a")
	require.NoError(t, err)

	assert.Equal(t, []string{"A"}, f.backend.Calls())
	assert.Equal(t, "A", res.BlockedBy)
	assert.Equal(t, 5*time.Second, res.RetryAfter)
	assert.Equal(t, 3, res.Remaining)

	a := f.row(t, "A")
	assert.Equal(t, offline.StatusFailed, a.Status)
	assert.Equal(t, offline.FailureRetryable, a.FailureKind)
	assert.Equal(t, 1, a.AttemptCount)
	assert.Contains(t, a.LastError, "unavailable")
	assert.Equal(t, offline.StatusPending, f.row(t, "B").Status)
	assert.Equal(t, offline.StatusPending, f.row(t, "C").Status)
	assert.Equal(t, []time.Duration{5 * time.Second}, f.scheduler.delays)
}

func TestBackoffGrowsAndGatesAutomaticPasses(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, 2)
	unavailable := &remote.SubmitError{Retryable: true, Status: 502}
	f.backend.setFailure("A", unavailable)
	ctx := context.Background()

	_, err := f.engine.do(ctx, "store-a", ReasonOnline)
	require.NoError(t, err)

	// Not due yet: an automatic pass does not touch the blocked head row.
	f.clock.Advance(2 * time.Second)
	res, err := f.engine.do(ctx, "store-a", ReasonSchedule)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Attempted)
	assert.Equal(t, "A", res.BlockedBy)
	assert.Equal(t, 3*time.Second, res.RetryAfter)

	f.clock.Advance(3 * time.Second)
	res, err = f.engine.do(ctx, "store-a", ReasonSchedule)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempted)
	assert.Equal(t, 10*time.Second, res.RetryAfter)
	assert.Equal(t, 2, f.row(t, "A").AttemptCount)

	// An explicit sync ignores the backoff.
	f.backend.setFailure("A", nil)
	res, err = f.engine.SyncNow(ctx, "store-a")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, []string{"A", "A", "A", "B"}, f.backend.Calls())
}

func TestRejectedRowDoesNotBlockSiblings(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, 3)
	f.backend.setFailure("A", &remote.SubmitError{Status: 422, Reason: "insufficient stock for p-1"})

	res, err := f.engine.SyncNow(context.Background(), "store-a")
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, f.backend.Calls())
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Remaining)

	a := f.row(t, "A")
	assert.True(t, a.Rejected())
	assert.Equal(t, "insufficient stock for p-1", a.LastError)

	// Parked rows wait for the operator instead of being resent.
	res, err = f.engine.SyncNow(context.Background(), "store-a")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Attempted)
	assert.Len(t, f.backend.Calls(), 3)
}

func TestReplayAfterCrashIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, 1)
	ctx := context.Background()

	// The backend recorded A, then the device died before removing the row.
	require.NoError(t, f.queue.MarkSending(ctx, "A"))
	_, err := f.backend.Submit(ctx, remote.SubmitRequest{ClientSaleID: "A"})
	require.NoError(t, err)
	assert.Equal(t, offline.StatusSending, f.row(t, "A").Status)

	res, err := f.engine.SyncNow(ctx, "store-a")
	require.NoError(t, err)

	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, f.backend.SaleCount())
	_, err = f.queue.GetByClientID(ctx, "store-a", "A")
	require.ErrorIs(t, err, offline.ErrNotFound)
}

func TestOfflinePassIsNoop(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, 2)
	f.network.Set(false)

	res, err := f.engine.SyncNow(context.Background(), "store-a")
	require.NoError(t, err)

	assert.True(t, res.Offline)
	assert.Empty(t, f.backend.Calls())
}

func TestConnectivityDropMidPassStops(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, 3)
	f.backend.onSubmit = func(remote.SubmitRequest) { f.network.Set(false) }

	res, err := f.engine.SyncNow(context.Background(), "store-a")
	require.NoError(t, err)

	assert.True(t, res.Offline)
	assert.Equal(t, []string{"A"}, f.backend.Calls())
	assert.Equal(t, 2, res.Remaining)
}

func TestLockHeldElsewhereSkipsPass(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.Locker = deniedLocker{} })
	f.enqueue(t, 1)

	res, err := f.engine.SyncNow(context.Background(), "store-a")
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.Empty(t, f.backend.Calls())
}

func TestDeniedLockReleasesQueueLease(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.Locker = deniedLocker{} })
	f.enqueue(t, 1)
	ctx := context.Background()

	res, err := f.engine.SyncNow(ctx, "store-a")
	require.NoError(t, err)
	require.True(t, res.Skipped)

	ok, err := f.queue.AcquireLease(ctx, "store-a", "other-device", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnginesSharingQueueFileNeverSendTogether(t *testing.T) {
	// The agent runs without a distributed lock, the worker with Redis.
	f := newFixture(t)
	locker, _ := newTestLocker(t)
	worker := f.peer(t, func(cfg *Config) { cfg.Locker = locker })
	f.enqueue(t, 1)
	f.backend.block = make(chan struct{})
	f.backend.entered = make(chan struct{}, 1)
	ctx := context.Background()

	agentDone := make(chan PassResult, 1)
	go func() {
		res, _ := f.engine.SyncNow(ctx, "store-a")
		agentDone <- res
	}()
	<-f.backend.entered

	res, err := worker.SyncNow(ctx, "store-a")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, offline.StatusSending, f.row(t, "A").Status)

	close(f.backend.block)
	agent := <-agentDone
	assert.Equal(t, 1, agent.Created)

	res, err = worker.SyncNow(ctx, "store-a")
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Zero(t, res.Attempted)

	assert.Equal(t, []string{"A"}, f.backend.Calls())
	f.backend.mu.Lock()
	assert.Equal(t, 1, f.backend.maxInflight)
	f.backend.mu.Unlock()
}

func TestExpiredLeaseOfDeadHolderIsTakenOver(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, 1)
	ctx := context.Background()

	// Another process took the lease, marked A and died.
	ok, err := f.queue.AcquireLease(ctx, "store-a", "dead-device", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.queue.MarkSending(ctx, "A"))

	res, err := f.engine.SyncNow(ctx, "store-a")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, offline.StatusSending, f.row(t, "A").Status)

	f.clock.Advance(time.Minute)
	res, err = f.engine.SyncNow(ctx, "store-a")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, []string{"A"}, f.backend.Calls())
}

func TestLostLeaseStopsPass(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.LeaseTTL = time.Minute })
	f.enqueue(t, 2)
	ctx := context.Background()

	var takeover atomic.Bool
	f.backend.onSubmit = func(remote.SubmitRequest) {
		f.clock.Advance(2 * time.Minute)
		ok, err := f.queue.AcquireLease(ctx, "store-a", "other-device", time.Minute)
		takeover.Store(ok && err == nil)
	}

	_, err := f.engine.SyncNow(ctx, "store-a")
	require.ErrorIs(t, err, ErrLeaseLost)
	assert.True(t, takeover.Load())
	assert.Equal(t, []string{"A"}, f.backend.Calls())
	assert.Equal(t, offline.StatusPending, f.row(t, "B").Status)
}

func TestSubmissionEndsWithinLease(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.LeaseTTL = 40 * time.Millisecond
		cfg.Submitter = submitterFunc(func(ctx context.Context, _ remote.SubmitRequest) (remote.SubmitResult, error) {
			<-ctx.Done()
			return remote.SubmitResult{}, ctx.Err()
		})
	})
	f.enqueue(t, 1)

	res, err := f.engine.SyncNow(context.Background(), "store-a")
	require.NoError(t, err)
	assert.Equal(t, "A", res.BlockedBy)

	a := f.row(t, "A")
	assert.Equal(t, offline.FailureRetryable, a.FailureKind)
	assert.Contains(t, a.LastError, context.DeadlineExceeded.Error())
}

func TestConcurrentSyncNowRunsSinglePass(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, 2)
	f.backend.block = make(chan struct{})
	f.backend.entered = make(chan struct{}, 1)

	results := make(chan PassResult, 2)
	go func() {
		res, _ := f.engine.SyncNow(context.Background(), "store-a")
		results <- res
	}()
	<-f.backend.entered
	go func() {
		res, _ := f.engine.SyncNow(context.Background(), "store-a")
		results <- res
	}()
	time.Sleep(20 * time.Millisecond)
	close(f.backend.block)

	first, second := <-results, <-results
	assert.True(t, first.Coalesced || second.Coalesced)
	assert.Equal(t, 2, first.Attempted)
	assert.Equal(t, 2, second.Attempted)
	f.backend.mu.Lock()
	assert.Equal(t, 1, f.backend.maxInflight)
	f.backend.mu.Unlock()
	assert.Equal(t, []string{"A", "B"}, f.backend.Calls())
}

func TestTriggerIsFireAndForget(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, 2)

	f.engine.Trigger("store-a", ReasonForeground)
	f.engine.Trigger("store-a", ReasonForeground)
	f.engine.Close()

	assert.Equal(t, 2, f.backend.SaleCount())
	_, err := f.engine.SyncNow(context.Background(), "store-a")
	require.ErrorIs(t, err, ErrClosed)
}

func TestSyncNowReturnsWhenCallerGivesUp(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, 1)
	f.backend.block = make(chan struct{})
	f.backend.entered = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.engine.SyncNow(ctx, "store-a")
		done <- err
	}()
	<-f.backend.entered
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	// The pass itself keeps going and completes the row.
	close(f.backend.block)
	f.engine.Close()
	assert.Equal(t, 1, f.backend.SaleCount())
}

func TestTimerSchedulerRetriesAfterBackoff(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Scheduler = nil
		cfg.Clock = nil
		cfg.Backoff = Backoff{Base: 10 * time.Millisecond, Max: 20 * time.Millisecond}
	})
	f.enqueue(t, 1)
	f.backend.setFailure("A", errors.New("dial tcp: connection refused"))

	_, err := f.engine.SyncNow(context.Background(), "store-a")
	require.NoError(t, err)
	f.backend.setFailure("A", nil)

	require.Eventually(t, func() bool { return f.backend.SaleCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestRunTriggersStoresWhenOnline(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, 1)

	transitions := make(chan netstatus.Transition, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.engine.Run(ctx, transitions, time.Hour)

	transitions <- netstatus.Transition{Online: true, At: time.Now()}
	require.Eventually(t, func() bool { return f.backend.SaleCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
