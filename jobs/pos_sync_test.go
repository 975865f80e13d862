package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/syncer"
)

type passCall struct {
	storeID string
	reason  syncer.Reason
}

type fakeEngine struct {
	mu    sync.Mutex
	calls []passCall
	errs  map[string]error
}

func (f *fakeEngine) Pass(_ context.Context, storeID string, reason syncer.Reason) (syncer.PassResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, passCall{storeID: storeID, reason: reason})
	return syncer.PassResult{StoreID: storeID, Reason: reason}, f.errs[storeID]
}

type fakeStores struct {
	stores []string
	err    error
}

func (f fakeStores) Stores(context.Context) ([]string, error) { return f.stores, f.err }

func newTestJob(engine *fakeEngine, stores StoreLister) *SyncJob {
	return NewSyncJob(engine, stores, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
}

func TestSyncStoreTaskRunsScheduledPass(t *testing.T) {
	engine := &fakeEngine{}
	job := newTestJob(engine, fakeStores{})

	task, err := NewSyncStoreTask("store-a", "")
	require.NoError(t, err)
	require.NoError(t, job.HandleStore(context.Background(), task))

	assert.Equal(t, []passCall{{storeID: "store-a", reason: syncer.ReasonSchedule}}, engine.calls)
}

func TestSyncStoreTaskRejectsBadPayload(t *testing.T) {
	job := newTestJob(&fakeEngine{}, fakeStores{})

	err := job.HandleStore(context.Background(), asynq.NewTask(TaskPOSSyncStore, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	body, _ := json.Marshal(SyncStorePayload{})
	err = job.HandleStore(context.Background(), asynq.NewTask(TaskPOSSyncStore, body))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	_, err = NewSyncStoreTask("", "")
	assert.Error(t, err)
}

func TestSyncStoreTaskPropagatesPassError(t *testing.T) {
	boom := errors.New("database is locked")
	engine := &fakeEngine{errs: map[string]error{"store-a": boom}}
	job := newTestJob(engine, fakeStores{})
	task, err := NewSyncStoreTask("store-a", "")
	require.NoError(t, err)

	err = job.HandleStore(context.Background(), task)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestSyncStoreTaskClosedEngineSkipsRetry(t *testing.T) {
	engine := &fakeEngine{errs: map[string]error{"store-a": syncer.ErrClosed}}
	job := newTestJob(engine, fakeStores{})
	task, err := NewSyncStoreTask("store-a", "")
	require.NoError(t, err)

	assert.ErrorIs(t, job.HandleStore(context.Background(), task), asynq.SkipRetry)
}

func TestSweepVisitsEveryStore(t *testing.T) {
	boom := errors.New("lock backend down")
	engine := &fakeEngine{errs: map[string]error{"store-b": boom}}
	job := newTestJob(engine, fakeStores{stores: []string{"store-a", "store-b", "store-c"}})
	task, err := NewSyncSweepTask()
	require.NoError(t, err)

	err = job.HandleSweep(context.Background(), task)
	require.ErrorIs(t, err, boom)
	require.Len(t, engine.calls, 3)
	for _, c := range engine.calls {
		assert.Equal(t, syncer.ReasonSchedule, c.reason)
	}
}

func TestSweepListFailure(t *testing.T) {
	boom := errors.New("disk I/O error")
	engine := &fakeEngine{}
	job := newTestJob(engine, fakeStores{err: boom})
	task, err := NewSyncSweepTask()
	require.NoError(t, err)

	assert.ErrorIs(t, job.HandleSweep(context.Background(), task), boom)
	assert.Empty(t, engine.calls)
}

func TestWorkerRegistersHandlers(t *testing.T) {
	job := newTestJob(&fakeEngine{}, fakeStores{})

	w, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Handlers: []TaskHandler{
			{Type: TaskPOSSyncStore, Handler: job.HandleStore},
			{Type: TaskPOSSyncSweep, Handler: job.HandleSweep},
		},
	})
	require.NoError(t, err)
	assert.Nil(t, w.scheduler)

	task, err := NewSyncStoreTask("store-a", "")
	require.NoError(t, err)
	require.NoError(t, w.mux.ProcessTask(context.Background(), task))
	require.Error(t, w.mux.ProcessTask(context.Background(), asynq.NewTask("unknown:task", nil)))
}
