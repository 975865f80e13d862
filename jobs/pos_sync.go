package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/syncer"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SyncEngine is the engine surface the jobs drive.
type SyncEngine interface {
	Pass(ctx context.Context, storeID string, reason syncer.Reason) (syncer.PassResult, error)
}

// StoreLister lists stores that have queued sales.
type StoreLister interface {
	Stores(ctx context.Context) ([]string, error)
}

// SyncJob runs sync passes on behalf of the scheduler and the sweep cron.
type SyncJob struct {
	Engine  SyncEngine
	Stores  StoreLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSyncJob wires dependencies for the sync handlers.
func NewSyncJob(engine SyncEngine, stores StoreLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *SyncJob {
	return &SyncJob{Engine: engine, Stores: stores, Logger: logger, Metrics: metrics}
}

// HandleStore processes TaskPOSSyncStore tasks.
func (j *SyncJob) HandleStore(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Engine == nil {
		return errors.New("pos sync: handler not configured")
	}
	var payload SyncStorePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.StoreID == "" {
		return asynq.SkipRetry
	}
	reason := syncer.Reason(payload.Reason)
	if reason == "" {
		reason = syncer.ReasonSchedule
	}

	tracker := j.metrics().Track(TaskPOSSyncStore)
	res, err := j.Engine.Pass(ctx, payload.StoreID, reason)
	if err != nil {
		j.logger().Error("scheduled sync pass", slog.String("store_id", payload.StoreID), slog.Any("error", err))
		if errors.Is(err, syncer.ErrClosed) {
			return tracker.End(fmt.Errorf("%w: %v", asynq.SkipRetry, err))
		}
		return tracker.End(err)
	}
	j.logger().Info("scheduled sync pass",
		slog.String("store_id", payload.StoreID),
		slog.Bool("skipped", res.Skipped),
		slog.Bool("offline", res.Offline),
		slog.Int("remaining", res.Remaining))
	return tracker.End(nil)
}

// HandleSweep processes TaskPOSSyncSweep tasks. Each store gets its own
// pass; one failing store does not stop the others.
func (j *SyncJob) HandleSweep(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Engine == nil || j.Stores == nil {
		return errors.New("pos sync sweep: handler not configured")
	}
	var payload SyncSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskPOSSyncSweep)
	stores, err := j.Stores.Stores(ctx)
	if err != nil {
		return tracker.End(fmt.Errorf("pos sync sweep: list stores: %w", err))
	}
	j.metrics().AddSweptStores(len(stores))

	var errs []error
	for _, storeID := range stores {
		if _, err := j.Engine.Pass(ctx, storeID, syncer.ReasonSchedule); err != nil {
			j.logger().Warn("sweep pass", slog.String("store_id", storeID), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("store %s: %w", storeID, err))
		}
	}
	return tracker.End(errors.Join(errs...))
}

func (j *SyncJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SyncJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
