package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueSync carries sync passes so a slow backend cannot starve other work.
	QueueSync = "pos-sync"

	// TaskPOSSyncStore runs one sync pass for a store.
	TaskPOSSyncStore = "pos:sync:store"
	// TaskPOSSyncSweep runs a pass for every store with queued sales.
	TaskPOSSyncSweep = "pos:sync:sweep"
)

// SyncStorePayload identifies the store to drain.
type SyncStorePayload struct {
	StoreID string `json:"store_id"`
	Reason  string `json:"reason,omitempty"`
}

// NewSyncStoreTask constructs an Asynq task for one store.
func NewSyncStoreTask(storeID, reason string) (*asynq.Task, error) {
	if storeID == "" {
		return nil, errors.New("jobs: store id required")
	}
	body, err := json.Marshal(SyncStorePayload{StoreID: storeID, Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPOSSyncStore, body, asynq.Queue(QueueSync), asynq.MaxRetry(5), asynq.Timeout(5*time.Minute)), nil
}

// SyncSweepPayload carries scheduling metadata.
type SyncSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for,omitempty"`
}

// NewSyncSweepTask constructs the periodic sweep task.
func NewSyncSweepTask() (*asynq.Task, error) {
	body, err := json.Marshal(SyncSweepPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPOSSyncSweep, body, asynq.Queue(QueueSync), asynq.MaxRetry(1)), nil
}
