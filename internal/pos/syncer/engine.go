// Package syncer drains the offline sale queue into the backend.
//
// A pass runs for one store at a time. Rows are submitted strictly in queue
// order; a retryable failure stops the pass so later sales never overtake an
// earlier one, while a rejected sale is parked for the operator and the pass
// moves on. The client_sale_id makes every submission safe to replay, which is
// what lets a crash between backend success and local removal heal on the
// next pass.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-pos/internal/observability"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/netstatus"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/offline"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/remote"
)

// ErrClosed is returned by SyncNow after Close.
var ErrClosed = errors.New("syncer: engine closed")

// Reason names what woke the engine. Only ReasonManual changes behaviour: an
// explicit request ignores the retry backoff.
type Reason string

const (
	ReasonOnline     Reason = "online"
	ReasonManual     Reason = "manual"
	ReasonForeground Reason = "foreground"
	ReasonSchedule   Reason = "schedule"
)

// Queue is the subset of the queue manager the engine drives.
type Queue interface {
	ListPending(ctx context.Context, storeID string) ([]offline.QueuedSale, error)
	CountPending(ctx context.Context, storeID string) (int, error)
	MarkSending(ctx context.Context, clientSaleID string) error
	MarkFailed(ctx context.Context, clientSaleID string, in offline.FailureInput) error
	Remove(ctx context.Context, clientSaleID string) error
	RecoverSending(ctx context.Context, storeID string) (int64, error)
	Stores(ctx context.Context) ([]string, error)
	LeaseStore
}

// Scheduler arranges a later pass for a store whose head row is backing off.
type Scheduler interface {
	ScheduleRetry(ctx context.Context, storeID string, after time.Duration) error
}

// PassResult summarises one pass.
type PassResult struct {
	StoreID    string        `json:"store_id"`
	Reason     Reason        `json:"reason"`
	Coalesced  bool          `json:"coalesced"`
	Skipped    bool          `json:"skipped"`
	Offline    bool          `json:"offline"`
	Attempted  int           `json:"attempted"`
	Created    int           `json:"created"`
	Duplicates int           `json:"duplicates"`
	Rejected   int           `json:"rejected"`
	BlockedBy  string        `json:"blocked_by,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Remaining  int           `json:"remaining"`
}

func (r PassResult) outcome() string {
	switch {
	case r.Skipped:
		return "skipped"
	case r.Offline:
		return "offline"
	case r.BlockedBy != "":
		return "blocked"
	default:
		return "completed"
	}
}

// Config wires the engine's collaborators.
type Config struct {
	Queue     Queue
	Submitter remote.Submitter
	Network   netstatus.Status
	// Locker is taken after the queue file lease, e.g. a RedisLocker when
	// several devices sync one store.
	Locker    Locker
	Scheduler Scheduler
	// LeaseTTL bounds both lock leases and each submission.
	LeaseTTL time.Duration
	Backoff  Backoff
	Metrics  *observability.SyncMetrics
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Engine runs sync passes. Each store has at most one pass in flight in this
// process; a lease in the queue file extends that to every process sharing
// the file.
type Engine struct {
	queue     Queue
	submitter remote.Submitter
	network   netstatus.Status
	locker    Locker
	leaseTTL  time.Duration
	scheduler Scheduler
	backoff   Backoff
	metrics   *observability.SyncMetrics
	logger    *slog.Logger
	clock     func() time.Time

	group singleflight.Group

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	timers *timerScheduler
}

// New builds an Engine. Without a Scheduler, retries are armed with
// in-process timers.
func New(cfg Config) (*Engine, error) {
	if cfg.Queue == nil || cfg.Submitter == nil || cfg.Network == nil {
		return nil, errors.New("syncer: queue, submitter and network are required")
	}
	e := &Engine{
		queue:     cfg.Queue,
		submitter: cfg.Submitter,
		network:   cfg.Network,
		leaseTTL:  cfg.LeaseTTL,
		scheduler: cfg.Scheduler,
		backoff:   cfg.Backoff,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
	}
	if e.leaseTTL <= 0 {
		e.leaseTTL = DefaultLeaseTTL
	}
	chain := chainLocker{NewQueueLocker(cfg.Queue, e.leaseTTL, cfg.Logger)}
	if cfg.Locker != nil {
		chain = append(chain, cfg.Locker)
	}
	e.locker = chain
	if e.backoff.Base <= 0 {
		e.backoff = DefaultBackoff()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.scheduler == nil {
		e.timers = newTimerScheduler(e.Trigger)
		e.scheduler = e.timers
	}
	return e, nil
}

// Trigger starts a pass in the background and returns immediately. A trigger
// arriving while the store already has a pass in flight joins that pass
// instead of starting another.
func (e *Engine) Trigger(storeID string, reason Reason) {
	if !e.enter() {
		return
	}
	go func() {
		defer e.wg.Done()
		res, err := e.do(context.Background(), storeID, reason)
		if err != nil {
			e.logger.Error("sync pass failed", slog.String("store_id", storeID), slog.String("reason", string(reason)), slog.Any("error", err))
			return
		}
		if !res.Coalesced {
			e.logger.Debug("sync pass finished", slog.String("store_id", storeID), slog.String("outcome", res.outcome()))
		}
	}()
}

// SyncNow runs a pass and waits for it, or for the in-flight pass it was
// coalesced into. Cancelling ctx stops the wait, not the pass.
func (e *Engine) SyncNow(ctx context.Context, storeID string) (PassResult, error) {
	return e.Pass(ctx, storeID, ReasonManual)
}

// Pass is SyncNow with an explicit reason. Background jobs use it so that a
// scheduled pass still honours the backoff.
func (e *Engine) Pass(ctx context.Context, storeID string, reason Reason) (PassResult, error) {
	if !e.enter() {
		return PassResult{}, ErrClosed
	}
	defer e.wg.Done()
	return e.do(ctx, storeID, reason)
}

// Close stops accepting triggers and waits for in-flight passes.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	if e.timers != nil {
		e.timers.stop()
	}
	e.wg.Wait()
}

func (e *Engine) enter() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	return true
}

func (e *Engine) do(ctx context.Context, storeID string, reason Reason) (PassResult, error) {
	ran := false
	passCtx := context.WithoutCancel(ctx)
	// Held until the flight reports back so Close also waits for passes whose
	// caller stopped waiting. Callers already hold one count, so Add is safe.
	e.wg.Add(1)
	ch := e.group.DoChan(storeID, func() (any, error) {
		ran = true
		return e.pass(passCtx, storeID, reason)
	})
	select {
	case <-ctx.Done():
		go func() {
			<-ch
			e.wg.Done()
		}()
		return PassResult{StoreID: storeID, Reason: reason}, ctx.Err()
	case res := <-ch:
		e.wg.Done()
		out, _ := res.Val.(PassResult)
		if !ran {
			out.Coalesced = true
		}
		return out, res.Err
	}
}

func (e *Engine) pass(ctx context.Context, storeID string, reason Reason) (PassResult, error) {
	res := PassResult{StoreID: storeID, Reason: reason}
	if !e.network.Online() {
		res.Offline = true
		e.metrics.ObservePass(res.outcome(), 0)
		return res, nil
	}

	lease, ok, err := e.locker.TryLock(ctx, storeID)
	if err != nil {
		e.metrics.ObservePass("error", 0)
		return res, err
	}
	if !ok {
		res.Skipped = true
		e.metrics.ObservePass(res.outcome(), 0)
		return res, nil
	}
	defer lease.Release()

	start := e.clock()
	err = e.drain(ctx, lease, &res)
	if n, countErr := e.queue.CountPending(ctx, storeID); countErr == nil {
		res.Remaining = n
		e.metrics.SetPending(storeID, n)
	}
	outcome := res.outcome()
	if err != nil {
		outcome = "error"
	}
	e.metrics.ObservePass(outcome, e.clock().Sub(start))
	e.logger.Info("sync pass",
		slog.String("store_id", storeID),
		slog.String("reason", string(reason)),
		slog.String("outcome", outcome),
		slog.Int("attempted", res.Attempted),
		slog.Int("created", res.Created),
		slog.Int("duplicates", res.Duplicates),
		slog.Int("rejected", res.Rejected),
		slog.Int("remaining", res.Remaining),
	)
	return res, err
}

func (e *Engine) drain(ctx context.Context, lease Lease, res *PassResult) error {
	storeID := res.StoreID
	// Rows are marked SENDING only under a live lease and every submission
	// ends before the lease can lapse, so a SENDING row seen by a new holder
	// belongs to a pass that died before learning its outcome.
	if _, err := e.queue.RecoverSending(ctx, storeID); err != nil {
		return err
	}
	rows, err := e.queue.ListPending(ctx, storeID)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if !e.network.Online() {
			res.Offline = true
			return nil
		}
		if row.Rejected() {
			continue
		}
		now := e.clock()
		if res.Reason != ReasonManual && !row.Due(now) {
			res.BlockedBy = row.ClientSaleID
			res.RetryAfter = row.NextAttemptAt.Sub(now)
			e.scheduleRetry(ctx, storeID, res.RetryAfter)
			return nil
		}

		if err := lease.Extend(ctx); err != nil {
			return err
		}
		if err := e.queue.MarkSending(ctx, row.ClientSaleID); err != nil {
			if errors.Is(err, offline.ErrNotFound) {
				// Discarded by the operator since the listing.
				continue
			}
			return err
		}
		res.Attempted++

		result, subErr := e.submit(ctx, row)
		if subErr == nil {
			if err := e.queue.Remove(ctx, row.ClientSaleID); err != nil && !errors.Is(err, offline.ErrNotFound) {
				return fmt.Errorf("syncer: remove confirmed sale %s: %w", row.ClientSaleID, err)
			}
			if result.Outcome == remote.OutcomeDuplicate {
				res.Duplicates++
			} else {
				res.Created++
			}
			e.metrics.Submission(string(result.Outcome))
			continue
		}

		if remote.IsRetryable(subErr) {
			delay := e.backoff.Delay(row.AttemptCount + 1)
			if err := e.queue.MarkFailed(ctx, row.ClientSaleID, offline.FailureInput{
				Kind:          offline.FailureRetryable,
				Message:       subErr.Error(),
				NextAttemptAt: e.clock().Add(delay),
			}); err != nil {
				return err
			}
			e.metrics.Submission("retryable")
			e.logger.Warn("sale submission will be retried",
				slog.String("store_id", storeID),
				slog.String("client_sale_id", row.ClientSaleID),
				slog.Int("attempt", row.AttemptCount+1),
				slog.Duration("retry_after", delay),
				slog.Any("error", subErr))
			res.BlockedBy = row.ClientSaleID
			res.RetryAfter = delay
			e.scheduleRetry(ctx, storeID, delay)
			return nil
		}

		if err := e.queue.MarkFailed(ctx, row.ClientSaleID, offline.FailureInput{
			Kind:    offline.FailureRejected,
			Message: rejectionMessage(subErr),
		}); err != nil {
			return err
		}
		res.Rejected++
		e.metrics.Submission("rejected")
		e.logger.Error("sale rejected by backend",
			slog.String("store_id", storeID),
			slog.String("client_sale_id", row.ClientSaleID),
			slog.Any("error", subErr))
	}
	return nil
}

// submit gives up after half the lease TTL so the row is settled while the
// lease is still held.
func (e *Engine) submit(ctx context.Context, row offline.QueuedSale) (remote.SubmitResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.leaseTTL/2)
	defer cancel()
	return e.submitter.Submit(ctx, remote.SubmitRequest{
		ClientSaleID:   row.ClientSaleID,
		StoreID:        row.StoreID,
		OrganizationID: row.OrganizationID,
		SoldAt:         row.CreatedAt,
		Payload:        row.Payload,
	})
}

func (e *Engine) scheduleRetry(ctx context.Context, storeID string, after time.Duration) {
	if after < 0 {
		after = 0
	}
	if err := e.scheduler.ScheduleRetry(ctx, storeID, after); err != nil {
		e.logger.Warn("schedule sync retry", slog.String("store_id", storeID), slog.Any("error", err))
	}
}

func rejectionMessage(err error) string {
	var se *remote.SubmitError
	if errors.As(err, &se) && se.Reason != "" {
		return se.Reason
	}
	return err.Error()
}
