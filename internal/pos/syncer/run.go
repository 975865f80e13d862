package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/pos/netstatus"
)

// Run wakes the engine on connectivity changes and on a fixed sweep
// interval until ctx is cancelled. Each wake triggers every store that has
// queued sales.
func (e *Engine) Run(ctx context.Context, transitions <-chan netstatus.Transition, sweep time.Duration) {
	if sweep <= 0 {
		sweep = time.Minute
	}
	ticker := time.NewTicker(sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-transitions:
			if !ok {
				transitions = nil
				continue
			}
			if tr.Online {
				e.TriggerAll(ctx, ReasonOnline)
			}
		case <-ticker.C:
			e.TriggerAll(ctx, ReasonSchedule)
		}
	}
}

// TriggerAll triggers every store with queued sales.
func (e *Engine) TriggerAll(ctx context.Context, reason Reason) {
	stores, err := e.queue.Stores(ctx)
	if err != nil {
		e.logger.Error("list stores with queued sales", slog.Any("error", err))
		return
	}
	for _, storeID := range stores {
		e.Trigger(storeID, reason)
	}
}
