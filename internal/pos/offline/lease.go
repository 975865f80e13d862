package offline

import (
	"context"
	"fmt"
	"time"
)

// AcquireLease takes the store's sync lease for holder unless another holder
// has an unexpired one.
func (r *Repository) AcquireLease(ctx context.Context, storeID, holder string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO sync_leases (store_id, holder, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (store_id) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE sync_leases.expires_at <= ?`,
		storeID, holder, now.Add(ttl).UnixNano(), now.UnixNano())
	return affected(res, err)
}

// ExtendLease pushes the expiry of a lease still owned by holder.
func (r *Repository) ExtendLease(ctx context.Context, storeID, holder string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sync_leases SET expires_at = ?
		WHERE store_id = ? AND holder = ? AND expires_at > ?`,
		now.Add(ttl).UnixNano(), storeID, holder, now.UnixNano())
	return affected(res, err)
}

// ReleaseLease drops the lease if holder still owns it.
func (r *Repository) ReleaseLease(ctx context.Context, storeID, holder string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_leases WHERE store_id = ? AND holder = ?`, storeID, holder)
	return err
}

// AcquireLease claims the sync lease of a store in the queue file. The lease
// is shared by every process that opens the file, so an agent and a worker
// never drain the same store at once.
func (q *Queue) AcquireLease(ctx context.Context, storeID, holder string, ttl time.Duration) (bool, error) {
	ok, err := q.repo.AcquireLease(ctx, storeID, holder, q.clock(), ttl)
	if err != nil {
		return false, fmt.Errorf("offline: acquire lease %s: %w", storeID, err)
	}
	return ok, nil
}

// ExtendLease renews a held lease. It reports false once the lease expired
// or was taken over.
func (q *Queue) ExtendLease(ctx context.Context, storeID, holder string, ttl time.Duration) (bool, error) {
	ok, err := q.repo.ExtendLease(ctx, storeID, holder, q.clock(), ttl)
	if err != nil {
		return false, fmt.Errorf("offline: extend lease %s: %w", storeID, err)
	}
	return ok, nil
}

// ReleaseLease gives the lease back.
func (q *Queue) ReleaseLease(ctx context.Context, storeID, holder string) error {
	if err := q.repo.ReleaseLease(ctx, storeID, holder); err != nil {
		return fmt.Errorf("offline: release lease %s: %w", storeID, err)
	}
	return nil
}
