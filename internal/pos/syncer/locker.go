package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// ErrLeaseLost means the store lock expired or was taken over mid-pass.
var ErrLeaseLost = errors.New("syncer: store lease lost")

// DefaultLeaseTTL bounds how long a silent holder keeps a store locked.
const DefaultLeaseTTL = 2 * time.Minute

// Lease is a held store lock. Extend must be called before every submission
// so the lock outlives the request; it returns ErrLeaseLost once another
// holder may have taken over.
type Lease interface {
	Extend(ctx context.Context) error
	Release()
}

// Locker guards a store across processes. TryLock never blocks: a held lock
// returns ok=false.
type Locker interface {
	TryLock(ctx context.Context, storeID string) (lease Lease, ok bool, err error)
}

// NopLocker always grants the lock. In-process single-flight still applies.
type NopLocker struct{}

// TryLock implements Locker.
func (NopLocker) TryLock(context.Context, string) (Lease, bool, error) {
	return nopLease{}, true, nil
}

type nopLease struct{}

func (nopLease) Extend(context.Context) error { return nil }
func (nopLease) Release()                     {}

// LeaseStore keeps store leases next to the queued rows.
type LeaseStore interface {
	AcquireLease(ctx context.Context, storeID, holder string, ttl time.Duration) (bool, error)
	ExtendLease(ctx context.Context, storeID, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, storeID, holder string) error
}

// QueueLocker locks a store inside the queue file itself, so it excludes
// every process that opens that file whatever else is configured.
type QueueLocker struct {
	store  LeaseStore
	ttl    time.Duration
	logger *slog.Logger
}

// NewQueueLocker constructs a QueueLocker.
func NewQueueLocker(store LeaseStore, ttl time.Duration, logger *slog.Logger) *QueueLocker {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueLocker{store: store, ttl: ttl, logger: logger}
}

// TryLock implements Locker.
func (l *QueueLocker) TryLock(ctx context.Context, storeID string) (Lease, bool, error) {
	holder := uuid.NewString()
	ok, err := l.store.AcquireLease(ctx, storeID, holder, l.ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return &queueLease{locker: l, storeID: storeID, holder: holder}, true, nil
}

type queueLease struct {
	locker  *QueueLocker
	storeID string
	holder  string
}

func (q *queueLease) Extend(ctx context.Context) error {
	ok, err := q.locker.store.ExtendLease(ctx, q.storeID, q.holder, q.locker.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: queue lease of %s", ErrLeaseLost, q.storeID)
	}
	return nil
}

func (q *queueLease) Release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.locker.store.ReleaseLease(ctx, q.storeID, q.holder); err != nil {
		q.locker.logger.Warn("release queue lease", slog.String("store_id", q.storeID), slog.Any("error", err))
	}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker holds the store lock as a Redis key with a TTL so a crashed
// holder cannot block syncing forever. It serializes passes of one store
// across devices that do not share a queue file.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisLocker constructs a RedisLocker.
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: client, ttl: ttl, logger: logger}
}

// TryLock implements Locker.
func (l *RedisLocker) TryLock(ctx context.Context, storeID string) (Lease, bool, error) {
	key := shared.SyncLockKey(storeID)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("syncer: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{locker: l, key: key, token: token}, true, nil
}

type redisLease struct {
	locker *RedisLocker
	key    string
	token  string
}

func (r *redisLease) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, r.locker.client, []string{r.key}, r.token, r.locker.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("syncer: extend lock %s: %w", r.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLeaseLost, r.key)
	}
	return nil
}

func (r *redisLease) Release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, r.locker.client, []string{r.key}, r.token).Err(); err != nil {
		r.locker.logger.Warn("release sync lock", slog.String("key", r.key), slog.Any("error", err))
	}
}

// chainLocker takes every lock in order and holds all or none.
type chainLocker []Locker

func (c chainLocker) TryLock(ctx context.Context, storeID string) (Lease, bool, error) {
	held := make(chainLease, 0, len(c))
	for _, l := range c {
		lease, ok, err := l.TryLock(ctx, storeID)
		if err != nil || !ok {
			held.Release()
			return nil, false, err
		}
		held = append(held, lease)
	}
	return held, true, nil
}

type chainLease []Lease

func (c chainLease) Extend(ctx context.Context) error {
	for _, l := range c {
		if err := l.Extend(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c chainLease) Release() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i].Release()
	}
}
