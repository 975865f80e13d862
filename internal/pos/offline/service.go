package offline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Queue is the only writer of the local queued_sales table. The UI reads it
// through ListPending/CountPending/GetByClientID; the sync engine drives the
// status transitions.
type Queue struct {
	repo     *Repository
	validate *validator.Validate
	logger   *slog.Logger
	clock    func() time.Time
	newID    func() string
}

// Option customises a Queue.
type Option func(*Queue)

// WithClock overrides the time source used for created_at and updated_at.
func WithClock(clock func() time.Time) Option {
	return func(q *Queue) { q.clock = clock }
}

// WithIDGenerator overrides client_sale_id generation.
func WithIDGenerator(fn func() string) Option {
	return func(q *Queue) { q.newID = fn }
}

// NewQueue builds a Queue over the repository.
func NewQueue(repo *Repository, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		repo:     repo,
		validate: validator.New(),
		logger:   logger,
		clock:    time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue validates the sale, assigns its client_sale_id and writes it as
// PENDING. It returns only after the write has committed.
func (q *Queue) Enqueue(ctx context.Context, in EnqueueInput) (QueuedSale, error) {
	if err := q.validate.StructCtx(ctx, in); err != nil {
		return QueuedSale{}, fmt.Errorf("%w: %v", ErrInvalidSale, err)
	}
	id := in.ClientSaleID
	if id == "" {
		id = q.newID()
	}
	now := q.clock().UTC()
	sale := QueuedSale{
		ClientSaleID:   id,
		StoreID:        in.StoreID,
		OrganizationID: in.OrganizationID,
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         StatusPending,
		Payload:        in.Payload,
	}
	if err := q.repo.Insert(ctx, &sale); err != nil {
		q.logger.Error("enqueue sale", slog.String("store_id", in.StoreID), slog.String("client_sale_id", id), slog.Any("error", err))
		return QueuedSale{}, fmt.Errorf("%w: %w", ErrEnqueueFailed, err)
	}
	q.logger.Info("sale queued offline", slog.String("store_id", sale.StoreID), slog.String("client_sale_id", sale.ClientSaleID))
	return sale, nil
}

// ListPending returns every unconfirmed sale of the store, oldest first.
func (q *Queue) ListPending(ctx context.Context, storeID string) ([]QueuedSale, error) {
	sales, err := q.repo.ListByStore(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("offline: list pending: %w", err)
	}
	return sales, nil
}

// CountPending counts unconfirmed sales of the store.
func (q *Queue) CountPending(ctx context.Context, storeID string) (int, error) {
	n, err := q.repo.CountByStore(ctx, storeID)
	if err != nil {
		return 0, fmt.Errorf("offline: count pending: %w", err)
	}
	return n, nil
}

// GetByClientID returns ErrNotFound when the sale is not queued for the store.
func (q *Queue) GetByClientID(ctx context.Context, storeID, clientSaleID string) (QueuedSale, error) {
	return q.repo.Get(ctx, storeID, clientSaleID)
}

// MarkSending claims a row for submission and counts the attempt.
func (q *Queue) MarkSending(ctx context.Context, clientSaleID string) error {
	ok, err := q.repo.MarkSending(ctx, clientSaleID, q.clock())
	return q.transitionResult(ctx, clientSaleID, ok, err)
}

// MarkFailed records the outcome of a failed attempt on a SENDING row.
func (q *Queue) MarkFailed(ctx context.Context, clientSaleID string, in FailureInput) error {
	ok, err := q.repo.MarkFailed(ctx, clientSaleID, in, q.clock())
	return q.transitionResult(ctx, clientSaleID, ok, err)
}

// Remove deletes a row the backend has confirmed.
func (q *Queue) Remove(ctx context.Context, clientSaleID string) error {
	ok, err := q.repo.Delete(ctx, clientSaleID)
	if err != nil {
		return fmt.Errorf("offline: remove %s: %w", clientSaleID, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// RecoverSending resets SENDING rows of the store to PENDING. Their outcome
// is unknown, and replay is safe because the backend deduplicates on
// client_sale_id.
func (q *Queue) RecoverSending(ctx context.Context, storeID string) (int64, error) {
	n, err := q.repo.ResetSending(ctx, storeID, q.clock())
	if err != nil {
		return 0, fmt.Errorf("offline: recover sending: %w", err)
	}
	if n > 0 {
		q.logger.Warn("recovered in-flight sales", slog.String("store_id", storeID), slog.Int64("rows", n))
	}
	return n, nil
}

// Requeue puts a FAILED sale back to PENDING after an operator fixed the cause.
func (q *Queue) Requeue(ctx context.Context, storeID, clientSaleID string) error {
	ok, err := q.repo.Requeue(ctx, storeID, clientSaleID, q.clock())
	if err != nil {
		return fmt.Errorf("offline: requeue %s: %w", clientSaleID, err)
	}
	if !ok {
		return q.missingOrInvalid(ctx, storeID, clientSaleID)
	}
	return nil
}

// Discard drops a PENDING or FAILED sale on operator request.
func (q *Queue) Discard(ctx context.Context, storeID, clientSaleID string) error {
	ok, err := q.repo.DeleteIdle(ctx, storeID, clientSaleID)
	if err != nil {
		return fmt.Errorf("offline: discard %s: %w", clientSaleID, err)
	}
	if !ok {
		return q.missingOrInvalid(ctx, storeID, clientSaleID)
	}
	q.logger.Warn("queued sale discarded", slog.String("store_id", storeID), slog.String("client_sale_id", clientSaleID))
	return nil
}

// Purge drops every queued sale of the store that is not in flight.
func (q *Queue) Purge(ctx context.Context, storeID string) (int64, error) {
	n, err := q.repo.DeleteStore(ctx, storeID)
	if err != nil {
		return 0, fmt.Errorf("offline: purge: %w", err)
	}
	q.logger.Warn("queue purged", slog.String("store_id", storeID), slog.Int64("rows", n))
	return n, nil
}

// Stores lists the stores that have queued sales.
func (q *Queue) Stores(ctx context.Context) ([]string, error) {
	stores, err := q.repo.Stores(ctx)
	if err != nil {
		return nil, fmt.Errorf("offline: list stores: %w", err)
	}
	return stores, nil
}

func (q *Queue) transitionResult(ctx context.Context, clientSaleID string, ok bool, err error) error {
	if err != nil {
		return fmt.Errorf("offline: update %s: %w", clientSaleID, err)
	}
	if ok {
		return nil
	}
	exists, err := q.repo.Exists(ctx, clientSaleID)
	if err != nil {
		return fmt.Errorf("offline: lookup %s: %w", clientSaleID, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

func (q *Queue) missingOrInvalid(ctx context.Context, storeID, clientSaleID string) error {
	if _, err := q.repo.Get(ctx, storeID, clientSaleID); err != nil {
		return err
	}
	return ErrInvalidTransition
}
