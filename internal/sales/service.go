package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-pos/internal/pos/totals"
)

const (
	defaultListLimit = 200
	maxListLimit     = 1000
)

// Service provides business logic for sale submission.
type Service struct {
	repo      Repository
	validator *validator.Validate
	logger    *slog.Logger
	clock     func() time.Time
	newID     func() string
}

// NewService constructs a sales service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		validator: validator.New(),
		logger:    logger,
		clock:     time.Now,
		newID:     uuid.NewString,
	}
}

// Submit records the sale once. A second submission with the same
// client_sale_id returns the stored sale flagged as a duplicate.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	if err := s.validator.StructCtx(ctx, in); err != nil {
		return SubmitResult{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	derived := totals.Project(in.Payload)
	status := StatusCompleted
	if derived.IsCredit {
		status = StatusCredit
	}
	sale := Sale{
		ID:             s.newID(),
		ClientSaleID:   in.ClientSaleID,
		StoreID:        in.StoreID,
		OrganizationID: in.OrganizationID,
		SoldAt:         in.SoldAt.UTC(),
		ReceivedAt:     s.clock().UTC(),
		Status:         status,
		TotalQty:       in.Payload.TotalQty(),
		Totals:         derived,
		Payload:        in.Payload,
	}

	inserted, err := s.repo.Insert(ctx, sale)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("sales: insert %s: %w", in.ClientSaleID, err)
	}
	if inserted {
		s.logger.Info("sale recorded",
			slog.String("store_id", sale.StoreID),
			slog.String("sale_id", sale.ID),
			slog.String("client_sale_id", sale.ClientSaleID),
			slog.Int64("total", derived.Total))
		return SubmitResult{Sale: sale}, nil
	}

	existing, err := s.repo.GetByClientID(ctx, in.ClientSaleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return SubmitResult{}, fmt.Errorf("sales: conflicting insert of %s vanished", in.ClientSaleID)
		}
		return SubmitResult{}, fmt.Errorf("sales: lookup %s: %w", in.ClientSaleID, err)
	}
	if existing.StoreID != in.StoreID {
		return SubmitResult{}, ErrIdempotencyMismatch
	}
	s.logger.Info("duplicate sale submission",
		slog.String("store_id", existing.StoreID),
		slog.String("sale_id", existing.ID),
		slog.String("client_sale_id", existing.ClientSaleID))
	return SubmitResult{Sale: existing, Duplicate: true}, nil
}

// List returns the store's sales newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Sale, error) {
	if filter.StoreID == "" {
		return nil, fmt.Errorf("%w: store id required", ErrInvalidInput)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("%w: to is before from", ErrInvalidInput)
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}
	return s.repo.List(ctx, filter)
}
