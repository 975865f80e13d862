package sales

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/pos/totals"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	mu    sync.Mutex
	sales map[string]Sale

	// Error injection
	insertError error
	listError   error
	lastFilter  ListFilter
}

func newMockRepository() *mockRepository {
	return &mockRepository{sales: make(map[string]Sale)}
}

func (m *mockRepository) Insert(_ context.Context, sale Sale) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertError != nil {
		return false, m.insertError
	}
	if _, ok := m.sales[sale.ClientSaleID]; ok {
		return false, nil
	}
	m.sales[sale.ClientSaleID] = sale
	return true, nil
}

func (m *mockRepository) GetByClientID(_ context.Context, clientSaleID string) (Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sales[clientSaleID]
	if !ok {
		return Sale{}, ErrNotFound
	}
	return s, nil
}

func (m *mockRepository) List(_ context.Context, filter ListFilter) ([]Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter
	if m.listError != nil {
		return nil, m.listError
	}
	var out []Sale
	for _, s := range m.sales {
		if s.StoreID != filter.StoreID {
			continue
		}
		if !filter.From.IsZero() && s.SoldAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && s.SoldAt.After(filter.To) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SoldAt.After(out[j].SoldAt) })
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ============================================================================
// HELPERS
// ============================================================================

const (
	clientID1 = "3f0c1a0e-8a56-4a55-9a43-2d4f0d8d1c11"
	clientID2 = "7b7d3c2e-1f1e-4c8f-8f3a-51c0b0a9e222"
)

var soldAt = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func sampleInput(clientSaleID string) SubmitInput {
	return SubmitInput{
		ClientSaleID:   clientSaleID,
		StoreID:        "store-a",
		OrganizationID: "org-1",
		SoldAt:         soldAt,
		Payload: totals.Payload{
			Items:         []totals.Item{{ProductID: "p-1", Name: "Kopi", Qty: 2, UnitPrice: 2000}},
			DiscountType:  totals.DiscountPercent,
			DiscountValue: 10,
			PaymentMethod: totals.PaymentCash,
			PaidAmount:    2000,
		},
	}
}

func newTestService(repo Repository) *Service {
	svc := NewService(repo, nil)
	n := 0
	svc.newID = func() string {
		n++
		return "sale-" + string(rune('0'+n))
	}
	return svc
}

// ============================================================================
// TESTS
// ============================================================================

func TestSubmitRecordsSaleWithProjectedTotals(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)

	res, err := svc.Submit(context.Background(), sampleInput(clientID1))
	require.NoError(t, err)

	assert.False(t, res.Duplicate)
	assert.Equal(t, "sale-1", res.Sale.ID)
	assert.Equal(t, StatusCredit, res.Sale.Status)
	assert.Equal(t, int64(3600), res.Sale.Totals.Total)
	assert.Equal(t, int64(1600), res.Sale.Totals.Due)
	assert.Equal(t, float64(2), res.Sale.TotalQty)
	assert.Equal(t, soldAt, res.Sale.SoldAt)
}

func TestSubmitFullyPaidIsCompleted(t *testing.T) {
	in := sampleInput(clientID1)
	in.Payload.PaidAmount = 5000
	res, err := newTestService(newMockRepository()).Submit(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Sale.Status)
}

func TestSubmitReplayReturnsOriginal(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	first, err := svc.Submit(ctx, sampleInput(clientID1))
	require.NoError(t, err)
	second, err := svc.Submit(ctx, sampleInput(clientID1))
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Sale.ID, second.Sale.ID)
	assert.Len(t, repo.sales, 1)
}

func TestSubmitConcurrentReplaysRecordOnce(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, nil)

	var wg sync.WaitGroup
	results := make([]SubmitResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Submit(context.Background(), sampleInput(clientID1))
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	created := 0
	for _, r := range results {
		if !r.Duplicate {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Len(t, repo.sales, 1)
}

func TestSubmitRejectsIdReusedByAnotherStore(t *testing.T) {
	svc := newTestService(newMockRepository())
	ctx := context.Background()
	_, err := svc.Submit(ctx, sampleInput(clientID1))
	require.NoError(t, err)

	in := sampleInput(clientID1)
	in.StoreID = "store-b"
	_, err = svc.Submit(ctx, in)
	require.ErrorIs(t, err, ErrIdempotencyMismatch)
}

func TestSubmitValidation(t *testing.T) {
	svc := newTestService(newMockRepository())
	cases := map[string]func(*SubmitInput){
		"missing id":    func(in *SubmitInput) { in.ClientSaleID = "" },
		"id not uuid":   func(in *SubmitInput) { in.ClientSaleID = "sale-42" },
		"no items":      func(in *SubmitInput) { in.Payload.Items = nil },
		"bad method":    func(in *SubmitInput) { in.Payload.PaymentMethod = "BARTER" },
		"missing sold":  func(in *SubmitInput) { in.SoldAt = time.Time{} },
		"missing org":   func(in *SubmitInput) { in.OrganizationID = "" },
		"bad discount":  func(in *SubmitInput) { in.Payload.DiscountType = "BOGO" },
		"missing store": func(in *SubmitInput) { in.StoreID = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := sampleInput(clientID1)
			mutate(&in)
			_, err := svc.Submit(context.Background(), in)
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestSubmitRepositoryFailure(t *testing.T) {
	repo := newMockRepository()
	repo.insertError = errors.New("connection reset")
	_, err := newTestService(repo).Submit(context.Background(), sampleInput(clientID1))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidInput)
}

func TestListDefaultsAndBounds(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.List(ctx, ListFilter{StoreID: "store-a"})
	require.NoError(t, err)
	assert.Equal(t, defaultListLimit, repo.lastFilter.Limit)

	_, err = svc.List(ctx, ListFilter{StoreID: "store-a", Limit: 1 << 20})
	require.NoError(t, err)
	assert.Equal(t, maxListLimit, repo.lastFilter.Limit)

	_, err = svc.List(ctx, ListFilter{})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.List(ctx, ListFilter{StoreID: "store-a", From: soldAt, To: soldAt.Add(-time.Hour)})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestListNewestFirst(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	older := sampleInput(clientID1)
	newer := sampleInput(clientID2)
	newer.SoldAt = soldAt.Add(time.Hour)
	_, err := svc.Submit(ctx, older)
	require.NoError(t, err)
	_, err = svc.Submit(ctx, newer)
	require.NoError(t, err)

	sales, err := svc.List(ctx, ListFilter{StoreID: "store-a"})
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, clientID2, sales[0].ClientSaleID)
}
