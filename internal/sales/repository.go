package sales

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Repository persists sales.
type Repository interface {
	// Insert stores the sale unless its client_sale_id exists, reporting
	// whether a row was written.
	Insert(ctx context.Context, sale Sale) (bool, error)
	GetByClientID(ctx context.Context, clientSaleID string) (Sale, error)
	List(ctx context.Context, filter ListFilter) ([]Sale, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db dbtx
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

// Migrate applies the embedded schema. Statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	for _, e := range entries {
		ddl, err := migrations.ReadFile("migrations/" + e.Name())
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(ddl)); err != nil {
			return fmt.Errorf("sales: migrate %s: %w", e.Name(), err)
		}
	}
	return nil
}

const saleColumns = `id, client_sale_id, store_id, organization_id, sold_at, received_at, status,
	total_qty, subtotal, discount_amount, total, paid_amount, due, payload`

func (r *repository) Insert(ctx context.Context, sale Sale) (bool, error) {
	payload, err := json.Marshal(sale.Payload)
	if err != nil {
		return false, fmt.Errorf("sales: encode payload: %w", err)
	}
	var id string
	err = r.db.QueryRow(ctx, `INSERT INTO pos_sales (`+saleColumns+`, payment_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (client_sale_id) DO NOTHING
		RETURNING id`,
		sale.ID, sale.ClientSaleID, sale.StoreID, sale.OrganizationID, sale.SoldAt, sale.ReceivedAt, string(sale.Status),
		sale.TotalQty, sale.Totals.Subtotal, sale.Totals.DiscountAmount, sale.Totals.Total, sale.Totals.PaidAmount, sale.Totals.Due,
		payload, string(sale.Payload.PaymentMethod),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Lost a race on the primary key; the caller resolves by lookup.
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *repository) GetByClientID(ctx context.Context, clientSaleID string) (Sale, error) {
	row := r.db.QueryRow(ctx, `SELECT `+saleColumns+` FROM pos_sales WHERE client_sale_id = $1`, clientSaleID)
	sale, err := scanSale(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrNotFound
	}
	return sale, err
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Sale, error) {
	rows, err := r.db.Query(ctx, `SELECT `+saleColumns+` FROM pos_sales
		WHERE store_id = $1
		  AND ($2::timestamptz IS NULL OR sold_at >= $2)
		  AND ($3::timestamptz IS NULL OR sold_at <= $3)
		ORDER BY sold_at DESC, received_at DESC
		LIMIT $4`,
		filter.StoreID, nullableTime(filter.From), nullableTime(filter.To), filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sale)
	}
	return out, rows.Err()
}

func scanSale(row pgx.Row) (Sale, error) {
	var (
		s       Sale
		status  string
		payload []byte
	)
	if err := row.Scan(&s.ID, &s.ClientSaleID, &s.StoreID, &s.OrganizationID, &s.SoldAt, &s.ReceivedAt, &status,
		&s.TotalQty, &s.Totals.Subtotal, &s.Totals.DiscountAmount, &s.Totals.Total, &s.Totals.PaidAmount, &s.Totals.Due,
		&payload); err != nil {
		return Sale{}, err
	}
	s.Status = Status(status)
	s.Totals.IsCredit = s.Status == StatusCredit
	if err := json.Unmarshal(payload, &s.Payload); err != nil {
		return Sale{}, fmt.Errorf("sales: decode payload of %s: %w", s.ID, err)
	}
	return s, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
