package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const selectColumns = `seq, client_sale_id, store_id, organization_id, created_at, status,
	attempt_count, last_error, failure_kind, next_attempt_at, payload, updated_at`

// Repository provides SQLite backed persistence for queued sales.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a repository over an opened local database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new row. The statement commits before returning.
func (r *Repository) Insert(ctx context.Context, sale *QueuedSale) error {
	body, err := json.Marshal(sale.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO queued_sales
		(client_sale_id, store_id, organization_id, created_at, status, attempt_count,
		 last_error, failure_kind, next_attempt_at, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, NULL, '', 0, ?, ?)`,
		sale.ClientSaleID, sale.StoreID, sale.OrganizationID, sale.CreatedAt.UnixNano(),
		string(sale.Status), string(body), sale.UpdatedAt.UnixNano())
	if err != nil {
		return err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	sale.Seq = seq
	return nil
}

// ListByStore returns every unconfirmed row of a store, oldest first.
func (r *Repository) ListByStore(ctx context.Context, storeID string) ([]QueuedSale, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM queued_sales
		WHERE store_id = ? ORDER BY created_at ASC, seq ASC`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueuedSale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sale)
	}
	return out, rows.Err()
}

// CountByStore counts unconfirmed rows of a store.
func (r *Repository) CountByStore(ctx context.Context, storeID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_sales WHERE store_id = ?`, storeID).Scan(&n)
	return n, err
}

// Get loads a single row scoped by store.
func (r *Repository) Get(ctx context.Context, storeID, clientSaleID string) (QueuedSale, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM queued_sales
		WHERE store_id = ? AND client_sale_id = ?`, storeID, clientSaleID)
	sale, err := scanSale(row)
	if errors.Is(err, sql.ErrNoRows) {
		return QueuedSale{}, ErrNotFound
	}
	return sale, err
}

// Exists reports whether a row with the id is present, regardless of store.
func (r *Repository) Exists(ctx context.Context, clientSaleID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM queued_sales WHERE client_sale_id = ?`, clientSaleID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// MarkSending moves a PENDING or FAILED row to SENDING and counts the attempt.
func (r *Repository) MarkSending(ctx context.Context, clientSaleID string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE queued_sales
		SET status = 'SENDING', attempt_count = attempt_count + 1, updated_at = ?
		WHERE client_sale_id = ? AND status IN ('PENDING', 'FAILED')`,
		now.UnixNano(), clientSaleID)
	return affected(res, err)
}

// MarkFailed moves a SENDING row to FAILED.
func (r *Repository) MarkFailed(ctx context.Context, clientSaleID string, in FailureInput, now time.Time) (bool, error) {
	var next int64
	if !in.NextAttemptAt.IsZero() {
		next = in.NextAttemptAt.UnixNano()
	}
	res, err := r.db.ExecContext(ctx, `UPDATE queued_sales
		SET status = 'FAILED', last_error = ?, failure_kind = ?, next_attempt_at = ?, updated_at = ?
		WHERE client_sale_id = ? AND status = 'SENDING'`,
		in.Message, string(in.Kind), next, now.UnixNano(), clientSaleID)
	return affected(res, err)
}

// Requeue moves a FAILED row of a store back to PENDING and clears its failure.
func (r *Repository) Requeue(ctx context.Context, storeID, clientSaleID string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE queued_sales
		SET status = 'PENDING', last_error = NULL, failure_kind = '', next_attempt_at = 0, updated_at = ?
		WHERE store_id = ? AND client_sale_id = ? AND status = 'FAILED'`,
		now.UnixNano(), storeID, clientSaleID)
	return affected(res, err)
}

// ResetSending returns orphaned SENDING rows of a store to PENDING.
func (r *Repository) ResetSending(ctx context.Context, storeID string, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE queued_sales SET status = 'PENDING', updated_at = ?
		WHERE store_id = ? AND status = 'SENDING'`, now.UnixNano(), storeID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes a row once the backend has confirmed it.
func (r *Repository) Delete(ctx context.Context, clientSaleID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM queued_sales WHERE client_sale_id = ?`, clientSaleID)
	return affected(res, err)
}

// DeleteIdle removes a PENDING or FAILED row of a store.
func (r *Repository) DeleteIdle(ctx context.Context, storeID, clientSaleID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM queued_sales
		WHERE store_id = ? AND client_sale_id = ? AND status IN ('PENDING', 'FAILED')`, storeID, clientSaleID)
	return affected(res, err)
}

// DeleteStore removes every row of a store that is not in flight.
func (r *Repository) DeleteStore(ctx context.Context, storeID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM queued_sales WHERE store_id = ? AND status <> 'SENDING'`, storeID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stores lists the stores that currently hold queued rows.
func (r *Repository) Stores(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT store_id FROM queued_sales ORDER BY store_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stores []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		stores = append(stores, id)
	}
	return stores, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSale(row scanner) (QueuedSale, error) {
	var (
		sale                                QueuedSale
		status, kind, body                  string
		lastError                           sql.NullString
		createdAt, nextAttemptAt, updatedAt int64
	)
	if err := row.Scan(&sale.Seq, &sale.ClientSaleID, &sale.StoreID, &sale.OrganizationID, &createdAt,
		&status, &sale.AttemptCount, &lastError, &kind, &nextAttemptAt, &body, &updatedAt); err != nil {
		return QueuedSale{}, err
	}
	if err := json.Unmarshal([]byte(body), &sale.Payload); err != nil {
		return QueuedSale{}, fmt.Errorf("decode payload of %s: %w", sale.ClientSaleID, err)
	}
	sale.Status = Status(status)
	sale.FailureKind = FailureKind(kind)
	sale.LastError = lastError.String
	sale.CreatedAt = time.Unix(0, createdAt).UTC()
	sale.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if nextAttemptAt > 0 {
		sale.NextAttemptAt = time.Unix(0, nextAttemptAt).UTC()
	}
	return sale, nil
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
