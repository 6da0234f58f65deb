package paymentsrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"paysync/internal/infra/dbx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const pgUniqueViolation = "23505"

const paymentColumns = `payment_id, status, amount::text, currency, order_id, payment_method,
	customer_id, metadata, processor_session_ref, processor_charge_ref, created_at, updated_at`

// Repository is the Postgres store.
type Repository struct{ q dbx.Querier }

func NewRepository(q dbx.Querier) *Repository { return &Repository{q: q} }

func (r *Repository) Create(ctx context.Context, p *Payment) error {
	meta, err := marshalPayload(p.Metadata)
	if err != nil {
		return err
	}

	_, err = r.q.Exec(ctx, `
		INSERT INTO payments (
			payment_id, status, amount, currency, order_id, payment_method,
			customer_id, metadata, processor_session_ref, processor_charge_ref,
			created_at, updated_at
		)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, p.ID, string(p.Status), p.Amount.String(), p.Currency, p.OrderID, p.PaymentMethod,
		p.CustomerID, meta, p.SessionRef, p.ChargeRef, p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("create payment: %w", err)
	}
	p.UpdatedAt = p.CreatedAt
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Payment, error) {
	p, err := scanPayment(r.q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// CompareAndSetStatus relies on the row lock taken by UPDATE: two concurrent
// callers with the same expected status serialize, and the second one sees
// zero rows affected.
func (r *Repository) CompareAndSetStatus(ctx context.Context, id string, expected, next Status, fields TransitionFields) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE payments
		   SET status=$3,
		       processor_charge_ref=COALESCE($4, processor_charge_ref),
		       updated_at=now()
		 WHERE payment_id=$1 AND status=$2
	`, id, string(expected), string(next), fields.ChargeRef)
	if err != nil {
		return false, fmt.Errorf("compare and set payment status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// List returns payments newest first with the total count for pagination.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]*Payment, int, error) {
	limit, offset := normalizeLimit(f.Limit, f.Offset)

	rows, err := r.q.Query(ctx, `
SELECT `+paymentColumns+`,
  COUNT(*) OVER() AS total_count
FROM payments
WHERE
  ($1 = '' OR status = $1)
  AND ($2::timestamptz IS NULL OR created_at >= $2::timestamptz)
ORDER BY created_at DESC, payment_id DESC
LIMIT $3 OFFSET $4
`, string(f.Status), f.Since, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var (
		out   []*Payment
		total int
	)
	for rows.Next() {
		var (
			p              Payment
			status, amount string
			meta           []byte
			t              int
		)
		if err := rows.Scan(&p.ID, &status, &amount, &p.Currency, &p.OrderID, &p.PaymentMethod,
			&p.CustomerID, &meta, &p.SessionRef, &p.ChargeRef, &p.CreatedAt, &p.UpdatedAt, &t); err != nil {
			return nil, 0, fmt.Errorf("scan payment: %w", err)
		}
		if err := decodePayment(&p, status, amount, meta); err != nil {
			return nil, 0, err
		}
		if total == 0 {
			total = t
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}
	return out, total, nil
}

func (r *Repository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*Payment, error) {
	limit, _ = normalizeLimit(limit, 0)

	rows, err := r.q.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status=$1 AND created_at < $2 AND processor_session_ref IS NOT NULL
		ORDER BY created_at ASC
		LIMIT $3
	`, string(StatusPending), olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending payments: %w", err)
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		p              Payment
		status, amount string
		meta           []byte
	)
	if err := row.Scan(&p.ID, &status, &amount, &p.Currency, &p.OrderID, &p.PaymentMethod,
		&p.CustomerID, &meta, &p.SessionRef, &p.ChargeRef, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodePayment(&p, status, amount, meta); err != nil {
		return nil, err
	}
	return &p, nil
}

// decodePayment fills the columns that need conversion after Scan. Shared by
// the Postgres and SQLite repositories.
func decodePayment(p *Payment, status, amount string, meta []byte) error {
	st, err := ParseStatus(status)
	if err != nil {
		return err
	}
	p.Status = st

	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return fmt.Errorf("decode amount %q: %w", amount, err)
	}
	p.Amount = amt

	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
	}
	return nil
}
