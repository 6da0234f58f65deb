package paymentsrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// sqliteTimeLayout is fixed width so TEXT comparison orders like time.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqlitePaymentColumns = `payment_id, status, amount, currency, order_id, payment_method,
	customer_id, metadata, processor_session_ref, processor_charge_ref, created_at, updated_at`

// SQLiteRepository is the embedded single-node store. The conditional UPDATE
// gives the same compare-and-set guarantee as the Postgres repository.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Create(ctx context.Context, p *Payment) error {
	meta, err := marshalPayload(p.Metadata)
	if err != nil {
		return err
	}
	ts := formatSQLiteTime(p.CreatedAt)

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO payments (`+sqlitePaymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.Status), p.Amount.String(), p.Currency, p.OrderID, p.PaymentMethod,
		p.CustomerID, nullableText(meta), p.SessionRef, p.ChargeRef, ts, ts,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrConflict
		}
		return fmt.Errorf("create payment: %w", err)
	}
	p.UpdatedAt = p.CreatedAt
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sqlitePaymentColumns+` FROM payments WHERE payment_id = ?`, id)

	p, err := scanSQLitePayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func (r *SQLiteRepository) CompareAndSetStatus(ctx context.Context, id string, expected, next Status, fields TransitionFields) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payments
		 SET status = ?,
		     processor_charge_ref = COALESCE(?, processor_charge_ref),
		     updated_at = ?
		 WHERE payment_id = ? AND status = ?`,
		string(next), fields.ChargeRef, formatSQLiteTime(time.Now()), id, string(expected),
	)
	if err != nil {
		return false, fmt.Errorf("compare and set payment status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *SQLiteRepository) List(ctx context.Context, f ListFilter) ([]*Payment, int, error) {
	limit, offset := normalizeLimit(f.Limit, f.Offset)

	var since any
	if f.Since != nil {
		since = formatSQLiteTime(*f.Since)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqlitePaymentColumns+`, COUNT(*) OVER() AS total_count
		 FROM payments
		 WHERE (? = '' OR status = ?)
		   AND (? IS NULL OR created_at >= ?)
		 ORDER BY created_at DESC, payment_id DESC
		 LIMIT ? OFFSET ?`,
		string(f.Status), string(f.Status), since, since, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var (
		out   []*Payment
		total int
	)
	for rows.Next() {
		var t int
		p, err := scanSQLitePayment(rows, &t)
		if err != nil {
			return nil, 0, fmt.Errorf("scan payment: %w", err)
		}
		if total == 0 {
			total = t
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}
	return out, total, nil
}

func (r *SQLiteRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*Payment, error) {
	limit, _ = normalizeLimit(limit, 0)

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqlitePaymentColumns+`
		 FROM payments
		 WHERE status = ? AND created_at < ? AND processor_session_ref IS NOT NULL
		 ORDER BY created_at ASC
		 LIMIT ?`,
		string(StatusPending), formatSQLiteTime(olderThan), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale pending payments: %w", err)
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		p, err := scanSQLitePayment(rows)
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

func (r *SQLiteRepository) InsertPaymentLog(ctx context.Context, paymentID string, logType string, payload any) error {
	jb, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO payment_logs (payment_id, log_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		paymentID, logType, nullableText(jb), formatSQLiteTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("insert payment_log: %w", err)
	}
	return nil
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func scanSQLitePayment(s sqliteScanner, extra ...any) (*Payment, error) {
	var (
		p                Payment
		status, amount   string
		meta             sql.NullString
		created, updated string
	)
	dest := []any{&p.ID, &status, &amount, &p.Currency, &p.OrderID, &p.PaymentMethod,
		&p.CustomerID, &meta, &p.SessionRef, &p.ChargeRef, &created, &updated}
	dest = append(dest, extra...)

	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	var err error
	if p.CreatedAt, err = time.Parse(sqliteTimeLayout, created); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(sqliteTimeLayout, updated); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	if err := decodePayment(&p, status, amount, []byte(meta.String)); err != nil {
		return nil, err
	}
	return &p, nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
