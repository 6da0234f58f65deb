package paymentsrepo

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrConflict = errors.New("payment already exists")
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
	StatusRefunded  Status = "REFUNDED"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusFailed, StatusRefunded:
		return st, nil
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

type Payment struct {
	ID            string          `json:"payment_id"`
	Status        Status          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	OrderID       string          `json:"order_id"`
	PaymentMethod string          `json:"payment_method"`
	CustomerID    *string         `json:"customer_id"`
	Metadata      map[string]any  `json:"metadata"`
	SessionRef    *string         `json:"processor_session_ref"` // checkout session id
	ChargeRef     *string         `json:"processor_charge_ref"`  // payment intent id, set on confirmation
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	c.CustomerID = cloneString(p.CustomerID)
	c.SessionRef = cloneString(p.SessionRef)
	c.ChargeRef = cloneString(p.ChargeRef)
	if p.Metadata != nil {
		c.Metadata = maps.Clone(p.Metadata)
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// TransitionFields are the extra columns written together with a status change.
// A nil ChargeRef keeps the stored value.
type TransitionFields struct {
	ChargeRef *string
}

type ListFilter struct {
	Status Status     // "" => any status
	Since  *time.Time // nil => no lower bound on created_at
	Limit  int
	Offset int
}

type Store interface {
	Create(ctx context.Context, p *Payment) error
	// GetByID returns (nil, nil) when the payment does not exist.
	GetByID(ctx context.Context, id string) (*Payment, error)
	// CompareAndSetStatus moves id from expected to next atomically. It returns
	// false, without writing, when the stored status is not expected.
	CompareAndSetStatus(ctx context.Context, id string, expected, next Status, fields TransitionFields) (bool, error)
	List(ctx context.Context, f ListFilter) ([]*Payment, int, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*Payment, error)
}

func normalizeLimit(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
