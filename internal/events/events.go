package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const TypeStatusChanged = "payment.status_changed"

// StatusChanged is emitted once per committed payment transition.
type StatusChanged struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	PaymentID  string          `json:"payment_id"`
	OrderID    string          `json:"order_id"`
	From       string          `json:"from"`
	To         string          `json:"to"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Source     string          `json:"source"` // webhook, poll, refund
	OccurredAt time.Time       `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev StatusChanged) error
	Close() error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, StatusChanged) error { return nil }

func (NopPublisher) Close() error { return nil }
