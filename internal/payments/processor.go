package payments

import (
	"context"
	"errors"
)

// ErrInvalidSignature wraps every webhook authenticity failure.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// ErrMalformedEvent marks an authentic event whose body cannot be read.
var ErrMalformedEvent = errors.New("malformed webhook event")

// Processor is the narrow view of the external payment processor.
type Processor interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionRef string) (SessionStatus, error)
	CreateRefund(ctx context.Context, chargeRef, idempotencyKey string) (Refund, error)
	VerifyWebhookSignature(payload []byte, signatureHeader string) (WebhookEvent, error)
}

type CheckoutRequest struct {
	AmountMinor int64 // smallest currency unit, e.g. cents
	Currency    string
	OrderLabel  string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string // correlation ids echoed back in webhooks
}

type CheckoutSession struct {
	Ref         string
	RedirectURL string
}

type SessionState string

const (
	SessionPaid    SessionState = "paid"
	SessionExpired SessionState = "expired"
	SessionOpen    SessionState = "open"
	SessionUnknown SessionState = "unknown"
)

type SessionStatus struct {
	State     SessionState
	ChargeRef string
}

type RefundState string

const (
	RefundSucceeded RefundState = "succeeded"
	RefundPending   RefundState = "pending"
	RefundFailed    RefundState = "failed"
	RefundCanceled  RefundState = "canceled"
)

type Refund struct {
	Ref   string
	State RefundState
}

type EventKind string

const (
	EventSessionCompleted EventKind = "session_completed"
	EventSessionExpired   EventKind = "session_expired"
	EventPaymentFailed    EventKind = "payment_failed"
	EventOther            EventKind = "other"
)

// WebhookEvent is a verified processor event reduced to what reconciliation needs.
type WebhookEvent struct {
	ID         string
	Type       string // processor's raw event type
	Kind       EventKind
	SessionRef string
	ChargeRef  string
	Metadata   map[string]string
}
