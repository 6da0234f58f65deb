package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	stripeEventSessionCompleted      = "checkout.session.completed"
	stripeEventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	stripeEventAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	stripeEventSessionExpired        = "checkout.session.expired"
)

// StripeAdapter implements Processor on Stripe Checkout.
type StripeAdapter struct {
	api           *client.API
	webhookSecret string
	tolerance     time.Duration
}

// NewStripeAdapter builds the adapter. backends may be nil to talk to the real
// Stripe API; tests pass backends pointing at an httptest server.
func NewStripeAdapter(secretKey, webhookSecret string, backends *stripe.Backends) *StripeAdapter {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeAdapter{
		api:           api,
		webhookSecret: webhookSecret,
		tolerance:     webhook.DefaultTolerance,
	}
}

func (a *StripeAdapter) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(req.AmountMinor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.OrderLabel),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		// Stamp the charge too, so it can be traced from the Stripe dashboard.
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: req.Metadata,
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := a.api.CheckoutSessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe create checkout session: %s: %w", stripeMessage(err), err)
	}
	return CheckoutSession{Ref: s.ID, RedirectURL: s.URL}, nil
}

func (a *StripeAdapter) RetrieveSession(ctx context.Context, sessionRef string) (SessionStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := a.api.CheckoutSessions.Get(sessionRef, params)
	if err != nil {
		return SessionStatus{}, fmt.Errorf("stripe retrieve checkout session: %s: %w", stripeMessage(err), err)
	}
	return sessionStatusOf(s), nil
}

func (a *StripeAdapter) CreateRefund(ctx context.Context, chargeRef, idempotencyKey string) (Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(chargeRef),
	}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}

	r, err := a.api.Refunds.New(params)
	if err != nil {
		return Refund{}, fmt.Errorf("stripe create refund: %s: %w", stripeMessage(err), err)
	}

	state := RefundFailed
	switch r.Status {
	case stripe.RefundStatusSucceeded:
		state = RefundSucceeded
	case stripe.RefundStatusPending, stripe.RefundStatusRequiresAction:
		state = RefundPending
	case stripe.RefundStatusCanceled:
		state = RefundCanceled
	}
	return Refund{Ref: r.ID, State: state}, nil
}

// VerifyWebhookSignature checks the Stripe-Signature header (t=...,v1=...)
// against the endpoint secret and decodes checkout session events.
func (a *StripeAdapter) VerifyWebhookSignature(payload []byte, signatureHeader string) (WebhookEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, a.webhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                a.tolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := WebhookEvent{
		ID:   ev.ID,
		Type: string(ev.Type),
		Kind: EventOther,
	}

	switch out.Type {
	case stripeEventSessionCompleted, stripeEventAsyncPaymentSucceeded:
		out.Kind = EventSessionCompleted
	case stripeEventSessionExpired:
		out.Kind = EventSessionExpired
	case stripeEventAsyncPaymentFailed:
		out.Kind = EventPaymentFailed
	default:
		return out, nil
	}

	if ev.Data == nil {
		return out, fmt.Errorf("%w: event %s has no data", ErrMalformedEvent, ev.ID)
	}
	var s stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
		return out, fmt.Errorf("%w: event %s: decode checkout session: %v", ErrMalformedEvent, ev.ID, err)
	}

	out.SessionRef = s.ID
	out.Metadata = s.Metadata
	if out.Type == stripeEventSessionCompleted && s.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		// async method: wait for checkout.session.async_payment_succeeded
		out.Kind = EventOther
	}
	if s.PaymentIntent != nil {
		out.ChargeRef = s.PaymentIntent.ID
	}
	return out, nil
}

func sessionStatusOf(s *stripe.CheckoutSession) SessionStatus {
	st := SessionStatus{State: SessionUnknown}
	if s.PaymentIntent != nil {
		st.ChargeRef = s.PaymentIntent.ID
	}

	switch {
	case s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		st.State = SessionPaid
	case s.Status == stripe.CheckoutSessionStatusExpired:
		st.State = SessionExpired
	case s.Status == stripe.CheckoutSessionStatusOpen, s.Status == stripe.CheckoutSessionStatusComplete:
		// complete but unpaid: an async method is still settling
		st.State = SessionOpen
	}
	return st
}

func stripeMessage(err error) string {
	var se *stripe.Error
	if errors.As(err, &se) && se.Msg != "" {
		return se.Msg
	}
	return "request failed"
}
