package reconcile

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"strings"
	"time"

	"paysync/internal/apperr"
	"paysync/internal/domain/paymentsrepo"
	"paysync/internal/events"
	"paysync/internal/payments"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
	SourceRefund  = "refund"
)

// metrics is served under /debug/vars as "reconcile".
var metrics = expvar.NewMap("reconcile")

type Config struct {
	// ProcessorTimeout bounds every call to the processor.
	ProcessorTimeout time.Duration
	// MaxCASAttempts bounds the re-read loop when a conditional update loses.
	MaxCASAttempts int
}

func (c Config) withDefaults() Config {
	if c.ProcessorTimeout <= 0 {
		c.ProcessorTimeout = 15 * time.Second
	}
	if c.MaxCASAttempts <= 0 {
		c.MaxCASAttempts = 5
	}
	return c
}

// Engine keeps stored payment records consistent with the processor. All
// status changes go through transition, which serializes writers per payment
// with a compare-and-set on the previously observed status.
type Engine struct {
	store     paymentsrepo.Store
	logs      paymentsrepo.LogsStore
	processor payments.Processor
	publisher events.Publisher
	logger    *zap.SugaredLogger
	cfg       Config

	syncs singleflight.Group
	now   func() time.Time
	newID func() string
}

func New(
	store paymentsrepo.Store,
	logs paymentsrepo.LogsStore,
	processor payments.Processor,
	publisher events.Publisher,
	logger *zap.SugaredLogger,
	cfg Config,
) *Engine {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{
		store:     store,
		logs:      logs,
		processor: processor,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg.withDefaults(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

type CreateInput struct {
	Amount        decimal.Decimal
	Currency      string
	OrderID       string
	PaymentMethod string
	CustomerID    *string
	Metadata      map[string]any
	SuccessURL    string
	CancelURL     string
}

type CreateResult struct {
	Payment     *paymentsrepo.Payment
	CheckoutURL string
}

// MinorUnits converts an amount to the processor's smallest currency unit.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// CreatePayment opens a checkout session and records a PENDING payment for it.
// Nothing is stored when the processor refuses the session.
func (e *Engine) CreatePayment(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	paymentID := e.newID()
	req := payments.CheckoutRequest{
		AmountMinor: MinorUnits(in.Amount),
		Currency:    strings.ToLower(strings.TrimSpace(in.Currency)),
		OrderLabel:  "Order " + in.OrderID,
		SuccessURL:  in.SuccessURL,
		CancelURL:   in.CancelURL,
		Metadata: map[string]string{
			"payment_id": paymentID,
			"order_id":   in.OrderID,
		},
	}

	pctx, cancel := e.processorContext(ctx)
	session, err := e.processor.CreateCheckoutSession(pctx, req)
	cancel()
	if err != nil {
		metrics.Add("processor_errors", 1)
		e.logger.Warnw("checkout session creation failed", "payment_id", paymentID, "order_id", in.OrderID, "error", err)
		return nil, apperr.Processor("could not create checkout session", err)
	}

	now := e.now()
	p := &paymentsrepo.Payment{
		ID:            paymentID,
		Status:        paymentsrepo.StatusPending,
		Amount:        in.Amount,
		Currency:      req.Currency,
		OrderID:       in.OrderID,
		PaymentMethod: in.PaymentMethod,
		CustomerID:    in.CustomerID,
		Metadata:      in.Metadata,
		SessionRef:    &session.Ref,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.Create(ctx, p); err != nil {
		// The session is left to expire on the processor side.
		e.logger.Errorw("persisting payment failed", "payment_id", paymentID, "session_ref", session.Ref, "error", err)
		return nil, apperr.Internal(fmt.Errorf("create payment %s: %w", paymentID, err))
	}
	metrics.Add("payments_created", 1)

	e.audit(ctx, paymentID, paymentsrepo.LogRequest, map[string]any{
		"amount_minor": req.AmountMinor,
		"currency":     req.Currency,
		"order_label":  req.OrderLabel,
		"metadata":     req.Metadata,
	})
	e.audit(ctx, paymentID, paymentsrepo.LogResponse, map[string]any{
		"session_ref":  session.Ref,
		"checkout_url": session.RedirectURL,
	})
	e.logger.Infow("payment created", "payment_id", paymentID, "order_id", in.OrderID, "session_ref", session.Ref)

	return &CreateResult{Payment: p, CheckoutURL: session.RedirectURL}, nil
}

func validateCreate(in CreateInput) error {
	switch {
	case !in.Amount.IsPositive():
		return apperr.Validation("amount must be greater than zero")
	case !in.Amount.Equal(in.Amount.Round(2)):
		// the stored amount must equal what the processor charges
		return apperr.Validation("amount has more than 2 decimal places")
	case strings.TrimSpace(in.Currency) == "":
		return apperr.Validation("currency is required")
	case strings.TrimSpace(in.OrderID) == "":
		return apperr.Validation("order_id is required")
	}
	return nil
}

// GetPayment returns the payment, first reconciling it with the processor
// when it is still PENDING. Concurrent calls for one id share a single sync.
func (e *Engine) GetPayment(ctx context.Context, id string) (*paymentsrepo.Payment, error) {
	v, err, _ := e.syncs.Do(id, func() (any, error) {
		// Waiters share this result, so one caller's cancellation must not fail the rest.
		return e.sync(context.WithoutCancel(ctx), id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*paymentsrepo.Payment).Clone(), nil
}

func (e *Engine) sync(ctx context.Context, id string) (*paymentsrepo.Payment, error) {
	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != paymentsrepo.StatusPending || p.SessionRef == nil {
		return p, nil
	}

	pctx, cancel := e.processorContext(ctx)
	st, err := e.processor.RetrieveSession(pctx, *p.SessionRef)
	cancel()
	if err != nil {
		metrics.Add("poll_failures", 1)
		e.logger.Warnw("session poll failed, returning stored state", "payment_id", id, "session_ref", *p.SessionRef, "error", err)
		return p, nil
	}

	var (
		target paymentsrepo.Status
		fields paymentsrepo.TransitionFields
	)
	switch st.State {
	case payments.SessionPaid:
		if st.ChargeRef == "" {
			e.logger.Warnw("paid session has no charge reference yet", "payment_id", id, "session_ref", *p.SessionRef)
			return p, nil
		}
		target = paymentsrepo.StatusConfirmed
		fields.ChargeRef = &st.ChargeRef
	case payments.SessionExpired:
		target = paymentsrepo.StatusFailed
	default:
		return p, nil
	}

	updated, outcome, err := e.transition(ctx, id, target, fields, SourcePoll)
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeRejected {
		e.logger.Warnw("late processor state ignored", "payment_id", id, "status", updated.Status, "to", target, "source", SourcePoll)
	}
	return updated, nil
}

// RefundPayment refunds a CONFIRMED payment at the processor and records the
// refund. The record stays CONFIRMED unless the processor reports success.
func (e *Engine) RefundPayment(ctx context.Context, id string) (*paymentsrepo.Payment, error) {
	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != paymentsrepo.StatusConfirmed {
		return nil, apperr.InvalidStateTransition(fmt.Sprintf("payment is %s, only CONFIRMED payments can be refunded", p.Status))
	}

	chargeRef := e.chargeRefFor(ctx, p)
	if chargeRef == "" {
		return nil, apperr.Processor("no charge reference found for payment", nil)
	}

	pctx, cancel := e.processorContext(ctx)
	refund, err := e.processor.CreateRefund(pctx, chargeRef, "refund-"+p.ID)
	cancel()
	if err != nil {
		metrics.Add("processor_errors", 1)
		e.audit(ctx, p.ID, paymentsrepo.LogError, map[string]any{"operation": "refund", "error": err.Error()})
		return nil, apperr.Processor("refund request failed", err)
	}
	if refund.State != payments.RefundSucceeded {
		e.audit(ctx, p.ID, paymentsrepo.LogError, map[string]any{"operation": "refund", "refund_ref": refund.Ref, "state": refund.State})
		return nil, apperr.Processor(fmt.Sprintf("refund was not completed (state %s)", refund.State), nil)
	}

	updated, outcome, err := e.transition(ctx, p.ID, paymentsrepo.StatusRefunded, paymentsrepo.TransitionFields{}, SourceRefund)
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeRejected {
		return nil, apperr.InvalidStateTransition(fmt.Sprintf("payment is %s, only CONFIRMED payments can be refunded", updated.Status))
	}
	return updated, nil
}

// chargeRefFor asks the processor for the session's charge and falls back to
// the reference stored at confirmation.
func (e *Engine) chargeRefFor(ctx context.Context, p *paymentsrepo.Payment) string {
	if p.SessionRef != nil {
		pctx, cancel := e.processorContext(ctx)
		st, err := e.processor.RetrieveSession(pctx, *p.SessionRef)
		cancel()
		if err == nil && st.ChargeRef != "" {
			return st.ChargeRef
		}
		if err != nil {
			e.logger.Warnw("session lookup before refund failed", "payment_id", p.ID, "error", err)
		}
	}
	if p.ChargeRef != nil {
		return *p.ChargeRef
	}
	return ""
}

type WebhookResult struct {
	EventID   string
	EventType string
	PaymentID string
	Outcome   Outcome
	Status    paymentsrepo.Status
}

// HandleWebhook verifies and applies a processor event. Events that do not
// map to a known payment are acknowledged without effect.
func (e *Engine) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	ev, err := e.processor.VerifyWebhookSignature(payload, signature)
	if errors.Is(err, payments.ErrMalformedEvent) {
		metrics.Add("webhooks_received", 1)
		e.logger.Warnw("malformed webhook event ignored", "event_id", ev.ID, "event_type", ev.Type, "error", err)
		return WebhookResult{EventID: ev.ID, EventType: ev.Type, Outcome: OutcomeIgnored}, nil
	}
	if err != nil {
		metrics.Add("webhook_signature_failures", 1)
		return WebhookResult{}, apperr.InvalidSignature(err)
	}
	metrics.Add("webhooks_received", 1)

	res := WebhookResult{EventID: ev.ID, EventType: ev.Type, Outcome: OutcomeIgnored}

	var target paymentsrepo.Status
	switch ev.Kind {
	case payments.EventSessionCompleted:
		target = paymentsrepo.StatusConfirmed
	case payments.EventSessionExpired, payments.EventPaymentFailed:
		target = paymentsrepo.StatusFailed
	default:
		e.logger.Debugw("webhook event ignored", "event_id", ev.ID, "type", ev.Type)
		return res, nil
	}

	paymentID := ev.Metadata["payment_id"]
	if paymentID == "" {
		e.logger.Infow("webhook event without payment_id ignored", "event_id", ev.ID, "type", ev.Type)
		return res, nil
	}
	p, err := e.store.GetByID(ctx, paymentID)
	if err != nil {
		return res, apperr.Internal(fmt.Errorf("load payment %s: %w", paymentID, err))
	}
	if p == nil {
		e.logger.Infow("webhook event for unknown payment ignored", "event_id", ev.ID, "payment_id", paymentID)
		return res, nil
	}
	res.PaymentID = p.ID
	res.Status = p.Status

	e.audit(ctx, p.ID, paymentsrepo.LogWebhook, map[string]any{
		"event_id":    ev.ID,
		"type":        ev.Type,
		"session_ref": ev.SessionRef,
		"charge_ref":  ev.ChargeRef,
	})

	if p.SessionRef != nil && ev.SessionRef != "" && *p.SessionRef != ev.SessionRef {
		e.logger.Warnw("webhook session does not match payment", "event_id", ev.ID, "payment_id", p.ID,
			"session_ref", ev.SessionRef, "stored_session_ref", *p.SessionRef)
		return res, nil
	}

	var fields paymentsrepo.TransitionFields
	if target == paymentsrepo.StatusConfirmed {
		if ev.ChargeRef == "" {
			return res, apperr.Processor("paid session carries no charge reference", nil)
		}
		fields.ChargeRef = &ev.ChargeRef
	}

	updated, outcome, err := e.transition(ctx, p.ID, target, fields, SourceWebhook)
	if err != nil {
		return res, err
	}
	res.Status = updated.Status
	res.Outcome = outcome
	if outcome == OutcomeRejected {
		res.Outcome = OutcomeIgnored
		e.logger.Warnw("late webhook event ignored", "event_id", ev.ID, "payment_id", p.ID, "status", updated.Status, "to", target)
	}
	return res, nil
}

type ListInput struct {
	Status paymentsrepo.Status
	Since  *time.Time
	Limit  int
	Offset int
}

// ListPayments is a plain read. It never contacts the processor.
func (e *Engine) ListPayments(ctx context.Context, in ListInput) ([]*paymentsrepo.Payment, int, error) {
	list, total, err := e.store.List(ctx, paymentsrepo.ListFilter{
		Status: in.Status,
		Since:  in.Since,
		Limit:  in.Limit,
		Offset: in.Offset,
	})
	if err != nil {
		return nil, 0, apperr.Internal(fmt.Errorf("list payments: %w", err))
	}
	return list, total, nil
}

func (e *Engine) load(ctx context.Context, id string) (*paymentsrepo.Payment, error) {
	p, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("load payment %s: %w", id, err))
	}
	if p == nil {
		return nil, apperr.NotFound(fmt.Sprintf("payment %s not found", id))
	}
	return p, nil
}

var errCASExhausted = errors.New("status kept changing under concurrent updates")

// transition moves payment id to status to. It re-reads and retries when a
// concurrent writer wins the conditional update, so losers observe the
// winner's state. It returns the record as it stands afterwards.
func (e *Engine) transition(ctx context.Context, id string, to paymentsrepo.Status, fields paymentsrepo.TransitionFields, source string) (*paymentsrepo.Payment, Outcome, error) {
	for attempt := 0; attempt < e.cfg.MaxCASAttempts; attempt++ {
		p, err := e.load(ctx, id)
		if err != nil {
			return nil, "", err
		}

		outcome := decide(p.Status, to)
		if outcome != OutcomeApplied {
			if outcome == OutcomeAlreadyApplied {
				metrics.Add("transitions_deduplicated", 1)
			}
			return p, outcome, nil
		}

		ok, err := e.store.CompareAndSetStatus(ctx, id, p.Status, to, fields)
		if err != nil {
			return nil, "", apperr.Internal(fmt.Errorf("set payment %s %s->%s: %w", id, p.Status, to, err))
		}
		if !ok {
			metrics.Add("cas_conflicts", 1)
			continue
		}

		from := p.Status
		updated, err := e.store.GetByID(ctx, id)
		if err != nil || updated == nil {
			updated = p
			updated.Status = to
			if fields.ChargeRef != nil {
				updated.ChargeRef = fields.ChargeRef
			}
			updated.UpdatedAt = e.now()
		}
		e.committed(ctx, updated, from, source)
		return updated, OutcomeApplied, nil
	}
	return nil, "", apperr.Internal(fmt.Errorf("payment %s: %w", id, errCASExhausted))
}

func (e *Engine) committed(ctx context.Context, p *paymentsrepo.Payment, from paymentsrepo.Status, source string) {
	metrics.Add("transitions_applied", 1)
	e.logger.Infow("payment status changed", "payment_id", p.ID, "from", from, "to", p.Status, "source", source)

	e.audit(ctx, p.ID, paymentsrepo.LogTransition, map[string]any{
		"from":       from,
		"to":         p.Status,
		"source":     source,
		"charge_ref": p.ChargeRef,
	})

	err := e.publisher.Publish(ctx, events.StatusChanged{
		ID:         e.newID(),
		Type:       events.TypeStatusChanged,
		PaymentID:  p.ID,
		OrderID:    p.OrderID,
		From:       string(from),
		To:         string(p.Status),
		Amount:     p.Amount,
		Currency:   p.Currency,
		Source:     source,
		OccurredAt: p.UpdatedAt,
	})
	if err != nil {
		metrics.Add("publish_failures", 1)
		e.logger.Warnw("publishing status change failed", "payment_id", p.ID, "to", p.Status, "error", err)
	}
}

// audit writes a payment log row. Failures are logged and never surface.
func (e *Engine) audit(ctx context.Context, paymentID, logType string, payload any) {
	if e.logs == nil {
		return
	}
	if err := e.logs.InsertPaymentLog(ctx, paymentID, logType, payload); err != nil {
		e.logger.Warnw("writing payment log failed", "payment_id", paymentID, "log_type", logType, "error", err)
	}
}

func (e *Engine) processorContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.ProcessorTimeout)
}
