package reconcile

import (
	"context"
	"errors"
	"sync"

	"paysync/internal/domain/paymentsrepo"
	"paysync/internal/events"
	"paysync/internal/payments"
)

// fakeProcessor answers with the configured funcs. Nil funcs fail the call.
type fakeProcessor struct {
	mu sync.Mutex

	createFn   func(ctx context.Context, req payments.CheckoutRequest) (payments.CheckoutSession, error)
	retrieveFn func(ctx context.Context, ref string) (payments.SessionStatus, error)
	refundFn   func(ctx context.Context, chargeRef, key string) (payments.Refund, error)
	verifyFn   func(payload []byte, header string) (payments.WebhookEvent, error)

	creates   []payments.CheckoutRequest
	retrieves int
	refunds   []string // idempotency keys
}

var errNotConfigured = errors.New("fake processor: not configured")

func (f *fakeProcessor) CreateCheckoutSession(ctx context.Context, req payments.CheckoutRequest) (payments.CheckoutSession, error) {
	f.mu.Lock()
	f.creates = append(f.creates, req)
	fn := f.createFn
	f.mu.Unlock()
	if fn == nil {
		return payments.CheckoutSession{}, errNotConfigured
	}
	return fn(ctx, req)
}

func (f *fakeProcessor) RetrieveSession(ctx context.Context, ref string) (payments.SessionStatus, error) {
	f.mu.Lock()
	f.retrieves++
	fn := f.retrieveFn
	f.mu.Unlock()
	if fn == nil {
		return payments.SessionStatus{}, errNotConfigured
	}
	return fn(ctx, ref)
}

func (f *fakeProcessor) CreateRefund(ctx context.Context, chargeRef, key string) (payments.Refund, error) {
	f.mu.Lock()
	f.refunds = append(f.refunds, key)
	fn := f.refundFn
	f.mu.Unlock()
	if fn == nil {
		return payments.Refund{}, errNotConfigured
	}
	return fn(ctx, chargeRef, key)
}

func (f *fakeProcessor) VerifyWebhookSignature(payload []byte, header string) (payments.WebhookEvent, error) {
	if f.verifyFn == nil {
		return payments.WebhookEvent{}, errNotConfigured
	}
	return f.verifyFn(payload, header)
}

func (f *fakeProcessor) refundCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refunds)
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.StatusChanged
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.StatusChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []events.StatusChanged {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.StatusChanged(nil), p.events...)
}

// racingStore runs beforeCAS ahead of the first conditional update, letting a
// test slip a competing write in between the engine's read and its write.
type racingStore struct {
	*paymentsrepo.MemoryStore
	once      sync.Once
	beforeCAS func()
}

func (s *racingStore) CompareAndSetStatus(ctx context.Context, id string, expected, next paymentsrepo.Status, fields paymentsrepo.TransitionFields) (bool, error) {
	s.once.Do(func() {
		if s.beforeCAS != nil {
			s.beforeCAS()
		}
	})
	return s.MemoryStore.CompareAndSetStatus(ctx, id, expected, next, fields)
}

// failingLogs rejects every audit write.
type failingLogs struct{}

func (failingLogs) InsertPaymentLog(context.Context, string, string, any) error {
	return errors.New("logs unavailable")
}
