package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"paysync/internal/auth"
	"paysync/internal/domain/paymentsrepo"
	"paysync/internal/events"
	"paysync/internal/payments"
	"paysync/internal/ratelimiter"
	"paysync/internal/reconcile"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testAPIKey    = "test-api-key"
	testSignature = "t=1,v1=ok"
)

// stubProcessor hands out sequential sessions and treats webhook payloads as
// JSON-encoded events signed with testSignature.
type stubProcessor struct {
	mu       sync.Mutex
	n        int
	sessions map[string]payments.SessionStatus
	refund   payments.RefundState
}

func (s *stubProcessor) CreateCheckoutSession(_ context.Context, req payments.CheckoutRequest) (payments.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Currency == "xxx" {
		return payments.CheckoutSession{}, errors.New("unsupported currency")
	}
	s.n++
	ref := fmt.Sprintf("cs_%d", s.n)
	return payments.CheckoutSession{Ref: ref, RedirectURL: "https://checkout.example/" + ref}, nil
}

func (s *stubProcessor) RetrieveSession(_ context.Context, ref string) (payments.SessionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sessions[ref]; ok {
		return st, nil
	}
	return payments.SessionStatus{State: payments.SessionOpen}, nil
}

func (s *stubProcessor) CreateRefund(_ context.Context, _, _ string) (payments.Refund, error) {
	return payments.Refund{Ref: "re_1", State: s.refund}, nil
}

type stubEvent struct {
	ID        string             `json:"id"`
	Kind      payments.EventKind `json:"kind"`
	PaymentID string             `json:"payment_id"`
	ChargeRef string             `json:"charge_ref"`
}

func (s *stubProcessor) VerifyWebhookSignature(payload []byte, header string) (payments.WebhookEvent, error) {
	if header != testSignature {
		return payments.WebhookEvent{}, fmt.Errorf("%w: mismatch", payments.ErrInvalidSignature)
	}
	var ev stubEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return payments.WebhookEvent{}, fmt.Errorf("%w: %v", payments.ErrInvalidSignature, err)
	}
	return payments.WebhookEvent{
		ID:        ev.ID,
		Type:      string(ev.Kind),
		Kind:      ev.Kind,
		ChargeRef: ev.ChargeRef,
		Metadata:  map[string]string{"payment_id": ev.PaymentID},
	}, nil
}

type testServer struct {
	app       *application
	handler   http.Handler
	processor *stubProcessor
	store     *paymentsrepo.MemoryStore
}

func newTestServer(t *testing.T, mutate ...func(*config)) *testServer {
	t.Helper()

	cfg := config{
		addr: ":0",
		env:  "test",
		db:   dbConfig{driver: "memory"},
		auth: authConfig{
			apiKey: testAPIKey,
			basic:  basicConfig{user: "admin", pass: "secret"},
			token:  tokenConfig{secret: "token-secret", exp: time.Hour, iss: "paysync"},
		},
		rateLimiter: ratelimiter.Config{RequestsPerTimeFrame: 100, TimeFrame: time.Minute},
	}
	for _, m := range mutate {
		m(&cfg)
	}

	logger := zap.NewNop().Sugar()
	store := paymentsrepo.NewMemoryStore()
	proc := &stubProcessor{sessions: map[string]payments.SessionStatus{}, refund: payments.RefundSucceeded}
	engine := reconcile.New(store, store, proc, events.NopPublisher{}, logger, reconcile.Config{})

	limiter := ratelimiter.NewFixedWindowLimiter(cfg.rateLimiter.RequestsPerTimeFrame, cfg.rateLimiter.TimeFrame)
	t.Cleanup(limiter.Stop)

	app := &application{
		config:        cfg,
		logger:        logger,
		engine:        engine,
		publisher:     events.NopPublisher{},
		authenticator: auth.NewJWTAuthenticator(cfg.auth.apiKey, cfg.auth.token.secret, cfg.auth.token.iss, cfg.auth.token.iss, cfg.auth.token.exp),
		rateLimiter:   limiter,
	}
	return &testServer{app: app, handler: app.mount(), processor: proc, store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

var withKey = map[string]string{"X-API-Key": testAPIKey}

func createBody() map[string]any {
	return map[string]any{
		"amount":         "10.00",
		"currency":       "usd",
		"order_id":       "o1",
		"payment_method": "card",
		"success_url":    "https://shop.example/success",
		"cancel_url":     "https://shop.example/cancel",
	}
}

type errorBody struct {
	Success bool   `json:"success"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var e errorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &e))
	require.False(t, e.Success)
	require.Equal(t, rr.Code, e.Status)
	return e
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, into any) {
	t.Helper()
	env := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, into))
}

func (s *testServer) createPayment(t *testing.T) CreatePaymentResponse {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/v1/payments", createBody(), withKey)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var out CreatePaymentResponse
	decodeData(t, rr, &out)
	return out
}

func TestCallerAuthentication(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/v1/payments", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "unauthorized", decodeError(t, rr).Kind)

	rr = s.do(t, http.MethodGet, "/v1/payments", nil, map[string]string{"X-API-Key": "wrong"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, http.MethodGet, "/v1/payments", nil, map[string]string{"Authorization": "Bearer nope"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, http.MethodGet, "/v1/payments", nil, map[string]string{"Authorization": "Token abc"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	token, err := s.app.authenticator.GenerateToken("orders-service")
	require.NoError(t, err)
	rr = s.do(t, http.MethodGet, "/v1/payments", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodGet, "/v1/payments", nil, withKey)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestCreatePayment(t *testing.T) {
	s := newTestServer(t)

	out := s.createPayment(t)
	require.NotEmpty(t, out.PaymentID)
	require.Equal(t, paymentsrepo.StatusPending, out.Status)
	require.Equal(t, "usd", out.Currency)
	require.Equal(t, "o1", out.OrderID)
	require.Equal(t, "10", out.Amount.String())
	require.Equal(t, "https://checkout.example/cs_1", out.CheckoutURL)
	require.Equal(t, 1, s.store.Len())
}

func TestCreatePaymentRejectsBadInput(t *testing.T) {
	s := newTestServer(t)

	tests := map[string]func(map[string]any){
		"zero amount":      func(b map[string]any) { b["amount"] = "0" },
		"negative amount":  func(b map[string]any) { b["amount"] = -5 },
		"three decimals":   func(b map[string]any) { b["amount"] = "10.005" },
		"missing amount":   func(b map[string]any) { delete(b, "amount") },
		"missing currency": func(b map[string]any) { delete(b, "currency") },
		"missing order":    func(b map[string]any) { b["order_id"] = "" },
		"bad url":          func(b map[string]any) { b["success_url"] = "not a url" },
		"unknown field":    func(b map[string]any) { b["surprise"] = true },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			body := createBody()
			mutate(body)
			rr := s.do(t, http.MethodPost, "/v1/payments", body, withKey)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			require.Equal(t, "validation_error", decodeError(t, rr).Kind)
		})
	}
	require.Zero(t, s.store.Len())
}

func TestCreatePaymentProcessorFailure(t *testing.T) {
	s := newTestServer(t)
	body := createBody()
	body["currency"] = "xxx"

	rr := s.do(t, http.MethodPost, "/v1/payments", body, withKey)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Equal(t, "processor_error", decodeError(t, rr).Kind)
	require.Zero(t, s.store.Len())
}

func TestGetPaymentNotFound(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/v1/payments/6f1c7b52-5d0e-4d55-9a43-0d3c0f1f4f10", nil, withKey)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "not_found", decodeError(t, rr).Kind)

	rr = s.do(t, http.MethodGet, "/v1/payments/not-a-uuid", nil, withKey)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRefundPendingConflicts(t *testing.T) {
	s := newTestServer(t)
	created := s.createPayment(t)

	rr := s.do(t, http.MethodPost, "/v1/payments/"+created.PaymentID+"/refund", nil, withKey)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "invalid_state_transition", decodeError(t, rr).Kind)
}

func TestWebhookInvalidSignature(t *testing.T) {
	s := newTestServer(t)
	created := s.createPayment(t)

	payload, err := json.Marshal(stubEvent{ID: "evt_1", Kind: payments.EventSessionCompleted, PaymentID: created.PaymentID, ChargeRef: "pi_1"})
	require.NoError(t, err)

	rr := s.do(t, http.MethodPost, "/v1/webhooks/stripe", payload, map[string]string{"Stripe-Signature": "t=1,v1=forged"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_signature", decodeError(t, rr).Kind)

	p, err := s.store.GetByID(context.Background(), created.PaymentID)
	require.NoError(t, err)
	require.Equal(t, paymentsrepo.StatusPending, p.Status)
}

func TestWebhookBodyTooLarge(t *testing.T) {
	s := newTestServer(t)
	big := bytes.Repeat([]byte("a"), maxWebhookBytes+1)

	rr := s.do(t, http.MethodPost, "/v1/webhooks/stripe", big, map[string]string{"Stripe-Signature": testSignature})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPaymentLifecycle(t *testing.T) {
	s := newTestServer(t)
	created := s.createPayment(t)
	path := "/v1/payments/" + created.PaymentID

	payload, err := json.Marshal(stubEvent{ID: "evt_1", Kind: payments.EventSessionCompleted, PaymentID: created.PaymentID, ChargeRef: "pi_1"})
	require.NoError(t, err)
	for _i := 0; _i < 2; _i++ {
		rr := s.do(t, http.MethodPost, "/v1/webhooks/stripe", payload, map[string]string{"Stripe-Signature": testSignature})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		require.JSONEq(t, `{"data":{"status":"success"}}`, rr.Body.String())
	}

	rr := s.do(t, http.MethodGet, path, nil, withKey)
	require.Equal(t, http.StatusOK, rr.Code)
	var got paymentsrepo.Payment
	decodeData(t, rr, &got)
	require.Equal(t, paymentsrepo.StatusConfirmed, got.Status)
	require.Equal(t, "pi_1", *got.ChargeRef)
	require.Equal(t, "cs_1", *got.SessionRef)

	rr = s.do(t, http.MethodPost, path+"/refund", nil, withKey)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var refund RefundResponse
	decodeData(t, rr, &refund)
	require.Equal(t, "Payment refunded successfully", refund.Message)
	require.Equal(t, paymentsrepo.StatusRefunded, refund.Payment.Status)

	rr = s.do(t, http.MethodPost, path+"/refund", nil, withKey)
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestGetPaymentSyncsExpiredSession(t *testing.T) {
	s := newTestServer(t)
	created := s.createPayment(t)
	s.processor.sessions["cs_1"] = payments.SessionStatus{State: payments.SessionExpired}

	rr := s.do(t, http.MethodGet, "/v1/payments/"+created.PaymentID, nil, withKey)
	require.Equal(t, http.StatusOK, rr.Code)
	var got paymentsrepo.Payment
	decodeData(t, rr, &got)
	require.Equal(t, paymentsrepo.StatusFailed, got.Status)
}

func TestRefundProcessorFailure(t *testing.T) {
	s := newTestServer(t)
	created := s.createPayment(t)
	s.processor.sessions["cs_1"] = payments.SessionStatus{State: payments.SessionPaid, ChargeRef: "pi_1"}
	s.processor.refund = payments.RefundFailed

	rr := s.do(t, http.MethodGet, "/v1/payments/"+created.PaymentID, nil, withKey)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodPost, "/v1/payments/"+created.PaymentID+"/refund", nil, withKey)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Equal(t, "processor_error", decodeError(t, rr).Kind)

	p, err := s.store.GetByID(context.Background(), created.PaymentID)
	require.NoError(t, err)
	require.Equal(t, paymentsrepo.StatusConfirmed, p.Status)
}

func TestListPayments(t *testing.T) {
	s := newTestServer(t)
	for _i := 0; _i < 3; _i++ {
		s.createPayment(t)
	}

	rr := s.do(t, http.MethodGet, "/v1/payments?status=pending&limit=2", nil, withKey)
	require.Equal(t, http.StatusOK, rr.Code)
	var out struct {
		Payments   []paymentsrepo.Payment `json:"payments"`
		Pagination struct {
			Total   int  `json:"total"`
			Limit   int  `json:"limit"`
			HasNext bool `json:"has_next"`
		} `json:"pagination"`
	}
	decodeData(t, rr, &out)
	require.Len(t, out.Payments, 2)
	require.Equal(t, 3, out.Pagination.Total)
	require.True(t, out.Pagination.HasNext)

	rr = s.do(t, http.MethodGet, "/v1/payments?status=confirmed", nil, withKey)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeData(t, rr, &out)
	require.Empty(t, out.Payments)

	rr = s.do(t, http.MethodGet, "/v1/payments?status=paid", nil, withKey)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodGet, "/v1/payments?since=yesterday", nil, withKey)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthRequiresBasicAuth(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/v1/health", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	bad := base64.StdEncoding.EncodeToString([]byte("admin:wrong"))
	rr = s.do(t, http.MethodGet, "/v1/health", nil, map[string]string{"Authorization": "Basic " + bad})
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	good := base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	rr = s.do(t, http.MethodGet, "/v1/health", nil, map[string]string{"Authorization": "Basic " + good})
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), `"storage":"memory"`))
}

func TestRateLimiter(t *testing.T) {
	s := newTestServer(t, func(c *config) {
		c.rateLimiter = ratelimiter.Config{RequestsPerTimeFrame: 2, TimeFrame: time.Minute, Enabled: true}
	})

	for _i := 0; _i < 2; _i++ {
		rr := s.do(t, http.MethodGet, "/v1/payments", nil, withKey)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := s.do(t, http.MethodGet, "/v1/payments", nil, withKey)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.NotEmpty(t, rr.Header().Get("Retry-After"))
}
