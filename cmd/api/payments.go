package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"paysync/internal/apperr"
	"paysync/internal/domain/paymentsrepo"
	"paysync/internal/params"
	"paysync/internal/reconcile"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CreatePaymentPayload struct {
	Amount        decimal.Decimal `json:"amount" validate:"decimal_gt0" swaggertype:"string" example:"10.00"`
	Currency      string          `json:"currency" validate:"required,len=3,alpha" example:"usd"`
	OrderID       string          `json:"order_id" validate:"required,max=128" example:"o1"`
	PaymentMethod string          `json:"payment_method" validate:"required,max=64" example:"card"`
	CustomerID    *string         `json:"customer_id,omitempty" validate:"omitempty,max=128"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	SuccessURL    string          `json:"success_url" validate:"required,url"`
	CancelURL     string          `json:"cancel_url" validate:"required,url"`
}

type CreatePaymentResponse struct {
	PaymentID   string              `json:"payment_id"`
	Status      paymentsrepo.Status `json:"status"`
	Amount      decimal.Decimal     `json:"amount" swaggertype:"string"`
	Currency    string              `json:"currency"`
	CreatedAt   time.Time           `json:"created_at"`
	OrderID     string              `json:"order_id"`
	CheckoutURL string              `json:"checkout_url"`
}

type RefundResponse struct {
	Message string                `json:"message"`
	Payment *paymentsrepo.Payment `json:"payment"`
}

// CreatePaymentHandler godoc
//
//	@Summary		Create a payment
//	@Description	Opens a processor checkout session and records a PENDING payment.
//	@Tags			Payments
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		CreatePaymentPayload	true	"Payment details"
//	@Success		201		{object}	CreatePaymentResponse	"Envelope: { data: ... }"
//	@Failure		400		{object}	error					"Bad Request"
//	@Failure		401		{object}	error					"Unauthorized"
//	@Failure		502		{object}	error					"Processor error"
//	@Failure		500		{object}	error					"Internal Server Error"
//	@Security		ApiKeyAuth
//	@Router			/payments [post]
func (app *application) createPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var payload CreatePaymentPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	res, err := app.engine.CreatePayment(r.Context(), reconcile.CreateInput{
		Amount:        payload.Amount,
		Currency:      payload.Currency,
		OrderID:       payload.OrderID,
		PaymentMethod: payload.PaymentMethod,
		CustomerID:    payload.CustomerID,
		Metadata:      payload.Metadata,
		SuccessURL:    payload.SuccessURL,
		CancelURL:     payload.CancelURL,
	})
	if err != nil {
		app.errorResponse(w, r, err)
		return
	}

	if c := getCallerFromContext(r); c != nil {
		app.logger.Infow("payment requested", "payment_id", res.Payment.ID, "caller", c.Subject)
	}

	p := res.Payment
	if err := app.jsonResponse(w, http.StatusCreated, CreatePaymentResponse{
		PaymentID:   p.ID,
		Status:      p.Status,
		Amount:      p.Amount,
		Currency:    p.Currency,
		CreatedAt:   p.CreatedAt,
		OrderID:     p.OrderID,
		CheckoutURL: res.CheckoutURL,
	}); err != nil {
		app.internalServerError(w, r, err)
	}
}

// GetPaymentHandler godoc
//
//	@Summary		Get a payment
//	@Description	Returns the payment. A PENDING payment is first reconciled with the processor.
//	@Tags			Payments
//	@Produce		json
//	@Param			paymentID	path		string					true	"Payment ID"
//	@Success		200			{object}	paymentsrepo.Payment	"Envelope: { data: ... }"
//	@Failure		401			{object}	error					"Unauthorized"
//	@Failure		404			{object}	error					"Not Found"
//	@Failure		500			{object}	error					"Internal Server Error"
//	@Security		ApiKeyAuth
//	@Router			/payments/{paymentID} [get]
func (app *application) getPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := app.paymentIDParam(w, r)
	if !ok {
		return
	}

	p, err := app.engine.GetPayment(r.Context(), id)
	if err != nil {
		app.errorResponse(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, p); err != nil {
		app.internalServerError(w, r, err)
	}
}

// RefundPaymentHandler godoc
//
//	@Summary		Refund a payment
//	@Description	Refunds a CONFIRMED payment in full at the processor.
//	@Tags			Payments
//	@Produce		json
//	@Param			paymentID	path		string			true	"Payment ID"
//	@Success		200			{object}	RefundResponse	"Envelope: { data: ... }"
//	@Failure		401			{object}	error			"Unauthorized"
//	@Failure		404			{object}	error			"Not Found"
//	@Failure		409			{object}	error			"Payment is not CONFIRMED"
//	@Failure		502			{object}	error			"Processor error"
//	@Security		ApiKeyAuth
//	@Router			/payments/{paymentID}/refund [post]
func (app *application) refundPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := app.paymentIDParam(w, r)
	if !ok {
		return
	}

	p, err := app.engine.RefundPayment(r.Context(), id)
	if err != nil {
		app.errorResponse(w, r, err)
		return
	}

	if c := getCallerFromContext(r); c != nil {
		app.logger.Infow("payment refunded", "payment_id", p.ID, "caller", c.Subject)
	}

	if err := app.jsonResponse(w, http.StatusOK, RefundResponse{
		Message: "Payment refunded successfully",
		Payment: p,
	}); err != nil {
		app.internalServerError(w, r, err)
	}
}

// ListPaymentsHandler godoc
//
//	@Summary		List payments
//	@Description	Returns a paginated list of payments, newest first. Never contacts the processor.
//	@Tags			Payments
//	@Produce		json
//	@Param			status	query		string			false	"PENDING|CONFIRMED|FAILED|REFUNDED"
//	@Param			since	query		string			false	"RFC3339 timestamp; returns payments created_at >= since"
//	@Param			page	query		int				false	"Page number (default: 1)"
//	@Param			limit	query		int				false	"Items per page (default: 15, max 30)"
//	@Success		200		{object}	map[string]any	"Envelope: { data: { payments, pagination, status, since } }"
//	@Failure		400		{object}	error			"Bad Request"
//	@Failure		401		{object}	error			"Unauthorized"
//	@Failure		500		{object}	error			"Internal Server Error"
//	@Security		ApiKeyAuth
//	@Router			/payments [get]
func (app *application) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var status paymentsrepo.Status
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		st, err := paymentsrepo.ParseStatus(strings.ToUpper(raw))
		if err != nil {
			app.badRequestResponse(w, r, err)
			return
		}
		status = st
	}

	since, err := params.ParseSince(q, "since")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	pg := params.ParsePagination(q)

	list, total, err := app.engine.ListPayments(r.Context(), reconcile.ListInput{
		Status: status,
		Since:  since,
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
	if err != nil {
		app.errorResponse(w, r, err)
		return
	}

	pg.ComputeMeta(total)

	if list == nil {
		list = []*paymentsrepo.Payment{}
	}
	if err := app.jsonResponse(w, http.StatusOK, map[string]any{
		"payments":   list,
		"pagination": pg,
		"status":     status,
		"since":      since, // null if not provided
	}); err != nil {
		app.internalServerError(w, r, err)
	}
}

func (app *application) paymentIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "paymentID")
	if err := uuid.Validate(id); err != nil {
		app.errorResponse(w, r, apperr.NotFound(fmt.Sprintf("payment %s not found", id)))
		return "", false
	}
	return id, true
}
