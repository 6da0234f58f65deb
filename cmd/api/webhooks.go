package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

const maxWebhookBytes = 64 << 10

// StripeWebhookHandler godoc
//
//	@Summary		Stripe webhook
//	@Description	Receives Stripe events. Authenticated by the Stripe-Signature header.
//	@Tags			Webhooks
//	@Accept			json
//	@Produce		json
//	@Param			Stripe-Signature	header		string				true	"t=...,v1=... signature"
//	@Success		200					{object}	map[string]string	"Envelope: { data: { status } }"
//	@Failure		400					{object}	error				"Invalid signature"
//	@Failure		502					{object}	error				"Event could not be applied yet"
//	@Router			/webhooks/stripe [post]
func (app *application) stripeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			app.badRequestResponse(w, r, fmt.Errorf("webhook body exceeds %d bytes", maxWebhookBytes))
			return
		}
		app.badRequestResponse(w, r, fmt.Errorf("read webhook body: %w", err))
		return
	}

	res, err := app.engine.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		app.errorResponse(w, r, err)
		return
	}

	app.logger.Infow("webhook processed",
		"event_id", res.EventID,
		"type", res.EventType,
		"payment_id", res.PaymentID,
		"outcome", res.Outcome,
	)

	if err := app.jsonResponse(w, http.StatusOK, map[string]string{"status": "success"}); err != nil {
		app.internalServerError(w, r, err)
	}
}
