package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"paysync/internal/apperr"
)

var kindStatus = map[apperr.Kind]int{
	apperr.KindNotFound:               http.StatusNotFound,
	apperr.KindInvalidStateTransition: http.StatusConflict,
	apperr.KindProcessor:              http.StatusBadGateway,
	apperr.KindInvalidSignature:       http.StatusBadRequest,
	apperr.KindUnauthorized:           http.StatusUnauthorized,
	apperr.KindValidation:             http.StatusBadRequest,
	apperr.KindInternal:               http.StatusInternalServerError,
}

// errorResponse renders any error returned by the engine. Only apperr details
// reach the caller; causes are logged.
func (app *application) errorResponse(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		kind, status = apperr.KindInternal, http.StatusInternalServerError
	}

	message := "the server encountered a problem"
	var e *apperr.Error
	if errors.As(err, &e) && kind != apperr.KindInternal {
		message = e.Detail
	}

	switch {
	case status >= http.StatusInternalServerError:
		app.logger.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	default:
		app.logger.Warnw("request rejected", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	}

	writeJSONError(w, status, string(kind), message)
}

func (app *application) internalServerError(w http.ResponseWriter, r *http.Request, err error) {
	app.errorResponse(w, r, apperr.Internal(err))
}

func (app *application) badRequestResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Warnw("bad request", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	writeJSONError(w, http.StatusBadRequest, string(apperr.KindValidation), err.Error())
}

func (app *application) unauthorizedErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Warnw("unauthorized error", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	writeJSONError(w, http.StatusUnauthorized, string(apperr.KindUnauthorized), "unauthorized")
}

func (app *application) unauthorizedBasicErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Warnw("unauthorized basic error", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	w.Header().Set("WWW-Authenticate", `Basic realm="restricted", charset="UTF-8"`)
	writeJSONError(w, http.StatusUnauthorized, string(apperr.KindUnauthorized), "unauthorized")
}

func (app *application) rateLimitExceededResponse(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	app.logger.Warnw("rate limit exceeded", "method", r.Method, "path", r.URL.Path)
	secs := int(retryAfter.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, retry after: "+strconv.Itoa(secs)+"s")
}
