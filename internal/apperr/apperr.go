package apperr

import (
	"errors"
	"fmt"
)

// Kind is the stable tag surfaced to API callers.
type Kind string

const (
	KindNotFound               Kind = "not_found"
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindProcessor              Kind = "processor_error"
	KindInvalidSignature       Kind = "invalid_signature"
	KindUnauthorized           Kind = "unauthorized"
	KindValidation             Kind = "validation_error"
	KindInternal               Kind = "internal"
)

type Error struct {
	Kind   Kind
	Detail string // safe to show to callers
	Err    error  // cause, logged but never rendered
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

func NotFound(detail string) *Error {
	return &Error{Kind: KindNotFound, Detail: detail}
}

func InvalidStateTransition(detail string) *Error {
	return &Error{Kind: KindInvalidStateTransition, Detail: detail}
}

func Processor(detail string, err error) *Error {
	return &Error{Kind: KindProcessor, Detail: detail, Err: err}
}

func InvalidSignature(err error) *Error {
	return &Error{Kind: KindInvalidSignature, Detail: "webhook signature verification failed", Err: err}
}

func Unauthorized(detail string) *Error {
	return &Error{Kind: KindUnauthorized, Detail: detail}
}

func Validation(detail string) *Error {
	return &Error{Kind: KindValidation, Detail: detail}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Detail: "internal failure", Err: err}
}

// KindOf reports the kind of err. Anything that is not an *Error is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
