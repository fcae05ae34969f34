// Package apperr is the error taxonomy of the registration flow.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the conversation and for operator reports.
type Kind string

const (
	// KindValidation means the user input is malformed.
	KindValidation Kind = "validation_rejected"
	// KindNotFound means the registration backend does not know the document.
	KindNotFound Kind = "registration_not_found"
	// KindNoActiveDraw means no draw currently accepts registrations.
	KindNoActiveDraw Kind = "registration_no_active_draw"
	// KindMismatch means the document does not satisfy the draw rules.
	KindMismatch Kind = "registration_mismatch"
	// KindAlreadyUsed means the document is already registered in the draw.
	KindAlreadyUsed Kind = "registration_already_used"
	// KindHandleInvalid means the social handle resolved to no account.
	KindHandleInvalid Kind = "handle_invalid"
	// KindTransport covers network, HTTP and decoding failures of any collaborator.
	KindTransport Kind = "transport"
	// KindNotification means the confirmation SMS was not sent or not delivered.
	KindNotification Kind = "notification_failure"
	// KindInternal is used for errors that carry no Kind.
	KindInternal Kind = "internal"
)

// Error carries a Kind, the operation that failed and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s [%s]: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s [%s]", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("[%s]: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Code reports the kind for log fields.
func (e *Error) Code() string { return string(e.Kind) }

// Is matches another *Error by Kind, so errors.Is(err, apperr.ErrTransport) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrNoActiveDraw  = &Error{Kind: KindNoActiveDraw}
	ErrMismatch      = &Error{Kind: KindMismatch}
	ErrAlreadyUsed   = &Error{Kind: KindAlreadyUsed}
	ErrHandleInvalid = &Error{Kind: KindHandleInvalid}
	ErrTransport     = &Error{Kind: KindTransport}
	ErrNotification  = &Error{Kind: KindNotification}
)

// New builds an *Error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transport wraps err as a transport failure of op.
func Transport(op string, err error) *Error {
	return New(KindTransport, op, err)
}

// KindOf returns the Kind of the first *Error in err's chain.
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

// IsDomain reports whether err is shown to the user and handled at the step boundary.
func IsDomain(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindNoActiveDraw, KindMismatch, KindAlreadyUsed, KindHandleInvalid:
		return true
	}
	return false
}

// Retryable reports whether repeating the same call may succeed.
func Retryable(err error) bool {
	return KindOf(err) == KindTransport
}

// Operator reports whether err belongs in the operator channel.
func Operator(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindNotification, KindInternal:
		return true
	}
	return false
}
