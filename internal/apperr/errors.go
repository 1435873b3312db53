// Package apperr holds the error taxonomy shared by issuance, transfer and
// redemption. Every error surfaced by a service carries one Kind, and the Kind
// decides the HTTP status, the metrics label and whether a retry is safe.
package apperr

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindAlreadyRedeemed
	KindDuplicate
	KindForgery
	KindTransient
	KindConfiguration
	KindDecryption
	KindUnbalanced
	KindUnauthorized
	KindForbidden
)

var codes = map[Kind]string{
	KindInternal:        "internal_error",
	KindValidation:      "validation_error",
	KindNotFound:        "not_found",
	KindAlreadyRedeemed: "already_redeemed",
	KindDuplicate:       "duplicate",
	KindForgery:         "forgery",
	KindTransient:       "transient",
	KindConfiguration:   "configuration_error",
	KindDecryption:      "decryption_error",
	KindUnbalanced:      "unbalanced_ledger",
	KindUnauthorized:    "unauthorized",
	KindForbidden:       "forbidden",
}

// Code is the stable wire/metrics name of the kind.
func (k Kind) Code() string {
	if c, ok := codes[k]; ok {
		return c
	}
	return codes[KindInternal]
}

func (k Kind) String() string { return k.Code() }

type Error struct {
	Kind Kind
	Msg  string

	// RedemptionID is set for duplicates: the id of the already applied redemption.
	RedemptionID string
	// State is set for AlreadyRedeemed: the token state observed under lock.
	State string

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error of the same kind, so callers can write
// errors.Is(err, apperr.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.cause == nil
}

// Root errors to compare against with errors.Is.
var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrAlreadyRedeemed = &Error{Kind: KindAlreadyRedeemed}
	ErrDuplicate       = &Error{Kind: KindDuplicate}
	ErrForgery         = &Error{Kind: KindForgery}
	ErrTransient       = &Error{Kind: KindTransient}
	ErrConfiguration   = &Error{Kind: KindConfiguration}
	ErrDecryption      = &Error{Kind: KindDecryption}
	ErrUnbalanced      = &Error{Kind: KindUnbalanced}
	ErrUnauthorized    = &Error{Kind: KindUnauthorized}
	ErrForbidden       = &Error{Kind: KindForbidden}
)

func newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error { return newf(KindValidation, format, args...) }
func NotFound(format string, args ...any) *Error   { return newf(KindNotFound, format, args...) }
func Forgery(format string, args ...any) *Error    { return newf(KindForgery, format, args...) }
func Configuration(format string, args ...any) *Error {
	return newf(KindConfiguration, format, args...)
}
func Unbalanced(format string, args ...any) *Error   { return newf(KindUnbalanced, format, args...) }
func Unauthorized(format string, args ...any) *Error { return newf(KindUnauthorized, format, args...) }
func Forbidden(format string, args ...any) *Error    { return newf(KindForbidden, format, args...) }

func AlreadyRedeemed(tokenID, state string) *Error {
	return &Error{Kind: KindAlreadyRedeemed, Msg: fmt.Sprintf("token %s already redeemed (%s)", tokenID, state), State: state}
}

func Duplicate(redemptionID string) *Error {
	return &Error{Kind: KindDuplicate, Msg: "redemption already applied", RedemptionID: redemptionID}
}

// Decryption wraps the underlying codec failure; the cause is kept for logs
// only and never reaches the wire.
func Decryption(cause error, msg string) *Error {
	return &Error{Kind: KindDecryption, Msg: msg, cause: errors.WithStack(cause)}
}

func Transient(cause error, msg string) *Error {
	return &Error{Kind: KindTransient, Msg: msg, cause: errors.WithStack(cause)}
}

// Wrap attaches a kind to an arbitrary error, keeping a stack trace.
func Wrap(k Kind, cause error, msg string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: k, Msg: msg, cause: errors.WithStack(cause)}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err; errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable is true only for lock/serialization conflicts: the whole
// redemption transaction may be replayed from the start.
func IsRetryable(err error) bool { return KindOf(err) == KindTransient }
