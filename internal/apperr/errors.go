// Package apperr defines the error kinds surfaced by the contract engine.
//
// Every error returned by a lifecycle operation carries one Kind so transport
// layers can map it without string matching. Kinds are matched with errors.Is
// against the exported sentinels.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation       Kind = "validation"
	KindConflict         Kind = "conflict"
	KindEscrowState      Kind = "escrow_state"
	KindNotFound         Kind = "not_found"
	KindExternalDispatch Kind = "external_dispatch"
)

var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrEscrowState      = &Error{Kind: KindEscrowState}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrExternalDispatch = &Error{Kind: KindExternalDispatch}
)

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match when target is an *Error of the same kind with no message,
// which is what the package sentinels are.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Op == ""
}

func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(op, format string, args ...any) error {
	return &Error{Kind: KindConflict, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func EscrowState(op, format string, args ...any) error {
	return &Error{Kind: KindEscrowState, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Dispatch wraps a notification or email failure. These are logged, never returned to callers
// of a state transition.
func Dispatch(op string, err error) error {
	return &Error{Kind: KindExternalDispatch, Op: op, Msg: "dispatch failed", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
