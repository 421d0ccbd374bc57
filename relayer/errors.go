package relayer

import (
	"errors"
	"fmt"
)

// Kind is the error discriminant exposed to API consumers. Every reachable
// submission failure maps to exactly one kind.
type Kind string

const (
	KindValidation      Kind = "validation_error"
	KindFieldRange      Kind = "field_range"
	KindPointAtInfinity Kind = "point_at_infinity"
	KindConfig          Kind = "config_error"
	KindChainTransient  Kind = "chain_transient"
	KindChainRejected   Kind = "chain_rejected"
	KindTimeout         Kind = "timeout"
	KindConflict        Kind = "conflict"
	KindAborted         Kind = "aborted"
	KindInternal        Kind = "internal"
)

// Error is the relayer's typed error. Reason carries a chain-level rejection
// message verbatim; Hash and Ledger are populated when the transaction got
// far enough to have them.
type Error struct {
	Kind   Kind
	Msg    string
	Reason string
	Hash   string
	Ledger uint32
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the discriminant from any error; non-relayer errors
// classify as internal.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}

func validationError(msg string, err error) *Error {
	return &Error{Kind: KindValidation, Msg: msg, Err: err}
}

func transientError(msg string, err error) *Error {
	return &Error{Kind: KindChainTransient, Msg: msg, Err: err}
}

func rejectedError(msg, reason, hash string) *Error {
	return &Error{Kind: KindChainRejected, Msg: msg, Reason: reason, Hash: hash}
}

func abortedError(msg string, err error) *Error {
	return &Error{Kind: KindAborted, Msg: msg, Err: err}
}

func internalError(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}
