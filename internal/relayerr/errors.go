// Package relayerr classifies failures crossing the relay's adapter
// boundaries so the pipeline can decide between retry, reschedule and
// permanent failure without inspecting transport-specific errors.
package relayerr

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind labels a failure class.
type Kind int

const (
	// KindUnknown is the zero value; unclassified errors retry like
	// transient ones only when explicitly wrapped.
	KindUnknown Kind = iota
	// KindTransient covers I/O failures worth retrying (connection reset,
	// 5xx, broker unavailable).
	KindTransient
	// KindTimeout covers deadline and cancellation expiries on bounded calls.
	KindTimeout
	// KindPermanentRecipient means the recipient can never accept the
	// payload (malformed JID, recipient rejected). No retries.
	KindPermanentRecipient
	// KindPolicyRejection means policy (blacklist) dropped the work item.
	KindPolicyRejection
	// KindDuplicateCallback marks a decision callback for an already
	// terminal approval record.
	KindDuplicateCallback
	// KindMalformedCallback marks a decision callback that cannot be
	// applied: unknown record, bad verdict, missing replacement text.
	KindMalformedCallback
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTimeout:
		return "timeout"
	case KindPermanentRecipient:
		return "permanent_recipient"
	case KindPolicyRejection:
		return "policy_rejection"
	case KindDuplicateCallback:
		return "duplicate_callback"
	case KindMalformedCallback:
		return "malformed_callback"
	default:
		return "unknown"
	}
}

// Error carries a kind, the operation that failed and the cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	default:
		return e.Op + ": " + e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error without a cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap attaches a kind and operation to an underlying cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the failure class from an error chain. Context
// expiries and net timeouts classify as KindTimeout even when nothing
// wrapped them explicitly.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout
		}
		return KindTransient
	}
	return KindUnknown
}

// Retryable reports whether a failed operation should be attempted again.
// Unclassified errors count as retryable so a flaky dependency does not
// burn a delivery permanently on the first hiccup.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindPermanentRecipient, KindPolicyRejection, KindDuplicateCallback, KindMalformedCallback:
		return false
	default:
		return err != nil
	}
}
