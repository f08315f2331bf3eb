// Package fault classifies errors crossing component boundaries.
//
// Components wrap upstream failures in a *fault.Error so callers can
// decide between retrying (transient), surfacing to the user
// (validation, authorization), or recording a terminal failure
// (permanent). The worker and the remote-service clients consult
// Retryable; the HTTP layer consults KindOf to pick a status code.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the coarse error category used for propagation decisions.
type Kind int

const (
	// KindUnknown is an unclassified error.
	KindUnknown Kind = iota

	// KindValidation marks malformed input rejected before any external call.
	KindValidation

	// KindAuthorization marks cross-tenant or cross-folder access. It is
	// deliberately indistinguishable from not-found in user-facing output.
	KindAuthorization

	// KindNotFound marks a missing folder, file, or conversation.
	KindNotFound

	// KindConflict marks a unique-key violation (duplicate folder, duplicate job).
	KindConflict

	// KindTransient marks retryable upstream failures: rate limits, 5xx, timeouts.
	KindTransient

	// KindPermanent marks terminal upstream failures: unsupported format,
	// revoked credentials, remote 404.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is a classified error. It wraps the underlying cause so that
// errors.Is and errors.As keep working through it.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a classified error without a cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil cause yields nil.
func Wrap(kind Kind, msg string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf returns the kind of the first *Error in the chain,
// or KindUnknown if the chain carries no classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Retryable reports whether the error is worth retrying.
// Only transient failures qualify; unclassified errors are not retried
// so that programming mistakes surface instead of looping.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

// IsTerminal reports whether the error should mark a job or file failed
// without further attempts.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindPermanent, KindValidation, KindAuthorization:
		return true
	default:
		return false
	}
}
