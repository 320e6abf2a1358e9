/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

// Package ddperr implements the client-safe/internal error taxonomy of
// the reactive-data protocol: errors flagged client-safe are sent to
// clients verbatim, everything else becomes a generic 500 and is logged.
package ddperr

import (
	"errors"
	"fmt"

	"github.com/voedger/reactord/pkg/goutils/logger"
)

// ClientSafe carries a code/reason/details triple that is allowed to
// reach the wire verbatim, per spec.md §7.
type ClientSafe struct {
	Code    any // HTTP-like integer or symbolic string
	Reason  string
	Details any
}

func (e *ClientSafe) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%v", e.Code)
	}
	return e.Reason
}

// New builds a client-safe error with an integer code.
func New(code int, reason string) *ClientSafe {
	return &ClientSafe{Code: code, Reason: reason}
}

// NewSymbolic builds a client-safe error with a symbolic (string) code.
func NewSymbolic(code, reason string) *ClientSafe {
	return &ClientSafe{Code: code, Reason: reason}
}

// WithDetails attaches a details payload and returns the same error for chaining.
func (e *ClientSafe) WithDetails(details any) *ClientSafe {
	e.Details = details
	return e
}

// AsClientSafe reports whether err (or something it wraps) is client-safe.
func AsClientSafe(err error) (*ClientSafe, bool) {
	var cs *ClientSafe
	if errors.As(err, &cs) {
		return cs, true
	}
	return nil, false
}

// InternalErrorCode/InternalErrorReason are what an internal error is translated to
// on the wire, per spec.md §7.
const (
	InternalErrorCode   = 500
	InternalErrorReason = "Internal server error"
)

// IsNumericCode reports whether err is client-safe and carries a
// numeric (int) code, the store-error shape spec.md §7 calls a
// "permanent query error" on the polling driver's first poll.
func IsNumericCode(err error) bool {
	cs, ok := AsClientSafe(err)
	if !ok {
		return false
	}
	_, isInt := cs.Code.(int)
	return isInt
}

// ForWire translates err into the {code, reason} pair that is safe to
// place on the wire, logging the original error when it is not client-safe.
func ForWire(err error) (code any, reason string) {
	if err == nil {
		return nil, ""
	}
	if cs, ok := AsClientSafe(err); ok {
		return cs.Code, cs.Reason
	}
	logger.Error("internal error:", err)
	return InternalErrorCode, InternalErrorReason
}

// Sentinel errors used internally; none of these are client-safe, they
// are translated to the generic 500 by ForWire unless wrapped in ClientSafe.
var (
	ErrUnknownMethod      = errors.New("unknown method")
	ErrUnknownPublication = errors.New("unknown subscription")
	ErrAlreadyFired       = errors.New("write fence already fired")
	ErrAlreadyCommitted   = errors.New("write already committed")
	ErrOnCurrentFence     = errors.New("cannot arm the current fence")
	ErrNotReady           = errors.New("surprising _stop: not ready")
	ErrQueryErrorAfterReady = errors.New("queryError called after ready: programming error")
	ErrDuplicateCollection  = errors.New("duplicate collection name across published cursors")
	ErrMissingDocument      = errors.New("changed/removed into a missing id")
	ErrOplogUnavailable     = errors.New("oplog tailer unavailable")
)
