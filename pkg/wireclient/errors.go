package wireclient

import (
	"fmt"

	"github.com/lockbook/lockbook/pkg/lberrors"
)

// nameToCode maps a WireError.Code name back to an lberrors.Code, the
// inverse of lberrors.Code.String, so callers branch on the code rather
// than on an HTTP status alone.
var nameToCode = func() map[string]lberrors.Code {
	m := make(map[string]lberrors.Code)
	for c := lberrors.ErrFileNotFound; c <= lberrors.ErrUnexpected; c++ {
		m[c.String()] = c
	}
	return m
}()

// ToLbError converts a wire error back into an *lberrors.LbError so
// pkg/sync and pkg/core can branch on lberrors.Is the same way whether the
// failure originated locally or over the wire.
func (e *WireError) ToLbError() error {
	if e == nil {
		return nil
	}
	code, ok := nameToCode[e.Code]
	if !ok {
		code = lberrors.ErrUnexpected
	}
	return lberrors.New(code, e.Message)
}

// ToWireError converts any error into its wire form. Non-LbError errors are
// folded into ErrUnexpected, same as lberrors.Unexpected's own fallback.
func ToWireError(err error) *WireError {
	if err == nil {
		return nil
	}
	if lb, ok := err.(*lberrors.LbError); ok {
		return &WireError{Code: lb.Code.String(), Message: lb.Message}
	}
	return &WireError{Code: lberrors.ErrUnexpected.String(), Message: err.Error()}
}

// RequestError wraps a transport-level failure (connection refused, timeout,
// malformed response) that never reached a WireError — distinguished from
// ToLbError's server-reported failures so callers can decide whether a
// retry is worthwhile.
type RequestError struct {
	Op  string
	Err error
}

func (e *RequestError) Error() string { return fmt.Sprintf("wireclient: %s: %v", e.Op, e.Err) }
func (e *RequestError) Unwrap() error { return e.Err }

func requestErr(op string, err error) error {
	return lberrors.New(lberrors.ErrServerUnreachable, (&RequestError{Op: op, Err: err}).Error())
}
