package email

import (
	"errors"
	"fmt"
)

// ErrorKind classifies session failures
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotConnected
	KindAuth
	KindNetwork
	KindTimeout
	KindProtocol
	KindNotFound
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotConnected:
		return "not connected"
	case KindAuth:
		return "authentication failed"
	case KindNetwork:
		return "network error"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol error"
	case KindNotFound:
		return "not found"
	case KindValidation:
		return "invalid arguments"
	}
	return "error"
}

// Error is returned by session operations
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

var (
	ErrNotConnected = &Error{Kind: KindNotConnected}
	ErrAuth         = &Error{Kind: KindAuth}
	ErrNetwork      = &Error{Kind: KindNetwork}
	ErrTimeout      = &Error{Kind: KindTimeout}
	ErrProtocol     = &Error{Kind: KindProtocol}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrValidation   = &Error{Kind: KindValidation}
)

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validationf returns a KindValidation error
func Validationf(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsConnectionError reports whether err means the account cannot be reached
func IsConnectionError(err error) bool {
	switch KindOf(err) {
	case KindAuth, KindNetwork, KindTimeout, KindNotConnected:
		return true
	}
	return false
}
