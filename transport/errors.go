package transport

import (
	"errors"
	"fmt"
)

// Kind classifies a print failure
type Kind int

const (
	KindUnknown Kind = iota
	// KindCapabilityUnavailable means the host cannot use the transport at all
	KindCapabilityUnavailable
	// KindUserCancelled means no port or device was chosen
	KindUserCancelled
	// KindConnection means the device could not be opened, resolved or released
	KindConnection
	// KindTransfer means the bytes could not be delivered
	KindTransfer
	// KindFetch means the command buffer could not be obtained
	KindFetch
	// KindRender means the preview surface could not show the ticket
	KindRender
)

func (k Kind) String() string {
	switch k {
	case KindCapabilityUnavailable:
		return "capability unavailable"
	case KindUserCancelled:
		return "user cancelled"
	case KindConnection:
		return "connection"
	case KindTransfer:
		return "transfer"
	case KindFetch:
		return "fetch"
	case KindRender:
		return "render"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is; any *Error of the same kind matches
var (
	ErrCapabilityUnavailable = &Error{Kind: KindCapabilityUnavailable}
	ErrUserCancelled         = &Error{Kind: KindUserCancelled}
	ErrConnection            = &Error{Kind: KindConnection}
	ErrTransfer              = &Error{Kind: KindTransfer}
	ErrFetch                 = &Error{Kind: KindFetch}
	ErrRender                = &Error{Kind: KindRender}
)

// Error is a classified print failure
type Error struct {
	Kind      Kind
	Transport string
	Err       error
}

// Errorf builds an *Error for transport with a formatted cause
func Errorf(kind Kind, transport, format string, args ...any) *Error {
	return &Error{Kind: kind, Transport: transport, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	var msg string
	if e.Err != nil {
		msg = e.Err.Error()
	} else {
		msg = e.Kind.String()
	}
	if e.Transport == "" {
		return msg
	}
	return e.Transport + ": " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
