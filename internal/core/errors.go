package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected      = errors.New("handle not connected")
	ErrNoPublisher       = errors.New("no publisher handle")
	ErrPublisherClosed   = errors.New("publisher handle closed by gateway")
	ErrNoSubscriber      = errors.New("no subscriber for feed")
	ErrClosed            = errors.New("client closed")
	ErrPluginUnavailable = errors.New("plugin not available on gateway")
)

type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindProtocol
	KindPrecondition
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindPrecondition:
		return "precondition"
	}
	return "unknown"
}

// Error classifies a failure reported to the observer.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func TransportError(op string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

func ProtocolError(op string, err error) error {
	return &Error{Kind: KindProtocol, Op: op, Err: err}
}

func PreconditionError(op string, err error) error {
	return &Error{Kind: KindPrecondition, Op: op, Err: err}
}

// KindOf returns the classification of err, ok is false for unclassified errors.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
