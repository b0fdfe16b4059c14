package core

import "errors"

// Frame is a serialized event pushed to a status observer.
type Frame []byte

var ErrBackpressure = errors.New("backpressure")

// SignalConnection abstracts an outbound event stream to a UI observer.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
