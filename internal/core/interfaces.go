package core

import "errors"

// Frame is one encoded wire message.
type Frame []byte

// ErrBackpressure is returned by TrySend when a connection's outbound
// queue is full. The coordinator treats it like a send to a dead
// connection: drop, never retry.
var ErrBackpressure = errors.New("backpressure")

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
