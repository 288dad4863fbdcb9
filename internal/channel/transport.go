package channel

import (
	"context"
	"errors"
)

// ErrClosed is returned by a Transport after Close or when the peer hangs up.
var ErrClosed = errors.New("channel: transport closed")

// Transport carries frames between signalbox and the backend.
//
// Receive is called from one goroutine at a time. Send may be called
// concurrently with Receive and with itself.
type Transport interface {
	// Connect establishes the link. It may be called again after Close.
	Connect(ctx context.Context) error

	// Receive blocks for the next inbound frame.
	Receive(ctx context.Context) ([]byte, error)

	// Send writes one message.
	Send(ctx context.Context, msg Message) error

	// Close tears the link down. Pending Receive calls return ErrClosed.
	Close() error
}
