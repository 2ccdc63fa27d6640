// Package transport provides framed bidirectional message streams for the
// MCP runtime: a line-delimited stream transport over arbitrary
// reader/writer pairs, a child-process stdio transport, and an in-process
// pipe pair for tests.
package transport

import (
	"context"
	"errors"

	"github.com/haasonsaas/mcpd/internal/protocol"
)

// ErrClosed is returned by Send after the transport has been closed.
var ErrClosed = errors.New("transport closed")

// Transport delivers and receives whole protocol messages over a lossless
// channel. Each peer's own emissions arrive in order; messages from
// independent peers may interleave arbitrarily.
type Transport interface {
	// Send delivers one message to the peer. Requests block until the
	// channel accepts them; implementations never reorder messages from a
	// single sender.
	Send(ctx context.Context, msg protocol.Message) error

	// Receive returns the inbound message stream. The channel is closed
	// when the peer closes the connection or the transport shuts down;
	// Err distinguishes the two.
	Receive() <-chan protocol.Message

	// Err reports the abnormal-close reason after Receive's channel is
	// closed, or nil for a clean end of input.
	Err() error

	// Close releases the transport. Safe to call more than once.
	Close() error
}
