package gateway

import (
	"context"
	"sync"

	"github.com/haasonsaas/mcpd/internal/protocol"
	"github.com/haasonsaas/mcpd/internal/transport"
)

// httpTransport adapts the HTTP request/response and SSE flows onto the
// Transport contract. POST bodies feed the inbound channel; responses are
// matched back to the waiting POST by request id; everything else (server
// requests and notifications) flows out over SSE.
type httpTransport struct {
	inbound chan protocol.Message
	events  chan protocol.Message

	mu      sync.Mutex
	waiters map[string]chan protocol.Message

	closed chan struct{}
	once   sync.Once
}

func newHTTPTransport() *httpTransport {
	return &httpTransport{
		inbound: make(chan protocol.Message, 16),
		events:  make(chan protocol.Message, 100),
		waiters: make(map[string]chan protocol.Message),
		closed:  make(chan struct{}),
	}
}

// deliver feeds one decoded client message to the session. The mutex
// serializes against Close so the inbound channel is never written after
// it is closed.
func (t *httpTransport) deliver(msg protocol.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.closed:
		return
	default:
	}
	select {
	case t.inbound <- msg:
	case <-t.closed:
	}
}

// registerWaiter parks a POST until the response for id arrives.
func (t *httpTransport) registerWaiter(id any) <-chan protocol.Message {
	ch := make(chan protocol.Message, 1)
	t.mu.Lock()
	t.waiters[protocol.IDKey(id)] = ch
	t.mu.Unlock()
	return ch
}

// releaseWaiter abandons a parked POST.
func (t *httpTransport) releaseWaiter(id any) {
	t.mu.Lock()
	delete(t.waiters, protocol.IDKey(id))
	t.mu.Unlock()
}

// outbound returns the SSE event stream.
func (t *httpTransport) outbound() <-chan protocol.Message {
	return t.events
}

// Send routes one server-side message: responses to their waiting POST,
// everything else to the SSE stream. Progress and log notifications are
// dropped when the stream is congested; responses never are.
func (t *httpTransport) Send(ctx context.Context, msg protocol.Message) error {
	switch m := msg.(type) {
	case *protocol.Response:
		t.resolve(m.ID, m)
		return nil
	case *protocol.ErrorResponse:
		t.resolve(m.ID, m)
		return nil
	default:
		if n, ok := msg.(*protocol.Notification); ok &&
			(n.Method == protocol.NotificationProgress || n.Method == protocol.NotificationMessage) {
			select {
			case t.events <- msg:
			default:
			}
			return nil
		}
		select {
		case t.events <- msg:
			return nil
		case <-t.closed:
			return transport.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// resolve hands a response to its waiter, if the POST is still parked.
func (t *httpTransport) resolve(id any, msg protocol.Message) {
	t.mu.Lock()
	waiter, ok := t.waiters[protocol.IDKey(id)]
	t.mu.Unlock()
	if ok {
		waiter <- msg
	}
}

// Receive returns the inbound message stream.
func (t *httpTransport) Receive() <-chan protocol.Message {
	return t.inbound
}

// Err always reports nil; HTTP sessions end by explicit close.
func (t *httpTransport) Err() error { return nil }

// Close ends the session stream.
func (t *httpTransport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		t.mu.Lock()
		close(t.inbound)
		t.mu.Unlock()
	})
	return nil
}
