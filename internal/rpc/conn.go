// Package rpc implements the bidirectional JSON-RPC engine: outbound
// request correlation, inbound dispatch, cancellation propagation and
// progress reporting.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/haasonsaas/mcpd/internal/protocol"
	"github.com/haasonsaas/mcpd/internal/transport"
)

// Handler services one inbound request. The returned value is marshaled as
// the result; a returned *protocol.Error is sent verbatim, any other error
// becomes an InternalError response.
type Handler func(ctx context.Context, req *Request) (any, error)

// NotificationHandler services one inbound notification. Unknown
// notifications are ignored by the engine.
type NotificationHandler func(ctx context.Context, method string, params json.RawMessage)

// Request is an inbound request as seen by a handler.
type Request struct {
	ID     any
	Method string
	Params json.RawMessage

	conn          *Conn
	progressToken any
}

// ReportProgress emits a notifications/progress for this request if the
// caller attached a progress token. Delivery is best-effort and never
// blocks the handler.
func (r *Request) ReportProgress(progress, total float64) {
	if r.progressToken == nil {
		return
	}
	params := protocol.ProgressParams{
		ProgressToken: r.progressToken,
		Progress:      progress,
		Total:         total,
	}
	go func() {
		if err := r.conn.Notify(context.Background(), protocol.NotificationProgress, params); err != nil {
			r.conn.logger.Debug("progress notification dropped", "error", err)
		}
	}()
}

// pendingResult resolves an outbound request exactly once.
type pendingResult struct {
	result json.RawMessage
	err    *protocol.Error
}

// Conn is one side of a JSON-RPC connection. It owns the pending-id table
// for outbound requests and the handler table for inbound ones. Inbound
// demux is serialized by the transport; handler bodies run concurrently.
type Conn struct {
	transport transport.Transport
	logger    *slog.Logger

	nextID atomic.Int64

	pendingMu sync.Mutex
	pending   map[string]chan pendingResult

	handlersMu    sync.RWMutex
	handlers      map[string]Handler
	notifHandlers map[string]NotificationHandler

	inflightMu sync.Mutex
	inflight   map[string]context.CancelCauseFunc

	closed  chan struct{}
	once    sync.Once
	stopped chan struct{}
	wg      sync.WaitGroup
}

// NewConn creates a connection over the transport. Serve must be called to
// start dispatching inbound messages.
func NewConn(t transport.Transport, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		transport:     t,
		logger:        logger,
		pending:       make(map[string]chan pendingResult),
		handlers:      make(map[string]Handler),
		notifHandlers: make(map[string]NotificationHandler),
		inflight:      make(map[string]context.CancelCauseFunc),
		closed:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
}

// Handle registers a request handler for a method.
func (c *Conn) Handle(method string, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[method] = h
}

// HandleNotification registers a notification handler for a method.
func (c *Conn) HandleNotification(method string, h NotificationHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.notifHandlers[method] = h
}

// Call sends a request and waits for the matching response. On context
// cancellation the peer is told via notifications/cancelled and the local
// waiter resolves with protocol.ErrCancelled regardless of whether the
// peer ever responds. Timeouts are the caller's responsibility.
func (c *Conn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	key := protocol.IDKey(id)

	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	waiter := make(chan pendingResult, 1)
	c.pendingMu.Lock()
	c.pending[key] = waiter
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, key)
		c.pendingMu.Unlock()
	}()

	req := &protocol.Request{ID: id, Method: method, Params: raw}
	if err := c.transport.Send(ctx, req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case res := <-waiter:
		if res.err != nil {
			return nil, res.err
		}
		return res.result, nil
	case <-ctx.Done():
		c.notifyCancelled(id)
		return nil, fmt.Errorf("%s: %w", method, protocol.ErrCancelled)
	case <-c.closed:
		return nil, transport.ErrClosed
	}
}

// notifyCancelled tells the peer an outbound request was abandoned.
func (c *Conn) notifyCancelled(id any) {
	params := protocol.CancelledParams{RequestID: id}
	if err := c.Notify(context.Background(), protocol.NotificationCancelled, params); err != nil {
		c.logger.Debug("cancel notification dropped", "error", err)
	}
}

// Notify sends a notification. No response is expected.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, &protocol.Notification{Method: method, Params: raw})
}

// Serve dispatches inbound messages until the transport stream ends or ctx
// is cancelled. It returns the transport's abnormal-close error, if any.
func (c *Conn) Serve(ctx context.Context) error {
	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		case msg, ok := <-c.transport.Receive():
			if !ok {
				return c.transport.Err()
			}
			c.dispatch(ctx, msg)
		}
	}
}

// dispatch routes one inbound message.
func (c *Conn) dispatch(ctx context.Context, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Request:
		c.dispatchRequest(ctx, m)
	case *protocol.Response:
		c.resolve(m.ID, pendingResult{result: m.Result})
	case *protocol.ErrorResponse:
		c.resolve(m.ID, pendingResult{err: m.Error})
	case *protocol.Notification:
		c.dispatchNotification(ctx, m)
	}
}

// resolve completes an outbound waiter at most once; late or duplicate
// responses are dropped.
func (c *Conn) resolve(id any, res pendingResult) {
	key := protocol.IDKey(id)
	c.pendingMu.Lock()
	waiter, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Debug("response for unknown request id", "id", id)
		return
	}
	waiter <- res
}

// dispatchRequest runs the handler in its own goroutine and sends exactly
// one response, unless the request was cancelled by the peer first.
func (c *Conn) dispatchRequest(ctx context.Context, req *protocol.Request) {
	c.handlersMu.RLock()
	handler, ok := c.handlers[req.Method]
	c.handlersMu.RUnlock()

	if !ok {
		c.respondError(req.ID, protocol.NewError(protocol.ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method)))
		return
	}

	key := protocol.IDKey(req.ID)
	handlerCtx, cancel := context.WithCancelCause(ctx)

	c.inflightMu.Lock()
	c.inflight[key] = cancel
	c.inflightMu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.inflightMu.Lock()
			delete(c.inflight, key)
			c.inflightMu.Unlock()
			cancel(nil)
		}()

		r := &Request{
			ID:            req.ID,
			Method:        req.Method,
			Params:        req.Params,
			conn:          c,
			progressToken: protocol.ProgressToken(req.Params),
		}

		result, err := c.callHandler(handlerCtx, handler, r)

		// A request cancelled by the peer gets no response at all.
		if context.Cause(handlerCtx) == protocol.ErrCancelled {
			return
		}

		if err != nil {
			c.respondError(req.ID, protocol.AsError(err))
			return
		}
		c.respond(req.ID, result)
	}()
}

// callHandler isolates handler panics so one broken handler cannot take
// down the connection.
func (c *Conn) callHandler(ctx context.Context, handler Handler, r *Request) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("handler panic", "method", r.Method, "panic", rec)
			err = protocol.NewError(protocol.ErrCodeInternalError, fmt.Sprintf("handler panic: %v", rec))
		}
	}()
	return handler(ctx, r)
}

// dispatchNotification routes one inbound notification. Cancellation and
// notifications/initialized are handled inline, so they take effect before
// the next inbound message; everything else is fire-and-forget.
func (c *Conn) dispatchNotification(ctx context.Context, notif *protocol.Notification) {
	if notif.Method == protocol.NotificationCancelled {
		var params protocol.CancelledParams
		if err := json.Unmarshal(notif.Params, &params); err != nil {
			c.logger.Warn("malformed cancellation", "error", err)
			return
		}
		c.cancelInflight(params.RequestID)
		return
	}

	c.handlersMu.RLock()
	handler, ok := c.notifHandlers[notif.Method]
	c.handlersMu.RUnlock()
	if !ok {
		c.logger.Debug("ignoring unknown notification", "method", notif.Method)
		return
	}
	if notif.Method == protocol.NotificationInitialized {
		handler(ctx, notif.Method, notif.Params)
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				c.logger.Error("notification handler panic", "method", notif.Method, "panic", rec)
			}
		}()
		handler(ctx, notif.Method, notif.Params)
	}()
}

// cancelInflight aborts the identified inbound request at its next
// suspension point.
func (c *Conn) cancelInflight(id any) {
	c.inflightMu.Lock()
	cancel, ok := c.inflight[protocol.IDKey(id)]
	c.inflightMu.Unlock()
	if ok {
		cancel(protocol.ErrCancelled)
	}
}

// respond sends a success response. Responses are never dropped.
func (c *Conn) respond(id any, result any) {
	raw, err := marshalParams(result)
	if err != nil {
		c.respondError(id, protocol.NewError(protocol.ErrCodeInternalError, fmt.Sprintf("marshal result: %v", err)))
		return
	}
	if err := c.transport.Send(context.Background(), &protocol.Response{ID: id, Result: raw}); err != nil {
		c.logger.Error("failed to send response", "id", id, "error", err)
	}
}

// respondError sends an error response.
func (c *Conn) respondError(id any, rpcErr *protocol.Error) {
	if err := c.transport.Send(context.Background(), &protocol.ErrorResponse{ID: id, Error: rpcErr}); err != nil {
		c.logger.Error("failed to send error response", "id", id, "error", err)
	}
}

// shutdown cancels all inflight handlers, rejects all pending waiters and
// releases the transport.
func (c *Conn) shutdown() {
	c.once.Do(func() {
		close(c.closed)

		c.inflightMu.Lock()
		for _, cancel := range c.inflight {
			cancel(protocol.ErrCancelled)
		}
		c.inflightMu.Unlock()

		c.pendingMu.Lock()
		for key, waiter := range c.pending {
			delete(c.pending, key)
			waiter <- pendingResult{err: protocol.NewError(protocol.ErrCodeInternalError, "connection closed")}
		}
		c.pendingMu.Unlock()

		c.wg.Wait()
		c.transport.Close()
		close(c.stopped)
	})
}

// Close terminates the connection and waits for running handlers.
func (c *Conn) Close() error {
	c.shutdown()
	return nil
}

// Done is closed once the connection has fully shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.stopped
}

// marshalParams marshals params or results, passing raw JSON through
// untouched and mapping nil to absent.
func marshalParams(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		return raw, nil
	}
}
