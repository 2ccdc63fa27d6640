package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/mcpd/internal/authz"
	"github.com/haasonsaas/mcpd/internal/pagination"
	"github.com/haasonsaas/mcpd/internal/protocol"
	"github.com/haasonsaas/mcpd/internal/rpc"
	"github.com/haasonsaas/mcpd/internal/session"
	"github.com/haasonsaas/mcpd/internal/transport"
)

// maxCompletionValues caps a completion/complete result.
const maxCompletionValues = 100

// SessionConn binds one peer session to its RPC connection and carries the
// server's method table.
type SessionConn struct {
	server        *Server
	rpc           *rpc.Conn
	sess          *session.Session
	transportName string
}

// newSessionConn wires the method table for a fresh session.
func newSessionConn(s *Server, t transport.Transport, transportName string) *SessionConn {
	conn := &SessionConn{
		server:        s,
		rpc:           rpc.NewConn(t, s.logger),
		sess:          session.New(),
		transportName: transportName,
	}
	conn.registerHandlers()
	return conn
}

// Session returns the protocol session.
func (c *SessionConn) Session() *session.Session { return c.sess }

// Serve dispatches messages until the peer disconnects, then tears the
// session down.
func (c *SessionConn) Serve(ctx context.Context) error {
	defer func() {
		c.sess.BeginClose()
		c.server.dropSession(c)
		c.rpc.Close()
		c.sess.FinishClose()
	}()
	return c.rpc.Serve(ctx)
}

// Close terminates the session.
func (c *SessionConn) Close() error {
	c.sess.BeginClose()
	return c.rpc.Close()
}

// registerHandlers installs the server's method table on the connection.
func (c *SessionConn) registerHandlers() {
	c.handle(protocol.MethodInitialize, c.handleInitialize)
	c.handle(protocol.MethodPing, c.handlePing)
	c.handle(protocol.MethodListTools, c.handleListTools)
	c.handle(protocol.MethodCallTool, c.handleCallTool)
	c.handle(protocol.MethodListPrompts, c.handleListPrompts)
	c.handle(protocol.MethodGetPrompt, c.handleGetPrompt)
	c.handle(protocol.MethodListResources, c.handleListResources)
	c.handle(protocol.MethodReadResource, c.handleReadResource)
	c.handle(protocol.MethodListResourceTemplates, c.handleListResourceTemplates)
	c.handle(protocol.MethodSubscribe, c.handleSubscribe)
	c.handle(protocol.MethodUnsubscribe, c.handleUnsubscribe)
	c.handle(protocol.MethodSetLevel, c.handleSetLevel)
	c.handle(protocol.MethodComplete, c.handleComplete)

	c.rpc.HandleNotification(protocol.NotificationInitialized, func(ctx context.Context, method string, params json.RawMessage) {
		if err := c.sess.CompleteInitialize(); err != nil {
			c.server.logger.Warn("unexpected initialized notification", "error", err)
		}
	})
}

// handle wraps a handler with metrics instrumentation.
func (c *SessionConn) handle(method string, h rpc.Handler) {
	metrics := c.server.opts.Metrics
	if metrics == nil {
		c.rpc.Handle(method, h)
		return
	}
	c.rpc.Handle(method, func(ctx context.Context, req *rpc.Request) (any, error) {
		start := time.Now()
		result, err := h(ctx, req)
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RPCRequestCounter.WithLabelValues(method, status).Inc()
		metrics.RPCRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		return result, err
	})
}

// handleInitialize services the initialize request. A version mismatch
// closes the connection after the error response goes out.
func (c *SessionConn) handleInitialize(ctx context.Context, req *rpc.Request) (any, error) {
	var params protocol.InitializeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, protocol.NewError(protocol.ErrCodeInvalidParams, fmt.Sprintf("invalid initialize params: %v", err))
	}

	if err := c.sess.BeginInitialize(params); err != nil {
		if c.sess.State() == session.StateClosed {
			// Give the error response a moment to flush, then drop the peer.
			go func() {
				time.Sleep(100 * time.Millisecond)
				c.Close()
			}()
		}
		return nil, err
	}

	c.server.logger.Info("session initializing",
		"session_id", c.sess.ID(),
		"peer", params.ClientInfo.Name,
		"peer_version", params.ClientInfo.Version,
		"protocol_version", c.sess.ProtocolVersion())

	return protocol.InitializeResult{
		ProtocolVersion: c.sess.ProtocolVersion(),
		Capabilities:    c.server.capabilities(),
		ServerInfo:      c.server.opts.Info,
		Instructions:    c.server.opts.Instructions,
	}, nil
}

func (c *SessionConn) handlePing(ctx context.Context, req *rpc.Request) (any, error) {
	if err := c.sess.RequireActive(); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

// authzContext snapshots the session state for one authorization decision.
func (c *SessionConn) authzContext() *authz.Context {
	return authz.FromSessionProperties(c.sess.ID(), c.sess.Properties())
}

func (c *SessionConn) handleListTools(ctx context.Context, req *rpc.Request) (any, error) {
	if err := c.sess.RequireActive(); err != nil {
		return nil, err
	}
	var params protocol.PaginatedParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, protocol.NewError(protocol.ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		}
	}

	visible, err := c.server.auth.FilterTools(ctx, c.server.store.Tools(), c.authzContext())
	if err != nil {
		return nil, err
	}
	if metrics := c.server.opts.Metrics; metrics != nil {
		metrics.AuthzDecisionCounter.WithLabelValues("list", "allow").Inc()
	}

	page, next, err := pagination.Page(visible, params.Cursor, c.server.opts.PageSize)
	if err != nil {
		return nil, err
	}
	return protocol.ListToolsResult{Tools: page, NextCursor: next}, nil
}

func (c *SessionConn) handleCallTool(ctx context.Context, req *rpc.Request) (any, error) {
	if err := c.sess.RequireActive(); err != nil {
		return nil, err
	}
	var params protocol.CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, protocol.NewError(protocol.ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	if params.Name == "" {
		return nil, protocol.NewError(protocol.ErrCodeInvalidParams, "tool name is required")
	}

	metrics := c.server.opts.Metrics
	if _, ok := c.server.store.Tool(params.Name); !ok {
		return nil, protocol.NewError(protocol.ErrCodeInvalidParams, fmt.Sprintf("unknown tool: %s", params.Name))
	}

	decision, err := c.server.auth.AuthorizeToolExecution(ctx, params.Name, c.authzContext())
	if err != nil {
		if metrics != nil {
			metrics.AuthzDecisionCounter.WithLabelValues("execute", "error").Inc()
		}
		return nil, err
	}
	if !decision.Authorized {
		if metrics != nil {
			metrics.AuthzDecisionCounter.WithLabelValues("execute", "deny").Inc()
			metrics.ToolExecutionCounter.WithLabelValues(params.Name, "denied").Inc()
		}
		c.server.logger.Info("tool execution denied",
			"session_id", c.sess.ID(), "tool", params.Name, "reason", decision.Reason)
		return nil, authz.DenialError(params.Name, decision)
	}
	if metrics != nil {
		metrics.AuthzDecisionCounter.WithLabelValues("execute", "allow").Inc()
	}

	start := time.Now()
	result, err := c.server.store.CallTool(ctx, params.Name, params.Arguments)
	if metrics != nil {
		metrics.ToolExecutionDuration.WithLabelValues(params.Name).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		// Dispatch-level failures stay RPC errors; tool-internal failures
		// become an isError result the model can observe.
		var rpcErr *protocol.Error
		if errors.As(err, &rpcErr) {
			if metrics != nil {
				metrics.ToolExecutionCounter.WithLabelValues(params.Name, "error").Inc()
			}
			return nil, rpcErr
		}
		if metrics != nil {
			metrics.ToolExecutionCounter.WithLabelValues(params.Name, "error").Inc()
		}
		return protocol.ToolCallResult{
			Content: []protocol.Content{protocol.TextContent(err.Error())},
			IsError: true,
		}, nil
	}

	if metrics != nil {
		status := "success"
		if result.IsError {
			status = "error"
		}
		metrics.ToolExecutionCounter.WithLabelValues(params.Name, status).Inc()
	}
	return result, nil
}

func (c *SessionConn) handleListPrompts(ctx context.Context, req *rpc.Request) (any, error) {
	if err := c.sess.RequireActive(); err != nil {
		return nil, err
	}
	var params protocol.PaginatedParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, protocol.NewError(protocol.ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		}
	}
	page, next, err := pagination.Page(c.server.store.Prompts(), params.Cursor, c.server.opts.PageSize)
	if err != nil {
		return nil, err
	}
	return protocol.ListPromptsResult{Prompts: page, NextCursor: next}, nil
}

func (c *SessionConn) handleGetPrompt(ctx context.Context, req *rpc.Request) (any, error) {
	if err := c.sess.RequireActive(); err != nil {
		return nil, err
	}
	var params protocol.GetPromptParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, protocol.NewError(protocol.ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	return c.server.store.GetPrompt(ctx, params.Name, params.Arguments)
}

func (c *SessionConn) handleListResources(ctx context.Context, req *rpc.Request) (any, error) {
	if err := c.sess.RequireActive(); err != nil {
		return nil, err
	}
	var params protocol.PaginatedParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, protocol.NewError(protocol.ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		}
	}
	page, next, err := pagination.Page(c.server.store.Resources(), params.Cursor, c.server.opts.PageSize)
	if err != nil {
		return nil, err
	}
	return protocol.ListResourcesResult{Resources: page, NextCursor: next}, nil
}

func (c *SessionConn) handleReadResource(ctx context.Context, req *rpc.Request) (any, error) {
	if err := c.sess.RequireActive(); err != nil {
		return nil, err
	}
	var params protocol.ReadResourceParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, protocol.NewError(protocol.ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	contents, err := c.server.store.ReadResource(ctx, params.URI)
	if err != nil {
		return nil, err
	}
	return protocol.ReadResourceResult{Contents: contents}, nil
}

func (c *SessionConn) handleListResourceTemplates(ctx context.Context, req *rpc.Request) (any, error) {
	if err := c.sess.RequireActive(); err != nil {
		return nil, err
	}
	var params protocol.PaginatedParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, protocol.NewError(protocol.ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		}
	}
	page, next, err := pagination.Page(c.server.store.ResourceTemplates(), params.Cursor, c.server.opts.PageSize)
	if err != nil {
		return nil, err
	}
	return protocol.ListResourceTemplatesResult{ResourceTemplates: page, NextCursor: next}, nil
}

func (c *SessionConn) handleSubscribe(ctx context.Context, req *rpc.Request) (any, error) {
	if err := c.sess.RequireActive(); err != nil {
		return nil, err
	}
	var params protocol.SubscribeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, protocol.NewError(protocol.ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	if params.URI == "" {
		return nil, protocol.NewError(protocol.ErrCodeInvalidParams, "uri is required")
	}
	c.server.subs.Subscribe(params.URI, c.sess.ID())
	return map[string]any{}, nil
}

func (c *SessionConn) handleUnsubscribe(ctx context.Context, req *rpc.Request) (any, error) {
	if err := c.sess.RequireActive(); err != nil {
		return nil, err
	}
	var params protocol.SubscribeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, protocol.NewError(protocol.ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	c.server.subs.Unsubscribe(params.URI, c.sess.ID())
	return map[string]any{}, nil
}

func (c *SessionConn) handleSetLevel(ctx context.Context, req *rpc.Request) (any, error) {
	if err := c.sess.RequireActive(); err != nil {
		return nil, err
	}
	var params protocol.SetLevelParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, protocol.NewError(protocol.ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	level, err := protocol.ParseLoggingLevel(string(params.Level))
	if err != nil {
		return nil, err
	}
	c.sess.SetLogLevel(level)
	return map[string]any{}, nil
}

func (c *SessionConn) handleComplete(ctx context.Context, req *rpc.Request) (any, error) {
	if err := c.sess.RequireActive(); err != nil {
		return nil, err
	}
	var params protocol.CompleteParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, protocol.NewError(protocol.ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}

	handler := c.server.completionHandler()
	if handler == nil {
		return protocol.CompleteResult{Completion: protocol.Completion{Values: []string{}}}, nil
	}

	values, err := handler(ctx, params.Ref, params.Argument)
	if err != nil {
		return nil, err
	}

	total := len(values)
	hasMore := false
	if len(values) > maxCompletionValues {
		values = values[:maxCompletionValues]
		hasMore = true
	}
	return protocol.CompleteResult{Completion: protocol.Completion{
		Values:  values,
		Total:   total,
		HasMore: hasMore,
	}}, nil
}

// notifyListChanged forwards a registry change to the peer if the session
// is active.
func (c *SessionConn) notifyListChanged(method string) {
	if c.sess.State() != session.StateActive {
		return
	}
	if err := c.rpc.Notify(context.Background(), method, nil); err != nil {
		c.server.logger.Debug("list_changed notification dropped",
			"session_id", c.sess.ID(), "method", method, "error", err)
	}
}

// SendLogMessage emits a notifications/message if the session's threshold
// admits the level. Delivery is best-effort.
func (c *SessionConn) SendLogMessage(ctx context.Context, level protocol.LoggingLevel, loggerName string, data any) {
	if c.sess.State() != session.StateActive {
		return
	}
	if !c.sess.LogLevel().Allows(level) {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		c.server.logger.Warn("unloggable payload", "error", err)
		return
	}
	params := protocol.LoggingMessageParams{Level: level, Logger: loggerName, Data: raw}
	if err := c.rpc.Notify(ctx, protocol.NotificationMessage, params); err != nil {
		c.server.logger.Debug("log notification dropped", "error", err)
	}
}

// ListRoots asks the peer for its roots. The peer must have advertised the
// roots capability.
func (c *SessionConn) ListRoots(ctx context.Context) (*protocol.ListRootsResult, error) {
	if c.sess.PeerCapabilities().Roots == nil {
		return nil, protocol.NewError(protocol.ErrCodeMethodNotFound, "peer did not advertise roots capability")
	}
	raw, err := c.rpc.Call(ctx, protocol.MethodListRoots, nil)
	if err != nil {
		return nil, err
	}
	var result protocol.ListRootsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse roots/list result: %w", err)
	}
	return &result, nil
}

// CreateMessage asks the peer to sample a model response. The peer must
// have advertised the sampling capability.
func (c *SessionConn) CreateMessage(ctx context.Context, params protocol.CreateMessageParams) (*protocol.CreateMessageResult, error) {
	if c.sess.PeerCapabilities().Sampling == nil {
		return nil, protocol.NewError(protocol.ErrCodeMethodNotFound, "peer did not advertise sampling capability")
	}
	raw, err := c.rpc.Call(ctx, protocol.MethodCreateMessage, params)
	if err != nil {
		return nil, err
	}
	var result protocol.CreateMessageResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse sampling/createMessage result: %w", err)
	}
	return &result, nil
}
