// Package client implements the MCP client runtime: the initialize
// handshake, a cached view of the server's primitives, and handling of
// server-initiated roots and sampling requests.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haasonsaas/mcpd/internal/protocol"
	"github.com/haasonsaas/mcpd/internal/rpc"
	"github.com/haasonsaas/mcpd/internal/session"
	"github.com/haasonsaas/mcpd/internal/transport"
)

// SamplingHandler services server-initiated sampling/createMessage
// requests. Supplied by the embedder; the runtime never talks to a model
// itself.
type SamplingHandler func(ctx context.Context, params *protocol.CreateMessageParams) (*protocol.CreateMessageResult, error)

// Options configures a Client.
type Options struct {
	// Info identifies this client to servers.
	Info protocol.Implementation

	// Roots are the filesystem or URI roots exposed to servers.
	Roots []protocol.Root

	// Sampling, when set, advertises the sampling capability and answers
	// sampling/createMessage.
	Sampling SamplingHandler

	// Logger receives runtime logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client is an MCP client bound to a single server connection.
type Client struct {
	opts   Options
	logger *slog.Logger
	rpc    *rpc.Conn
	sess   *session.Session

	mu        sync.RWMutex
	roots     []protocol.Root
	tools     []*protocol.Tool
	resources []*protocol.Resource
	prompts   []*protocol.Prompt

	updates  chan string
	serveErr chan error
}

// New creates a client over the transport. Connect must be called to run
// the handshake.
func New(t transport.Transport, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Client{
		opts:     opts,
		logger:   opts.Logger,
		rpc:      rpc.NewConn(t, opts.Logger),
		sess:     session.New(),
		roots:    opts.Roots,
		updates:  make(chan string, 16),
		serveErr: make(chan error, 1),
	}
	c.registerHandlers()
	return c
}

// capabilities advertises what this client supports.
func (c *Client) capabilities() protocol.Capabilities {
	caps := protocol.Capabilities{
		Roots: &protocol.RootsCapability{ListChanged: true},
	}
	if c.opts.Sampling != nil {
		caps.Sampling = &protocol.SamplingCapability{}
	}
	return caps
}

// registerHandlers installs handlers for server-initiated traffic.
func (c *Client) registerHandlers() {
	c.rpc.Handle(protocol.MethodListRoots, func(ctx context.Context, req *rpc.Request) (any, error) {
		c.mu.RLock()
		defer c.mu.RUnlock()
		roots := make([]protocol.Root, len(c.roots))
		copy(roots, c.roots)
		return protocol.ListRootsResult{Roots: roots}, nil
	})

	c.rpc.Handle(protocol.MethodCreateMessage, func(ctx context.Context, req *rpc.Request) (any, error) {
		handler := c.opts.Sampling
		if handler == nil {
			return nil, protocol.NewError(protocol.ErrCodeMethodNotFound, "sampling is not supported")
		}
		var params protocol.CreateMessageParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return nil, protocol.NewError(protocol.ErrCodeInvalidParams, fmt.Sprintf("invalid sampling params: %v", err))
			}
		}
		result, err := handler(ctx, &params)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, protocol.NewError(protocol.ErrCodeInternalError, "sampling handler returned nil response")
		}
		return result, nil
	})

	c.rpc.Handle(protocol.MethodPing, func(ctx context.Context, req *rpc.Request) (any, error) {
		return map[string]any{}, nil
	})

	// Cache invalidation and update fan-in.
	invalidate := func(ctx context.Context, method string, params json.RawMessage) {
		if err := c.RefreshCapabilities(ctx); err != nil {
			c.logger.Warn("failed to refresh capabilities", "error", err)
		}
		c.pushUpdate(method)
	}
	c.rpc.HandleNotification(protocol.NotificationToolsListChanged, invalidate)
	c.rpc.HandleNotification(protocol.NotificationPromptsListChanged, invalidate)
	c.rpc.HandleNotification(protocol.NotificationResourcesListChanged, invalidate)

	c.rpc.HandleNotification(protocol.NotificationResourceUpdated, func(ctx context.Context, method string, params json.RawMessage) {
		var p protocol.ResourceUpdatedParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		c.pushUpdate(p.URI)
	})

	c.rpc.HandleNotification(protocol.NotificationMessage, func(ctx context.Context, method string, params json.RawMessage) {
		var p protocol.LoggingMessageParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		c.logger.Info("server log", "level", p.Level, "logger", p.Logger, "data", string(p.Data))
	})
}

// pushUpdate delivers an update event without blocking.
func (c *Client) pushUpdate(event string) {
	select {
	case c.updates <- event:
	default:
		c.logger.Debug("update channel full, dropping", "event", event)
	}
}

// Updates returns resource update and list_changed events observed by the
// client.
func (c *Client) Updates() <-chan string { return c.updates }

// Connect runs the initialize handshake and refreshes the primitive
// cache.
func (c *Client) Connect(ctx context.Context) error {
	go func() { c.serveErr <- c.rpc.Serve(ctx) }()

	raw, err := c.rpc.Call(ctx, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: session.SupportedVersions[0],
		Capabilities:    c.capabilities(),
		ClientInfo:      c.opts.Info,
	})
	if err != nil {
		c.rpc.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.rpc.Close()
		return fmt.Errorf("parse initialize result: %w", err)
	}

	if !supported(result.ProtocolVersion) {
		c.rpc.Close()
		return fmt.Errorf("server negotiated unsupported protocol version %q", result.ProtocolVersion)
	}

	c.sess.AdoptPeer(result.ProtocolVersion, result.ServerInfo, result.Capabilities)
	c.logger.Info("connected to MCP server",
		"name", result.ServerInfo.Name,
		"version", result.ServerInfo.Version,
		"protocol", result.ProtocolVersion)

	if err := c.rpc.Notify(ctx, protocol.NotificationInitialized, nil); err != nil {
		c.logger.Warn("failed to send initialized notification", "error", err)
	}

	if err := c.RefreshCapabilities(ctx); err != nil {
		c.logger.Warn("failed to refresh capabilities", "error", err)
	}
	return nil
}

// supported reports whether the negotiated version is in this
// implementation's supported set.
func supported(version string) bool {
	for _, v := range session.SupportedVersions {
		if v == version {
			return true
		}
	}
	return false
}

// Wait blocks until the connection's serve loop exits and returns the
// transport's terminal error, if any.
func (c *Client) Wait() error {
	return <-c.serveErr
}

// Close tears the connection down.
func (c *Client) Close() error {
	c.sess.BeginClose()
	err := c.rpc.Close()
	c.sess.FinishClose()
	return err
}

// Session returns the protocol session.
func (c *Client) Session() *session.Session { return c.sess }

// ServerInfo returns the connected server's identity.
func (c *Client) ServerInfo() protocol.Implementation { return c.sess.PeerInfo() }

// RefreshCapabilities re-fetches the server's primitives into the cache,
// honoring the capabilities the server advertised.
func (c *Client) RefreshCapabilities(ctx context.Context) error {
	caps := c.sess.PeerCapabilities()

	if caps.Tools != nil {
		tools, err := c.listAllTools(ctx)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.tools = tools
		c.mu.Unlock()
	}

	if caps.Resources != nil {
		if raw, err := c.rpc.Call(ctx, protocol.MethodListResources, nil); err == nil {
			var resp protocol.ListResourcesResult
			if json.Unmarshal(raw, &resp) == nil {
				c.mu.Lock()
				c.resources = resp.Resources
				c.mu.Unlock()
			}
		}
	}

	if caps.Prompts != nil {
		if raw, err := c.rpc.Call(ctx, protocol.MethodListPrompts, nil); err == nil {
			var resp protocol.ListPromptsResult
			if json.Unmarshal(raw, &resp) == nil {
				c.mu.Lock()
				c.prompts = resp.Prompts
				c.mu.Unlock()
			}
		}
	}

	return nil
}

// listAllTools walks every page of tools/list.
func (c *Client) listAllTools(ctx context.Context) ([]*protocol.Tool, error) {
	var all []*protocol.Tool
	cursor := ""
	for {
		params := protocol.PaginatedParams{Cursor: cursor}
		raw, err := c.rpc.Call(ctx, protocol.MethodListTools, params)
		if err != nil {
			return nil, err
		}
		var page protocol.ListToolsResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("parse tools/list result: %w", err)
		}
		all = append(all, page.Tools...)
		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// Tools returns the cached tools.
func (c *Client) Tools() []*protocol.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// Resources returns the cached resources.
func (c *Client) Resources() []*protocol.Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resources
}

// Prompts returns the cached prompts.
func (c *Client) Prompts() []*protocol.Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prompts
}

// Ping checks connection liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.rpc.Call(ctx, protocol.MethodPing, nil)
	return err
}

// CallTool calls a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*protocol.ToolCallResult, error) {
	params := protocol.CallToolParams{Name: name}
	if arguments != nil {
		argsJSON, err := json.Marshal(arguments)
		if err != nil {
			return nil, fmt.Errorf("marshal arguments: %w", err)
		}
		params.Arguments = argsJSON
	}

	raw, err := c.rpc.Call(ctx, protocol.MethodCallTool, params)
	if err != nil {
		return nil, err
	}
	var result protocol.ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}
	return &result, nil
}

// ReadResource reads a resource from the server.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]protocol.ResourceContents, error) {
	raw, err := c.rpc.Call(ctx, protocol.MethodReadResource, protocol.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, err
	}
	var result protocol.ReadResourceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}
	return result.Contents, nil
}

// GetPrompt fetches a rendered prompt from the server.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*protocol.GetPromptResult, error) {
	raw, err := c.rpc.Call(ctx, protocol.MethodGetPrompt, protocol.GetPromptParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}
	var result protocol.GetPromptResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}
	return &result, nil
}

// Subscribe registers interest in update notifications for a resource.
func (c *Client) Subscribe(ctx context.Context, uri string) error {
	_, err := c.rpc.Call(ctx, protocol.MethodSubscribe, protocol.SubscribeParams{URI: uri})
	return err
}

// Unsubscribe withdraws interest in a resource.
func (c *Client) Unsubscribe(ctx context.Context, uri string) error {
	_, err := c.rpc.Call(ctx, protocol.MethodUnsubscribe, protocol.SubscribeParams{URI: uri})
	return err
}

// SetLogLevel sets the server's minimum level for notifications/message.
func (c *Client) SetLogLevel(ctx context.Context, level protocol.LoggingLevel) error {
	_, err := c.rpc.Call(ctx, protocol.MethodSetLevel, protocol.SetLevelParams{Level: level})
	return err
}

// Complete asks the server for argument completions.
func (c *Client) Complete(ctx context.Context, ref protocol.CompleteRef, arg protocol.CompleteArgument) (*protocol.Completion, error) {
	raw, err := c.rpc.Call(ctx, protocol.MethodComplete, protocol.CompleteParams{Ref: ref, Argument: arg})
	if err != nil {
		return nil, err
	}
	var result protocol.CompleteResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}
	return &result.Completion, nil
}

// AddRoot exposes an additional root and notifies the server.
func (c *Client) AddRoot(ctx context.Context, root protocol.Root) {
	c.mu.Lock()
	c.roots = append(c.roots, root)
	c.mu.Unlock()

	if err := c.rpc.Notify(ctx, protocol.NotificationRootsListChanged, nil); err != nil {
		c.logger.Debug("roots list_changed dropped", "error", err)
	}
}
