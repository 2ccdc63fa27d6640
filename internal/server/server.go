// Package server wires the protocol engine, session lifecycle, primitive
// registry, subscription manager and authorization pipeline into a
// complete MCP server.
package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/haasonsaas/mcpd/internal/authz"
	"github.com/haasonsaas/mcpd/internal/observability"
	"github.com/haasonsaas/mcpd/internal/pagination"
	"github.com/haasonsaas/mcpd/internal/protocol"
	"github.com/haasonsaas/mcpd/internal/registry"
	"github.com/haasonsaas/mcpd/internal/subscribe"
	"github.com/haasonsaas/mcpd/internal/transport"
)

// CompletionHandler answers one completion/complete request. Values beyond
// 100 entries are truncated by the server.
type CompletionHandler func(ctx context.Context, ref protocol.CompleteRef, arg protocol.CompleteArgument) ([]string, error)

// Options configures a Server.
type Options struct {
	// Info identifies this server to peers.
	Info protocol.Implementation

	// Instructions is optional guidance returned from initialize.
	Instructions string

	// PageSize bounds list results. Zero selects the default.
	PageSize int

	// Logger receives runtime logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics receives runtime metrics. Optional.
	Metrics *observability.Metrics
}

// Server hosts the process-wide primitive registry and authorization
// pipeline and accepts any number of peer connections.
type Server struct {
	opts   Options
	logger *slog.Logger

	store *registry.Store
	auth  *authz.Service
	subs  *subscribe.Manager

	completionMu sync.RWMutex
	completion   CompletionHandler

	sessionMu sync.RWMutex
	sessions  map[string]*SessionConn
}

// New creates a server with an empty registry and filter chain.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = pagination.DefaultPageSize
	}

	s := &Server{
		opts:     opts,
		logger:   opts.Logger,
		store:    registry.NewStore(),
		auth:     authz.NewService(opts.Logger),
		sessions: make(map[string]*SessionConn),
	}
	s.subs = subscribe.NewManager(s.notifyResourceUpdated, opts.Logger)
	s.store.OnListChanged(s.broadcastListChanged)
	return s
}

// Registry returns the primitive store for tool/prompt/resource
// registration.
func (s *Server) Registry() *registry.Store { return s.store }

// Authorization returns the tool authorization service.
func (s *Server) Authorization() *authz.Service { return s.auth }

// Subscriptions returns the resource subscription manager. Embedders call
// Publish on it when a resource changes.
func (s *Server) Subscriptions() *subscribe.Manager { return s.subs }

// SetCompletionHandler installs the completion/complete dispatcher.
func (s *Server) SetCompletionHandler(h CompletionHandler) {
	s.completionMu.Lock()
	defer s.completionMu.Unlock()
	s.completion = h
}

// completionHandler returns the installed handler, nil when absent.
func (s *Server) completionHandler() CompletionHandler {
	s.completionMu.RLock()
	defer s.completionMu.RUnlock()
	return s.completion
}

// capabilities advertises what this server supports.
func (s *Server) capabilities() protocol.Capabilities {
	return protocol.Capabilities{
		Logging:     &protocol.LoggingCapability{},
		Completions: &protocol.CompletionsCapability{},
		Tools:       &protocol.ToolsCapability{ListChanged: true},
		Prompts:     &protocol.PromptsCapability{ListChanged: true},
		Resources:   &protocol.ResourcesCapability{Subscribe: true, ListChanged: true},
	}
}

// Connect attaches a transport as a new session. The returned connection
// must be served to start message dispatch.
func (s *Server) Connect(t transport.Transport, transportName string) *SessionConn {
	conn := newSessionConn(s, t, transportName)

	s.sessionMu.Lock()
	s.sessions[conn.Session().ID()] = conn
	s.sessionMu.Unlock()

	if s.opts.Metrics != nil {
		s.opts.Metrics.ActiveSessions.WithLabelValues(transportName).Inc()
	}
	return conn
}

// ServeStdio runs a single session over this process's stdin/stdout until
// the peer disconnects or ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	conn := s.Connect(transport.NewStdio(s.logger), "stdio")
	return conn.Serve(ctx)
}

// Close shuts the registry's change fan-out down.
func (s *Server) Close() {
	s.store.Close()
}

// dropSession removes a closed session from all fan-out structures.
func (s *Server) dropSession(conn *SessionConn) {
	id := conn.Session().ID()

	s.sessionMu.Lock()
	delete(s.sessions, id)
	s.sessionMu.Unlock()

	s.subs.DropSession(id)
	if s.opts.Metrics != nil {
		s.opts.Metrics.ActiveSessions.WithLabelValues(conn.transportName).Dec()
	}
}

// sessionByID looks an active session connection up.
func (s *Server) sessionByID(id string) (*SessionConn, bool) {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	conn, ok := s.sessions[id]
	return conn, ok
}

// activeSessions snapshots the connected sessions.
func (s *Server) activeSessions() []*SessionConn {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	out := make([]*SessionConn, 0, len(s.sessions))
	for _, conn := range s.sessions {
		out = append(out, conn)
	}
	return out
}

// broadcastListChanged forwards a registry change signal to every active
// session that can receive it.
func (s *Server) broadcastListChanged(kind registry.Kind) {
	var method string
	switch kind {
	case registry.KindTools:
		method = protocol.NotificationToolsListChanged
	case registry.KindPrompts:
		method = protocol.NotificationPromptsListChanged
	case registry.KindResources:
		method = protocol.NotificationResourcesListChanged
	default:
		return
	}

	for _, conn := range s.activeSessions() {
		conn.notifyListChanged(method)
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.NotificationCounter.WithLabelValues(method).Inc()
	}
}

// notifyResourceUpdated delivers one resources/updated notification; it is
// the subscription manager's sink.
func (s *Server) notifyResourceUpdated(ctx context.Context, sessionID, uri string) error {
	conn, ok := s.sessionByID(sessionID)
	if !ok {
		return nil
	}
	return conn.rpc.Notify(ctx, protocol.NotificationResourceUpdated, protocol.ResourceUpdatedParams{URI: uri})
}

// LogToSessions emits a notifications/message to every active session
// whose threshold admits the level.
func (s *Server) LogToSessions(ctx context.Context, level protocol.LoggingLevel, loggerName string, data any) {
	for _, conn := range s.activeSessions() {
		conn.SendLogMessage(ctx, level, loggerName, data)
	}
}
