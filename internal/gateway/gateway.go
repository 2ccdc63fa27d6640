// Package gateway maps the MCP protocol onto HTTP: JSON-RPC requests over
// POST, server-to-client traffic over SSE, and authorization denials onto
// 401 responses carrying the challenge as a WWW-Authenticate header.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/mcpd/internal/protocol"
	"github.com/haasonsaas/mcpd/internal/server"
)

// sessionHeader carries the session id per the streamable HTTP spec.
const sessionHeader = "Mcp-Session-Id"

// requestTimeout bounds how long a POST waits for its response.
const requestTimeout = 60 * time.Second

// Handler serves the MCP HTTP endpoints.
type Handler struct {
	server *server.Server
	logger *slog.Logger
	prom   *prometheus.Registry

	mu       sync.Mutex
	sessions map[string]*httpSession
}

// httpSession pairs one HTTP client with its server-side session.
type httpSession struct {
	conn      *server.SessionConn
	transport *httpTransport
}

// NewHandler creates the gateway over a server. The Prometheus registry is
// optional; when present /metrics is served from it.
func NewHandler(s *server.Server, prom *prometheus.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		server:   s,
		logger:   logger,
		prom:     prom,
		sessions: make(map[string]*httpSession),
	}
}

// Routes registers the gateway's endpoints on a mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	route := func(path, method string, handler http.Handler) {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != method {
				w.Header().Set("Allow", method)
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			handler.ServeHTTP(w, r)
		})
	}
	route("/mcp", http.MethodPost, http.HandlerFunc(h.handlePost))
	route("/mcp/sse", http.MethodGet, http.HandlerFunc(h.handleSSE))
	route("/healthz", http.MethodGet, http.HandlerFunc(h.handleHealth))
	if h.prom != nil {
		route("/metrics", http.MethodGet, promhttp.HandlerFor(h.prom, promhttp.HandlerOpts{}))
	}
}

// validAccept checks that the client accepts both response media types.
func validAccept(accept string) bool {
	return strings.Contains(accept, "application/json") &&
		strings.Contains(accept, "text/event-stream")
}

// handlePost services one JSON-RPC message.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	if !validAccept(r.Header.Get("Accept")) {
		writeRPCError(w, http.StatusNotAcceptable, nil, protocol.NewError(protocol.ErrCodeInvalidRequest,
			"client must accept application/json and text/event-stream"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, nil, protocol.NewError(protocol.ErrCodeParseError, "unreadable body"))
		return
	}

	msg, err := protocol.DecodeMessage(body)
	if err != nil {
		rpcErr := protocol.AsError(err)
		writeRPCError(w, http.StatusBadRequest, nil, rpcErr)
		return
	}

	switch m := msg.(type) {
	case *protocol.Request:
		h.servePostRequest(w, r, m)
	case *protocol.Notification:
		if sess := h.sessionFor(r); sess != nil {
			sess.transport.deliver(m)
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeRPCError(w, http.StatusBadRequest, nil, protocol.NewError(protocol.ErrCodeInvalidRequest,
			"valid "+sessionHeader+" header required"))
	default:
		writeRPCError(w, http.StatusBadRequest, nil, protocol.NewError(protocol.ErrCodeInvalidRequest,
			"unexpected message kind"))
	}
}

// servePostRequest routes a request to its session, creating the session
// on initialize.
func (h *Handler) servePostRequest(w http.ResponseWriter, r *http.Request, req *protocol.Request) {
	var sess *httpSession
	if req.Method == protocol.MethodInitialize {
		sess = h.createSession(r)
	} else {
		sess = h.sessionFor(r)
	}
	if sess == nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, protocol.NewError(protocol.ErrCodeInvalidRequest,
			"valid "+sessionHeader+" header required"))
		return
	}

	waiter := sess.transport.registerWaiter(req.ID)
	defer sess.transport.releaseWaiter(req.ID)
	sess.transport.deliver(req)

	select {
	case resp := <-waiter:
		w.Header().Set(sessionHeader, sess.conn.Session().ID())
		writeRPCMessage(w, resp)
	case <-r.Context().Done():
	case <-time.After(requestTimeout):
		writeRPCError(w, http.StatusGatewayTimeout, req.ID, protocol.NewError(protocol.ErrCodeInternalError,
			"request timed out"))
	}
}

// createSession builds a new server session bound to an HTTP transport.
func (h *Handler) createSession(r *http.Request) *httpSession {
	tr := newHTTPTransport()
	conn := h.server.Connect(tr, "http")
	sess := &httpSession{conn: conn, transport: tr}

	h.mu.Lock()
	h.sessions[conn.Session().ID()] = sess
	h.mu.Unlock()

	go func() {
		conn.Serve(context.WithoutCancel(r.Context()))
		h.mu.Lock()
		delete(h.sessions, conn.Session().ID())
		h.mu.Unlock()
	}()
	return sess
}

// sessionFor resolves the session named by the request header.
func (h *Handler) sessionFor(r *http.Request) *httpSession {
	id := r.Header.Get(sessionHeader)
	if id == "" {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[id]
}

// handleSSE streams server-initiated messages for a session.
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	sess := h.sessionFor(r)
	if sess == nil {
		http.Error(w, "valid "+sessionHeader+" header required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-sess.transport.outbound():
			if !ok {
				return
			}
			data, err := protocol.EncodeMessage(msg)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeRPCMessage writes a response, mapping challenge-bearing denials to
// 401 with the WWW-Authenticate header.
func writeRPCMessage(w http.ResponseWriter, msg protocol.Message) {
	status := http.StatusOK
	if errResp, ok := msg.(*protocol.ErrorResponse); ok {
		if data, ok := protocol.ErrorDataOf(errResp.Error); ok && data.WWWAuthenticate != "" {
			w.Header().Set("WWW-Authenticate", data.WWWAuthenticate)
			status = data.Status
			if status == 0 {
				status = http.StatusUnauthorized
			}
		}
	}

	body, err := protocol.EncodeMessage(msg)
	if err != nil {
		http.Error(w, "encoding failure", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// writeRPCError writes a bare error response with the given HTTP status.
func writeRPCError(w http.ResponseWriter, status int, id any, rpcErr *protocol.Error) {
	body, _ := protocol.EncodeMessage(&protocol.ErrorResponse{ID: id, Error: rpcErr})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
