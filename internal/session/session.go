// Package session implements the MCP session lifecycle: the initialize
// handshake, protocol-version negotiation, capability exchange and
// per-session state such as the logging threshold and host properties.
package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/haasonsaas/mcpd/internal/protocol"
)

// State is the lifecycle state of a session.
type State string

const (
	StateCreated      State = "created"
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StateClosing      State = "closing"
	StateClosed       State = "closed"
)

// SupportedVersions lists the protocol versions this implementation
// accepts, newest first. Version strings are compared as opaque tokens.
var SupportedVersions = []string{
	"2025-03-26",
	"2024-11-05",
}

// Session holds the per-peer protocol state. It is created in StateCreated
// by the transport layer and advanced by the initialize exchange.
type Session struct {
	id string

	mu         sync.RWMutex
	state      State
	peerInfo   protocol.Implementation
	peerCaps   protocol.Capabilities
	version    string
	logLevel   protocol.LoggingLevel
	properties map[string]any
}

// New creates a session in StateCreated with a fresh id.
func New() *Session {
	return &Session{
		id:         uuid.New().String(),
		state:      StateCreated,
		logLevel:   protocol.LevelInfo,
		properties: make(map[string]any),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// BeginInitialize validates an initialize request and moves the session
// from created to initializing. A second initialize is InvalidRequest; an
// unsupported protocol version is a version-mismatch error that closes the
// session immediately.
func (s *Session) BeginInitialize(params protocol.InitializeParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCreated {
		return protocol.NewError(protocol.ErrCodeInvalidRequest,
			fmt.Sprintf("initialize received in state %s", s.state))
	}

	negotiated, ok := negotiate(params.ProtocolVersion)
	if !ok {
		s.state = StateClosed
		return protocol.NewErrorWithData(protocol.ErrCodeInvalidParams,
			fmt.Sprintf("unsupported protocol version %q", params.ProtocolVersion),
			protocol.ErrorData{Detail: fmt.Sprintf("supported versions: %v", SupportedVersions)})
	}

	s.state = StateInitializing
	s.version = negotiated
	s.peerInfo = params.ClientInfo
	s.peerCaps = params.Capabilities
	return nil
}

// CompleteInitialize moves the session to active once the initialized
// notification arrives.
func (s *Session) CompleteInitialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInitializing {
		return fmt.Errorf("initialized notification in state %s", s.state)
	}
	s.state = StateActive
	return nil
}

// AdoptPeer records the peer's identity and capabilities on the client
// side, where the initialize result plays the role of the request.
func (s *Session) AdoptPeer(version string, info protocol.Implementation, caps protocol.Capabilities) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateActive
	s.version = version
	s.peerInfo = info
	s.peerCaps = caps
}

// RequireActive returns an error unless the session finished its
// handshake. Non-initialize requests arriving earlier are refused.
func (s *Session) RequireActive() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch s.state {
	case StateActive:
		return nil
	case StateCreated, StateInitializing:
		return protocol.NewError(protocol.ErrCodeInvalidRequest,
			fmt.Sprintf("session not initialized (state %s)", s.state))
	default:
		return protocol.NewError(protocol.ErrCodeInvalidRequest,
			fmt.Sprintf("session closed (state %s)", s.state))
	}
}

// BeginClose moves an active session to closing. Idempotent.
func (s *Session) BeginClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = StateClosing
	}
}

// FinishClose moves the session to closed once all in-flight work is
// resolved.
func (s *Session) FinishClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
}

// ProtocolVersion returns the negotiated version, empty before initialize.
func (s *Session) ProtocolVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// PeerInfo returns the peer's implementation info.
func (s *Session) PeerInfo() protocol.Implementation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerInfo
}

// PeerCapabilities returns the capabilities the peer advertised.
func (s *Session) PeerCapabilities() protocol.Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerCaps
}

// SetLogLevel stores the per-session minimum logging level.
func (s *Session) SetLogLevel(level protocol.LoggingLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logLevel = level
}

// LogLevel returns the per-session minimum logging level.
func (s *Session) LogLevel() protocol.LoggingLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logLevel
}

// SetProperty stores host metadata on the session, such as the
// authenticated principal.
func (s *Session) SetProperty(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties[key] = value
}

// Property reads host metadata from the session.
func (s *Session) Property(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.properties[key]
	return v, ok
}

// Properties returns a copy of the host metadata map.
func (s *Session) Properties() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.properties))
	for k, v := range s.properties {
		out[k] = v
	}
	return out
}

// negotiate picks the peer's version if supported.
func negotiate(requested string) (string, bool) {
	for _, v := range SupportedVersions {
		if requested == v {
			return v, true
		}
	}
	return "", false
}
