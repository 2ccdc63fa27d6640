// Package subscribe tracks which sessions want update notifications for
// which resource URIs and fans out change events.
package subscribe

import (
	"context"
	"log/slog"
	"sync"
)

// Notifier delivers one resources/updated notification to a session.
// Implementations are provided by the server layer.
type Notifier func(ctx context.Context, sessionID, uri string) error

// Manager maintains the uri -> subscriber mapping. Membership updates and
// publishes for the same URI are serialized so a publish observes a
// consistent subscriber set.
type Manager struct {
	notify Notifier
	logger *slog.Logger

	mu     sync.Mutex
	byURI  map[string]map[string]struct{}
	locks  map[string]*sync.Mutex
}

// NewManager creates a subscription manager that delivers via notify.
func NewManager(notify Notifier, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		notify: notify,
		logger: logger,
		byURI:  make(map[string]map[string]struct{}),
		locks:  make(map[string]*sync.Mutex),
	}
}

// uriLock returns the per-URI serialization lock, creating it on demand.
func (m *Manager) uriLock(uri string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[uri]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[uri] = lock
	}
	return lock
}

// Subscribe registers a session's interest in a URI. Idempotent.
func (m *Manager) Subscribe(uri, sessionID string) {
	lock := m.uriLock(uri)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	subs, ok := m.byURI[uri]
	if !ok {
		subs = make(map[string]struct{})
		m.byURI[uri] = subs
	}
	subs[sessionID] = struct{}{}
}

// Unsubscribe removes a session's interest in a URI. Unsubscribing a
// session that is not subscribed is a no-op.
func (m *Manager) Unsubscribe(uri, sessionID string) {
	lock := m.uriLock(uri)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.byURI[uri]; ok {
		delete(subs, sessionID)
		if len(subs) == 0 {
			delete(m.byURI, uri)
		}
	}
}

// DropSession removes a closing session from every subscription.
func (m *Manager) DropSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uri, subs := range m.byURI {
		delete(subs, sessionID)
		if len(subs) == 0 {
			delete(m.byURI, uri)
		}
	}
}

// Subscribers returns a snapshot of the sessions subscribed to a URI.
func (m *Manager) Subscribers(uri string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.byURI[uri]
	out := make([]string, 0, len(subs))
	for id := range subs {
		out = append(out, id)
	}
	return out
}

// Publish notifies every subscriber of a change to uri exactly once per
// change event. Concurrent subscribe/unsubscribe on the same URI waits for
// the publish to finish.
func (m *Manager) Publish(ctx context.Context, uri string) {
	lock := m.uriLock(uri)
	lock.Lock()
	defer lock.Unlock()

	for _, sessionID := range m.Subscribers(uri) {
		if err := m.notify(ctx, sessionID, uri); err != nil {
			m.logger.Warn("resource update notification failed",
				"uri", uri, "session_id", sessionID, "error", err)
		}
	}
}
