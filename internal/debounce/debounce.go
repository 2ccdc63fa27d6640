// Package debounce coalesces bursts of change signals into single flushes.
// The registries use it so a batch of mutations produces one list_changed
// notification per kind.
package debounce

import (
	"sync"
	"time"
)

// DefaultWindow is the flush delay applied when none is configured.
const DefaultWindow = 50 * time.Millisecond

// Signaler coalesces signals per key. The first signal for a key arms a
// timer; further signals inside the window are absorbed. The flush always
// fires one window after the first signal, so a steady stream of signals
// can never postpone it indefinitely.
type Signaler struct {
	mu      sync.Mutex
	armed   map[string]*time.Timer
	stopped bool

	window  time.Duration
	onFlush func(key string)
}

// SignalerOption configures a Signaler.
type SignalerOption func(*Signaler)

// WithWindow sets the flush delay.
func WithWindow(d time.Duration) SignalerOption {
	return func(s *Signaler) {
		if d > 0 {
			s.window = d
		}
	}
}

// NewSignaler creates a Signaler that calls onFlush once per burst of
// signals for a key.
func NewSignaler(onFlush func(key string), opts ...SignalerOption) *Signaler {
	s := &Signaler{
		armed:   make(map[string]*time.Timer),
		window:  DefaultWindow,
		onFlush: onFlush,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Signal records a change for key. Returns immediately.
func (s *Signaler) Signal(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if _, ok := s.armed[key]; ok {
		return
	}
	s.armed[key] = time.AfterFunc(s.window, func() {
		s.mu.Lock()
		delete(s.armed, key)
		stopped := s.stopped
		s.mu.Unlock()
		if !stopped {
			s.onFlush(key)
		}
	})
}

// Stop cancels all pending flushes and refuses further signals.
func (s *Signaler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for key, timer := range s.armed {
		timer.Stop()
		delete(s.armed, key)
	}
}
