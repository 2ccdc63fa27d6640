package debounce

import (
	"sync"
	"testing"
	"time"
)

func TestSignalCoalesces(t *testing.T) {
	var mu sync.Mutex
	flushes := make(map[string]int)

	s := NewSignaler(func(key string) {
		mu.Lock()
		defer mu.Unlock()
		flushes[key]++
	}, WithWindow(20*time.Millisecond))
	defer s.Stop()

	for i := 0; i < 10; i++ {
		s.Signal("tools")
	}
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if flushes["tools"] != 1 {
		t.Errorf("expected 1 flush for a burst, got %d", flushes["tools"])
	}
}

func TestSignalKeysIndependent(t *testing.T) {
	var mu sync.Mutex
	flushes := make(map[string]int)

	s := NewSignaler(func(key string) {
		mu.Lock()
		defer mu.Unlock()
		flushes[key]++
	}, WithWindow(10*time.Millisecond))
	defer s.Stop()

	s.Signal("tools")
	s.Signal("prompts")
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if flushes["tools"] != 1 || flushes["prompts"] != 1 {
		t.Errorf("expected one flush per key, got %v", flushes)
	}
}

func TestSteadySignalsStillFlush(t *testing.T) {
	var mu sync.Mutex
	count := 0

	s := NewSignaler(func(key string) {
		mu.Lock()
		defer mu.Unlock()
		count++
	}, WithWindow(15*time.Millisecond))
	defer s.Stop()

	// Keep signalling faster than the window for several windows; the
	// flush must not be postponed indefinitely.
	deadline := time.After(100 * time.Millisecond)
loop:
	for {
		select {
		case <-deadline:
			break loop
		default:
			s.Signal("resources")
			time.Sleep(2 * time.Millisecond)
		}
	}
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count < 2 {
		t.Errorf("expected multiple flushes under steady signals, got %d", count)
	}
}

func TestStopCancelsPending(t *testing.T) {
	flushed := make(chan string, 1)
	s := NewSignaler(func(key string) { flushed <- key }, WithWindow(20*time.Millisecond))

	s.Signal("tools")
	s.Stop()

	select {
	case key := <-flushed:
		t.Errorf("expected no flush after Stop, got %q", key)
	case <-time.After(50 * time.Millisecond):
	}
}
