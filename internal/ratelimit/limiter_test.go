package ratelimit

import "testing"

func TestBucketAllowsBurst(t *testing.T) {
	b := NewBucket(Config{RequestsPerSecond: 1, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("expected burst request %d to be allowed", i)
		}
	}
	if b.Allow() {
		t.Error("expected request beyond burst to be denied")
	}
}

func TestBucketDefaults(t *testing.T) {
	b := NewBucket(Config{})
	if b.maxTokens <= 0 {
		t.Error("expected positive default burst size")
	}
	if b.refillRate != 10.0 {
		t.Errorf("expected default rate 10, got %v", b.refillRate)
	}
}

func TestLimiterKeysIndependent(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1})

	if !l.Allow("s1/search") {
		t.Fatal("first request for s1/search should pass")
	}
	if l.Allow("s1/search") {
		t.Error("second request for s1/search should be limited")
	}
	if !l.Allow("s2/search") {
		t.Error("a different key should have its own bucket")
	}
}

func TestLimiterKeyCap(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1})
	l.maxKeys = 2

	l.Allow("a")
	l.Allow("b")
	if l.Allow("c") {
		t.Error("expected refusal once the key cap is reached")
	}
}
