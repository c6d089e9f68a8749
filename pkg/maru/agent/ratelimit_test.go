package agent

import (
	"testing"
	"time"
)

func TestRateLimiterEnforcesLimit(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.Allow(1) {
			t.Fatalf("request %d denied under the limit", i)
		}
	}
	if limiter.Allow(1) {
		t.Error("request over the limit allowed")
	}
	if limiter.Remaining(1) != 0 {
		t.Errorf("Remaining = %d, want 0", limiter.Remaining(1))
	}

	// Other chats have their own window.
	if !limiter.Allow(2) {
		t.Error("separate chat denied")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	limiter := NewRateLimiter(2, 50*time.Millisecond)

	if !limiter.Allow(1) || !limiter.Allow(1) {
		t.Fatal("initial requests denied")
	}
	if limiter.Allow(1) {
		t.Fatal("over-limit request allowed")
	}

	time.Sleep(60 * time.Millisecond)
	if !limiter.Allow(1) {
		t.Error("request denied after the window slid past old events")
	}
}

func TestRateLimiterDisabledWhenNonPositive(t *testing.T) {
	limiter := NewRateLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		if !limiter.Allow(1) {
			t.Fatal("disabled limiter denied a request")
		}
	}
}
