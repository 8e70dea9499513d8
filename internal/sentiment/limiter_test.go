package sentiment

import (
	"testing"
	"time"
)

func TestSlidingWindowLimiterAllowsUpToMax(t *testing.T) {
	l := newSlidingWindowLimiter(2, time.Minute)
	now := time.Now()

	if !l.Allow(now) {
		t.Fatal("1st call should be allowed")
	}
	if !l.Allow(now) {
		t.Fatal("2nd call should be allowed")
	}
	if l.Allow(now) {
		t.Fatal("3rd call should be rejected (max=2)")
	}
}

func TestSlidingWindowLimiterExpiresOldEvents(t *testing.T) {
	l := newSlidingWindowLimiter(1, time.Minute)
	now := time.Now()

	if !l.Allow(now) {
		t.Fatal("1st call should be allowed")
	}
	if l.Allow(now.Add(30 * time.Second)) {
		t.Fatal("call within window should be rejected")
	}
	if !l.Allow(now.Add(61 * time.Second)) {
		t.Fatal("call after window should be allowed")
	}
}
