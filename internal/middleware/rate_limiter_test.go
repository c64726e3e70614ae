package middleware

import (
	"testing"
	"time"
)

func TestRateLimiterExhaustsTokens(t *testing.T) {
	rl := NewRateLimiter(3, 1, time.Hour)

	for i := 0; i < 3; i++ {
		if !rl.Allow("client-a") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if rl.Allow("client-a") {
		t.Error("request over the bucket size should be rejected")
	}

	// A different client has its own bucket.
	if !rl.Allow("client-b") {
		t.Error("independent client should be allowed")
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(1, 1, 10*time.Millisecond)

	if !rl.Allow("client") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("client") {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(25 * time.Millisecond)
	if !rl.Allow("client") {
		t.Error("bucket should have refilled")
	}
}
