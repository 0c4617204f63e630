package signal

import (
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	if !rl.Allow("alice") || !rl.Allow("alice") {
		t.Fatal("first two messages must pass")
	}
	if rl.Allow("alice") {
		t.Fatal("third message inside the window must be limited")
	}
	if !rl.Allow("bob") {
		t.Fatal("limits are per identity")
	}

	now = now.Add(1100 * time.Millisecond)
	if !rl.Allow("alice") {
		t.Fatal("window should have slid")
	}
}
