package security

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(10, 5, slog.Default())
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		if !rl.Allow("id") {
			t.Fatalf("Allow() request %d should be allowed", i+1)
		}
	}
	if rl.Allow("id") {
		t.Error("Allow() should return false once the burst is spent")
	}
}

func TestRateLimiter_Allow_MultipleIdentifiers(t *testing.T) {
	rl := NewRateLimiter(10, 2, nil)
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("a")
	if rl.Allow("a") {
		t.Error("identifier a should be limited")
	}
	if !rl.Allow("b") {
		t.Error("identifier b should have its own bucket")
	}
}

func TestRateLimiter_Allow_RefillOverTime(t *testing.T) {
	rl := NewRateLimiter(20, 1, nil)
	defer rl.Stop()

	if !rl.Allow("id") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("id") {
		t.Fatal("second immediate request should be limited")
	}
	time.Sleep(100 * time.Millisecond)
	if !rl.Allow("id") {
		t.Error("request after refill should be allowed")
	}
}

func TestRateLimiter_MaxEntriesEvictsOldest(t *testing.T) {
	rl := NewRateLimiterWithMaxEntries(1, 1, 3, nil)
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("id-%d", i))
	}
	if got := rl.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10, nil)
	defer rl.Stop()

	rl.Allow("old")
	time.Sleep(20 * time.Millisecond)
	rl.Allow("fresh")

	rl.Cleanup(10 * time.Millisecond)

	if got := rl.Len(); got != 1 {
		t.Errorf("Len() after cleanup = %d, want 1", got)
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(1000, 1000, nil)
	defer rl.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				rl.Allow(fmt.Sprintf("id-%d", n%5))
			}
		}(i)
	}
	wg.Wait()

	if got := rl.Len(); got != 5 {
		t.Errorf("Len() = %d, want 5", got)
	}
}

func TestRateLimiter_StopTwice(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.Stop()
	rl.Stop()
}
