package security

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRateLimiterAdmitsUpToMax(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(3, time.Minute)
	limiter.SetClock(clock.Now)

	for i := 0; i < 3; i++ {
		decision := limiter.Check("10.0.0.1")
		if !decision.Allowed {
			t.Fatalf("request %d: expected allowed", i+1)
		}
		if want := 3 - (i + 1); decision.Remaining != want {
			t.Fatalf("request %d: remaining = %d, want %d", i+1, decision.Remaining, want)
		}
	}

	decision := limiter.Check("10.0.0.1")
	if decision.Allowed {
		t.Fatal("fourth request: expected rejection")
	}
	if decision.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", decision.Remaining)
	}
	if decision.RetryAfter <= 0 {
		t.Fatalf("retry after = %v, want positive", decision.RetryAfter)
	}
}

func TestRateLimiterSlidingWindowRecovery(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(3, time.Minute)
	limiter.SetClock(clock.Now)

	for i := 0; i < 3; i++ {
		limiter.Check("key")
	}
	if limiter.Check("key").Allowed {
		t.Fatal("expected rejection at the limit")
	}

	// Past the window the earliest entries expire and admission resumes.
	clock.Advance(61 * time.Second)
	decision := limiter.Check("key")
	if !decision.Allowed {
		t.Fatal("expected admission after window passed")
	}
	if decision.Remaining != 2 {
		t.Fatalf("remaining = %d, want 2", decision.Remaining)
	}
}

func TestRateLimiterPartialEviction(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(3, time.Minute)
	limiter.SetClock(clock.Now)

	limiter.Check("key")
	clock.Advance(40 * time.Second)
	limiter.Check("key")
	limiter.Check("key")

	// First entry is 40s old; the window still holds three entries.
	if limiter.Check("key").Allowed {
		t.Fatal("expected rejection with full window")
	}

	// 21s later only the first entry has expired.
	clock.Advance(21 * time.Second)
	if !limiter.Check("key").Allowed {
		t.Fatal("expected admission after oldest entry expired")
	}
	if limiter.Check("key").Allowed {
		t.Fatal("expected rejection, window full again")
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(1, time.Minute)
	limiter.SetClock(clock.Now)

	if !limiter.Check("a").Allowed {
		t.Fatal("first key: expected admission")
	}
	if limiter.Check("a").Allowed {
		t.Fatal("first key: expected rejection")
	}
	if !limiter.Check("b").Allowed {
		t.Fatal("second key: expected admission")
	}
}

func TestRateLimiterRejectionDoesNotExtendWindow(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(2, time.Minute)
	limiter.SetClock(clock.Now)

	limiter.Check("key")
	limiter.Check("key")

	// Hammering while rejected must not push the reset time out.
	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		if limiter.Check("key").Allowed {
			t.Fatalf("attempt %d: expected rejection", i+1)
		}
	}

	clock.Advance(51 * time.Second)
	if !limiter.Check("key").Allowed {
		t.Fatal("expected admission once original entries expired")
	}
}

func TestRetryAfterSecondsRoundsUp(t *testing.T) {
	tests := []struct {
		name       string
		retryAfter time.Duration
		want       int
	}{
		{"zero", 0, 0},
		{"exact seconds", 3 * time.Second, 3},
		{"fraction rounds up", 1500 * time.Millisecond, 2},
		{"sub second", 10 * time.Millisecond, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decision{RetryAfter: tt.retryAfter}
			if got := d.RetryAfterSeconds(); got != tt.want {
				t.Fatalf("RetryAfterSeconds() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRateLimiterSweep(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(5, time.Minute)
	limiter.SetClock(clock.Now)

	limiter.Check("old")
	clock.Advance(30 * time.Second)
	limiter.Check("fresh")

	clock.Advance(31 * time.Second)
	if removed := limiter.Sweep(); removed != 1 {
		t.Fatalf("Sweep() = %d, want 1", removed)
	}

	// The swept key starts from a clean window.
	decision := limiter.Check("old")
	if !decision.Allowed || decision.Remaining != 4 {
		t.Fatalf("after sweep: allowed=%v remaining=%d", decision.Allowed, decision.Remaining)
	}
}

func TestLimiterSetPrefixDispatch(t *testing.T) {
	clock := newFakeClock()
	fallback := NewRateLimiter(60, time.Minute)
	fallback.SetClock(clock.Now)
	admin := NewRateLimiter(2, time.Minute)
	admin.SetClock(clock.Now)
	auth := NewRateLimiter(1, time.Minute)
	auth.SetClock(clock.Now)

	set := NewLimiterSet(fallback)
	set.Register("/api/admin", admin)
	set.Register("/api/auth", auth)

	if !set.Check("/api/auth/login", "ip").Allowed {
		t.Fatal("auth: expected admission")
	}
	if set.Check("/api/auth/login", "ip").Allowed {
		t.Fatal("auth: expected rejection at auth limit")
	}

	// Admin paths use their own limiter and counters.
	if !set.Check("/api/admin/users", "ip").Allowed {
		t.Fatal("admin: expected admission")
	}
	if got := set.Check("/api/admin/users", "ip"); !got.Allowed || got.Limit != 2 {
		t.Fatalf("admin: allowed=%v limit=%d, want allowed with limit 2", got.Allowed, got.Limit)
	}

	// Unmatched paths fall back.
	if got := set.Check("/api/other", "ip"); got.Limit != 60 {
		t.Fatalf("fallback limit = %d, want 60", got.Limit)
	}
}

func TestRateLimiterConcurrentChecksNeverOverAdmit(t *testing.T) {
	limiter := NewRateLimiter(50, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Check("shared").Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 50 {
		t.Fatalf("admitted %d requests, want exactly 50", admitted)
	}
}
