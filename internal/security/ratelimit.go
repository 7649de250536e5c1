package security

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Decision is the outcome of a rate limit check. Exceeding the limit is not
// an error; callers get the full decision and map it to a response.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_time"`
	RetryAfter time.Duration `json:"-"`
}

// RetryAfterSeconds returns the retry delay rounded up to whole seconds, the
// unit used by the Retry-After response header.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	secs := int(d.RetryAfter / time.Second)
	if d.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

// RateLimiter admits at most max requests per key within a sliding window.
// Each key holds a FIFO of request timestamps; entries older than the window
// are evicted before every check. The whole read-evict-append sequence runs
// under one mutex so concurrent requests cannot over-admit past max.
type RateLimiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	windows map[string][]time.Time

	now func() time.Time
}

// NewRateLimiter constructs a limiter admitting max requests per window.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:     max,
		window:  window,
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Check records a request attempt for key and returns the admission decision.
func (l *RateLimiter) Check(key string) Decision {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	window := evict(l.windows[key], cutoff)

	if len(window) < l.max {
		window = append(window, now)
		l.windows[key] = window
		return Decision{
			Allowed:   true,
			Limit:     l.max,
			Remaining: l.max - len(window),
			ResetAt:   now.Add(l.window),
		}
	}

	l.windows[key] = window
	oldest := window[0]
	return Decision{
		Allowed:    false,
		Limit:      l.max,
		Remaining:  0,
		ResetAt:    oldest.Add(l.window),
		RetryAfter: oldest.Add(l.window).Sub(now),
	}
}

// Sweep drops keys whose windows are fully expired and returns how many were
// removed. Keys with no further traffic otherwise hold memory indefinitely.
func (l *RateLimiter) Sweep() int {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, window := range l.windows {
		if len(evict(window, cutoff)) == 0 {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// SetClock overrides the limiter's time source. Tests only.
func (l *RateLimiter) SetClock(now func() time.Time) {
	l.now = now
}

func evict(window []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	return window[i:]
}

// LimiterSet dispatches requests to per-endpoint-class limiters by path
// prefix. The most specific (longest) configured prefix wins; paths matching
// no prefix use the fallback limiter.
type LimiterSet struct {
	rules    []limiterRule
	fallback *RateLimiter
}

type limiterRule struct {
	prefix  string
	limiter *RateLimiter
}

// NewLimiterSet constructs a LimiterSet with the given fallback limiter.
func NewLimiterSet(fallback *RateLimiter) *LimiterSet {
	return &LimiterSet{fallback: fallback}
}

// Register binds a path prefix to a limiter. Longer prefixes take precedence
// regardless of registration order.
func (s *LimiterSet) Register(prefix string, limiter *RateLimiter) {
	s.rules = append(s.rules, limiterRule{prefix: prefix, limiter: limiter})
	sort.SliceStable(s.rules, func(i, j int) bool {
		return len(s.rules[i].prefix) > len(s.rules[j].prefix)
	})
}

// Check routes the request to the limiter for path and checks key against it.
func (s *LimiterSet) Check(path, key string) Decision {
	return s.limiterFor(path).Check(key)
}

// Sweep runs Sweep on every registered limiter plus the fallback.
func (s *LimiterSet) Sweep() int {
	removed := 0
	for _, rule := range s.rules {
		removed += rule.limiter.Sweep()
	}
	removed += s.fallback.Sweep()
	return removed
}

func (s *LimiterSet) limiterFor(path string) *RateLimiter {
	for _, rule := range s.rules {
		if strings.HasPrefix(path, rule.prefix) {
			return rule.limiter
		}
	}
	return s.fallback
}
