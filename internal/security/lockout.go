package security

import (
	"sync"
	"time"
)

// AttemptInfo reports the state of a username's failure record after a
// failed attempt was recorded.
type AttemptInfo struct {
	Username    string    `json:"username"`
	Count       int       `json:"attempt_count"`
	Locked      bool      `json:"is_locked"`
	LockedUntil time.Time `json:"lockout_until,omitzero"`
}

// LoginTracker tracks failed login attempts per username and locks accounts
// that accumulate maxAttempts failures within the window. The window doubles
// as the lockout duration: N failures within L lock the account for L, and a
// successful authentication clears all state unconditionally.
//
// Lockout is keyed by username only, independent of source IP.
type LoginTracker struct {
	maxAttempts int
	window      time.Duration

	mu       sync.Mutex
	attempts map[string][]time.Time
	locked   map[string]time.Time

	now func() time.Time
}

// NewLoginTracker constructs a tracker locking after maxAttempts failures
// within window.
func NewLoginTracker(maxAttempts int, window time.Duration) *LoginTracker {
	return &LoginTracker{
		maxAttempts: maxAttempts,
		window:      window,
		attempts:    make(map[string][]time.Time),
		locked:      make(map[string]time.Time),
		now:         time.Now,
	}
}

// RecordFailure records a failed attempt for username, evicting failures
// older than the window first, and locks the account when the threshold is
// reached.
func (t *LoginTracker) RecordFailure(username string) AttemptInfo {
	now := t.now()
	cutoff := now.Add(-t.window)

	t.mu.Lock()
	defer t.mu.Unlock()

	attempts := evict(t.attempts[username], cutoff)
	attempts = append(attempts, now)
	t.attempts[username] = attempts

	info := AttemptInfo{
		Username: username,
		Count:    len(attempts),
	}
	if len(attempts) >= t.maxAttempts {
		until := now.Add(t.window)
		t.locked[username] = until
		info.Locked = true
		info.LockedUntil = until
	}
	return info
}

// IsLocked reports whether username is currently locked and, if so, until
// when. Expired lockouts are cleared lazily here; checking never counts as a
// failed attempt.
func (t *LoginTracker) IsLocked(username string) (bool, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	until, ok := t.locked[username]
	if !ok {
		return false, time.Time{}
	}
	if until.After(t.now()) {
		return true, until
	}
	delete(t.locked, username)
	return false, time.Time{}
}

// Clear removes all failure and lockout state for username. Called on
// successful authentication; clearing an unknown username is a no-op.
func (t *LoginTracker) Clear(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, username)
	delete(t.locked, username)
}

// Sweep drops usernames whose failure history and lockout have fully expired
// and returns how many were removed.
func (t *LoginTracker) Sweep() int {
	now := t.now()
	cutoff := now.Add(-t.window)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for username, attempts := range t.attempts {
		if len(evict(attempts, cutoff)) == 0 {
			delete(t.attempts, username)
			removed++
		}
	}
	for username, until := range t.locked {
		if !until.After(now) {
			delete(t.locked, username)
		}
	}
	return removed
}

// SetClock overrides the tracker's time source. Tests only.
func (t *LoginTracker) SetClock(now func() time.Time) {
	t.now = now
}
