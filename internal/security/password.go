// Package security holds the in-process security primitives: password
// hashing, the sliding-window rate limiter, and the failed-login tracker.
// All state here is process-local; a multi-instance deployment gets
// independent limiter and lockout state per instance.
package security

import "golang.org/x/crypto/bcrypt"

// Hasher hashes and verifies passwords with bcrypt. The cost is fixed at
// construction so the work factor stays a configuration concern.
type Hasher struct {
	cost int
}

// NewHasher constructs a Hasher. Costs outside bcrypt's valid range fall
// back to bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash returns the bcrypt hash of the given plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches the stored hash. Comparison goes
// through bcrypt's own constant-time verify; never compare hashes directly.
func (h *Hasher) Verify(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
