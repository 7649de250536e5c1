package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/jdauth/apiserver/internal/security"
	"github.com/jdauth/apiserver/internal/services"
	"github.com/jdauth/apiserver/types"
)

// RequireAuth resolves the bearer token to a user and injects it into the
// request context. Inactive accounts are rejected even when their token is
// otherwise valid.
func RequireAuth(tokens *services.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			user, err := tokens.ResolveUser(r.Context(), tokenString)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !user.IsActive {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), contextUserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects non-admin users. Must run after RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := userFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !user.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit checks every request against the per-path-class limiters, keyed
// by client IP. Rejections get rate limit headers, a 429, and an audit event.
func RateLimit(limiters *security.LimiterSet, auditing *services.AuditService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			decision := limiters.Check(r.URL.Path, key)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds()))

				meta := requestMeta(r)
				auditing.Record(r.Context(), types.AuditEvent{
					Action:       types.ActionRateLimitExceeded,
					ResourceType: "rate_limit",
					IPAddress:    meta.IPAddress,
					UserAgent:    meta.UserAgent,
					Method:       meta.Method,
					Path:         meta.Path,
					Details: map[string]any{
						"limit":       decision.Limit,
						"retry_after": decision.RetryAfterSeconds(),
					},
					Status:       types.AuditStatusFailed,
					SecurityFlag: types.SecurityFlagSuspicious,
					Severity:     types.SeverityWarning,
				})

				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
