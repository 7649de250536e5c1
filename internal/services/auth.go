package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jdauth/apiserver/internal/security"
	"github.com/jdauth/apiserver/internal/store"
	"github.com/jdauth/apiserver/types"
)

// ErrInvalidCredentials is the only authentication failure ever surfaced to
// callers. The internal classification (unknown user, wrong password, locked
// or inactive account) exists for audit logging alone; collapsing it here
// prevents username enumeration.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Internal failure classifications stored in audit details.
const (
	failureEmptyPassword   = "empty_password"
	failureAccountLocked   = "account_locked"
	failureUserNotFound    = "user_not_found"
	failureAccountInactive = "account_inactive"
	failureInvalidPassword = "invalid_password"
)

// suspiciousAttemptThreshold marks repeated failures as suspicious before
// the lockout threshold is reached.
const suspiciousAttemptThreshold = 3

// PasswordVerifier checks plaintext passwords against stored hashes.
type PasswordVerifier interface {
	Verify(plaintext, hash string) bool
}

// RequestMeta carries request context into audit events.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	Method    string
	Path      string
}

// AuthService authenticates users and maintains failed-login state.
type AuthService struct {
	users    UserResolver
	hasher   PasswordVerifier
	tracker  *security.LoginTracker
	tokens   *TokenService
	auditing *AuditService
}

// NewAuthService constructs an AuthService.
func NewAuthService(users UserResolver, hasher PasswordVerifier, tracker *security.LoginTracker, tokens *TokenService, auditing *AuditService) *AuthService {
	return &AuthService{
		users:    users,
		hasher:   hasher,
		tracker:  tracker,
		tokens:   tokens,
		auditing: auditing,
	}
}

// Authenticate checks a username/password pair. The lockout consult is a
// pure read; only genuine credential failures increment the failure counter.
// All failures surface as ErrInvalidCredentials.
func (s *AuthService) Authenticate(ctx context.Context, username, password string, meta RequestMeta) (types.User, error) {
	if username == "" || password == "" {
		if username != "" {
			s.auditFailure(ctx, username, failureEmptyPassword, meta, "", types.SeverityWarning)
		}
		return types.User{}, ErrInvalidCredentials
	}

	if locked, until := s.tracker.IsLocked(username); locked {
		s.auditing.Record(ctx, types.AuditEvent{
			Action:       types.ActionLoginFailed,
			ResourceType: "auth",
			Username:     username,
			IPAddress:    meta.IPAddress,
			UserAgent:    meta.UserAgent,
			Method:       meta.Method,
			Path:         meta.Path,
			Description:  fmt.Sprintf("Login rejected for locked account '%s'", username),
			Details: map[string]any{
				"failure_reason": failureAccountLocked,
				"lockout_until":  until.UTC(),
			},
			Status:       types.AuditStatusFailed,
			SecurityFlag: types.SecurityFlagSuspicious,
			Severity:     types.SeverityWarning,
		})
		return types.User{}, ErrInvalidCredentials
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.recordFailure(ctx, username, failureUserNotFound, meta)
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}

	if !user.IsActive {
		s.recordFailure(ctx, username, failureAccountInactive, meta)
		return types.User{}, ErrInvalidCredentials
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		s.recordFailure(ctx, username, failureInvalidPassword, meta)
		return types.User{}, ErrInvalidCredentials
	}

	s.tracker.Clear(username)
	s.auditing.Record(ctx, types.AuditEvent{
		Action:       types.ActionLoginSuccess,
		ResourceType: "auth",
		UserID:       &user.ID,
		Username:     user.Username,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		Method:       meta.Method,
		Path:         meta.Path,
		Status:       types.AuditStatusSuccess,
		Severity:     types.SeverityInfo,
	})
	return user, nil
}

// Login authenticates and issues a bearer token on success.
func (s *AuthService) Login(ctx context.Context, username, password string, meta RequestMeta) (string, types.User, error) {
	user, err := s.Authenticate(ctx, username, password, meta)
	if err != nil {
		return "", types.User{}, err
	}
	token, err := s.tokens.CreateToken(user.Username)
	if err != nil {
		return "", types.User{}, err
	}
	return token, user, nil
}

// Refresh exchanges a valid token for a fresh one with a full lifetime.
// Expired or malformed tokens are rejected; the caller must log in again.
func (s *AuthService) Refresh(ctx context.Context, tokenString string, meta RequestMeta) (string, types.User, error) {
	user, err := s.tokens.ResolveUser(ctx, tokenString)
	if err != nil {
		return "", types.User{}, err
	}
	if !user.IsActive {
		return "", types.User{}, ErrInvalidCredentials
	}

	token, err := s.tokens.CreateToken(user.Username)
	if err != nil {
		return "", types.User{}, err
	}

	s.auditing.Record(ctx, types.AuditEvent{
		Action:       types.ActionTokenRefresh,
		ResourceType: "auth",
		UserID:       &user.ID,
		Username:     user.Username,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		Method:       meta.Method,
		Path:         meta.Path,
		Status:       types.AuditStatusSuccess,
		Severity:     types.SeverityInfo,
	})
	return token, user, nil
}

// recordFailure increments the failure counter for a genuine credential
// mismatch and emits the matching audit events, including the lockout
// transition when this failure crossed the threshold.
func (s *AuthService) recordFailure(ctx context.Context, username, reason string, meta RequestMeta) {
	info := s.tracker.RecordFailure(username)

	flag := ""
	severity := types.SeverityWarning
	if info.Count > suspiciousAttemptThreshold {
		flag = types.SecurityFlagSuspicious
	}
	s.auditFailure(ctx, username, reason, meta, flag, severity)

	if info.Locked {
		s.auditing.Record(ctx, types.AuditEvent{
			Action:       types.ActionAccountLockout,
			ResourceType: "auth",
			Username:     username,
			IPAddress:    meta.IPAddress,
			UserAgent:    meta.UserAgent,
			Method:       meta.Method,
			Path:         meta.Path,
			Details: map[string]any{
				"attempt_count": info.Count,
				"lockout_until": info.LockedUntil.UTC(),
			},
			Status:       types.AuditStatusFailed,
			SecurityFlag: types.SecurityFlagCritical,
			Severity:     types.SeverityCritical,
		})
	}
}

func (s *AuthService) auditFailure(ctx context.Context, username, reason string, meta RequestMeta, flag, severity string) {
	s.auditing.Record(ctx, types.AuditEvent{
		Action:       types.ActionLoginFailed,
		ResourceType: "auth",
		Username:     username,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		Method:       meta.Method,
		Path:         meta.Path,
		Details:      map[string]any{"failure_reason": reason},
		Status:       types.AuditStatusFailed,
		SecurityFlag: flag,
		Severity:     severity,
	})
}
