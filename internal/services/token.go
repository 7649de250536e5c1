package services

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jdauth/apiserver/internal/store"
	"github.com/jdauth/apiserver/types"
)

// Token verification errors. Handlers map all of these to a generic 401 so
// callers cannot distinguish between expiry and tampering.
var (
	ErrEmptyClaims    = errors.New("token has no claims to encode")
	ErrTokenExpired   = errors.New("token has expired")
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrInvalidPayload = errors.New("token payload is missing subject")
	ErrUserNotFound   = errors.New("token subject does not match a known user")
)

// UserResolver looks up users by username when resolving token subjects.
type UserResolver interface {
	GetByUsername(ctx context.Context, username string) (types.User, error)
}

// TokenService issues and verifies HS256 bearer tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	users  UserResolver

	now func() time.Time
}

// NewTokenService constructs a TokenService with the given signing secret and
// token lifetime.
func NewTokenService(secret string, ttl time.Duration, users UserResolver) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		users:  users,
		now:    time.Now,
	}
}

// TTL returns the configured token lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// SetClock overrides the time source. Tests only.
func (s *TokenService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateToken signs a token whose subject is the given username. Every token
// carries a unique jti so two tokens for the same user are distinguishable.
func (s *TokenService) CreateToken(username string) (string, error) {
	if username == "" {
		return "", ErrEmptyClaims
	}

	issued := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(issued.Add(s.ttl)),
		ID:        uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// VerifyToken parses and validates a token, returning its subject.
func (s *TokenService) VerifyToken(tokenString string) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	var claims jwt.RegisteredClaims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrTokenInvalid
	}
	if claims.Subject == "" {
		return "", ErrInvalidPayload
	}
	return claims.Subject, nil
}

// ResolveUser verifies a token and loads the user it names. A valid token
// whose subject no longer exists yields ErrUserNotFound.
func (s *TokenService) ResolveUser(ctx context.Context, tokenString string) (types.User, error) {
	username, err := s.VerifyToken(tokenString)
	if err != nil {
		return types.User{}, err
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrUserNotFound
		}
		return types.User{}, err
	}
	return user, nil
}
