package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"nexusdao/internal/config"
	"nexusdao/internal/domain"
)

// SessionIssuer mints and verifies password-mode session tokens.
type SessionIssuer struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func NewSessionIssuer(cfg config.Auth) (*SessionIssuer, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("auth.jwt_secret is required in password mode")
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionIssuer{Secret: []byte(cfg.JWTSecret), TTL: ttl}, nil
}

func (s *SessionIssuer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Issue returns a signed token for identity and its expiry.
func (s *SessionIssuer) Issue(identity domain.Identity) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.TTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    SessionIssuerName,
		Subject:   string(identity),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	})
	signed, err := token.SignedString(s.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (s *SessionIssuer) Parse(token string) (domain.Identity, error) {
	sub, err := parseHS256(token, s.Secret, SessionIssuerName, s.now)
	if err != nil {
		return "", authErr("invalid session token", err)
	}
	return domain.Identity(sub), nil
}

// SessionResolver accepts only session bearer tokens.
type SessionResolver struct {
	Sessions *SessionIssuer
}

func (r SessionResolver) Mode() string { return config.AuthModePassword }

func (r SessionResolver) ResolveCaller(_ context.Context, creds Credentials) (domain.Identity, error) {
	token := strings.TrimSpace(creds.BearerToken)
	if token == "" {
		if strings.TrimSpace(creds.APIKey) != "" {
			return "", authErr("api keys are not accepted in password mode", nil)
		}
		return "", authErr("session token required", nil)
	}
	return r.Sessions.Parse(token)
}
