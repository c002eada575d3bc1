// Package identity turns request credentials into a verified caller identity.
//
// Two strategies exist and exactly one is active per deployment:
// password mode verifies session tokens minted by this service, delegated
// mode trusts tokens signed by an upstream platform plus locally issued API keys.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"nexusdao/internal/config"
	"nexusdao/internal/domain"
)

const SessionIssuerName = "nexusdao/session"

// Credentials are the raw values presented with a request.
type Credentials struct {
	BearerToken string
	APIKey      string
}

func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.BearerToken) == "" && strings.TrimSpace(c.APIKey) == ""
}

// Resolver verifies credentials. Every failure wraps domain.ErrAuthentication.
type Resolver interface {
	ResolveCaller(ctx context.Context, creds Credentials) (domain.Identity, error)
	Mode() string
}

// KeyLookup finds a stored API key by its hash.
type KeyLookup interface {
	GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error)
}

func authErr(reason string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", reason, domain.ErrAuthentication)
	}
	return fmt.Errorf("%s: %w: %v", reason, domain.ErrAuthentication, err)
}

// parseHS256 validates an HS256 token from issuer and returns its subject.
func parseHS256(token string, secret []byte, issuer string, now func() time.Time) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	}
	if now != nil {
		opts = append(opts, jwt.WithTimeFunc(now))
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("subject claim required")
	}
	return claims.Subject, nil
}

// New builds the resolver selected by cfg.Mode.
func New(cfg config.Auth, keys KeyLookup) (Resolver, error) {
	switch cfg.Mode {
	case config.AuthModePassword, "":
		issuer, err := NewSessionIssuer(cfg)
		if err != nil {
			return nil, err
		}
		return SessionResolver{Sessions: issuer}, nil
	case config.AuthModeDelegated:
		if strings.TrimSpace(cfg.Delegated.Secret) == "" || strings.TrimSpace(cfg.Delegated.Issuer) == "" {
			return nil, errors.New("auth.delegated.issuer and auth.delegated.secret are required in delegated mode")
		}
		return DelegatedResolver{
			Issuer: cfg.Delegated.Issuer,
			Secret: []byte(cfg.Delegated.Secret),
			Keys:   keys,
		}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}
