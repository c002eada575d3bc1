package identity

import (
	"context"
	"strings"
	"time"

	"nexusdao/internal/config"
	"nexusdao/internal/domain"
	"nexusdao/internal/repo"
)

// DelegatedResolver trusts the principal named by the upstream platform.
// A bearer token wins over an API key when both are present.
type DelegatedResolver struct {
	Issuer string
	Secret []byte
	Keys   KeyLookup
	Now    func() time.Time
}

func (r DelegatedResolver) Mode() string { return config.AuthModeDelegated }

func (r DelegatedResolver) ResolveCaller(ctx context.Context, creds Credentials) (domain.Identity, error) {
	if token := strings.TrimSpace(creds.BearerToken); token != "" {
		sub, err := parseHS256(token, r.Secret, r.Issuer, r.Now)
		if err != nil {
			return "", authErr("invalid platform token", err)
		}
		return domain.Identity(sub), nil
	}
	if key := strings.TrimSpace(creds.APIKey); key != "" {
		if r.Keys == nil {
			return "", authErr("api keys are not configured", nil)
		}
		stored, err := r.Keys.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
		if err != nil {
			return "", authErr("unknown api key", err)
		}
		if stored.Identity == "" {
			return "", authErr("api key has no identity", nil)
		}
		return stored.Identity, nil
	}
	return "", authErr("credentials required", nil)
}
