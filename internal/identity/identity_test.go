package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexusdao/internal/config"
	"nexusdao/internal/domain"
	"nexusdao/internal/repo"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func passwordAuth() config.Auth {
	return config.Auth{Mode: config.AuthModePassword, JWTSecret: "session-secret", SessionTTL: time.Hour}
}

func TestSessionRoundTrip(t *testing.T) {
	issuer, err := NewSessionIssuer(passwordAuth())
	require.NoError(t, err)
	issuer.Now = func() time.Time { return fixedNow }

	token, exp, err := issuer.Issue("user-1")
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(time.Hour), exp)

	res := SessionResolver{Sessions: issuer}
	id, err := res.ResolveCaller(context.Background(), Credentials{BearerToken: token})
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("user-1"), id)
	assert.Equal(t, config.AuthModePassword, res.Mode())
}

func TestSessionExpired(t *testing.T) {
	issuer, err := NewSessionIssuer(passwordAuth())
	require.NoError(t, err)
	issuer.Now = func() time.Time { return fixedNow }
	token, _, err := issuer.Issue("user-1")
	require.NoError(t, err)

	issuer.Now = func() time.Time { return fixedNow.Add(2 * time.Hour) }
	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, domain.ErrAuthentication)
}

func TestSessionRejectsForeignTokens(t *testing.T) {
	issuer, err := NewSessionIssuer(passwordAuth())
	require.NoError(t, err)

	other := &SessionIssuer{Secret: []byte("other-secret"), TTL: time.Hour}
	token, _, err := other.Issue("user-1")
	require.NoError(t, err)
	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, domain.ErrAuthentication, "wrong secret")

	wrongIss := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := wrongIss.SignedString([]byte("session-secret"))
	require.NoError(t, err)
	_, err = issuer.Parse(signed)
	assert.ErrorIs(t, err, domain.ErrAuthentication, "wrong issuer")

	_, err = issuer.Parse("not-a-jwt")
	assert.ErrorIs(t, err, domain.ErrAuthentication)
}

func TestSessionResolverMissingCredentials(t *testing.T) {
	issuer, err := NewSessionIssuer(passwordAuth())
	require.NoError(t, err)
	res := SessionResolver{Sessions: issuer}

	_, err = res.ResolveCaller(context.Background(), Credentials{})
	assert.ErrorIs(t, err, domain.ErrAuthentication)
	_, err = res.ResolveCaller(context.Background(), Credentials{APIKey: "nx_abc"})
	assert.ErrorIs(t, err, domain.ErrAuthentication)
}

type fakeKeys map[string]domain.APIKey

func (f fakeKeys) GetAPIKeyByHash(_ context.Context, hash string) (domain.APIKey, error) {
	k, ok := f[hash]
	if !ok {
		return domain.APIKey{}, repo.ErrNotFound
	}
	return k, nil
}

func delegatedAuth() config.Auth {
	a := config.Auth{Mode: config.AuthModeDelegated}
	a.Delegated.Issuer = "platform"
	a.Delegated.Secret = "platform-secret"
	return a
}

func platformToken(t *testing.T, issuer, secret, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestDelegatedResolver(t *testing.T) {
	keys := fakeKeys{repo.HashAPIKey("nx_good"): {ID: "k1", Identity: "principal-7"}}
	res, err := New(delegatedAuth(), keys)
	require.NoError(t, err)
	assert.Equal(t, config.AuthModeDelegated, res.Mode())
	ctx := context.Background()

	id, err := res.ResolveCaller(ctx, Credentials{BearerToken: platformToken(t, "platform", "platform-secret", "principal-1")})
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("principal-1"), id)

	id, err = res.ResolveCaller(ctx, Credentials{APIKey: "nx_good"})
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("principal-7"), id)

	_, err = res.ResolveCaller(ctx, Credentials{APIKey: "nx_bad"})
	assert.ErrorIs(t, err, domain.ErrAuthentication)

	_, err = res.ResolveCaller(ctx, Credentials{BearerToken: platformToken(t, "platform", "wrong", "principal-1")})
	assert.ErrorIs(t, err, domain.ErrAuthentication)

	// a session token from password mode is not a platform token
	_, err = res.ResolveCaller(ctx, Credentials{BearerToken: platformToken(t, SessionIssuerName, "platform-secret", "principal-1")})
	assert.ErrorIs(t, err, domain.ErrAuthentication)

	_, err = res.ResolveCaller(ctx, Credentials{})
	assert.ErrorIs(t, err, domain.ErrAuthentication)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(config.Auth{Mode: config.AuthModePassword}, nil)
	assert.Error(t, err)
	_, err = New(config.Auth{Mode: config.AuthModeDelegated}, nil)
	assert.Error(t, err)
	_, err = New(config.Auth{Mode: "oauth"}, nil)
	assert.Error(t, err)
}
