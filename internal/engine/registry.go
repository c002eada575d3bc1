package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"

	"nexusdao/internal/domain"
	"nexusdao/internal/events"
	"nexusdao/internal/repo"
)

const (
	MinPasswordLength = 8
	apiKeyPrefix      = "nx_"
)

type RegisterOptions struct {
	Identity domain.Identity
	Username string
	Role     string
	// Password is optional; when set it is hashed and enables Login.
	Password string
}

// Register creates the profile for opts.Identity. An identity registers once
// and usernames are unique.
func (e Engine) Register(ctx context.Context, opts RegisterOptions) (domain.UserProfile, error) {
	username := opts.Username
	if opts.Identity == "" {
		return domain.UserProfile{}, fmt.Errorf("identity is required: %w", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(username) == "" {
		return domain.UserProfile{}, fmt.Errorf("username is required: %w", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(username) != username {
		return domain.UserProfile{}, fmt.Errorf("username %q has surrounding whitespace: %w", username, domain.ErrInvalidArgument)
	}
	role, ok := domain.ParseRole(opts.Role)
	if !ok {
		return domain.UserProfile{}, fmt.Errorf("unknown role %q: %w", opts.Role, domain.ErrInvalidArgument)
	}
	var hash string
	if opts.Password != "" {
		if len(opts.Password) < MinPasswordLength {
			return domain.UserProfile{}, fmt.Errorf("password must be at least %d characters: %w", MinPasswordLength, domain.ErrInvalidArgument)
		}
		var err error
		hash, err = argon2id.CreateHash(opts.Password, e.passwordParams())
		if err != nil {
			return domain.UserProfile{}, fmt.Errorf("hash password: %w", err)
		}
	}

	profile := domain.UserProfile{
		Identity:  opts.Identity,
		Username:  username,
		Role:      role,
		CreatedAt: e.stamp(),
	}
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetUser(ctx, tx, opts.Identity); err == nil {
			return domain.ErrAlreadyRegistered
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if _, err := e.Repo.GetUserByUsername(ctx, tx, username); err == nil {
			return fmt.Errorf("%q: %w", username, domain.ErrUsernameTaken)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if err := e.Repo.InsertUser(ctx, tx, repo.UserRecord{Profile: profile, PasswordHash: hash}); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.UserRegistered, "user", string(profile.Identity), string(profile.Identity), events.EventPayload{
			"username": profile.Username,
			"role":     string(profile.Role),
		})
	})
	if err != nil {
		return domain.UserProfile{}, err
	}
	e.Log.Info().Str("identity", string(profile.Identity)).Str("role", string(profile.Role)).Msg("user registered")
	return profile, nil
}

// RegisterWithPassword mints a fresh identity for a password-mode account.
func (e Engine) RegisterWithPassword(ctx context.Context, username, role, password string) (domain.UserProfile, error) {
	if len(password) < MinPasswordLength {
		return domain.UserProfile{}, fmt.Errorf("password must be at least %d characters: %w", MinPasswordLength, domain.ErrInvalidArgument)
	}
	return e.Register(ctx, RegisterOptions{
		Identity: domain.Identity(uuid.NewString()),
		Username: username,
		Role:     role,
		Password: password,
	})
}

// Login checks a username/password pair. Usernames match exactly; unknown
// usernames and wrong passwords fail the same way.
func (e Engine) Login(ctx context.Context, username, password string) (domain.UserProfile, error) {
	rec, err := e.Repo.GetUserByUsername(ctx, e.DB, username)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.UserProfile{}, domain.ErrInvalidCredential
	}
	if err != nil {
		return domain.UserProfile{}, err
	}
	if rec.PasswordHash == "" {
		return domain.UserProfile{}, domain.ErrInvalidCredential
	}
	match, err := argon2id.ComparePasswordAndHash(password, rec.PasswordHash)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("compare password: %w", err)
	}
	if !match {
		return domain.UserProfile{}, domain.ErrInvalidCredential
	}
	return rec.Profile, nil
}

func (e Engine) GetProfile(ctx context.Context, identity domain.Identity) (domain.UserProfile, error) {
	rec, err := e.Repo.GetUser(ctx, e.DB, identity)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.UserProfile{}, domain.ErrNotRegistered
	}
	if err != nil {
		return domain.UserProfile{}, err
	}
	return rec.Profile, nil
}

// CreateAPIKey issues a key for a registered identity. The plaintext key is
// returned once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, identity domain.Identity, name string) (string, domain.APIKey, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", domain.APIKey{}, fmt.Errorf("generate key: %w", err)
	}
	plain := apiKeyPrefix + hex.EncodeToString(raw)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		Identity:  identity,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.stamp(),
	}
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetUser(ctx, tx, identity); errors.Is(err, repo.ErrNotFound) {
			return domain.ErrNotRegistered
		} else if err != nil {
			return err
		}
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.APIKeyCreated, "api_key", key.ID, string(identity), events.EventPayload{"name": key.Name})
	})
	if err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, key, nil
}

func (e Engine) passwordParams() *argon2id.Params {
	if e.PasswordParams != nil {
		return e.PasswordParams
	}
	return argon2id.DefaultParams
}
