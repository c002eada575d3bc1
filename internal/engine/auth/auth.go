package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"nexusdao/internal/domain"
	"nexusdao/internal/repo"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
	Role       domain.Role
}

func (e ForbiddenError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("permission %s required; caller has no profile", e.Permission)
	}
	return fmt.Sprintf("permission %s required; role %s does not grant it", e.Permission, e.Role)
}

func (e ForbiddenError) Unwrap() error { return domain.ErrUnauthorized }

// Service provides RBAC helpers backed by SQL.
type Service struct {
	Repo repo.Repo
}

// RequirePermission loads the caller's profile and fails with ForbiddenError
// unless its role grants perm. Callers without a profile hold no permissions.
func (s Service) RequirePermission(ctx context.Context, tx *sql.Tx, identity domain.Identity, perm string) (domain.UserProfile, error) {
	profile, perms, err := s.Repo.ProfilePermissions(ctx, tx, identity)
	if errors.Is(err, domain.ErrNotRegistered) {
		return domain.UserProfile{}, ForbiddenError{Permission: perm}
	}
	if err != nil {
		return domain.UserProfile{}, err
	}
	if !slices.Contains(perms, perm) {
		return profile, ForbiddenError{Permission: perm, Role: profile.Role}
	}
	return profile, nil
}

// RequireProfile fails with ErrUnauthorized when identity has no profile.
func (s Service) RequireProfile(ctx context.Context, tx *sql.Tx, identity domain.Identity) (domain.UserProfile, error) {
	rec, err := s.Repo.GetUser(ctx, tx, identity)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.UserProfile{}, fmt.Errorf("caller %s has no profile: %w", identity, domain.ErrUnauthorized)
	}
	if err != nil {
		return domain.UserProfile{}, err
	}
	return rec.Profile, nil
}

// Permissions lists what identity's role grants.
func (s Service) Permissions(ctx context.Context, identity domain.Identity) ([]string, error) {
	_, perms, err := s.Repo.ProfilePermissions(ctx, s.Repo.DB, identity)
	return perms, err
}
