package repo

import (
	"context"
	"errors"

	"nexusdao/internal/domain"
)

// Permission ids seeded by the initial migration.
const (
	PermTaskCreate = "task.create"
	PermTaskAssign = "task.assign"
	PermTaskReview = "task.review"
)

// RolePermissions lists the permissions granted to role.
func (r Repo) RolePermissions(ctx context.Context, q Querier, role domain.Role) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT permission_id FROM role_permissions WHERE role_id=? ORDER BY permission_id`, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	perms := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ProfilePermissions loads the caller's profile together with its role's permissions.
func (r Repo) ProfilePermissions(ctx context.Context, q Querier, identity domain.Identity) (domain.UserProfile, []string, error) {
	rec, err := r.GetUser(ctx, q, identity)
	if errors.Is(err, ErrNotFound) {
		return domain.UserProfile{}, nil, domain.ErrNotRegistered
	}
	if err != nil {
		return domain.UserProfile{}, nil, err
	}
	perms, err := r.RolePermissions(ctx, q, rec.Profile.Role)
	if err != nil {
		return rec.Profile, nil, err
	}
	return rec.Profile, perms, nil
}
