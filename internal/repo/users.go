package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"nexusdao/internal/domain"
)

// UserRecord is a stored profile plus its credential, if any.
type UserRecord struct {
	Profile      domain.UserProfile
	PasswordHash string
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, rec UserRecord) error {
	p := rec.Profile
	_, err := tx.ExecContext(ctx, `INSERT INTO users(identity,username,role,password_hash,created_at) VALUES (?,?,?,?,?)`,
		string(p.Identity), p.Username, string(p.Role), nullable(rec.PasswordHash), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func scanUser(row rowScanner) (UserRecord, error) {
	var rec UserRecord
	var identity, role string
	var hash sql.NullString
	err := row.Scan(&identity, &rec.Profile.Username, &role, &hash, &rec.Profile.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	rec.Profile.Identity = domain.Identity(identity)
	rec.Profile.Role = domain.Role(role)
	if hash.Valid {
		rec.PasswordHash = hash.String
	}
	return rec, nil
}

// GetUser returns the record owned by identity.
func (r Repo) GetUser(ctx context.Context, q Querier, identity domain.Identity) (UserRecord, error) {
	return scanUser(q.QueryRowContext(ctx, `SELECT identity,username,role,password_hash,created_at FROM users WHERE identity=?`, string(identity)))
}

// GetUserByUsername matches the username exactly, case included.
func (r Repo) GetUserByUsername(ctx context.Context, q Querier, username string) (UserRecord, error) {
	return scanUser(q.QueryRowContext(ctx, `SELECT identity,username,role,password_hash,created_at FROM users WHERE username=?`, username))
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.UserProfile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT identity,username,role,password_hash,created_at FROM users ORDER BY created_at, username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.UserProfile
	for rows.Next() {
		rec, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec.Profile)
	}
	return res, rows.Err()
}
