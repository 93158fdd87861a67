package postgres

import (
	"context"

	"github.com/eventgate/backend/internal/apperr"
	"github.com/eventgate/backend/internal/models"
)

// CreateUser inserts a user. A duplicate email fails with store.ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	const q = `INSERT INTO users (id, email, password_hash, full_name, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`
	err := s.q.QueryRow(ctx, q, u.ID, u.Email, u.Password, u.FullName, u.Role).Scan(&u.CreatedAt, &u.UpdatedAt)
	return mapErr("create user", "user", u.Email, err)
}

// GetUserByID returns a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	const q = `SELECT id, email, password_hash, full_name, role, created_at, updated_at FROM users WHERE id = $1`
	var u models.User
	err := s.q.QueryRow(ctx, q, id).Scan(&u.ID, &u.Email, &u.Password, &u.FullName, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapErr("get user", "user", id, err)
	}
	return &u, nil
}

// GetUserByEmail returns a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `SELECT id, email, password_hash, full_name, role, created_at, updated_at FROM users WHERE email = $1`
	var u models.User
	err := s.q.QueryRow(ctx, q, email).Scan(&u.ID, &u.Email, &u.Password, &u.FullName, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapErr("get user", "user", email, err)
	}
	return &u, nil
}

// ListUsers returns all users (public fields) ordered by creation.
func (s *Store) ListUsers(ctx context.Context) ([]models.UserPublic, error) {
	rows, err := s.q.Query(ctx, `SELECT id, email, full_name, role, created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, mapErr("list users", "user", "", err)
	}
	defer rows.Close()
	list := []models.UserPublic{}
	for rows.Next() {
		var u models.UserPublic
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.CreatedAt); err != nil {
			return nil, mapErr("scan user", "user", "", err)
		}
		list = append(list, u)
	}
	return list, mapErr("list users", "user", "", rows.Err())
}

// UpdateUserRole sets a user's stored role.
func (s *Store) UpdateUserRole(ctx context.Context, id string, role models.Role) error {
	tag, err := s.q.Exec(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`, id, role)
	if err != nil {
		return mapErr("update user role", "user", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user", id)
	}
	return nil
}
