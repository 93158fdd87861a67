package sqlite

import (
	"context"

	"github.com/eventgate/backend/internal/models"
)

const userColumns = `id, email, password_hash, full_name, role, created_at, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u                models.User
		created, updated int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Password, &u.FullName, &u.Role, &created, &updated); err != nil {
		return nil, err
	}
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updated)
	return &u, nil
}

// CreateUser inserts a user. A duplicate email fails with store.ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	u.CreatedAt = now()
	u.UpdatedAt = u.CreatedAt
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Password, u.FullName, string(u.Role), toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	return mapErr("create user", "user", u.Email, err)
}

// GetUserByID returns a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, mapErr("get user", "user", id, err)
	}
	return u, nil
}

// GetUserByEmail returns a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if err != nil {
		return nil, mapErr("get user", "user", email, err)
	}
	return u, nil
}

// ListUsers returns all users (public fields) ordered by creation.
func (s *Store) ListUsers(ctx context.Context) ([]models.UserPublic, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, rowid`)
	if err != nil {
		return nil, mapErr("list users", "user", "", err)
	}
	defer rows.Close()
	list := []models.UserPublic{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, mapErr("scan user", "user", "", err)
		}
		list = append(list, u.ToPublic())
	}
	return list, mapErr("list users", "user", "", rows.Err())
}

// UpdateUserRole sets a user's stored role.
func (s *Store) UpdateUserRole(ctx context.Context, id string, role models.Role) error {
	res, err := s.q.ExecContext(ctx, `UPDATE users SET role = ?, updated_at = ? WHERE id = ?`, string(role), toMillis(now()), id)
	if err != nil {
		return mapErr("update user role", "user", id, err)
	}
	return rowsAffected(res, "user", id)
}
