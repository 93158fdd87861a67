package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/eventgate/backend/internal/models"
)

const registrationColumns = `id, event_id, name, email, roll_no, dept, created_at, redeemed, redeemed_at, redeemed_by`

func scanRegistration(row rowScanner) (*models.Registration, error) {
	var (
		r          models.Registration
		created    int64
		redeemed   int64
		redeemedAt sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.EventID, &r.Name, &r.Email, &r.RollNo, &r.Dept, &created, &redeemed, &redeemedAt, &r.RedeemedBy); err != nil {
		return nil, err
	}
	r.CreatedAt = fromMillis(created)
	r.Redeemed = redeemed != 0
	if redeemedAt.Valid {
		at := fromMillis(redeemedAt.Int64)
		r.RedeemedAt = &at
	}
	return &r, nil
}

func (s *Store) listRegistrations(ctx context.Context, query string, args ...any) ([]models.Registration, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr("list registrations", "registration", "", err)
	}
	defer rows.Close()
	list := []models.Registration{}
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, mapErr("scan registration", "registration", "", err)
		}
		list = append(list, *r)
	}
	return list, mapErr("list registrations", "registration", "", rows.Err())
}

// InsertRegistration stores a new registration. A second registration with the
// same normalized email for the event fails with store.ErrConflict.
func (s *Store) InsertRegistration(ctx context.Context, r *models.Registration) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO registrations (id, event_id, name, email, email_key, roll_no, dept, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EventID, r.Name, r.Email, models.NormalizeEmail(r.Email), r.RollNo, r.Dept, toMillis(r.CreatedAt),
	)
	return mapErr("insert registration", "registration", r.ID, err)
}

// GetRegistration returns a registration by ID.
func (s *Store) GetRegistration(ctx context.Context, id string) (*models.Registration, error) {
	r, err := scanRegistration(s.q.QueryRowContext(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE id = ?`, id))
	if err != nil {
		return nil, mapErr("get registration", "registration", id, err)
	}
	return r, nil
}

// ListRegistrationsByEvent returns registrations for an event in creation order.
func (s *Store) ListRegistrationsByEvent(ctx context.Context, eventID string) ([]models.Registration, error) {
	return s.listRegistrations(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE event_id = ? ORDER BY created_at, rowid`, eventID)
}

// FindRegistrationByEmail matches email case-insensitively within an event.
func (s *Store) FindRegistrationByEmail(ctx context.Context, eventID, email string) (*models.Registration, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE event_id = ? AND email_key = ?`, eventID, models.NormalizeEmail(email))
	r, err := scanRegistration(row)
	if err != nil {
		return nil, mapErr("find registration", "registration", email, err)
	}
	return r, nil
}

// CountRegistrations returns total and redeemed registrations for an event.
func (s *Store) CountRegistrations(ctx context.Context, eventID string) (total, redeemed int, err error) {
	err = s.q.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(redeemed), 0) FROM registrations WHERE event_id = ?`, eventID,
	).Scan(&total, &redeemed)
	return total, redeemed, mapErr("count registrations", "event", eventID, err)
}

// DeleteRegistration removes one registration.
func (s *Store) DeleteRegistration(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM registrations WHERE id = ?`, id)
	if err != nil {
		return mapErr("delete registration", "registration", id, err)
	}
	return rowsAffected(res, "registration", id)
}

// MarkRedeemed is a conditional update so only the first caller flips the flag.
func (s *Store) MarkRedeemed(ctx context.Context, id string, at time.Time, by string) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE registrations SET redeemed = 1, redeemed_at = ?, redeemed_by = ? WHERE id = ? AND redeemed = 0`,
		toMillis(at), by, id,
	)
	if err != nil {
		return false, mapErr("mark redeemed", "registration", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapErr("mark redeemed", "registration", id, err)
	}
	return n == 1, nil
}
