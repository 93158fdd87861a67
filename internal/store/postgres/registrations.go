package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/eventgate/backend/internal/apperr"
	"github.com/eventgate/backend/internal/models"
)

const registrationColumns = `id, event_id, name, email, roll_no, dept, created_at, redeemed, redeemed_at, redeemed_by`

func scanRegistration(row pgx.Row, r *models.Registration) error {
	return row.Scan(&r.ID, &r.EventID, &r.Name, &r.Email, &r.RollNo, &r.Dept, &r.CreatedAt, &r.Redeemed, &r.RedeemedAt, &r.RedeemedBy)
}

func (s *Store) listRegistrations(ctx context.Context, q string, args ...any) ([]models.Registration, error) {
	rows, err := s.q.Query(ctx, q, args...)
	if err != nil {
		return nil, mapErr("list registrations", "registration", "", err)
	}
	defer rows.Close()
	list := []models.Registration{}
	for rows.Next() {
		var r models.Registration
		if err := scanRegistration(rows, &r); err != nil {
			return nil, mapErr("scan registration", "registration", "", err)
		}
		list = append(list, r)
	}
	return list, mapErr("list registrations", "registration", "", rows.Err())
}

// InsertRegistration stores a new registration. A second registration with the
// same normalized email for the event fails with store.ErrConflict.
func (s *Store) InsertRegistration(ctx context.Context, r *models.Registration) error {
	const q = `INSERT INTO registrations (id, event_id, name, email, email_key, roll_no, dept, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.q.Exec(ctx, q, r.ID, r.EventID, r.Name, r.Email, models.NormalizeEmail(r.Email), r.RollNo, r.Dept, r.CreatedAt)
	return mapErr("insert registration", "registration", r.ID, err)
}

// GetRegistration returns a registration by ID.
func (s *Store) GetRegistration(ctx context.Context, id string) (*models.Registration, error) {
	var r models.Registration
	if err := scanRegistration(s.q.QueryRow(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id), &r); err != nil {
		return nil, mapErr("get registration", "registration", id, err)
	}
	return &r, nil
}

// ListRegistrationsByEvent returns registrations for an event in creation order.
func (s *Store) ListRegistrationsByEvent(ctx context.Context, eventID string) ([]models.Registration, error) {
	return s.listRegistrations(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE event_id = $1 ORDER BY created_at, id`, eventID)
}

// FindRegistrationByEmail matches email case-insensitively within an event.
func (s *Store) FindRegistrationByEmail(ctx context.Context, eventID, email string) (*models.Registration, error) {
	var r models.Registration
	row := s.q.QueryRow(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE event_id = $1 AND email_key = $2`, eventID, models.NormalizeEmail(email))
	if err := scanRegistration(row, &r); err != nil {
		return nil, mapErr("find registration", "registration", email, err)
	}
	return &r, nil
}

// CountRegistrations returns total and redeemed registrations for an event.
func (s *Store) CountRegistrations(ctx context.Context, eventID string) (total, redeemed int, err error) {
	const q = `SELECT COUNT(*), COUNT(*) FILTER (WHERE redeemed) FROM registrations WHERE event_id = $1`
	err = s.q.QueryRow(ctx, q, eventID).Scan(&total, &redeemed)
	return total, redeemed, mapErr("count registrations", "event", eventID, err)
}

// DeleteRegistration removes one registration.
func (s *Store) DeleteRegistration(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM registrations WHERE id = $1`, id)
	if err != nil {
		return mapErr("delete registration", "registration", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("registration", id)
	}
	return nil
}

// MarkRedeemed is a conditional update so only the first caller flips the flag.
func (s *Store) MarkRedeemed(ctx context.Context, id string, at time.Time, by string) (bool, error) {
	const q = `UPDATE registrations SET redeemed = TRUE, redeemed_at = $2, redeemed_by = $3
		WHERE id = $1 AND redeemed = FALSE`
	tag, err := s.q.Exec(ctx, q, id, at, by)
	if err != nil {
		return false, mapErr("mark redeemed", "registration", id, err)
	}
	return tag.RowsAffected() == 1, nil
}
