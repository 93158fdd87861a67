package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/eventgate/backend/internal/apperr"
	"github.com/eventgate/backend/internal/models"
)

const eventColumns = `id, title, event_date, event_time, venue, capacity, description, status, created_at, updated_at`

func scanEvent(row pgx.Row, e *models.Event) error {
	return row.Scan(&e.ID, &e.Title, &e.Date, &e.Time, &e.Venue, &e.Capacity, &e.Description, &e.Status, &e.CreatedAt, &e.UpdatedAt)
}

// CreateEvent inserts an event. CreatedAt and UpdatedAt are set by the database.
func (s *Store) CreateEvent(ctx context.Context, e *models.Event) error {
	const q = `INSERT INTO events (id, title, event_date, event_time, venue, capacity, description, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`
	err := s.q.QueryRow(ctx, q, e.ID, e.Title, e.Date, e.Time, e.Venue, e.Capacity, e.Description, e.Status).
		Scan(&e.CreatedAt, &e.UpdatedAt)
	return mapErr("create event", "event", e.ID, err)
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var e models.Event
	if err := scanEvent(s.q.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id), &e); err != nil {
		return nil, mapErr("get event", "event", id, err)
	}
	return &e, nil
}

// ListEvents returns all events, soonest first.
func (s *Store) ListEvents(ctx context.Context) ([]models.Event, error) {
	rows, err := s.q.Query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY event_date, event_time, created_at`)
	if err != nil {
		return nil, mapErr("list events", "event", "", err)
	}
	defer rows.Close()
	list := []models.Event{}
	for rows.Next() {
		var e models.Event
		if err := scanEvent(rows, &e); err != nil {
			return nil, mapErr("scan event", "event", "", err)
		}
		list = append(list, e)
	}
	return list, mapErr("list events", "event", "", rows.Err())
}

// UpdateEvent overwrites the mutable fields of an event.
func (s *Store) UpdateEvent(ctx context.Context, e *models.Event) error {
	const q = `UPDATE events SET title = $2, event_date = $3, event_time = $4, venue = $5, capacity = $6,
		description = $7, status = $8, updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`
	err := s.q.QueryRow(ctx, q, e.ID, e.Title, e.Date, e.Time, e.Venue, e.Capacity, e.Description, e.Status).
		Scan(&e.UpdatedAt)
	return mapErr("update event", "event", e.ID, err)
}

// DeleteEvent removes the event row only. Registrations are removed by the caller.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return mapErr("delete event", "event", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("event", id)
	}
	return nil
}
