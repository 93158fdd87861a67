package sqlite

import (
	"context"
	"database/sql"

	"github.com/eventgate/backend/internal/models"
)

const eventColumns = `id, title, event_date, event_time, venue, capacity, description, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var (
		e                models.Event
		capacity         sql.NullInt64
		created, updated int64
	)
	if err := row.Scan(&e.ID, &e.Title, &e.Date, &e.Time, &e.Venue, &capacity, &e.Description, &e.Status, &created, &updated); err != nil {
		return nil, err
	}
	if capacity.Valid {
		c := int(capacity.Int64)
		e.Capacity = &c
	}
	e.CreatedAt = fromMillis(created)
	e.UpdatedAt = fromMillis(updated)
	return &e, nil
}

func nullCapacity(c *int) sql.NullInt64 {
	if c == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*c), Valid: true}
}

// CreateEvent inserts an event, stamping CreatedAt/UpdatedAt when unset.
func (s *Store) CreateEvent(ctx context.Context, e *models.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	e.UpdatedAt = e.CreatedAt
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Title, e.Date, e.Time, e.Venue, nullCapacity(e.Capacity), e.Description, string(e.Status),
		toMillis(e.CreatedAt), toMillis(e.UpdatedAt),
	)
	return mapErr("create event", "event", e.ID, err)
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	e, err := scanEvent(s.q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if err != nil {
		return nil, mapErr("get event", "event", id, err)
	}
	return e, nil
}

// ListEvents returns all events, soonest first.
func (s *Store) ListEvents(ctx context.Context) ([]models.Event, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY event_date, event_time, created_at`)
	if err != nil {
		return nil, mapErr("list events", "event", "", err)
	}
	defer rows.Close()
	list := []models.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, mapErr("scan event", "event", "", err)
		}
		list = append(list, *e)
	}
	return list, mapErr("list events", "event", "", rows.Err())
}

// UpdateEvent overwrites the mutable fields of an event.
func (s *Store) UpdateEvent(ctx context.Context, e *models.Event) error {
	e.UpdatedAt = now()
	res, err := s.q.ExecContext(ctx,
		`UPDATE events SET title = ?, event_date = ?, event_time = ?, venue = ?, capacity = ?,
		 description = ?, status = ?, updated_at = ? WHERE id = ?`,
		e.Title, e.Date, e.Time, e.Venue, nullCapacity(e.Capacity), e.Description, string(e.Status),
		toMillis(e.UpdatedAt), e.ID,
	)
	if err != nil {
		return mapErr("update event", "event", e.ID, err)
	}
	return rowsAffected(res, "event", e.ID)
}

// DeleteEvent removes the event row only.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return mapErr("delete event", "event", id, err)
	}
	return rowsAffected(res, "event", id)
}
