package models

import (
	"time"
)

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	EventStatusActive EventStatus = "active"
	EventStatusClosed EventStatus = "closed"
)

// Valid reports whether s is a known status.
func (s EventStatus) Valid() bool {
	return s == EventStatusActive || s == EventStatusClosed
}

// DateLayout is the calendar-date format of Event.Date.
const DateLayout = "2006-01-02"

// TimeLayout is the wall-clock format of Event.Time.
const TimeLayout = "15:04"

// Event is a scheduled event students can register for.
type Event struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Date        string      `json:"date"`
	Time        string      `json:"time"`
	Venue       string      `json:"venue"`
	Capacity    *int        `json:"capacity,omitempty"` // nil = unlimited
	Description string      `json:"description"`
	Status      EventStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Limited reports whether the event declares a capacity.
func (e *Event) Limited() bool {
	return e.Capacity != nil
}

// EventStats summarizes registrations for one event.
type EventStats struct {
	EventID    string `json:"event_id"`
	Registered int    `json:"registered"`
	Redeemed   int    `json:"redeemed"`
	Capacity   *int   `json:"capacity,omitempty"`
	Remaining  *int   `json:"remaining,omitempty"`
}
