package models

import (
	"strings"
	"time"
)

// Registration is a student's ticket for an event.
type Registration struct {
	ID         string     `json:"id"`
	EventID    string     `json:"event_id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	RollNo     string     `json:"roll_no,omitempty"`
	Dept       string     `json:"dept,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	Redeemed   bool       `json:"redeemed"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
	RedeemedBy string     `json:"redeemed_by,omitempty"`
}

// NormalizeEmail returns the per-event uniqueness key for an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
