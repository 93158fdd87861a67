// Package store declares the persistence capabilities the event, registration
// and attendance services rely on. Implementations live in the postgres and
// sqlite subpackages.
//
// Lookups of a missing record fail with an error matching apperr.ErrNotFound;
// driver and network failures match apperr.ErrStoreUnavailable.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/eventgate/backend/internal/models"
)

// ErrConflict is returned when a write violates a uniqueness constraint.
var ErrConflict = errors.New("store: conflict")

// EventStore persists events.
type EventStore interface {
	CreateEvent(ctx context.Context, e *models.Event) error
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	ListEvents(ctx context.Context) ([]models.Event, error)
	UpdateEvent(ctx context.Context, e *models.Event) error
	DeleteEvent(ctx context.Context, id string) error
}

// RegistrationReader is the read side of registrations.
type RegistrationReader interface {
	GetRegistration(ctx context.Context, id string) (*models.Registration, error)
	ListRegistrationsByEvent(ctx context.Context, eventID string) ([]models.Registration, error)
	FindRegistrationByEmail(ctx context.Context, eventID, email string) (*models.Registration, error)
	CountRegistrations(ctx context.Context, eventID string) (total, redeemed int, err error)
}

// RegistrationStore persists registrations.
type RegistrationStore interface {
	RegistrationReader
	DeleteRegistration(ctx context.Context, id string) error
	// MarkRedeemed flips redeemed from false to true and records at/by.
	// It reports false, without error, when the registration was already
	// redeemed, so exactly one concurrent caller observes true.
	MarkRedeemed(ctx context.Context, id string, at time.Time, by string) (bool, error)
}

// UserStore persists platform users.
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.UserPublic, error)
	UpdateUserRole(ctx context.Context, id string, role models.Role) error
}

// EventTx is the view of the store available while an event is locked.
type EventTx interface {
	RegistrationReader
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	UpdateEvent(ctx context.Context, e *models.Event) error
	InsertRegistration(ctx context.Context, r *models.Registration) error
}

// Store is the full backing store.
type Store interface {
	EventStore
	RegistrationStore
	UserStore
	// WithEventLock runs fn while holding exclusive access to the
	// registrations of eventID. Writes made through tx commit when fn
	// returns nil and roll back otherwise.
	WithEventLock(ctx context.Context, eventID string, fn func(tx EventTx) error) error
	Close() error
}
