// Package registrations is the registration ledger. It is the only writer of
// new registrations and keeps two rules per event: one registration per
// normalized email, and never more registrations than the capacity.
package registrations

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventgate/backend/internal/apperr"
	"github.com/eventgate/backend/internal/clock"
	"github.com/eventgate/backend/internal/models"
	"github.com/eventgate/backend/internal/realtime"
	"github.com/eventgate/backend/internal/store"
)

const (
	MinNameLen = 2
	MaxNameLen = 100
	MaxDeptLen = 100

	// timePrecision matches the coarsest timestamp the stores keep.
	timePrecision = time.Millisecond
)

var (
	emailPattern  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	rollNoPattern = regexp.MustCompile(`^[A-Za-z0-9]{6,15}$`)
)

// Store is what the ledger needs from the backing store.
type Store interface {
	store.RegistrationReader
	WithEventLock(ctx context.Context, eventID string, fn func(tx store.EventTx) error) error
}

// JobQueue schedules background rendering of a ticket image.
type JobQueue interface {
	EnqueueTicketImage(ctx context.Context, registrationID, eventID string) error
}

// Input is a registration request.
type Input struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	RollNo string `json:"roll_no"`
	Dept   string `json:"dept"`
}

// Ledger creates and looks up registrations.
type Ledger struct {
	store  Store
	jobs   JobQueue
	broker realtime.Broker
	clock  clock.Clock
	logger *zap.Logger
}

// NewLedger creates a registration ledger. jobs and broker may be nil.
func NewLedger(s Store, jobs JobQueue, broker realtime.Broker, clk clock.Clock, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Ledger{store: s, jobs: jobs, broker: broker, clock: clk, logger: logger}
}

// Validate normalizes in and checks its fields.
func Validate(in Input) (Input, error) {
	out := Input{
		Name:   strings.TrimSpace(in.Name),
		Email:  strings.TrimSpace(in.Email),
		RollNo: strings.ToUpper(strings.TrimSpace(in.RollNo)),
		Dept:   strings.TrimSpace(in.Dept),
	}
	v := apperr.NewValidation()
	switch n := len([]rune(out.Name)); {
	case n < MinNameLen:
		v.Add("name", fmt.Sprintf("must be at least %d characters", MinNameLen))
	case n > MaxNameLen:
		v.Add("name", fmt.Sprintf("must be at most %d characters", MaxNameLen))
	}
	if out.Email == "" {
		v.Add("email", "is required")
	} else if !emailPattern.MatchString(out.Email) {
		v.Add("email", "must be a valid email address")
	}
	if out.RollNo != "" && !rollNoPattern.MatchString(out.RollNo) {
		v.Add("roll_no", "must be 6 to 15 letters or digits")
	}
	if len([]rune(out.Dept)) > MaxDeptLen {
		v.Add("dept", fmt.Sprintf("must be at most %d characters", MaxDeptLen))
	}
	return out, v.OrNil()
}

// Register creates a registration for eventID.
//
// The event lookup, duplicate check, capacity check and insert run under the
// event's lock, so concurrent requests cannot oversell or duplicate. A repeat
// email (any case) fails with *apperr.AlreadyRegisteredError carrying the
// existing ticket; the duplicate check runs before the capacity check so a
// participant can always retrieve their ticket from a full event.
func (l *Ledger) Register(ctx context.Context, eventID string, in Input) (*models.Registration, error) {
	in, err := Validate(in)
	if err != nil {
		return nil, err
	}
	reg := &models.Registration{
		ID:      uuid.NewString(),
		EventID: eventID,
		Name:    in.Name,
		Email:   in.Email,
		RollNo:  in.RollNo,
		Dept:    in.Dept,
	}

	err = l.store.WithEventLock(ctx, eventID, func(tx store.EventTx) error {
		event, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if event.Status != models.EventStatusActive {
			return apperr.Invalid("event", "registration is closed")
		}

		existing, err := tx.FindRegistrationByEmail(ctx, eventID, in.Email)
		switch {
		case err == nil:
			return &apperr.AlreadyRegisteredError{Existing: *existing}
		case !errors.Is(err, apperr.ErrNotFound):
			return err
		}

		if event.Capacity != nil {
			total, _, err := tx.CountRegistrations(ctx, eventID)
			if err != nil {
				return err
			}
			if total >= *event.Capacity {
				return &apperr.EventFullError{EventID: eventID, Capacity: *event.Capacity}
			}
		}

		reg.CreatedAt = l.clock.Now().UTC().Truncate(timePrecision)
		return tx.InsertRegistration(ctx, reg)
	})
	if errors.Is(err, store.ErrConflict) {
		// Another writer slipped past the lock; the unique index caught it.
		existing, ferr := l.store.FindRegistrationByEmail(ctx, eventID, in.Email)
		if ferr != nil {
			return nil, ferr
		}
		return nil, &apperr.AlreadyRegisteredError{Existing: *existing}
	}
	if err != nil {
		return nil, err
	}

	l.logger.Info("registration created",
		zap.String("event_id", eventID),
		zap.String("registration_id", reg.ID),
	)
	l.afterCreate(ctx, reg)
	return reg, nil
}

func (l *Ledger) afterCreate(ctx context.Context, reg *models.Registration) {
	if l.jobs != nil {
		if err := l.jobs.EnqueueTicketImage(ctx, reg.ID, reg.EventID); err != nil {
			l.logger.Warn("enqueue ticket image failed", zap.String("registration_id", reg.ID), zap.Error(err))
		}
	}
	if l.broker != nil {
		payload := map[string]string{"registration_id": reg.ID, "event_id": reg.EventID, "name": reg.Name}
		if err := l.broker.Publish(ctx, realtime.EventTopic(reg.EventID), realtime.EventRegistrationCreated, payload); err != nil {
			l.logger.Warn("publish failed", zap.String("event", realtime.EventRegistrationCreated), zap.Error(err))
		}
	}
}

// ListForEvent returns the registrations of eventID. An unknown or deleted
// event yields an empty list.
func (l *Ledger) ListForEvent(ctx context.Context, eventID string) ([]models.Registration, error) {
	return l.store.ListRegistrationsByEvent(ctx, eventID)
}

// Find returns the registration for email (case-insensitive) in eventID, or
// an error matching apperr.ErrNotFound.
func (l *Ledger) Find(ctx context.Context, eventID, email string) (*models.Registration, error) {
	return l.store.FindRegistrationByEmail(ctx, eventID, email)
}

// Get returns a registration by ticket id.
func (l *Ledger) Get(ctx context.Context, id string) (*models.Registration, error) {
	return l.store.GetRegistration(ctx, id)
}
