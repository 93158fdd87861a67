// Package events is the event directory: CRUD over events plus cascade
// cleanup of their registrations on delete.
package events

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
	MinTitleLen = 3
	MaxTitleLen = 200
	MaxCapacity = 10000
)

var timePattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Store is what the directory needs from the backing store.
type Store interface {
	store.EventStore
	store.RegistrationStore
	WithEventLock(ctx context.Context, eventID string, fn func(tx store.EventTx) error) error
}

// Input carries the fields of a new event.
type Input struct {
	Title       string             `json:"title"`
	Date        string             `json:"date"`
	Time        string             `json:"time"`
	Venue       string             `json:"venue"`
	Capacity    *int               `json:"capacity"`
	Description string             `json:"description"`
	Status      models.EventStatus `json:"status"`
}

// Patch carries the fields to change on an existing event. Nil fields are kept.
// Unlimited removes the capacity limit.
type Patch struct {
	Title       *string             `json:"title"`
	Date        *string             `json:"date"`
	Time        *string             `json:"time"`
	Venue       *string             `json:"venue"`
	Capacity    *int                `json:"capacity"`
	Unlimited   bool                `json:"unlimited"`
	Description *string             `json:"description"`
	Status      *models.EventStatus `json:"status"`
}

// Summary is an event with its registration counts.
type Summary struct {
	models.Event
	Registered int `json:"registered"`
	Redeemed   int `json:"redeemed"`
}

// DeleteReport describes the cascade performed by Delete.
type DeleteReport struct {
	EventID              string `json:"event_id"`
	RegistrationsRemoved int    `json:"registrations_removed"`
	RegistrationsFailed  int    `json:"registrations_failed"`
	// Err joins the individual registration deletion failures, if any.
	Err error `json:"-"`
}

// ImageRemover deletes stored ticket images.
type ImageRemover interface {
	DeleteTicketImage(ctx context.Context, eventID, registrationID string) error
}

// Directory owns event records.
type Directory struct {
	store  Store
	images ImageRemover
	broker realtime.Broker
	clock  clock.Clock
	loc    *time.Location
	logger *zap.Logger
}

// NewDirectory creates an event directory. loc is the zone in which "today"
// is evaluated for date validation; nil means UTC.
func NewDirectory(s Store, broker realtime.Broker, clk clock.Clock, loc *time.Location, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Directory{store: s, broker: broker, clock: clk, loc: loc, logger: logger}
}

// SetImageRemover makes Delete also remove the ticket images of cascaded
// registrations. Image failures are logged only.
func (d *Directory) SetImageRemover(images ImageRemover) {
	d.images = images
}

func (d *Directory) today() string {
	return d.clock.Now().In(d.loc).Format(models.DateLayout)
}

// Create validates in and stores a new event.
func (d *Directory) Create(ctx context.Context, in Input) (*models.Event, error) {
	e := &models.Event{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(in.Title),
		Date:        strings.TrimSpace(in.Date),
		Time:        strings.TrimSpace(in.Time),
		Venue:       strings.TrimSpace(in.Venue),
		Capacity:    in.Capacity,
		Description: strings.TrimSpace(in.Description),
		Status:      in.Status,
	}
	if e.Status == "" {
		e.Status = models.EventStatusActive
	}
	v := apperr.NewValidation()
	d.checkTitle(v, e.Title)
	d.checkDate(v, e.Date)
	checkTime(v, e.Time)
	checkCapacity(v, e.Capacity)
	checkStatus(v, e.Status)
	if err := v.OrNil(); err != nil {
		return nil, err
	}
	if err := d.store.CreateEvent(ctx, e); err != nil {
		return nil, err
	}
	d.logger.Info("event created", zap.String("event_id", e.ID), zap.String("title", e.Title))
	return e, nil
}

// Get returns the event or an error matching apperr.ErrNotFound.
func (d *Directory) Get(ctx context.Context, id string) (*models.Event, error) {
	return d.store.GetEvent(ctx, id)
}

// List returns every event. Ordering is a convenience, not a contract.
func (d *Directory) List(ctx context.Context) ([]models.Event, error) {
	return d.store.ListEvents(ctx)
}

// ListWithStats returns every event with its registration counts.
func (d *Directory) ListWithStats(ctx context.Context) ([]Summary, error) {
	list, err := d.store.ListEvents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(list))
	for _, e := range list {
		total, redeemed, err := d.store.CountRegistrations(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, Summary{Event: e, Registered: total, Redeemed: redeemed})
	}
	return out, nil
}

// Stats returns registration counts and remaining seats for one event.
func (d *Directory) Stats(ctx context.Context, id string) (*models.EventStats, error) {
	e, err := d.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	total, redeemed, err := d.store.CountRegistrations(ctx, id)
	if err != nil {
		return nil, err
	}
	stats := &models.EventStats{EventID: id, Registered: total, Redeemed: redeemed, Capacity: e.Capacity}
	if e.Capacity != nil {
		remaining := *e.Capacity - total
		if remaining < 0 {
			remaining = 0
		}
		stats.Remaining = &remaining
	}
	return stats, nil
}

// Update applies p to the event. The date rule only applies when the date
// changes, so past events stay editable. Capacity may not drop below the
// current number of registrations; the count and the write run under the
// event's lock so a concurrent registration cannot slip in between.
func (d *Directory) Update(ctx context.Context, id string, p Patch) (*models.Event, error) {
	var updated *models.Event
	err := d.store.WithEventLock(ctx, id, func(tx store.EventTx) error {
		e, err := tx.GetEvent(ctx, id)
		if err != nil {
			return err
		}
		v := apperr.NewValidation()
		d.applyPatch(v, e, p)
		if e.Capacity != nil && p.Capacity != nil {
			if _, bad := v.Fields["capacity"]; !bad {
				total, _, err := tx.CountRegistrations(ctx, id)
				if err != nil {
					return err
				}
				if *e.Capacity < total {
					v.Add("capacity", fmt.Sprintf("cannot be lower than current registrations (%d)", total))
				}
			}
		}
		if err := v.OrNil(); err != nil {
			return err
		}
		if err := tx.UpdateEvent(ctx, e); err != nil {
			return err
		}
		updated = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.publish(ctx, updated.ID, realtime.EventEventUpdated, updated)
	return updated, nil
}

func (d *Directory) applyPatch(v *apperr.ValidationError, e *models.Event, p Patch) {
	if p.Title != nil {
		e.Title = strings.TrimSpace(*p.Title)
		d.checkTitle(v, e.Title)
	}
	if p.Date != nil && strings.TrimSpace(*p.Date) != e.Date {
		e.Date = strings.TrimSpace(*p.Date)
		d.checkDate(v, e.Date)
	}
	if p.Time != nil {
		e.Time = strings.TrimSpace(*p.Time)
		checkTime(v, e.Time)
	}
	if p.Venue != nil {
		e.Venue = strings.TrimSpace(*p.Venue)
	}
	if p.Description != nil {
		e.Description = strings.TrimSpace(*p.Description)
	}
	if p.Status != nil {
		e.Status = *p.Status
		checkStatus(v, e.Status)
	}
	switch {
	case p.Unlimited:
		e.Capacity = nil
	case p.Capacity != nil:
		e.Capacity = p.Capacity
		checkCapacity(v, e.Capacity)
	}
}

// Delete removes every registration of the event, then the event itself.
// Registration deletion is best-effort: failures are logged and reported in
// the DeleteReport but do not stop the event from being deleted. A final
// sweep removes registrations that landed while the cascade ran.
func (d *Directory) Delete(ctx context.Context, id string) (*DeleteReport, error) {
	if _, err := d.store.GetEvent(ctx, id); err != nil {
		return nil, err
	}
	report := &DeleteReport{EventID: id}
	var errs []error
	d.cascade(ctx, id, report, &errs)

	if err := d.store.DeleteEvent(ctx, id); err != nil {
		return nil, err
	}
	d.cascade(ctx, id, report, &errs)
	report.Err = errors.Join(errs...)

	d.logger.Info("event deleted",
		zap.String("event_id", id),
		zap.Int("registrations_removed", report.RegistrationsRemoved),
		zap.Int("registrations_failed", report.RegistrationsFailed),
	)
	d.publish(ctx, id, realtime.EventEventDeleted, map[string]string{"event_id": id})
	return report, nil
}

func (d *Directory) cascade(ctx context.Context, eventID string, report *DeleteReport, errs *[]error) {
	regs, err := d.store.ListRegistrationsByEvent(ctx, eventID)
	if err != nil {
		d.logger.Warn("list registrations for cascade failed", zap.String("event_id", eventID), zap.Error(err))
		*errs = append(*errs, err)
		return
	}
	for _, r := range regs {
		err := d.store.DeleteRegistration(ctx, r.ID)
		switch {
		case err == nil:
			report.RegistrationsRemoved++
			d.removeImage(ctx, eventID, r.ID)
		case errors.Is(err, apperr.ErrNotFound):
		default:
			report.RegistrationsFailed++
			*errs = append(*errs, fmt.Errorf("registration %s: %w", r.ID, err))
			d.logger.Warn("cascade delete registration failed",
				zap.String("event_id", eventID), zap.String("registration_id", r.ID), zap.Error(err))
		}
	}
}

func (d *Directory) removeImage(ctx context.Context, eventID, registrationID string) {
	if d.images == nil {
		return
	}
	if err := d.images.DeleteTicketImage(ctx, eventID, registrationID); err != nil {
		d.logger.Warn("delete ticket image failed",
			zap.String("event_id", eventID), zap.String("registration_id", registrationID), zap.Error(err))
	}
}

func (d *Directory) publish(ctx context.Context, eventID, name string, payload interface{}) {
	if d.broker == nil {
		return
	}
	if err := d.broker.Publish(ctx, realtime.EventTopic(eventID), name, payload); err != nil {
		d.logger.Warn("publish failed", zap.String("event", name), zap.String("event_id", eventID), zap.Error(err))
	}
}

func (d *Directory) checkTitle(v *apperr.ValidationError, title string) {
	n := len([]rune(title))
	switch {
	case n < MinTitleLen:
		v.Add("title", fmt.Sprintf("must be at least %d characters", MinTitleLen))
	case n > MaxTitleLen:
		v.Add("title", fmt.Sprintf("must be at most %d characters", MaxTitleLen))
	}
}

func (d *Directory) checkDate(v *apperr.ValidationError, date string) {
	if date == "" {
		v.Add("date", "is required")
		return
	}
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		v.Add("date", "must be a date in YYYY-MM-DD format")
		return
	}
	// ISO dates compare lexically.
	if date < d.today() {
		v.Add("date", "cannot be in the past")
	}
}

func checkTime(v *apperr.ValidationError, t string) {
	if t != "" && !timePattern.MatchString(t) {
		v.Add("time", "must be HH:MM (24-hour)")
	}
}

func checkCapacity(v *apperr.ValidationError, c *int) {
	if c == nil {
		return
	}
	if *c < 1 || *c > MaxCapacity {
		v.Add("capacity", fmt.Sprintf("must be between 1 and %d", MaxCapacity))
	}
}

func checkStatus(v *apperr.ValidationError, s models.EventStatus) {
	if !s.Valid() {
		v.Add("status", "must be active or closed")
	}
}
