// Package attendance is the attendance gate: it redeems tickets, each at
// most once, from a ticket id or a scanned QR payload.
package attendance

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eventgate/backend/internal/apperr"
	"github.com/eventgate/backend/internal/clock"
	"github.com/eventgate/backend/internal/models"
	"github.com/eventgate/backend/internal/realtime"
	"github.com/eventgate/backend/internal/store"
	"github.com/eventgate/backend/internal/ticket"
)

const (
	// UnknownEventTitle is shown when a ticket's event no longer exists.
	UnknownEventTitle = "Unknown event"

	timePrecision = time.Millisecond
)

// Store is what the gate needs from the backing store.
type Store interface {
	store.RegistrationStore
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

// Result is a successful redemption.
type Result struct {
	Registration models.Registration `json:"registration"`
	EventTitle   string              `json:"event_title"`
	// Ref is the decoded payload when the redemption came from a QR scan.
	Ref *ticket.Ref `json:"ref,omitempty"`
}

// Gate redeems tickets.
type Gate struct {
	store  Store
	broker realtime.Broker
	clock  clock.Clock
	logger *zap.Logger
}

// NewGate creates an attendance gate. broker may be nil.
func NewGate(s Store, broker realtime.Broker, clk clock.Clock, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Gate{store: s, broker: broker, clock: clk, logger: logger}
}

// Redeem marks the ticket as used by actorID. The flip is a conditional
// write, so among concurrent callers exactly one succeeds; every other caller
// gets *apperr.AlreadyRedeemedError with the winner's time and actor.
func (g *Gate) Redeem(ctx context.Context, ticketID, actorID string) (*Result, error) {
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return nil, apperr.Invalid("ticket_id", "is required")
	}
	reg, err := g.store.GetRegistration(ctx, ticketID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("ticket", ticketID)
		}
		return nil, err
	}
	if reg.Redeemed {
		return nil, g.alreadyRedeemed(ctx, reg)
	}

	at := g.clock.Now().UTC().Truncate(timePrecision)
	ok, err := g.store.MarkRedeemed(ctx, reg.ID, at, actorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		winner, err := g.store.GetRegistration(ctx, reg.ID)
		if err != nil {
			return nil, err
		}
		return nil, g.alreadyRedeemed(ctx, winner)
	}
	reg.Redeemed = true
	reg.RedeemedAt = &at
	reg.RedeemedBy = actorID

	res := &Result{Registration: *reg, EventTitle: g.eventTitle(ctx, reg.EventID)}
	g.logger.Info("ticket redeemed",
		zap.String("registration_id", reg.ID),
		zap.String("event_id", reg.EventID),
		zap.String("actor_id", actorID),
	)
	g.publish(ctx, reg)
	return res, nil
}

// Resolve decodes a scanned payload and redeems the ticket it names. The
// payload's event id is only checked against the stored registration; a
// mismatch is logged and the stored event wins.
func (g *Gate) Resolve(ctx context.Context, payload, actorID string) (*Result, error) {
	ref, err := ticket.Decode(payload)
	if err != nil {
		return nil, err
	}
	res, err := g.Redeem(ctx, ref.RegistrationID, actorID)
	if err != nil {
		return nil, err
	}
	if res.Registration.EventID != ref.EventID {
		g.logger.Warn("ticket payload event mismatch",
			zap.String("registration_id", ref.RegistrationID),
			zap.String("payload_event_id", ref.EventID),
			zap.String("stored_event_id", res.Registration.EventID),
		)
	}
	res.Ref = &ref
	return res, nil
}

func (g *Gate) alreadyRedeemed(ctx context.Context, reg *models.Registration) error {
	e := &apperr.AlreadyRedeemedError{
		Registration: *reg,
		EventTitle:   g.eventTitle(ctx, reg.EventID),
		By:           reg.RedeemedBy,
	}
	if reg.RedeemedAt != nil {
		e.At = *reg.RedeemedAt
	}
	return e
}

// eventTitle never fails: attendance must not be blocked by a stale event.
func (g *Gate) eventTitle(ctx context.Context, eventID string) string {
	e, err := g.store.GetEvent(ctx, eventID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			g.logger.Warn("event lookup for ticket failed", zap.String("event_id", eventID), zap.Error(err))
		}
		return UnknownEventTitle
	}
	return e.Title
}

func (g *Gate) publish(ctx context.Context, reg *models.Registration) {
	if g.broker == nil {
		return
	}
	payload := map[string]interface{}{
		"registration_id": reg.ID,
		"event_id":        reg.EventID,
		"name":            reg.Name,
		"redeemed_at":     reg.RedeemedAt,
		"redeemed_by":     reg.RedeemedBy,
	}
	if err := g.broker.Publish(ctx, realtime.EventTopic(reg.EventID), realtime.EventTicketRedeemed, payload); err != nil {
		g.logger.Warn("publish failed", zap.String("event", realtime.EventTicketRedeemed), zap.Error(err))
	}
}
