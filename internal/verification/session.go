// Package verification sequences scanner input into attendance gate calls.
// A session debounces repeated camera frames, keeps running counters and a
// bounded log of recent outcomes.
package verification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/eventgate/backend/internal/apperr"
	"github.com/eventgate/backend/internal/attendance"
	"github.com/eventgate/backend/internal/clock"
	"github.com/eventgate/backend/internal/ticket"
)

const (
	DefaultDebounce    = 3 * time.Second
	DefaultRecentLimit = 10
)

// Status is the outcome class of one submission.
type Status string

const (
	StatusVerified  Status = "verified"
	StatusDuplicate Status = "duplicate"
	StatusInvalid   Status = "invalid"
	StatusError     Status = "error"
)

// Redeemer is the attendance gate as seen by a session.
type Redeemer interface {
	Redeem(ctx context.Context, ticketID, actorID string) (*attendance.Result, error)
	Resolve(ctx context.Context, payload, actorID string) (*attendance.Result, error)
}

// Entry is one line of the recent-activity log.
type Entry struct {
	TicketID   string    `json:"ticket_id,omitempty"`
	Status     Status    `json:"status"`
	Name       string    `json:"name,omitempty"`
	EventTitle string    `json:"event_title,omitempty"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

// Counters are monotonic for the lifetime of a session.
type Counters struct {
	Scanned  int `json:"scanned"`
	Verified int `json:"verified"`
	Rejected int `json:"rejected"`
}

// Outcome is the result of a submission. Suppressed submissions were
// swallowed by the debounce window and touched nothing.
type Outcome struct {
	Suppressed bool   `json:"suppressed"`
	Entry      *Entry `json:"entry,omitempty"`
	// Err is the gate error behind a rejected entry.
	Err error `json:"-"`
}

// Snapshot is a point-in-time copy of session state.
type Snapshot struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	StartedAt time.Time `json:"started_at"`
	Counters  Counters  `json:"counters"`
	Recent    []Entry   `json:"recent"`
}

// Options tune a session. Zero values take the defaults.
type Options struct {
	Debounce    time.Duration
	RecentLimit int
}

// Session is one staff member's scanning run. Submissions are serialized:
// a session never has two gate calls in flight. Reads never wait on a gate
// call.
type Session struct {
	id        string
	ownerID   string
	startedAt time.Time
	gate      Redeemer
	clock     clock.Clock
	debounce  time.Duration

	// submit is held across a whole submission, gate call included.
	submit sync.Mutex

	mu       sync.Mutex
	ended    bool
	seen     map[string]time.Time
	counters Counters
	recent   *ring
}

func newSession(id, ownerID string, gate Redeemer, clk clock.Clock, opts Options) *Session {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = DefaultRecentLimit
	}
	return &Session{
		id:        id,
		ownerID:   ownerID,
		startedAt: clk.Now(),
		gate:      gate,
		clock:     clk,
		debounce:  opts.Debounce,
		seen:      make(map[string]time.Time),
		recent:    newRing(opts.RecentLimit),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// OwnerID returns the id of the staff member running the session.
func (s *Session) OwnerID() string { return s.ownerID }

// SubmitScan handles a camera-decoded string on behalf of actorID, who is
// recorded as the redeemer; an empty actorID means the session owner. The
// same raw string seen again within the debounce window of its first
// acceptance is suppressed; after the window it goes to the gate again (and
// is rejected there if already used).
func (s *Session) SubmitScan(ctx context.Context, raw, actorID string) (Outcome, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Outcome{}, apperr.Invalid("raw", "is required")
	}
	s.submit.Lock()
	defer s.submit.Unlock()

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return Outcome{}, apperr.NotFound("scan session", s.id)
	}
	now := s.clock.Now()
	if first, ok := s.seen[raw]; ok && now.Sub(first) < s.debounce {
		s.mu.Unlock()
		return Outcome{Suppressed: true}, nil
	}
	s.seen[raw] = now
	s.prune(now)
	s.mu.Unlock()

	res, err := s.gate.Resolve(ctx, raw, s.actor(actorID))
	var hint Entry
	if err != nil {
		// The payload's own fields label rejections the gate could not resolve.
		if ref, derr := ticket.Decode(raw); derr == nil {
			hint = Entry{TicketID: ref.RegistrationID, Name: ref.DisplayName}
		}
	}
	return Outcome{Entry: s.record(res, err, hint), Err: err}, nil
}

// SubmitManual handles a typed ticket id on behalf of actorID. Manual entry
// is never debounced.
func (s *Session) SubmitManual(ctx context.Context, ticketID, actorID string) (Outcome, error) {
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return Outcome{}, apperr.Invalid("ticket_id", "is required")
	}
	s.submit.Lock()
	defer s.submit.Unlock()

	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended {
		return Outcome{}, apperr.NotFound("scan session", s.id)
	}

	res, err := s.gate.Redeem(ctx, ticketID, s.actor(actorID))
	return Outcome{Entry: s.record(res, err, Entry{TicketID: ticketID}), Err: err}, nil
}

func (s *Session) actor(actorID string) string {
	if actorID == "" {
		return s.ownerID
	}
	return actorID
}

// record updates counters and the log. hint supplies the ticket id and name
// when the gate could not.
func (s *Session) record(res *attendance.Result, err error, hint Entry) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := Entry{TicketID: hint.TicketID, Name: hint.Name, At: s.clock.Now()}
	s.counters.Scanned++
	if err == nil {
		s.counters.Verified++
		entry.Status = StatusVerified
		entry.TicketID = res.Registration.ID
		entry.Name = res.Registration.Name
		entry.EventTitle = res.EventTitle
		entry.Message = "checked in"
		s.recent.push(entry)
		return &entry
	}

	s.counters.Rejected++
	entry.Message = err.Error()
	var already *apperr.AlreadyRedeemedError
	switch {
	case errors.As(err, &already):
		entry.Status = StatusDuplicate
		entry.TicketID = already.Registration.ID
		entry.Name = already.Registration.Name
		entry.EventTitle = already.EventTitle
		entry.Message = "already used at " + already.At.In(s.startedAt.Location()).Format("15:04")
	case errors.Is(err, apperr.ErrInvalidPayload), errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrValidation):
		entry.Status = StatusInvalid
	default:
		entry.Status = StatusError
		entry.Message = "could not reach the ticket store, scan again"
	}
	s.recent.push(entry)
	return &entry
}

// prune drops debounce marks that can no longer suppress anything; the caller
// holds s.mu.
func (s *Session) prune(now time.Time) {
	for raw, first := range s.seen {
		if now.Sub(first) >= s.debounce {
			delete(s.seen, raw)
		}
	}
}

// Counters returns the current counters.
func (s *Session) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Recent returns the log, newest first.
func (s *Session) Recent() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recent.list()
}

// Snapshot returns counters and log together.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:        s.id,
		OwnerID:   s.ownerID,
		StartedAt: s.startedAt,
		Counters:  s.counters,
		Recent:    s.recent.list(),
	}
}

func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	s.seen = map[string]time.Time{}
}
