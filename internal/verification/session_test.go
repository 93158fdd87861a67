package verification

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/eventgate/backend/internal/apperr"
	"github.com/eventgate/backend/internal/attendance"
	"github.com/eventgate/backend/internal/clock"
	"github.com/eventgate/backend/internal/models"
	"github.com/eventgate/backend/internal/store/sqlite"
	"github.com/eventgate/backend/internal/ticket"
)

var testNow = time.Date(2026, time.October, 20, 17, 55, 0, 0, time.UTC)

// countingGate records calls and answers from a script keyed by ticket id.
type countingGate struct {
	calls   int
	results map[string]error
}

func (g *countingGate) answer(id string) (*attendance.Result, error) {
	g.calls++
	if err, ok := g.results[id]; ok && err != nil {
		return nil, err
	}
	return &attendance.Result{
		Registration: models.Registration{ID: id, EventID: "ev-1", Name: "Name " + id, Redeemed: true},
		EventTitle:   "Robotics Expo",
	}, nil
}

func (g *countingGate) Redeem(_ context.Context, ticketID, _ string) (*attendance.Result, error) {
	return g.answer(ticketID)
}

func (g *countingGate) Resolve(_ context.Context, payload, _ string) (*attendance.Result, error) {
	ref, err := ticket.Decode(payload)
	if err != nil {
		g.calls++
		return nil, err
	}
	return g.answer(ref.RegistrationID)
}

func TestRapidIdenticalScansCallGateOnce(t *testing.T) {
	t.Parallel()

	clk := clock.Fake(testNow)
	gate := &countingGate{}
	s := newSession("s1", "officer-1", gate, clk, Options{Debounce: 3 * time.Second})
	raw := ticket.Encode("r-1", "ev-1", "Jane")

	first, err := s.SubmitScan(context.Background(), raw, "")
	if err != nil || first.Suppressed || first.Entry.Status != StatusVerified {
		t.Fatalf("first scan = %+v, %v", first, err)
	}
	for i := 0; i < 5; i++ {
		clk.Advance(500 * time.Millisecond)
		out, err := s.SubmitScan(context.Background(), raw, "")
		if err != nil || !out.Suppressed {
			t.Fatalf("frame %d = %+v, %v; want suppressed", i, out, err)
		}
	}
	if gate.calls != 1 {
		t.Fatalf("gate calls = %d, want 1", gate.calls)
	}
	if c := s.Counters(); c.Scanned != 1 || c.Verified != 1 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestDebounceIsMeasuredFromFirstAcceptance(t *testing.T) {
	t.Parallel()

	clk := clock.Fake(testNow)
	gate := &countingGate{}
	s := newSession("s1", "officer-1", gate, clk, Options{Debounce: 3 * time.Second})
	raw := ticket.Encode("r-1", "ev-1", "Jane")

	_, _ = s.SubmitScan(context.Background(), raw, "")
	clk.Advance(2 * time.Second)
	_, _ = s.SubmitScan(context.Background(), raw, "") // suppressed, does not extend the window
	clk.Advance(time.Second)
	out, _ := s.SubmitScan(context.Background(), raw, "")
	if out.Suppressed {
		t.Fatal("scan at exactly the window edge was suppressed")
	}
	if gate.calls != 2 {
		t.Fatalf("gate calls = %d, want 2", gate.calls)
	}
}

func TestDifferentCodesAreNotDebouncedTogether(t *testing.T) {
	t.Parallel()

	gate := &countingGate{}
	s := newSession("s1", "officer-1", gate, clock.Fake(testNow), Options{})
	_, _ = s.SubmitScan(context.Background(), ticket.Encode("r-1", "ev-1", "A"), "")
	_, _ = s.SubmitScan(context.Background(), ticket.Encode("r-2", "ev-1", "B"), "")
	if gate.calls != 2 {
		t.Fatalf("gate calls = %d, want 2", gate.calls)
	}
}

func TestManualEntry(t *testing.T) {
	t.Parallel()

	gate := &countingGate{results: map[string]error{"gone": apperr.NotFound("ticket", "gone")}}
	s := newSession("s1", "officer-1", gate, clock.Fake(testNow), Options{})

	if _, err := s.SubmitManual(context.Background(), "   ", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("empty manual = %v, want validation", err)
	}
	if c := s.Counters(); c.Scanned != 0 {
		t.Fatalf("empty input counted: %+v", c)
	}

	// Manual entry of the same id twice is not debounced.
	_, _ = s.SubmitManual(context.Background(), "r-1", "")
	_, _ = s.SubmitManual(context.Background(), "r-1", "")
	out, err := s.SubmitManual(context.Background(), "gone", "")
	if err != nil {
		t.Fatalf("manual: %v", err)
	}
	if out.Entry.Status != StatusInvalid || out.Entry.TicketID != "gone" || !errors.Is(out.Err, apperr.ErrNotFound) {
		t.Fatalf("entry = %+v err = %v", out.Entry, out.Err)
	}
	if c := s.Counters(); c.Scanned != 3 || c.Verified != 2 || c.Rejected != 1 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestRejectionsAreCountedAndLogged(t *testing.T) {
	t.Parallel()

	prior := time.Date(2026, time.October, 20, 17, 40, 0, 0, time.UTC)
	gate := &countingGate{results: map[string]error{
		"used": &apperr.AlreadyRedeemedError{
			Registration: models.Registration{ID: "used", Name: "Jane"},
			EventTitle:   "Robotics Expo",
			At:           prior,
			By:           "officer-2",
		},
		"flaky": apperr.Unavailable("get registration", errors.New("i/o timeout")),
	}}
	s := newSession("s1", "officer-1", gate, clock.Fake(testNow), Options{})
	ctx := context.Background()

	garbage, _ := s.SubmitScan(ctx, "not json", "")
	dup, _ := s.SubmitScan(ctx, ticket.Encode("used", "ev-1", "Jane"), "")
	down, _ := s.SubmitScan(ctx, ticket.Encode("flaky", "ev-1", "Ravi"), "")

	if garbage.Entry.Status != StatusInvalid {
		t.Fatalf("garbage = %+v", garbage.Entry)
	}
	if dup.Entry.Status != StatusDuplicate || dup.Entry.Message != "already used at 17:40" || dup.Entry.Name != "Jane" {
		t.Fatalf("duplicate = %+v", dup.Entry)
	}
	if down.Entry.Status != StatusError || down.Entry.Name != "Ravi" || down.Entry.TicketID != "flaky" {
		t.Fatalf("store failure = %+v", down.Entry)
	}
	if c := s.Counters(); c.Scanned != 3 || c.Verified != 0 || c.Rejected != 3 {
		t.Fatalf("counters = %+v", c)
	}
	recent := s.Recent()
	if len(recent) != 3 || recent[0].TicketID != "flaky" || recent[2].Status != StatusInvalid {
		t.Fatalf("recent = %+v", recent)
	}
}

func TestRecentLogEvictsOldest(t *testing.T) {
	t.Parallel()

	gate := &countingGate{}
	s := newSession("s1", "officer-1", gate, clock.Fake(testNow), Options{RecentLimit: 10})
	for i := 0; i < 13; i++ {
		_, _ = s.SubmitManual(context.Background(), fmt.Sprintf("r-%02d", i), "")
	}
	recent := s.Recent()
	if len(recent) != 10 {
		t.Fatalf("recent = %d entries, want 10", len(recent))
	}
	if recent[0].TicketID != "r-12" || recent[9].TicketID != "r-03" {
		t.Fatalf("order = %s .. %s", recent[0].TicketID, recent[9].TicketID)
	}
	if c := s.Counters(); c.Scanned != 13 {
		t.Fatalf("scanned = %d", c.Scanned)
	}
}

func TestScansBeyondWindowReachGateAndDuplicateIsRejected(t *testing.T) {
	t.Parallel()

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "verify.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()
	if err := st.CreateEvent(ctx, &models.Event{ID: "ev-1", Title: "Robotics Expo", Date: "2026-10-20", Status: models.EventStatusActive}); err != nil {
		t.Fatalf("create event: %v", err)
	}
	if err := st.InsertRegistration(ctx, &models.Registration{ID: "r-1", EventID: "ev-1", Name: "Jane", Email: "jane@x.com"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	clk := clock.Fake(testNow)
	m := NewManager(attendance.NewGate(st, nil, clk, nil), clk, Options{Debounce: 3 * time.Second}, nil)
	s := m.Start("officer-1")
	raw := ticket.Encode("r-1", "ev-1", "Jane")

	first, _ := s.SubmitScan(ctx, raw, "")
	clk.Advance(4 * time.Second)
	second, _ := s.SubmitScan(ctx, raw, "")

	if first.Entry.Status != StatusVerified {
		t.Fatalf("first = %+v", first.Entry)
	}
	if second.Suppressed || second.Entry.Status != StatusDuplicate || !errors.Is(second.Err, apperr.ErrAlreadyRedeemed) {
		t.Fatalf("second = %+v (%v)", second.Entry, second.Err)
	}
	if second.Entry.Message != "already used at 17:55" {
		t.Fatalf("message = %q", second.Entry.Message)
	}
}

func TestManagerEndForOwner(t *testing.T) {
	t.Parallel()

	m := NewManager(&countingGate{}, clock.Fake(testNow), Options{}, nil)
	a := m.Start("officer-1")
	m.Start("officer-1")
	m.Start("officer-2")

	if n := m.EndForOwner("officer-1"); n != 2 {
		t.Fatalf("ended = %d, want 2", n)
	}
	if m.Count() != 1 {
		t.Fatalf("live = %d, want 1", m.Count())
	}
	if _, err := m.Get(a.ID()); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("ended session still reachable: %v", err)
	}
	if _, err := a.SubmitManual(context.Background(), "r-1", ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("submit on ended session = %v", err)
	}
}

// actorGate records the actor of every gate call and can hold a call open
// until release is closed.
type actorGate struct {
	mu      sync.Mutex
	actors  []string
	entered chan struct{}
	release chan struct{}
}

func (g *actorGate) Redeem(_ context.Context, ticketID, actorID string) (*attendance.Result, error) {
	g.mu.Lock()
	g.actors = append(g.actors, actorID)
	g.mu.Unlock()
	if g.entered != nil {
		g.entered <- struct{}{}
		<-g.release
	}
	return &attendance.Result{
		Registration: models.Registration{ID: ticketID, EventID: "ev-1", Redeemed: true, RedeemedBy: actorID},
	}, nil
}

func (g *actorGate) Resolve(ctx context.Context, payload, actorID string) (*attendance.Result, error) {
	ref, err := ticket.Decode(payload)
	if err != nil {
		return nil, err
	}
	return g.Redeem(ctx, ref.RegistrationID, actorID)
}

func (g *actorGate) recorded() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.actors...)
}

func TestSubmissionsRecordActingUser(t *testing.T) {
	t.Parallel()

	gate := &actorGate{}
	s := newSession("s1", "officer-1", gate, clock.Fake(testNow), Options{})
	ctx := context.Background()

	_, _ = s.SubmitManual(ctx, "r-1", "")
	_, _ = s.SubmitManual(ctx, "r-2", "admin-1")
	_, _ = s.SubmitScan(ctx, ticket.Encode("r-3", "ev-1", "Jane"), "admin-1")

	got := gate.recorded()
	want := []string{"officer-1", "admin-1", "admin-1"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("actors = %v, want %v", got, want)
	}
}

func TestReadsDoNotWaitOnGateCall(t *testing.T) {
	t.Parallel()

	gate := &actorGate{entered: make(chan struct{}), release: make(chan struct{})}
	s := newSession("s1", "officer-1", gate, clock.Fake(testNow), Options{})

	done := make(chan Outcome, 1)
	go func() {
		out, _ := s.SubmitManual(context.Background(), "r-1", "")
		done <- out
	}()
	<-gate.entered

	read := make(chan Snapshot, 1)
	go func() { read <- s.Snapshot() }()
	select {
	case snap := <-read:
		if snap.Counters.Scanned != 0 {
			t.Fatalf("counters during gate call = %+v", snap.Counters)
		}
	case <-time.After(2 * time.Second):
		close(gate.release)
		t.Fatal("snapshot blocked behind an in-flight gate call")
	}

	close(gate.release)
	out := <-done
	if out.Entry == nil || out.Entry.Status != StatusVerified || s.Counters().Verified != 1 {
		t.Fatalf("outcome = %+v counters = %+v", out.Entry, s.Counters())
	}
}
