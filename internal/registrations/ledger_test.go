package registrations

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eventgate/backend/internal/apperr"
	"github.com/eventgate/backend/internal/clock"
	"github.com/eventgate/backend/internal/models"
	"github.com/eventgate/backend/internal/realtime"
	"github.com/eventgate/backend/internal/store/sqlite"
)

var testNow = time.Date(2026, time.October, 16, 9, 30, 0, 0, time.UTC)

func openTempStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedEvent(t *testing.T, s *sqlite.Store, id string, capacity *int, status models.EventStatus) {
	t.Helper()
	e := &models.Event{ID: id, Title: "Robotics Expo", Date: "2026-10-20", Capacity: capacity, Status: status}
	if err := s.CreateEvent(context.Background(), e); err != nil {
		t.Fatalf("create event: %v", err)
	}
}

func intPtr(v int) *int { return &v }

type fakeJobs struct {
	mu   sync.Mutex
	jobs []string
}

func (f *fakeJobs) EnqueueTicketImage(_ context.Context, registrationID, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, eventID+"/"+registrationID)
	return nil
}

func TestRegisterCapacityOne(t *testing.T) {
	t.Parallel()

	s := openTempStore(t)
	seedEvent(t, s, "ev-1", intPtr(1), models.EventStatusActive)
	l := NewLedger(s, nil, nil, clock.Fake(testNow), nil)
	ctx := context.Background()

	a, err := l.Register(ctx, "ev-1", Input{Name: "Alice", Email: "a@x.com"})
	if err != nil {
		t.Fatalf("register a: %v", err)
	}
	if a.Redeemed || !a.CreatedAt.Equal(testNow) {
		t.Fatalf("registration = %+v", a)
	}

	_, err = l.Register(ctx, "ev-1", Input{Name: "Bob", Email: "b@x.com"})
	var full *apperr.EventFullError
	if !errors.As(err, &full) || full.Capacity != 1 {
		t.Fatalf("register b = %v, want EventFullError capacity 1", err)
	}
}

func TestRegisterDuplicateEmailReturnsExisting(t *testing.T) {
	t.Parallel()

	s := openTempStore(t)
	seedEvent(t, s, "ev-1", intPtr(1), models.EventStatusActive)
	l := NewLedger(s, nil, nil, clock.Fake(testNow), nil)
	ctx := context.Background()

	first, err := l.Register(ctx, "ev-1", Input{Name: "Alice", Email: "a@x.com"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	// The event is now full too; the repeat must still get the existing ticket.
	_, err = l.Register(ctx, "ev-1", Input{Name: "Alice Again", Email: "A@X.com"})
	var already *apperr.AlreadyRegisteredError
	if !errors.As(err, &already) {
		t.Fatalf("repeat register = %v, want AlreadyRegisteredError", err)
	}
	if already.Existing.ID != first.ID || already.Existing.Name != "Alice" {
		t.Fatalf("existing = %+v, want %s", already.Existing, first.ID)
	}

	list, err := l.ListForEvent(ctx, "ev-1")
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %d (%v), want 1", len(list), err)
	}
	found, err := l.Find(ctx, "ev-1", "  a@X.COM ")
	if err != nil || found.ID != first.ID {
		t.Fatalf("find = %v (%v)", found, err)
	}
}

func TestRegisterRejections(t *testing.T) {
	t.Parallel()

	s := openTempStore(t)
	seedEvent(t, s, "open", nil, models.EventStatusActive)
	seedEvent(t, s, "closed", nil, models.EventStatusClosed)
	l := NewLedger(s, nil, nil, clock.Fake(testNow), nil)
	ctx := context.Background()

	if _, err := l.Register(ctx, "missing", Input{Name: "Alice", Email: "a@x.com"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown event = %v, want not found", err)
	}
	_, err := l.Register(ctx, "closed", Input{Name: "Alice", Email: "a@x.com"})
	var verr *apperr.ValidationError
	if !errors.As(err, &verr) || verr.Fields["event"] == "" {
		t.Fatalf("closed event = %v, want validation on event", err)
	}

	tests := []struct {
		name  string
		in    Input
		field string
	}{
		{"short name", Input{Name: "A", Email: "a@x.com"}, "name"},
		{"missing email", Input{Name: "Alice"}, "email"},
		{"email without domain dot", Input{Name: "Alice", Email: "a@x"}, "email"},
		{"email with space", Input{Name: "Alice", Email: "a b@x.com"}, "email"},
		{"short roll", Input{Name: "Alice", Email: "a@x.com", RollNo: "AB12"}, "roll_no"},
		{"roll with symbol", Input{Name: "Alice", Email: "a@x.com", RollNo: "AB-123456"}, "roll_no"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Register(ctx, "open", tt.in)
			var verr *apperr.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if _, ok := verr.Fields[tt.field]; !ok {
				t.Fatalf("fields = %v, want %q", verr.Fields, tt.field)
			}
		})
	}

	reg, err := l.Register(ctx, "open", Input{Name: " Alice ", Email: "a@x.com", RollNo: "cs2024a01"})
	if err != nil {
		t.Fatalf("valid register: %v", err)
	}
	if reg.Name != "Alice" || reg.RollNo != "CS2024A01" {
		t.Fatalf("normalized = %+v", reg)
	}
}

func TestRegisterSchedulesImageAndNotifies(t *testing.T) {
	t.Parallel()

	s := openTempStore(t)
	seedEvent(t, s, "ev-1", nil, models.EventStatusActive)
	jobs := &fakeJobs{}
	b := realtime.NewLocalBroker()
	var notified []string
	cancel, _ := b.Subscribe(realtime.EventTopic("ev-1"), func(m realtime.Message) { notified = append(notified, m.Event) })
	defer cancel()
	l := NewLedger(s, jobs, b, clock.Fake(testNow), nil)

	reg, err := l.Register(context.Background(), "ev-1", Input{Name: "Alice", Email: "a@x.com"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(jobs.jobs) != 1 || jobs.jobs[0] != "ev-1/"+reg.ID {
		t.Fatalf("jobs = %v", jobs.jobs)
	}
	if len(notified) != 1 || notified[0] != realtime.EventRegistrationCreated {
		t.Fatalf("notifications = %v", notified)
	}

	// Repeats neither enqueue nor notify.
	_, _ = l.Register(context.Background(), "ev-1", Input{Name: "Alice", Email: "A@x.com"})
	if len(jobs.jobs) != 1 || len(notified) != 1 {
		t.Fatalf("repeat side effects: jobs=%d notified=%d", len(jobs.jobs), len(notified))
	}
}

func TestConcurrentRegistrationsNeverOversell(t *testing.T) {
	t.Parallel()

	const capacity, callers = 10, 50
	s := openTempStore(t)
	seedEvent(t, s, "ev-1", intPtr(capacity), models.EventStatusActive)
	l := NewLedger(s, nil, nil, nil, nil)

	var (
		wg              sync.WaitGroup
		created, full   atomic.Int32
		unexpectedCount atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Register(context.Background(), "ev-1", Input{Name: "Student", Email: fmt.Sprintf("s%02d@x.com", i)})
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, apperr.ErrEventFull):
				full.Add(1)
			default:
				unexpectedCount.Add(1)
				t.Errorf("register %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if created.Load() != capacity || full.Load() != callers-capacity || unexpectedCount.Load() != 0 {
		t.Fatalf("created=%d full=%d unexpected=%d", created.Load(), full.Load(), unexpectedCount.Load())
	}
	total, _, err := s.CountRegistrations(context.Background(), "ev-1")
	if err != nil || total != capacity {
		t.Fatalf("stored = %d (%v), want %d", total, err, capacity)
	}
}

func TestConcurrentSameEmailCreatesOne(t *testing.T) {
	t.Parallel()

	const callers = 20
	s := openTempStore(t)
	seedEvent(t, s, "ev-1", nil, models.EventStatusActive)
	l := NewLedger(s, nil, nil, nil, nil)

	ids := map[string]int{}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			email := "dup@x.com"
			if i%2 == 1 {
				email = "DUP@X.com"
			}
			reg, err := l.Register(context.Background(), "ev-1", Input{Name: "Dup", Email: email})
			var already *apperr.AlreadyRegisteredError
			switch {
			case err == nil:
				created.Add(1)
				mu.Lock()
				ids[reg.ID]++
				mu.Unlock()
			case errors.As(err, &already):
				mu.Lock()
				ids[already.Existing.ID]++
				mu.Unlock()
			default:
				t.Errorf("register %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Fatalf("created = %d, want 1", created.Load())
	}
	if len(ids) != 1 {
		t.Fatalf("callers saw %d distinct tickets, want 1: %v", len(ids), ids)
	}
}
