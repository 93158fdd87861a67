package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eventgate/backend/internal/apperr"
	"github.com/eventgate/backend/internal/models"
	"github.com/eventgate/backend/internal/store"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "eventgate.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedEvent(t *testing.T, s *Store, id string, capacity *int) *models.Event {
	t.Helper()
	e := &models.Event{ID: id, Title: "Tech Talk", Date: "2026-11-02", Time: "18:00", Capacity: capacity, Status: models.EventStatusActive}
	if err := s.CreateEvent(context.Background(), e); err != nil {
		t.Fatalf("create event: %v", err)
	}
	return e
}

func intPtr(v int) *int { return &v }

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open("  "); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestEventRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTempStore(t)
	ctx := context.Background()
	seedEvent(t, s, "ev-1", intPtr(50))

	got, err := s.GetEvent(ctx, "ev-1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.Title != "Tech Talk" || got.Date != "2026-11-02" || got.Time != "18:00" {
		t.Fatalf("event = %+v", got)
	}
	if got.Capacity == nil || *got.Capacity != 50 {
		t.Fatalf("capacity = %v, want 50", got.Capacity)
	}
	if got.Status != models.EventStatusActive {
		t.Fatalf("status = %q, want active", got.Status)
	}

	got.Capacity = nil
	got.Venue = "Hall B"
	if err := s.UpdateEvent(ctx, got); err != nil {
		t.Fatalf("update event: %v", err)
	}
	again, err := s.GetEvent(ctx, "ev-1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if again.Capacity != nil || again.Venue != "Hall B" {
		t.Fatalf("updated event = %+v", again)
	}
}

func TestGetEventNotFound(t *testing.T) {
	t.Parallel()

	s := openTempStore(t)
	_, err := s.GetEvent(context.Background(), "missing")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("get missing event error = %v, want not found", err)
	}
	if err := s.DeleteEvent(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("delete missing event error = %v, want not found", err)
	}
}

func TestInsertRegistrationRejectsCaseInsensitiveDuplicate(t *testing.T) {
	t.Parallel()

	s := openTempStore(t)
	ctx := context.Background()
	seedEvent(t, s, "ev-1", nil)

	first := &models.Registration{ID: "r-1", EventID: "ev-1", Name: "Asha", Email: "asha@x.org"}
	if err := s.InsertRegistration(ctx, first); err != nil {
		t.Fatalf("insert: %v", err)
	}
	dup := &models.Registration{ID: "r-2", EventID: "ev-1", Name: "Asha", Email: " ASHA@x.org"}
	if err := s.InsertRegistration(ctx, dup); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("duplicate insert error = %v, want conflict", err)
	}

	found, err := s.FindRegistrationByEmail(ctx, "ev-1", "Asha@X.org")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.ID != "r-1" {
		t.Fatalf("found id = %q, want r-1", found.ID)
	}
}

func TestMarkRedeemedOnlyOnce(t *testing.T) {
	t.Parallel()

	s := openTempStore(t)
	ctx := context.Background()
	seedEvent(t, s, "ev-1", nil)
	if err := s.InsertRegistration(ctx, &models.Registration{ID: "r-1", EventID: "ev-1", Name: "Asha", Email: "asha@x.org"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	at := time.Date(2026, time.November, 2, 18, 5, 0, 0, time.UTC)
	ok, err := s.MarkRedeemed(ctx, "r-1", at, "officer-1")
	if err != nil || !ok {
		t.Fatalf("first mark = %v, %v; want true, nil", ok, err)
	}
	ok, err = s.MarkRedeemed(ctx, "r-1", at.Add(time.Minute), "officer-2")
	if err != nil || ok {
		t.Fatalf("second mark = %v, %v; want false, nil", ok, err)
	}

	got, err := s.GetRegistration(ctx, "r-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Redeemed || got.RedeemedAt == nil || !got.RedeemedAt.Equal(at) || got.RedeemedBy != "officer-1" {
		t.Fatalf("registration = %+v", got)
	}

	total, redeemed, err := s.CountRegistrations(ctx, "ev-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 1 || redeemed != 1 {
		t.Fatalf("count = %d/%d, want 1/1", total, redeemed)
	}
}

func TestWithEventLockRollsBackOnError(t *testing.T) {
	t.Parallel()

	s := openTempStore(t)
	ctx := context.Background()
	seedEvent(t, s, "ev-1", nil)

	boom := errors.New("boom")
	err := s.WithEventLock(ctx, "ev-1", func(tx store.EventTx) error {
		if err := tx.InsertRegistration(ctx, &models.Registration{ID: "r-1", EventID: "ev-1", Name: "Asha", Email: "asha@x.org"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("lock error = %v, want boom", err)
	}
	if _, err := s.GetRegistration(ctx, "r-1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("registration after rollback: %v, want not found", err)
	}

	if err := s.WithEventLock(ctx, "missing", func(store.EventTx) error { return nil }); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("lock on missing event = %v, want not found", err)
	}
}

func TestWithEventLockSerializesCapacityChecks(t *testing.T) {
	t.Parallel()

	s := openTempStore(t)
	ctx := context.Background()
	seedEvent(t, s, "ev-1", intPtr(3))

	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.WithEventLock(ctx, "ev-1", func(tx store.EventTx) error {
				total, _, err := tx.CountRegistrations(ctx, "ev-1")
				if err != nil {
					return err
				}
				if total >= 3 {
					return nil
				}
				r := &models.Registration{
					ID:      "r-" + string(rune('a'+i)),
					EventID: "ev-1",
					Name:    "Student",
					Email:   string(rune('a'+i)) + "@x.org",
				}
				if err := tx.InsertRegistration(ctx, r); err != nil {
					return err
				}
				admitted.Add(1)
				return nil
			})
			if err != nil {
				t.Errorf("lock %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if got := admitted.Load(); got != 3 {
		t.Fatalf("admitted = %d, want 3", got)
	}
	list, err := s.ListRegistrationsByEvent(ctx, "ev-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("stored = %d, want 3", len(list))
	}
}

func TestUserRoleUpdate(t *testing.T) {
	t.Parallel()

	s := openTempStore(t)
	ctx := context.Background()
	u := &models.User{ID: "u-1", Email: "o@x.org", Password: "hash", FullName: "Officer", Role: models.RoleStudent}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.CreateUser(ctx, &models.User{ID: "u-2", Email: "o@x.org", Password: "hash", FullName: "Dup", Role: models.RoleStudent}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("duplicate user error = %v, want conflict", err)
	}
	if err := s.UpdateUserRole(ctx, "u-1", models.RoleOfficer); err != nil {
		t.Fatalf("update role: %v", err)
	}
	got, err := s.GetUserByEmail(ctx, "o@x.org")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.Role != models.RoleOfficer {
		t.Fatalf("role = %q, want officer", got.Role)
	}
	if err := s.UpdateUserRole(ctx, "nobody", models.RoleAdmin); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("update missing user = %v, want not found", err)
	}
}
