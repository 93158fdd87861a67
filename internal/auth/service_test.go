package auth

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/eventgate/backend/internal/apperr"
	"github.com/eventgate/backend/internal/clock"
	"github.com/eventgate/backend/internal/models"
	"github.com/eventgate/backend/internal/realtime"
	"github.com/eventgate/backend/internal/roles"
	"github.com/eventgate/backend/internal/store/sqlite"
)

var testNow = time.Date(2026, time.October, 20, 9, 0, 0, 0, time.UTC)

type recordingEnder struct {
	mu    sync.Mutex
	ended []string
}

func (r *recordingEnder) EndForOwner(ownerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, ownerID)
	return 1
}

func (r *recordingEnder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ended...)
}

type fixture struct {
	svc    *Service
	store  *sqlite.Store
	clock  *clock.FakeClock
	broker *realtime.LocalBroker
	ender  *recordingEnder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	clk := clock.Fake(testNow)
	broker := realtime.NewLocalBroker()
	ender := &recordingEnder{}
	svc := NewService(st, NewJWTService("test-secret", 2*time.Hour, clk), NewMemoryRevoker(clk), broker, ender, clk, Config{
		Whitelist:   roles.NewWhitelist("Dean@Campus.edu"),
		IdleTimeout: 15 * time.Minute,
	}, nil)
	t.Cleanup(svc.Close)
	return &fixture{svc: svc, store: st, clock: clk, broker: broker, ender: ender}
}

func (f *fixture) register(t *testing.T, email string) *Session {
	t.Helper()
	sess, err := f.svc.Register(context.Background(), RegisterInput{Email: email, Password: "s3cret-pass", FullName: "Test User"})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return sess
}

func TestRegisterLoginAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess := f.register(t, "Jane@Campus.edu")
	if sess.User.Role != models.RoleStudent || sess.Landing != "/student" || sess.User.Email != "jane@campus.edu" {
		t.Fatalf("session = %+v", sess)
	}
	if _, err := f.svc.Register(ctx, RegisterInput{Email: "jane@campus.edu", Password: "another-pass", FullName: "Jane"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate register = %v", err)
	}
	if _, err := f.svc.Register(ctx, RegisterInput{Email: "x@campus.edu", Password: "short", FullName: ""}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("invalid register = %v", err)
	}

	if _, err := f.svc.Login(ctx, "jane@campus.edu", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password = %v", err)
	}
	if _, err := f.svc.Login(ctx, "nobody@campus.edu", "s3cret-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user = %v", err)
	}
	login, err := f.svc.Login(ctx, " JANE@campus.edu ", "s3cret-pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	p, err := f.svc.Authenticate(ctx, login.Token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.UserID != sess.User.ID || p.Role != models.RoleStudent || p.TokenID == "" {
		t.Fatalf("principal = %+v", p)
	}
	if _, err := f.svc.Authenticate(ctx, login.Token+"x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered token = %v", err)
	}
}

func TestWhitelistedUserIsAdmin(t *testing.T) {
	f := newFixture(t)
	sess := f.register(t, "dean@campus.edu")
	if sess.User.Role != models.RoleAdmin || sess.Landing != "/admin" {
		t.Fatalf("session = %+v", sess)
	}
	if _, err := f.svc.UpdateRole(context.Background(), sess.User.ID, models.RoleStudent); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("demoting whitelisted admin = %v", err)
	}
}

func TestRoleChangeIsPushedAndApplied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.register(t, "ravi@campus.edu")
	if _, err := f.svc.Authenticate(ctx, sess.Token); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	var got []RoleChange
	cancel, _ := f.broker.Subscribe(realtime.UserTopic(sess.User.ID), func(m realtime.Message) {
		var rc RoleChange
		_ = json.Unmarshal(m.Data, &rc)
		got = append(got, rc)
	})
	defer cancel()

	if _, err := f.svc.UpdateRole(ctx, sess.User.ID, models.RoleOfficer); err != nil {
		t.Fatalf("update role: %v", err)
	}
	if len(got) != 1 || got[0].Role != models.RoleOfficer || got[0].Landing != "/officer" {
		t.Fatalf("notifications = %+v", got)
	}
	p, err := f.svc.Authenticate(ctx, sess.Token)
	if err != nil || p.Role != models.RoleOfficer {
		t.Fatalf("principal after change = %+v, %v", p, err)
	}
	if _, err := f.svc.UpdateRole(ctx, sess.User.ID, "superuser"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("bogus role = %v", err)
	}
	if _, err := f.svc.UpdateRole(ctx, "missing", models.RoleOfficer); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown user = %v", err)
	}
}

func TestLogoutRevokesAndEndsSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.register(t, "ravi@campus.edu")
	p, err := f.svc.Authenticate(ctx, sess.Token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	if err := f.svc.Logout(ctx, p); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, sess.Token); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("after logout = %v", err)
	}
	if calls := f.ender.calls(); len(calls) != 1 || calls[0] != p.UserID {
		t.Fatalf("sessions ended for %v", calls)
	}
	if f.svc.idle.Tracking(p.UserID) {
		t.Fatal("idle timer survived logout")
	}
}

func TestIdleTimeoutSignsOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.register(t, "ravi@campus.edu")

	f.clock.Advance(14 * time.Minute)
	if _, err := f.svc.Authenticate(ctx, sess.Token); err != nil {
		t.Fatalf("active user rejected: %v", err)
	}
	f.clock.Advance(14 * time.Minute)
	if _, err := f.svc.Authenticate(ctx, sess.Token); err != nil {
		t.Fatalf("activity did not re-arm the timer: %v", err)
	}
	if len(f.ender.calls()) != 0 {
		t.Fatal("sessions ended while active")
	}

	f.clock.Advance(15 * time.Minute)
	if _, err := f.svc.Authenticate(ctx, sess.Token); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("after idle timeout = %v", err)
	}
	if calls := f.ender.calls(); len(calls) != 1 {
		t.Fatalf("ender calls = %v", calls)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	f := newFixture(t)
	sess := f.register(t, "ravi@campus.edu")
	f.svc.idle.Stop(sess.User.ID)
	f.clock.Advance(3 * time.Hour)
	if _, err := f.svc.Authenticate(context.Background(), sess.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token = %v", err)
	}
}
