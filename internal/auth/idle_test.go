package auth

import (
	"context"
	"testing"
	"time"

	"github.com/eventgate/backend/internal/clock"
)

func TestIdleTrackerFiresOncePerUser(t *testing.T) {
	clk := clock.Fake(testNow)
	var fired []IdleExpiry
	tr := NewIdleTracker(clk, time.Minute, func(e IdleExpiry) { fired = append(fired, e) })

	exp := testNow.Add(time.Hour)
	tr.Touch("u1", "tok-a", exp)
	clk.Advance(30 * time.Second)
	tr.Touch("u1", "tok-b", exp)
	tr.Touch("u2", "tok-c", exp)
	tr.Stop("u2")

	clk.Advance(45 * time.Second)
	if len(fired) != 0 {
		t.Fatalf("fired early: %+v", fired)
	}
	clk.Advance(15 * time.Second)
	if len(fired) != 1 || fired[0].UserID != "u1" || len(fired[0].Tokens) != 2 {
		t.Fatalf("fired = %+v", fired)
	}
	if clk.Pending() != 0 || tr.Tracking("u1") {
		t.Fatal("timer left armed after expiry")
	}
}

func TestMemoryRevokerForgetsAfterExpiry(t *testing.T) {
	clk := clock.Fake(testNow)
	r := NewMemoryRevoker(clk)
	ctx := context.Background()
	_ = r.Revoke(ctx, "tok", testNow.Add(time.Minute))
	if ok, _ := r.Revoked(ctx, "tok"); !ok {
		t.Fatal("token not revoked")
	}
	clk.Advance(2 * time.Minute)
	if ok, _ := r.Revoked(ctx, "tok"); ok {
		t.Fatal("revocation outlived the token")
	}
	_ = r.Revoke(ctx, "old", testNow)
	if len(r.revoked) != 0 {
		t.Fatalf("stale entries kept: %v", r.revoked)
	}
}
