package auth

import (
	"sync"
	"time"

	"github.com/eventgate/backend/internal/clock"
)

// DefaultIdleTimeout signs a user out after this long without a request.
const DefaultIdleTimeout = 15 * time.Minute

// IdleExpiry is what the tracker hands to its expiry callback: the user and
// every token seen since the user's last request, with its expiry.
type IdleExpiry struct {
	UserID string
	Tokens map[string]time.Time
}

type idleEntry struct {
	gen    uint64
	timer  clock.Timer
	tokens map[string]time.Time
}

// IdleTracker arms one cancellable timer per user. Every authenticated
// request re-arms it; when it fires the expiry callback runs once.
type IdleTracker struct {
	clock    clock.Clock
	timeout  time.Duration
	onExpire func(IdleExpiry)

	mu      sync.Mutex
	entries map[string]*idleEntry
}

// NewIdleTracker creates a tracker. A non-positive timeout uses
// DefaultIdleTimeout.
func NewIdleTracker(clk clock.Clock, timeout time.Duration, onExpire func(IdleExpiry)) *IdleTracker {
	if clk == nil {
		clk = clock.Real()
	}
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	return &IdleTracker{clock: clk, timeout: timeout, onExpire: onExpire, entries: make(map[string]*idleEntry)}
}

// Touch records activity by userID with tokenID and re-arms the timer.
func (t *IdleTracker) Touch(userID, tokenID string, tokenExpiry time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[userID]
	if !ok {
		e = &idleEntry{tokens: make(map[string]time.Time)}
		t.entries[userID] = e
	} else if e.timer != nil {
		e.timer.Stop()
	}
	e.tokens[tokenID] = tokenExpiry
	e.gen++
	gen := e.gen
	e.timer = t.clock.AfterFunc(t.timeout, func() { t.fire(userID, gen) })
}

// fire runs the callback unless the timer was re-armed or stopped meanwhile.
func (t *IdleTracker) fire(userID string, gen uint64) {
	t.mu.Lock()
	e, ok := t.entries[userID]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, userID)
	t.mu.Unlock()
	if t.onExpire != nil {
		t.onExpire(IdleExpiry{UserID: userID, Tokens: e.tokens})
	}
}

// Stop tears down userID's timer without running the callback.
func (t *IdleTracker) Stop(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[userID]; ok {
		e.timer.Stop()
		delete(t.entries, userID)
	}
}

// Tracking reports whether userID has an armed timer.
func (t *IdleTracker) Tracking(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[userID]
	return ok
}

// Close stops every timer.
func (t *IdleTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, id)
	}
}
