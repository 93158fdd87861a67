package auth

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/eventgate/backend/internal/models"
	"github.com/eventgate/backend/internal/realtime"
)

// RoleChange is the payload of a role_changed notification.
type RoleChange struct {
	UserID  string      `json:"user_id"`
	Role    models.Role `json:"role"`
	Landing string      `json:"landing"`
}

// RoleWatcher caches resolved roles and keeps them current from role_changed
// notifications on each watched user's topic.
type RoleWatcher struct {
	broker realtime.Broker
	logger *zap.Logger

	mu    sync.Mutex
	roles map[string]models.Role
	subs  map[string]func()
}

// NewRoleWatcher creates a watcher. With a nil broker it is a plain cache.
func NewRoleWatcher(broker realtime.Broker, logger *zap.Logger) *RoleWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleWatcher{
		broker: broker,
		logger: logger,
		roles:  make(map[string]models.Role),
		subs:   make(map[string]func()),
	}
}

// Role returns the cached role for userID.
func (w *RoleWatcher) Role(userID string) (models.Role, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	role, ok := w.roles[userID]
	return role, ok
}

// Watch caches role for userID and subscribes to the user's topic once.
func (w *RoleWatcher) Watch(userID string, role models.Role) {
	w.mu.Lock()
	w.roles[userID] = role
	_, subscribed := w.subs[userID]
	w.mu.Unlock()
	if subscribed || w.broker == nil {
		return
	}

	cancel, err := w.broker.Subscribe(realtime.UserTopic(userID), func(msg realtime.Message) {
		if msg.Event != realtime.EventRoleChanged {
			return
		}
		var change RoleChange
		if err := json.Unmarshal(msg.Data, &change); err != nil || !change.Role.Valid() {
			w.logger.Warn("ignoring malformed role change", zap.String("topic", msg.Topic))
			return
		}
		w.mu.Lock()
		w.roles[userID] = change.Role
		w.mu.Unlock()
	})
	if err != nil {
		w.logger.Warn("role watch subscribe failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	w.mu.Lock()
	if _, raced := w.subs[userID]; raced {
		w.mu.Unlock()
		cancel()
		return
	}
	w.subs[userID] = cancel
	w.mu.Unlock()
}

// Update replaces the cached role of a watched user. Unwatched users are
// left alone.
func (w *RoleWatcher) Update(userID string, role models.Role) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.roles[userID]; ok {
		w.roles[userID] = role
	}
}

// Forget drops the cache entry and the subscription for userID.
func (w *RoleWatcher) Forget(userID string) {
	w.mu.Lock()
	cancel := w.subs[userID]
	delete(w.subs, userID)
	delete(w.roles, userID)
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close cancels every subscription.
func (w *RoleWatcher) Close() {
	w.mu.Lock()
	subs := w.subs
	w.subs = make(map[string]func())
	w.roles = make(map[string]models.Role)
	w.mu.Unlock()
	for _, cancel := range subs {
		cancel()
	}
}
