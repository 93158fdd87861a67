package auth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eventgate/backend/internal/models"
	"github.com/eventgate/backend/internal/roles"
	"github.com/eventgate/backend/internal/store"
)

// DefaultResolveTimeout bounds the stored-role lookup.
const DefaultResolveTimeout = 4 * time.Second

// RoleStore is the slice of the user store the resolver needs.
type RoleStore interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateUserRole(ctx context.Context, id string, role models.Role) error
}

var _ RoleStore = (store.UserStore)(nil)

// Resolver turns a user into an effective role.
type Resolver struct {
	users     RoleStore
	whitelist roles.Whitelist
	timeout   time.Duration
	logger    *zap.Logger
}

// NewResolver creates a role resolver. A non-positive timeout uses
// DefaultResolveTimeout.
func NewResolver(users RoleStore, whitelist roles.Whitelist, timeout time.Duration, logger *zap.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{users: users, whitelist: whitelist, timeout: timeout, logger: logger}
}

// Resolve returns the effective role for userID. When the store does not
// answer within the timeout, or fails, the least-privileged role is used; the
// whitelist still applies. A whitelisted user whose stored role drifted is
// rewritten to admin.
func (r *Resolver) Resolve(ctx context.Context, userID, email string) models.Role {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	u, err := r.users.GetUserByID(ctx, userID)
	if err != nil {
		r.logger.Warn("role lookup failed, using least privilege", zap.String("user_id", userID), zap.Error(err))
		return roles.Classify(email, models.RoleStudent, r.whitelist)
	}
	role := roles.Classify(u.Email, u.Role, r.whitelist)
	if role != u.Role {
		r.heal(ctx, u, role)
	}
	return role
}

// heal writes the classified role back. Failures are logged and ignored.
func (r *Resolver) heal(ctx context.Context, u *models.User, role models.Role) {
	if err := r.users.UpdateUserRole(ctx, u.ID, role); err != nil {
		r.logger.Warn("role self-heal failed", zap.String("user_id", u.ID), zap.Error(err))
		return
	}
	r.logger.Info("role self-healed",
		zap.String("user_id", u.ID),
		zap.String("from", string(u.Role)),
		zap.String("to", string(role)),
	)
}
