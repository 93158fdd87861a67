// Package auth signs users in and out, resolves their effective role on
// every request and enforces the idle timeout.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventgate/backend/internal/apperr"
	"github.com/eventgate/backend/internal/clock"
	"github.com/eventgate/backend/internal/models"
	"github.com/eventgate/backend/internal/realtime"
	"github.com/eventgate/backend/internal/roles"
	"github.com/eventgate/backend/internal/store"
	"github.com/eventgate/backend/pkg/utils"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
)

// SessionEnder ends the verification sessions a user is running.
type SessionEnder interface {
	EndForOwner(ownerID string) int
}

// Config tunes the service.
type Config struct {
	Whitelist      roles.Whitelist
	ResolveTimeout time.Duration
	IdleTimeout    time.Duration
}

// Service is the auth collaborator: sign-up, sign-in, per-request identity
// and sign-out.
type Service struct {
	users    store.UserStore
	jwt      *JWTService
	revoker  Revoker
	resolver *Resolver
	watcher  *RoleWatcher
	idle     *IdleTracker
	broker   realtime.Broker
	sessions SessionEnder
	clock    clock.Clock
	logger   *zap.Logger
}

// NewService wires the auth service. broker and sessions may be nil.
func NewService(users store.UserStore, jwtSvc *JWTService, revoker Revoker, broker realtime.Broker, sessions SessionEnder, clk clock.Clock, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	s := &Service{
		users:    users,
		jwt:      jwtSvc,
		revoker:  revoker,
		resolver: NewResolver(users, cfg.Whitelist, cfg.ResolveTimeout, logger),
		watcher:  NewRoleWatcher(broker, logger),
		broker:   broker,
		sessions: sessions,
		clock:    clk,
		logger:   logger,
	}
	s.idle = NewIdleTracker(clk, cfg.IdleTimeout, s.expire)
	return s
}

// Session is a signed-in user with a fresh token.
type Session struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expires_at"`
	User      models.UserPublic `json:"user"`
	Landing   string            `json:"landing"`
}

// RegisterInput is a sign-up request.
type RegisterInput struct {
	Email    string
	Password string
	FullName string
}

// Register creates a student account (admin when whitelisted) and signs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	v := apperr.NewValidation()
	if email == "" || !strings.Contains(email, "@") {
		v.Add("email", "must be a valid email address")
	}
	if strings.TrimSpace(in.FullName) == "" {
		v.Add("full_name", "is required")
	}
	if err := utils.CheckPasswordPolicy(in.Password); err != nil {
		v.Add("password", err.Error())
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		ID:       uuid.NewString(),
		Email:    email,
		Password: hash,
		FullName: strings.TrimSpace(in.FullName),
		Role:     roles.Classify(email, models.RoleStudent, s.resolver.whitelist),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return s.issue(u, u.Role)
}

// Login checks credentials and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !utils.CheckPassword(password, u.Password) {
		return nil, ErrInvalidCredentials
	}
	role := s.resolver.Resolve(ctx, u.ID, u.Email)
	s.watcher.Watch(u.ID, role)
	return s.issue(u, role)
}

func (s *Service) issue(u *models.User, role models.Role) (*Session, error) {
	token, claims, err := s.jwt.Generate(u)
	if err != nil {
		return nil, err
	}
	s.idle.Touch(u.ID, claims.ID, claims.ExpiresAt.Time)
	pub := u.ToPublic()
	pub.Role = role
	return &Session{Token: token, ExpiresAt: claims.ExpiresAt.Time, User: pub, Landing: roles.Landing(role)}, nil
}

// Authenticate validates token and returns the caller with the role resolved
// now. It implements middleware.Authenticator and counts as activity for the
// idle timeout.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.Principal, error) {
	claims, err := s.jwt.Validate(token)
	if err != nil {
		return nil, err
	}
	revoked, err := s.revoker.Revoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrRevokedToken
	}

	role, ok := s.watcher.Role(claims.UserID)
	if !ok {
		role = s.resolver.Resolve(ctx, claims.UserID, claims.Email)
		s.watcher.Watch(claims.UserID, role)
	}
	s.idle.Touch(claims.UserID, claims.ID, claims.ExpiresAt.Time)
	return &models.Principal{
		UserID:    claims.UserID,
		Email:     claims.Email,
		Role:      role,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Me is the currentUser view.
type Me struct {
	User    models.UserPublic `json:"user"`
	Role    models.Role       `json:"role"`
	Landing string            `json:"landing"`
}

// Me returns the stored profile of p with its resolved role.
func (s *Service) Me(ctx context.Context, p *models.Principal) (*Me, error) {
	u, err := s.users.GetUserByID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	pub := u.ToPublic()
	pub.Role = p.Role
	return &Me{User: pub, Role: p.Role, Landing: roles.Landing(p.Role)}, nil
}

// Logout revokes the caller's token, tears down the idle timer and ends the
// caller's verification sessions.
func (s *Service) Logout(ctx context.Context, p *models.Principal) error {
	s.idle.Stop(p.UserID)
	ended := s.endSessions(p.UserID)
	s.logger.Info("user signed out", zap.String("user_id", p.UserID), zap.Int("scan_sessions_ended", ended))
	return s.revoker.Revoke(ctx, p.TokenID, p.ExpiresAt)
}

// expire is the idle timer callback.
func (s *Service) expire(e IdleExpiry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for tokenID, until := range e.Tokens {
		if err := s.revoker.Revoke(ctx, tokenID, until); err != nil {
			s.logger.Warn("idle revoke failed", zap.String("user_id", e.UserID), zap.Error(err))
		}
	}
	ended := s.endSessions(e.UserID)
	s.watcher.Forget(e.UserID)
	s.logger.Info("idle timeout, user signed out",
		zap.String("user_id", e.UserID),
		zap.Int("tokens_revoked", len(e.Tokens)),
		zap.Int("scan_sessions_ended", ended),
	)
}

func (s *Service) endSessions(userID string) int {
	if s.sessions == nil {
		return 0
	}
	return s.sessions.EndForOwner(userID)
}

// ListUsers returns every user.
func (s *Service) ListUsers(ctx context.Context) ([]models.UserPublic, error) {
	return s.users.ListUsers(ctx)
}

// UpdateRole stores a new role for userID and notifies the user's topic so
// live clients and role caches follow.
func (s *Service) UpdateRole(ctx context.Context, userID string, role models.Role) (*models.UserPublic, error) {
	if !role.Valid() {
		return nil, apperr.Invalid("role", "must be one of admin, officer, student")
	}
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.resolver.whitelist.Contains(u.Email) && role != models.RoleAdmin {
		return nil, apperr.Invalid("role", "whitelisted accounts are always admin")
	}
	if err := s.users.UpdateUserRole(ctx, userID, role); err != nil {
		return nil, err
	}
	u.Role = role
	s.watcher.Update(userID, role)

	change := RoleChange{UserID: userID, Role: role, Landing: roles.Landing(role)}
	if s.broker != nil {
		if err := s.broker.Publish(ctx, realtime.UserTopic(userID), realtime.EventRoleChanged, change); err != nil {
			s.logger.Warn("publish role change failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	pub := u.ToPublic()
	return &pub, nil
}

// Close stops idle timers and role subscriptions.
func (s *Service) Close() {
	s.idle.Close()
	s.watcher.Close()
}
