package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eventgate/backend/internal/middleware"
	"github.com/eventgate/backend/internal/models"
	"github.com/eventgate/backend/pkg/response"
)

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name" binding:"required"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RoleRequest is the body for PATCH /users/:id/role.
type RoleRequest struct {
	Role models.Role `json:"role" binding:"required"`
}

// Handler handles auth and user-management HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sess, err := h.svc.Register(c.Request.Context(), RegisterInput{Email: req.Email, Password: req.Password, FullName: req.FullName})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			response.Conflict(c, err.Error())
			return
		}
		h.fail(c, "register", err)
		return
	}
	response.Created(c, sess)
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sess, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, err.Error())
			return
		}
		h.fail(c, "login", err)
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: sess})
}

// Me handles GET /auth/me.
func (h *Handler) Me(c *gin.Context) {
	me, err := h.svc.Me(c.Request.Context(), middleware.CurrentPrincipal(c))
	if err != nil {
		h.fail(c, "me", err)
		return
	}
	response.OK(c, me)
}

// Logout handles POST /auth/logout.
func (h *Handler) Logout(c *gin.Context) {
	if err := h.svc.Logout(c.Request.Context(), middleware.CurrentPrincipal(c)); err != nil {
		h.fail(c, "logout", err)
		return
	}
	response.OK(c, gin.H{"signed_out": true})
}

// ListUsers handles GET /users (admin only).
func (h *Handler) ListUsers(c *gin.Context) {
	list, err := h.svc.ListUsers(c.Request.Context())
	if err != nil {
		h.fail(c, "list users", err)
		return
	}
	response.OK(c, list)
}

// UpdateRole handles PATCH /users/:id/role (admin only).
func (h *Handler) UpdateRole(c *gin.Context) {
	var req RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	u, err := h.svc.UpdateRole(c.Request.Context(), c.Param("id"), req.Role)
	if err != nil {
		h.fail(c, "update role", err)
		return
	}
	h.logger.Info("role changed",
		zap.String("user_id", u.ID),
		zap.String("role", string(u.Role)),
		zap.String("by", middleware.UserID(c)),
	)
	response.OK(c, u)
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	if response.StatusOf(err) >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.Error(err))
	}
	response.Error(c, err)
}
