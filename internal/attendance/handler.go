package attendance

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eventgate/backend/internal/apperr"
	"github.com/eventgate/backend/internal/middleware"
	"github.com/eventgate/backend/pkg/response"
)

// ResolveRequest is the body for POST /attendance/resolve.
type ResolveRequest struct {
	Payload string `json:"payload" binding:"required"`
}

// RedeemedInfo describes a prior redemption in a 409 response.
type RedeemedInfo struct {
	RegistrationID string    `json:"registration_id"`
	Name           string    `json:"name"`
	EventTitle     string    `json:"event_title"`
	RedeemedAt     time.Time `json:"redeemed_at"`
	RedeemedBy     string    `json:"redeemed_by"`
}

// Handler handles check-in HTTP endpoints.
type Handler struct {
	gate   *Gate
	logger *zap.Logger
}

// NewHandler creates an attendance handler.
func NewHandler(gate *Gate, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{gate: gate, logger: logger}
}

// Redeem handles POST /tickets/:id/redeem.
func (h *Handler) Redeem(c *gin.Context) {
	res, err := h.gate.Redeem(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, res)
}

// Resolve handles POST /attendance/resolve with a scanned QR payload.
func (h *Handler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.gate.Resolve(c.Request.Context(), req.Payload, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, res)
}

func (h *Handler) fail(c *gin.Context, err error) {
	var already *apperr.AlreadyRedeemedError
	if errors.As(err, &already) {
		response.ErrorWithData(c, err, RedeemedInfo{
			RegistrationID: already.Registration.ID,
			Name:           already.Registration.Name,
			EventTitle:     already.EventTitle,
			RedeemedAt:     already.At,
			RedeemedBy:     already.By,
		})
		return
	}
	if response.StatusOf(err) >= 500 {
		h.logger.Error("redeem failed", zap.Error(err))
	}
	response.Error(c, err)
}
