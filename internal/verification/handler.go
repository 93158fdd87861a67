package verification

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eventgate/backend/internal/apperr"
	"github.com/eventgate/backend/internal/middleware"
	"github.com/eventgate/backend/internal/models"
	"github.com/eventgate/backend/pkg/response"
)

// ScanRequest is the body for POST /scan-sessions/:id/scan.
type ScanRequest struct {
	Raw string `json:"raw"`
}

// ManualRequest is the body for POST /scan-sessions/:id/manual.
type ManualRequest struct {
	TicketID string `json:"ticket_id"`
}

// SubmitResponse is returned for every accepted submission.
type SubmitResponse struct {
	Outcome  Outcome  `json:"outcome"`
	Counters Counters `json:"counters"`
}

// Handler exposes scanning sessions over HTTP.
type Handler struct {
	manager *Manager
	logger  *zap.Logger
}

// NewHandler creates a verification handler.
func NewHandler(manager *Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, logger: logger}
}

// Start handles POST /scan-sessions.
func (h *Handler) Start(c *gin.Context) {
	s := h.manager.Start(middleware.UserID(c))
	response.Created(c, s.Snapshot())
}

// Scan handles POST /scan-sessions/:id/scan.
func (h *Handler) Scan(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	out, err := s.SubmitScan(c.Request.Context(), req.Raw, middleware.UserID(c))
	h.reply(c, s, out, err)
}

// Manual handles POST /scan-sessions/:id/manual.
func (h *Handler) Manual(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req ManualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	out, err := s.SubmitManual(c.Request.Context(), req.TicketID, middleware.UserID(c))
	h.reply(c, s, out, err)
}

// Get handles GET /scan-sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	response.OK(c, s.Snapshot())
}

// End handles DELETE /scan-sessions/:id.
func (h *Handler) End(c *gin.Context) {
	if _, ok := h.session(c); !ok {
		return
	}
	snap, err := h.manager.End(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, snap)
}

// session loads the session and checks the caller may drive it.
func (h *Handler) session(c *gin.Context) (*Session, bool) {
	s, err := h.manager.Get(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	if s.OwnerID() != middleware.UserID(c) && middleware.Role(c) != models.RoleAdmin {
		response.Error(c, apperr.ErrForbidden)
		return nil, false
	}
	return s, true
}

// reply answers 200 for every recorded outcome, including rejections: the
// rejection is data for the scanner screen, not a failed request.
func (h *Handler) reply(c *gin.Context, s *Session, out Outcome, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	if out.Entry != nil && out.Entry.Status == StatusError {
		h.logger.Warn("scan hit store failure", zap.String("session_id", s.ID()), zap.Error(out.Err))
	}
	response.OK(c, SubmitResponse{Outcome: out, Counters: s.Counters()})
}
