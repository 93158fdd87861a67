package events

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eventgate/backend/pkg/response"
)

// Handler handles event HTTP endpoints.
type Handler struct {
	dir    *Directory
	logger *zap.Logger
}

// NewHandler creates an events handler.
func NewHandler(dir *Directory, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{dir: dir, logger: logger}
}

// List handles GET /events. With ?stats=1 each event carries its counts.
func (h *Handler) List(c *gin.Context) {
	if c.Query("stats") == "1" || c.Query("stats") == "true" {
		list, err := h.dir.ListWithStats(c.Request.Context())
		if err != nil {
			h.fail(c, "list events", err)
			return
		}
		response.OK(c, list)
		return
	}
	list, err := h.dir.List(c.Request.Context())
	if err != nil {
		h.fail(c, "list events", err)
		return
	}
	response.OK(c, list)
}

// Get handles GET /events/:id.
func (h *Handler) Get(c *gin.Context) {
	e, err := h.dir.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get event", err)
		return
	}
	response.OK(c, e)
}

// Stats handles GET /events/:id/stats.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.dir.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "event stats", err)
		return
	}
	response.OK(c, stats)
}

// Create handles POST /events.
func (h *Handler) Create(c *gin.Context) {
	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	e, err := h.dir.Create(c.Request.Context(), in)
	if err != nil {
		h.fail(c, "create event", err)
		return
	}
	response.Created(c, e)
}

// Update handles PATCH /events/:id.
func (h *Handler) Update(c *gin.Context) {
	var p Patch
	if err := c.ShouldBindJSON(&p); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	e, err := h.dir.Update(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		h.fail(c, "update event", err)
		return
	}
	response.OK(c, e)
}

// Delete handles DELETE /events/:id. Partial cascade failures are returned
// as warnings alongside the report.
func (h *Handler) Delete(c *gin.Context) {
	report, err := h.dir.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "delete event", err)
		return
	}
	if report.Err != nil {
		response.OK(c, gin.H{"report": report, "warning": report.Err.Error()})
		return
	}
	response.OK(c, gin.H{"report": report})
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	if response.StatusOf(err) >= 500 {
		h.logger.Error(op+" failed", zap.Error(err))
	}
	response.Error(c, err)
}
