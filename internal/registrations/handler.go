package registrations

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eventgate/backend/internal/apperr"
	"github.com/eventgate/backend/internal/models"
	"github.com/eventgate/backend/internal/ticket"
	"github.com/eventgate/backend/pkg/response"
	"github.com/eventgate/backend/pkg/storage"
)

// EventGetter resolves the event a ticket belongs to.
type EventGetter interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

// ImageURLs returns download links for rendered ticket images.
type ImageURLs interface {
	TicketImageURL(ctx context.Context, eventID, registrationID string) (string, error)
}

// RegisterResponse is returned by POST /events/:id/register. Existing is true
// when the email already held a ticket and that ticket is returned.
type RegisterResponse struct {
	Registration models.Registration `json:"registration"`
	QRPayload    string              `json:"qr_payload"`
	Existing     bool                `json:"existing"`
}

// EventSummary is the event part of a ticket view.
type EventSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Date  string `json:"date"`
	Time  string `json:"time"`
	Venue string `json:"venue"`
}

// TicketView is returned by GET /tickets/:id.
type TicketView struct {
	Registration models.Registration `json:"registration"`
	Event        *EventSummary       `json:"event,omitempty"`
	QRPayload    string              `json:"qr_payload"`
}

// Handler handles registration and ticket HTTP endpoints.
type Handler struct {
	ledger *Ledger
	events EventGetter
	images ImageURLs
	logger *zap.Logger
}

// NewHandler creates a registrations handler. images may be nil when object
// storage is not configured.
func NewHandler(ledger *Ledger, events EventGetter, images ImageURLs, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ledger: ledger, events: events, images: images, logger: logger}
}

// Register handles POST /events/:id/register. A repeat registration answers
// 200 with the existing ticket instead of an error.
func (h *Handler) Register(c *gin.Context) {
	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	reg, err := h.ledger.Register(c.Request.Context(), c.Param("id"), in)
	var already *apperr.AlreadyRegisteredError
	switch {
	case errors.As(err, &already):
		response.OK(c, RegisterResponse{
			Registration: already.Existing,
			QRPayload:    ticket.PayloadFor(&already.Existing),
			Existing:     true,
		})
	case err != nil:
		h.fail(c, "register", err)
	default:
		response.Created(c, RegisterResponse{Registration: *reg, QRPayload: ticket.PayloadFor(reg)})
	}
}

// ListForEvent handles GET /events/:id/registrations.
func (h *Handler) ListForEvent(c *gin.Context) {
	list, err := h.ledger.ListForEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "list registrations", err)
		return
	}
	response.OK(c, list)
}

// Lookup handles GET /events/:id/registrations/lookup?email=.
func (h *Handler) Lookup(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		response.BadRequest(c, "email is required")
		return
	}
	reg, err := h.ledger.Find(c.Request.Context(), c.Param("id"), email)
	if err != nil {
		h.fail(c, "lookup registration", err)
		return
	}
	response.OK(c, reg)
}

// Ticket handles GET /tickets/:id.
func (h *Handler) Ticket(c *gin.Context) {
	reg, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get ticket", err)
		return
	}
	view := TicketView{Registration: *reg, QRPayload: ticket.PayloadFor(reg)}
	if e, err := h.events.GetEvent(c.Request.Context(), reg.EventID); err == nil {
		view.Event = &EventSummary{ID: e.ID, Title: e.Title, Date: e.Date, Time: e.Time, Venue: e.Venue}
	} else if !errors.Is(err, apperr.ErrNotFound) {
		h.logger.Warn("ticket event lookup failed", zap.String("event_id", reg.EventID), zap.Error(err))
	}
	response.OK(c, view)
}

// QRCode handles GET /tickets/:id/qr.png?size=N.
func (h *Handler) QRCode(c *gin.Context) {
	reg, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get ticket", err)
		return
	}
	size := ticket.DefaultQRSize
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 64 || n > 1024 {
			response.BadRequest(c, "size must be between 64 and 1024")
			return
		}
		size = n
	}
	png, err := ticket.RenderPNG(ticket.PayloadFor(reg), size)
	if err != nil {
		h.logger.Error("render qr failed", zap.String("registration_id", reg.ID), zap.Error(err))
		response.Internal(c, "failed to render ticket")
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, "image/png", png)
}

// ImageURL handles GET /tickets/:id/image-url.
func (h *Handler) ImageURL(c *gin.Context) {
	if h.images == nil {
		response.ServiceUnavailable(c, "ticket images are not enabled")
		return
	}
	reg, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get ticket", err)
		return
	}
	url, err := h.images.TicketImageURL(c.Request.Context(), reg.EventID, reg.ID)
	if errors.Is(err, storage.ErrObjectNotFound) {
		response.NotFound(c, "ticket image not ready yet")
		return
	}
	if err != nil {
		h.logger.Error("presign ticket image failed", zap.String("registration_id", reg.ID), zap.Error(err))
		response.ServiceUnavailable(c, "ticket image unavailable")
		return
	}
	response.OK(c, gin.H{"url": url})
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	if response.StatusOf(err) >= 500 {
		h.logger.Error(op+" failed", zap.Error(err))
	}
	response.Error(c, err)
}
