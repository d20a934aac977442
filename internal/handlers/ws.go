package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/Nijaek/analytics-dashboard/internal/live"
	"github.com/Nijaek/analytics-dashboard/internal/session"
	"github.com/Nijaek/analytics-dashboard/internal/store"
	"github.com/Nijaek/analytics-dashboard/pkg/apperr"
	"github.com/Nijaek/analytics-dashboard/pkg/logging"
)

// SocketHandler serves the live event stream. Auth runs over the
// upgraded socket: browsers cannot set headers on WebSocket dials, so
// the client passes a single-use ticket in the query string and the
// handler answers failures with close codes instead of HTTP statuses.
type SocketHandler struct {
	sessions *session.Store
	store    *store.Store
	hub      *live.Hub
	logger   logging.Logger
}

func NewSocketHandler(sessions *session.Store, st *store.Store, hub *live.Hub, logger logging.Logger) *SocketHandler {
	return &SocketHandler{sessions: sessions, store: st, hub: hub, logger: logger}
}

// Serve upgrades the connection, burns the ticket, checks project
// ownership, and hands the socket to the hub.
func (h *SocketHandler) Serve(c *gin.Context) {
	projectID, err := pathID(c, "id")
	if err != nil {
		c.JSON(apperr.HTTPStatus(apperr.KindValidation), gin.H{"error": apperr.ClientMessage(err)})
		return
	}

	conn, err := live.Upgrade(c.Writer, c.Request)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}
	ctx := c.Request.Context()

	ticket := c.Query("ticket")
	if ticket == "" {
		live.Reject(conn, live.CloseInvalidTicket, "Missing ticket")
		return
	}
	userID, ok, err := h.sessions.ConsumeSocketTicket(ctx, ticket)
	if err != nil {
		h.logger.WithError(err).Error("Socket ticket lookup failed")
		live.Reject(conn, live.CloseInvalidTicket, "Ticket check unavailable")
		return
	}
	if !ok {
		live.Reject(conn, live.CloseInvalidTicket, "Invalid or expired ticket")
		return
	}

	if _, err := h.store.GetProjectForOwner(ctx, projectID, userID); err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			live.Reject(conn, live.CloseProjectNotFound, "Project not found")
			return
		}
		h.logger.WithError(err).Error("Project lookup failed on socket open")
		live.Reject(conn, live.CloseProjectNotFound, "Project lookup failed")
		return
	}

	h.hub.ServeClient(conn, projectID)
}
