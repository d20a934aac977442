package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Nijaek/analytics-dashboard/internal/ingest"
	mw "github.com/Nijaek/analytics-dashboard/internal/middleware"
	"github.com/Nijaek/analytics-dashboard/internal/models"
	"github.com/Nijaek/analytics-dashboard/internal/validation"
	"github.com/Nijaek/analytics-dashboard/pkg/apperr"
	"github.com/Nijaek/analytics-dashboard/pkg/logging"
)

// EventHandler serves the key-authenticated ingest endpoint.
type EventHandler struct {
	coordinator *ingest.Coordinator
	validator   *validation.BatchValidator
	logger      logging.Logger
}

func NewEventHandler(coordinator *ingest.Coordinator, logger logging.Logger) *EventHandler {
	return &EventHandler{coordinator: coordinator, validator: validation.NewBatchValidator(), logger: logger}
}

// Ingest accepts a batch of 1..100 events. The whole batch lands in the
// buffer or none of it does, so a 200 means every event was accepted.
func (h *EventHandler) Ingest(c *gin.Context) {
	project, ok := mw.ProjectFromContext(c)
	if !ok {
		respondError(c, h.logger, apperr.Unauthorized("invalid or missing API key"))
		return
	}

	var batch models.IngestBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		respondBindError(c, err)
		return
	}
	if err := h.validator.ValidateBatch(&batch); err != nil {
		respondError(c, h.logger, err)
		return
	}

	accepted, err := h.coordinator.Accept(c.Request.Context(), project, batch, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": accepted})
}
