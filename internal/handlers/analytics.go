package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Nijaek/analytics-dashboard/internal/query"
	"github.com/Nijaek/analytics-dashboard/internal/store"
	"github.com/Nijaek/analytics-dashboard/pkg/apperr"
	"github.com/Nijaek/analytics-dashboard/pkg/logging"
	pkgmw "github.com/Nijaek/analytics-dashboard/pkg/middleware"
	"github.com/Nijaek/analytics-dashboard/pkg/pagination"
)

// AnalyticsHandler serves the read endpoints. Each one resolves the
// project under the caller's ownership before touching any data, so a
// foreign project id reads exactly like a missing one.
type AnalyticsHandler struct {
	store  *store.Store
	engine *query.Engine
	logger logging.Logger
	now    func() time.Time
}

func NewAnalyticsHandler(st *store.Store, engine *query.Engine, logger logging.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{store: st, engine: engine, logger: logger, now: time.Now}
}

// resolveWindow checks ownership and parses the time range shared by
// every analytics endpoint.
func (h *AnalyticsHandler) resolveWindow(c *gin.Context) (int64, query.Window, bool) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, h.logger, err)
		return 0, query.Window{}, false
	}
	if _, err := h.store.GetProjectForOwner(c.Request.Context(), id, pkgmw.GetUserID(c)); err != nil {
		respondError(c, h.logger, err)
		return 0, query.Window{}, false
	}
	w, err := query.ParseWindow(h.now(), c.Query("period"), c.Query("start"), c.Query("end"))
	if err != nil {
		respondError(c, h.logger, err)
		return 0, query.Window{}, false
	}
	return id, w, true
}

// Overview returns the headline counters for the window.
func (h *AnalyticsHandler) Overview(c *gin.Context) {
	id, w, ok := h.resolveWindow(c)
	if !ok {
		return
	}
	overview, err := h.engine.Overview(c.Request.Context(), id, w)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

// Timeseries returns bucketed counts at hourly or daily granularity.
func (h *AnalyticsHandler) Timeseries(c *gin.Context) {
	id, w, ok := h.resolveWindow(c)
	if !ok {
		return
	}
	bucket, err := query.ParseGranularity(c.Query("granularity"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	points, err := h.engine.Timeseries(c.Request.Context(), id, w, bucket)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": points})
}

// TopEvents returns event names ranked by count.
func (h *AnalyticsHandler) TopEvents(c *gin.Context) {
	id, w, ok := h.resolveWindow(c)
	if !ok {
		return
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	rows, err := h.engine.TopEvents(c.Request.Context(), id, w, query.ClampTopLimit(limit))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": rows})
}

// Sessions returns per-session aggregates, paginated.
func (h *AnalyticsHandler) Sessions(c *gin.Context) {
	id, w, ok := h.resolveWindow(c)
	if !ok {
		return
	}
	params, ok := h.pageParams(c)
	if !ok {
		return
	}
	page, err := h.engine.Sessions(c.Request.Context(), id, w, params)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Users returns per-distinct-id aggregates, paginated.
func (h *AnalyticsHandler) Users(c *gin.Context) {
	id, w, ok := h.resolveWindow(c)
	if !ok {
		return
	}
	params, ok := h.pageParams(c)
	if !ok {
		return
	}
	page, err := h.engine.Users(c.Request.Context(), id, w, params)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *AnalyticsHandler) pageParams(c *gin.Context) (pagination.Params, bool) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		respondError(c, h.logger, err)
		return pagination.Params{}, false
	}
	offset, err := intQuery(c, "offset")
	if err != nil {
		respondError(c, h.logger, err)
		return pagination.Params{}, false
	}
	return pagination.Normalize(limit, offset), true
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation(name + " must be an integer")
	}
	return n, nil
}
