// Package handlers is the HTTP boundary: request binding, ownership
// checks, and the kind-to-status error mapping. Business rules live in
// the packages behind it.
package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Nijaek/analytics-dashboard/pkg/apperr"
	"github.com/Nijaek/analytics-dashboard/pkg/logging"
	pkgmw "github.com/Nijaek/analytics-dashboard/pkg/middleware"
)

// respondError renders a domain error. Internal details go to the log,
// never to the client.
func respondError(c *gin.Context, logger logging.Logger, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		pkgmw.GetContextLogger(c, logger).WithError(err).Error("Request failed")
	}
	c.JSON(apperr.HTTPStatus(kind), gin.H{"error": apperr.ClientMessage(err)})
}

// respondBindError renders a request binding failure as a validation error.
func respondBindError(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(apperr.KindValidation), gin.H{"error": err.Error()})
}

// pathID parses a positive integer path parameter.
func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid " + name)
	}
	return id, nil
}
