// Package middleware carries the route-level guards: user authentication,
// ingest key authentication, and per-route rate limits. Request-scoped
// plumbing (request id, logging, recovery, CORS) lives in pkg/middleware.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Nijaek/analytics-dashboard/internal/ingest"
	"github.com/Nijaek/analytics-dashboard/internal/models"
	"github.com/Nijaek/analytics-dashboard/internal/session"
	"github.com/Nijaek/analytics-dashboard/pkg/apperr"
	"github.com/Nijaek/analytics-dashboard/pkg/auth"
	"github.com/Nijaek/analytics-dashboard/pkg/logging"
	pkgmw "github.com/Nijaek/analytics-dashboard/pkg/middleware"
)

// Cookie names shared between the auth middleware and the auth handlers.
// logged_in is readable by the dashboard (not httponly) as a UI hint only.
const (
	CookieAccessToken  = "access_token"
	CookieRefreshToken = "refresh_token"
	CookieLoggedIn     = "logged_in"
)

const keyProject = "project"

// RequireUser authenticates dashboard and API callers. The access token
// comes from the Authorization header, falling back to the access_token
// cookie for browser sessions. A token is valid only while its jti is
// still present in the session store, so revocation wins over exp.
func RequireUser(secret []byte, sessions *session.Store, logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := tokenFromRequest(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		claims, err := auth.ValidateToken(token, secret)
		if err != nil || claims.TokenType != auth.TokenTypeAccess {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		owner, ok, err := sessions.AccessTokenUser(c.Request.Context(), claims.ID)
		if err != nil {
			// Cannot prove the token was not revoked, so fail closed.
			logger.WithError(err).Error("Token presence check failed")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
			return
		}
		if !ok || owner != userID {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(pkgmw.KeyUserID, userID)
		c.Set(pkgmw.KeyTokenJTI, claims.ID)
		c.Next()
	}
}

func tokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	if cookie, err := c.Cookie(CookieAccessToken); err == nil {
		return cookie
	}
	return ""
}

// RequireProjectKey authenticates SDK ingest calls from the X-API-Key
// header. The resolved project lands in the context for the handler.
func RequireProjectKey(coordinator *ingest.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		project, err := coordinator.ResolveProject(c.Request.Context(), c.GetHeader("X-API-Key"))
		if err != nil {
			c.AbortWithStatusJSON(apperr.HTTPStatus(apperr.KindOf(err)), gin.H{"error": apperr.ClientMessage(err)})
			return
		}

		c.Set(pkgmw.KeyProjectID, project.ID)
		c.Set(keyProject, project)
		c.Next()
	}
}

// ProjectFromContext returns the project stored by RequireProjectKey.
func ProjectFromContext(c *gin.Context) (*models.Project, bool) {
	v, ok := c.Get(keyProject)
	if !ok {
		return nil, false
	}
	project, ok := v.(*models.Project)
	return project, ok
}
