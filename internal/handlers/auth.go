package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	mw "github.com/Nijaek/analytics-dashboard/internal/middleware"
	"github.com/Nijaek/analytics-dashboard/internal/session"
	"github.com/Nijaek/analytics-dashboard/internal/store"
	"github.com/Nijaek/analytics-dashboard/pkg/apperr"
	"github.com/Nijaek/analytics-dashboard/pkg/auth"
	"github.com/Nijaek/analytics-dashboard/pkg/logging"
	pkgmw "github.com/Nijaek/analytics-dashboard/pkg/middleware"
)

// AuthConfig carries the token issue parameters.
type AuthConfig struct {
	Secret        []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SecureCookies bool
}

// AuthHandler serves registration, login, token rotation, and the
// socket ticket endpoint.
type AuthHandler struct {
	store    *store.Store
	sessions *session.Store
	logger   logging.Logger
	cfg      AuthConfig
}

func NewAuthHandler(st *store.Store, sessions *session.Store, logger logging.Logger, cfg AuthConfig) *AuthHandler {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = auth.DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = auth.DefaultRefreshTTL
	}
	return &AuthHandler{store: st, sessions: sessions, logger: logger, cfg: cfg}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=8,max=128"`
	FullName string `json:"full_name" binding:"omitempty,max=255"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Register creates an account. 201 on success, 409 on a taken email.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	user, err := h.store.CreateUser(c.Request.Context(), strings.ToLower(req.Email), hashed, req.FullName)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logging.Fields{"user_id": user.ID}).Info("User registered")
	c.JSON(http.StatusCreated, user)
}

// Login verifies credentials behind the lockout gate. Unknown emails
// burn a bcrypt compare so response timing does not reveal which factor
// failed, and the error text never does either.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	ctx := c.Request.Context()
	email := strings.ToLower(req.Email)

	locked, err := h.sessions.IsLockedOut(ctx, email)
	if err != nil {
		// Lockout is advisory; a degraded session store must not block logins.
		h.logger.WithError(err).Warn("Lockout check failed, continuing")
	} else if locked {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account temporarily locked, try again later"})
		return
	}

	user, err := h.store.GetUserByEmail(ctx, email)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			auth.BurnPasswordCheck(req.Password)
			h.recordLoginFailure(ctx, email)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "incorrect email or password"})
			return
		}
		respondError(c, h.logger, err)
		return
	}

	if !auth.CheckPassword(req.Password, user.HashedPassword) {
		h.recordLoginFailure(ctx, email)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "incorrect email or password"})
		return
	}
	if !user.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "account disabled"})
		return
	}

	if err := h.sessions.ClearLoginFailures(ctx, email); err != nil {
		h.logger.WithError(err).Warn("Failed to clear login failures")
	}

	h.issueTokens(c, user.ID)
}

// Refresh rotates the token pair. The old refresh token and every
// outstanding access token die with the rotation.
func (h *AuthHandler) Refresh(c *gin.Context) {
	token := h.refreshTokenFromRequest(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token required"})
		return
	}
	ctx := c.Request.Context()

	claims, err := auth.ValidateToken(token, h.cfg.Secret)
	if err != nil || claims.TokenType != auth.TokenTypeRefresh {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}

	owner, ok, err := h.sessions.RefreshTokenUser(ctx, claims.ID)
	if err != nil {
		respondError(c, h.logger, apperr.Wrap(apperr.KindUnavailable, "token refresh temporarily unavailable", err))
		return
	}
	if !ok || owner != userID {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}

	user, err := h.store.GetUserByID(ctx, userID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
			return
		}
		respondError(c, h.logger, err)
		return
	}
	if !user.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "account disabled"})
		return
	}

	if err := h.sessions.RevokeRefreshToken(ctx, userID, claims.ID); err != nil {
		h.logger.WithError(err).Warn("Failed to revoke rotated refresh token")
	}
	if _, err := h.sessions.RevokeAllAccessTokens(ctx, userID); err != nil {
		h.logger.WithError(err).Warn("Failed to revoke access tokens on rotation")
	}

	h.issueTokens(c, userID)
}

// Logout revokes the presented refresh token and every access token of
// the caller, then clears the auth cookies.
func (h *AuthHandler) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	userID := pkgmw.GetUserID(c)

	if token := h.refreshTokenFromRequest(c); token != "" {
		claims, err := auth.ValidateToken(token, h.cfg.Secret)
		if err == nil && claims.TokenType == auth.TokenTypeRefresh {
			uid, err := claims.UserID()
			if err == nil && uid != userID {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token does not belong to caller"})
				return
			}
			if err == nil {
				if err := h.sessions.RevokeRefreshToken(ctx, userID, claims.ID); err != nil {
					h.logger.WithError(err).Warn("Failed to revoke refresh token on logout")
				}
			}
		}
	}

	if _, err := h.sessions.RevokeAllAccessTokens(ctx, userID); err != nil {
		h.logger.WithError(err).Warn("Failed to revoke access tokens on logout")
	}

	h.ClearAuthCookies(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// WSTicket issues a short-lived single-use ticket for the live socket.
func (h *AuthHandler) WSTicket(c *gin.Context) {
	ticket, err := h.sessions.CreateSocketTicket(c.Request.Context(), pkgmw.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, apperr.Wrap(apperr.KindUnavailable, "ticket issue temporarily unavailable", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.store.GetUserByID(c.Request.Context(), pkgmw.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *AuthHandler) issueTokens(c *gin.Context, userID int64) {
	ctx := c.Request.Context()

	access, accessJTI, err := auth.GenerateToken(userID, auth.TokenTypeAccess, h.cfg.AccessTTL, h.cfg.Secret)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	refresh, refreshJTI, err := auth.GenerateToken(userID, auth.TokenTypeRefresh, h.cfg.RefreshTTL, h.cfg.Secret)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	// Presence in the session store is what makes a token valid, so a
	// failed write means no login, not a degraded one.
	if err := h.sessions.StoreAccessToken(ctx, userID, accessJTI, h.cfg.AccessTTL); err != nil {
		respondError(c, h.logger, apperr.Wrap(apperr.KindUnavailable, "login temporarily unavailable", err))
		return
	}
	if err := h.sessions.StoreRefreshToken(ctx, userID, refreshJTI, h.cfg.RefreshTTL); err != nil {
		respondError(c, h.logger, apperr.Wrap(apperr.KindUnavailable, "login temporarily unavailable", err))
		return
	}

	h.setAuthCookies(c, access, refresh)
	c.JSON(http.StatusOK, tokenResponse{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"})
}

func (h *AuthHandler) refreshTokenFromRequest(c *gin.Context) string {
	if cookie, err := c.Cookie(mw.CookieRefreshToken); err == nil && cookie != "" {
		return cookie
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err == nil {
		return req.RefreshToken
	}
	return ""
}

func (h *AuthHandler) setAuthCookies(c *gin.Context, access, refresh string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(mw.CookieAccessToken, access, int(h.cfg.AccessTTL.Seconds()), "/", "", h.cfg.SecureCookies, true)
	c.SetCookie(mw.CookieRefreshToken, refresh, int(h.cfg.RefreshTTL.Seconds()), "/", "", h.cfg.SecureCookies, true)
	c.SetCookie(mw.CookieLoggedIn, "true", int(h.cfg.RefreshTTL.Seconds()), "/", "", h.cfg.SecureCookies, false)
}

// ClearAuthCookies expires the auth cookies. The user handler calls it
// after a password change so the browser session dies with the tokens.
func (h *AuthHandler) ClearAuthCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(mw.CookieAccessToken, "", -1, "/", "", h.cfg.SecureCookies, true)
	c.SetCookie(mw.CookieRefreshToken, "", -1, "/", "", h.cfg.SecureCookies, true)
	c.SetCookie(mw.CookieLoggedIn, "", -1, "/", "", h.cfg.SecureCookies, false)
}

func (h *AuthHandler) recordLoginFailure(ctx context.Context, email string) {
	if _, err := h.sessions.RecordLoginFailure(ctx, email); err != nil {
		h.logger.WithError(err).Warn("Failed to record login failure")
	}
}
