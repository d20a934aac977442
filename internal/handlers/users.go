package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Nijaek/analytics-dashboard/internal/session"
	"github.com/Nijaek/analytics-dashboard/internal/store"
	"github.com/Nijaek/analytics-dashboard/pkg/auth"
	"github.com/Nijaek/analytics-dashboard/pkg/logging"
	pkgmw "github.com/Nijaek/analytics-dashboard/pkg/middleware"
)

// UserHandler serves profile and password updates for the caller.
type UserHandler struct {
	store    *store.Store
	sessions *session.Store
	logger   logging.Logger
	clear    func(*gin.Context)
}

// NewUserHandler wires the handler. clearCookies is shared with the
// auth handler so a password change drops the browser session too.
func NewUserHandler(st *store.Store, sessions *session.Store, logger logging.Logger, clearCookies func(*gin.Context)) *UserHandler {
	return &UserHandler{store: st, sessions: sessions, logger: logger, clear: clearCookies}
}

type updateProfileRequest struct {
	Email    *string `json:"email" binding:"omitempty,email,max=255"`
	FullName *string `json:"full_name" binding:"omitempty,max=255"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8,max=128"`
}

// UpdateProfile applies a partial update. A taken email maps to 409.
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if req.Email != nil {
		normalized := strings.ToLower(*req.Email)
		req.Email = &normalized
	}

	user, err := h.store.UpdateUserProfile(c.Request.Context(), pkgmw.GetUserID(c), req.Email, req.FullName)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// ChangePassword verifies the current password, swaps the hash, and
// revokes every token the account holds. The caller logs in again.
func (h *UserHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	ctx := c.Request.Context()
	userID := pkgmw.GetUserID(c)

	user, err := h.store.GetUserByID(ctx, userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !auth.CheckPassword(req.CurrentPassword, user.HashedPassword) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "current password is incorrect"})
		return
	}

	hashed, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.store.UpdateUserPassword(ctx, userID, hashed); err != nil {
		respondError(c, h.logger, err)
		return
	}

	if _, err := h.sessions.RevokeAllAccessTokens(ctx, userID); err != nil {
		h.logger.WithError(err).Warn("Failed to revoke access tokens after password change")
	}
	if _, err := h.sessions.RevokeAllRefreshTokens(ctx, userID); err != nil {
		h.logger.WithError(err).Warn("Failed to revoke refresh tokens after password change")
	}

	if h.clear != nil {
		h.clear(c)
	}
	c.Status(http.StatusNoContent)
}
