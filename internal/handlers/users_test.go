package handlers

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/lib/pq"

	mw "github.com/Nijaek/analytics-dashboard/internal/middleware"
	"github.com/Nijaek/analytics-dashboard/internal/models"
	"github.com/Nijaek/analytics-dashboard/pkg/auth"
	"github.com/Nijaek/analytics-dashboard/pkg/logging"
	"github.com/Nijaek/analytics-dashboard/pkg/testutil"
)

func newUserRouter(t *testing.T) (*gin.Engine, *harness) {
	t.Helper()
	h := newHarness(t)
	logger := logging.NewLogger()
	ah := NewAuthHandler(h.store, h.sessions, logger, AuthConfig{Secret: testSecret})
	uh := NewUserHandler(h.store, h.sessions, logger, ah.ClearAuthCookies)

	router := gin.New()
	router.PATCH("/users/me", asUser(7), uh.UpdateProfile)
	router.POST("/users/me/password", asUser(7), uh.ChangePassword)
	return router, h
}

func TestUpdateProfileChangesEmail(t *testing.T) {
	router, h := newUserRouter(t)

	updated := testutil.SeedUser(7)
	updated.Email = "new@example.com"
	h.mock.ExpectQuery(regexp.QuoteMeta(`UPDATE users`)).
		WithArgs(int64(7), "new@example.com", nil).
		WillReturnRows(testutil.UserRows(updated))

	resp := doJSON(t, router, http.MethodPatch, "/users/me", gin.H{"email": "NEW@example.com"})

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var got models.User
	decodeJSON(t, resp, &got)
	if got.Email != "new@example.com" {
		t.Errorf("expected lowercased email, got %q", got.Email)
	}
	if err := h.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpdateProfileEmailTaken(t *testing.T) {
	router, h := newUserRouter(t)

	h.mock.ExpectQuery(regexp.QuoteMeta(`UPDATE users`)).
		WithArgs(int64(7), "taken@example.com", nil).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

	resp := doJSON(t, router, http.MethodPatch, "/users/me", gin.H{"email": "taken@example.com"})

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestUpdateProfileRejectsBadEmail(t *testing.T) {
	router, _ := newUserRouter(t)

	resp := doJSON(t, router, http.MethodPatch, "/users/me", gin.H{"email": "not-an-email"})

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	router, h := newUserRouter(t)

	user := testutil.SeedUser(7)
	h.mock.ExpectQuery(regexp.QuoteMeta(`FROM users`)).
		WithArgs(int64(7)).
		WillReturnRows(testutil.UserRows(user))

	resp := doJSON(t, router, http.MethodPost, "/users/me/password", gin.H{
		"current_password": "not-the-password",
		"new_password":     "a brand new passphrase",
	})

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), "current password is incorrect") {
		t.Errorf("unexpected body: %s", resp.Body.String())
	}
	// Only the lookup may hit the database; no UPDATE was expected.
	if err := h.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestChangePasswordRejectsShortNewPassword(t *testing.T) {
	router, _ := newUserRouter(t)

	resp := doJSON(t, router, http.MethodPost, "/users/me/password", gin.H{
		"current_password": testutil.SeedPassword,
		"new_password":     "short",
	})

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestChangePasswordRevokesAllSessions(t *testing.T) {
	router, h := newUserRouter(t)
	ctx := context.Background()

	_, accessJTI, err := auth.GenerateToken(7, auth.TokenTypeAccess, time.Hour, testSecret)
	if err != nil {
		t.Fatalf("failed to mint access token: %v", err)
	}
	if err := h.sessions.StoreAccessToken(ctx, 7, accessJTI, time.Hour); err != nil {
		t.Fatalf("failed to store access token: %v", err)
	}
	_, refreshJTI, err := auth.GenerateToken(7, auth.TokenTypeRefresh, time.Hour, testSecret)
	if err != nil {
		t.Fatalf("failed to mint refresh token: %v", err)
	}
	if err := h.sessions.StoreRefreshToken(ctx, 7, refreshJTI, time.Hour); err != nil {
		t.Fatalf("failed to store refresh token: %v", err)
	}

	user := testutil.SeedUser(7)
	h.mock.ExpectQuery(regexp.QuoteMeta(`FROM users`)).
		WithArgs(int64(7)).
		WillReturnRows(testutil.UserRows(user))
	h.mock.ExpectExec(regexp.QuoteMeta(`UPDATE users`)).
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	resp := doJSON(t, router, http.MethodPost, "/users/me/password", gin.H{
		"current_password": testutil.SeedPassword,
		"new_password":     "a brand new passphrase",
	})

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", resp.Code, resp.Body.String())
	}
	if _, ok, _ := h.sessions.AccessTokenUser(ctx, accessJTI); ok {
		t.Error("access token survived password change")
	}
	if _, ok, _ := h.sessions.RefreshTokenUser(ctx, refreshJTI); ok {
		t.Error("refresh token survived password change")
	}
	cleared := findCookie(resp, mw.CookieAccessToken)
	if cleared == nil || cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Errorf("expected expired access_token cookie, got %+v", cleared)
	}
	if err := h.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
