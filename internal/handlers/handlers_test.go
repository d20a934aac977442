package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Nijaek/analytics-dashboard/internal/session"
	"github.com/Nijaek/analytics-dashboard/internal/store"
	"github.com/Nijaek/analytics-dashboard/pkg/logging"
	pkgmw "github.com/Nijaek/analytics-dashboard/pkg/middleware"
)

var testSecret = []byte("test-secret")

// harness bundles the fakes every handler needs: a sqlmock-backed store
// and a miniredis-backed session store.
type harness struct {
	store    *store.Store
	mock     sqlmock.Sqlmock
	sessions *session.Store
	redis    *miniredis.Miniredis
	client   *goredis.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := logging.NewLogger()
	return &harness{
		store:    store.New(db, logger),
		mock:     mock,
		sessions: session.New(client, logger),
		redis:    mr,
		client:   client,
	}
}

// asUser stands in for the session-checking middleware on protected routes.
func asUser(userID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(pkgmw.KeyUserID, userID)
	}
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeJSON(t *testing.T, resp *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), into); err != nil {
		t.Fatalf("failed to decode response %q: %v", resp.Body.String(), err)
	}
}

func findCookie(resp *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range resp.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
