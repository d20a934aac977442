package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Nijaek/analytics-dashboard/pkg/logging"
)

func newTestLimiter(t *testing.T) (*RateLimiter, *time.Time) {
	t.Helper()
	rl := NewRateLimiter(logging.NewLogger())
	t.Cleanup(rl.Stop)

	current := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return current }
	return rl, &current
}

func TestAllowTokenMath(t *testing.T) {
	rl, clock := newTestLimiter(t)

	for i := 0; i < 5; i++ {
		allowed, remaining, _ := rl.Allow("login:10.0.0.1", 5)
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if remaining != 4-i {
			t.Errorf("request %d: remaining = %d, want %d", i+1, remaining, 4-i)
		}
	}

	allowed, _, resetSeconds := rl.Allow("login:10.0.0.1", 5)
	if allowed {
		t.Fatal("sixth request within the window should be denied")
	}
	if resetSeconds != 13 {
		t.Errorf("resetSeconds = %d, want 13", resetSeconds)
	}

	// One token refills every 12 seconds at 5/minute.
	*clock = clock.Add(12 * time.Second)
	allowed, remaining, _ := rl.Allow("login:10.0.0.1", 5)
	if !allowed {
		t.Fatal("request after refill should be allowed")
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
}

func TestAllowKeysAreIndependent(t *testing.T) {
	rl, _ := newTestLimiter(t)

	if allowed, _, _ := rl.Allow("login:10.0.0.1", 1); !allowed {
		t.Fatal("first client should be allowed")
	}
	if allowed, _, _ := rl.Allow("login:10.0.0.1", 1); allowed {
		t.Fatal("first client should now be limited")
	}
	if allowed, _, _ := rl.Allow("login:10.0.0.2", 1); !allowed {
		t.Error("second client must have its own bucket")
	}
	if allowed, _, _ := rl.Allow("register:10.0.0.1", 1); !allowed {
		t.Error("another route must have its own bucket")
	}
}

func TestAllowCapsAtLimit(t *testing.T) {
	rl, clock := newTestLimiter(t)

	if allowed, _, _ := rl.Allow("k", 5); !allowed {
		t.Fatal("first request should be allowed")
	}

	// A long idle period must not bank more than one limit's worth.
	*clock = clock.Add(time.Hour)
	for i := 0; i < 5; i++ {
		if allowed, _, _ := rl.Allow("k", 5); !allowed {
			t.Fatalf("request %d after idle should be allowed", i+1)
		}
	}
	if allowed, _, _ := rl.Allow("k", 5); allowed {
		t.Fatal("bucket must cap at the limit")
	}
}

func TestCleanupDropsIdleBuckets(t *testing.T) {
	rl, clock := newTestLimiter(t)

	rl.Allow("old", 5)
	*clock = clock.Add(6 * time.Minute)
	rl.Allow("fresh", 5)
	rl.cleanup()

	if _, ok := rl.buckets.Load("old"); ok {
		t.Error("idle bucket should be dropped")
	}
	if _, ok := rl.buckets.Load("fresh"); !ok {
		t.Error("active bucket should survive cleanup")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl, _ := newTestLimiter(t)

	r := gin.New()
	r.POST("/auth/login", RateLimit(rl, "login", 2), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("POST", "/auth/login", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
		if got := w.Header().Get("X-RateLimit-Limit"); got != "2" {
			t.Errorf("X-RateLimit-Limit = %q, want 2", got)
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/auth/login", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 must carry Retry-After")
	}
	if w.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", w.Header().Get("X-RateLimit-Remaining"))
	}
}
