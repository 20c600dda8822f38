package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayGuard/app/repository/memory"
	"github.com/ManuelReschke/PayGuard/internal/pkg/apikey"
	"github.com/ManuelReschke/PayGuard/internal/pkg/apperrors"
	"github.com/ManuelReschke/PayGuard/internal/pkg/entitlements"
	"github.com/ManuelReschke/PayGuard/internal/pkg/ratelimit"
	"github.com/ManuelReschke/PayGuard/internal/pkg/usercontext"
)

const (
	activeKey = "pg_live_active_0123456789abcdef"
	nextKey   = "pg_live_next_fedcba9876543210"
)

type usageSpy struct {
	mu   sync.Mutex
	keys []string
}

func (u *usageSpy) Record(_ context.Context, keyID, _, _ string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.keys = append(u.keys, keyID)
	return nil
}

func newKeyStore(t *testing.T) *apikey.KeyStore {
	t.Helper()
	ks, err := apikey.NewKeyStore(apikey.Config{ActiveKey: activeKey, NextKey: nextKey, ActiveID: "k-active", NextID: "k-next"})
	require.NoError(t, err)
	return ks
}

func newApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}
	return resp, body
}

func echoUser(c *fiber.Ctx) error {
	return c.JSON(usercontext.GetUserContext(c))
}

func TestRequireAPIKey(t *testing.T) {
	usage := &usageSpy{}
	app := newApp()
	app.Get("/p", RequireAPIKey(newKeyStore(t), usage), echoUser)

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
		wantMsg    string
		deprecated bool
	}{
		{"missing", nil, 401, apikey.ErrMissingKey.Error(), false},
		{"invalid", map[string]string{"X-API-Key": "wrong-key-123"}, 401, "Invalid API key", false},
		{"active bearer", map[string]string{"Authorization": "Bearer " + activeKey}, 200, "", false},
		{"next key header", map[string]string{"X-API-Key": nextKey}, 200, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/p", nil)
			req.Header.Set(usercontext.HeaderUserID, "user-1")
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			resp, body := doRequest(t, app, req)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus == 401 {
				assert.Equal(t, float64(401), body["code"])
				assert.Equal(t, "Unauthorized", body["error"])
				assert.Equal(t, tt.wantMsg, body["message"])
				return
			}
			assert.Equal(t, "user-1", body["user_id"])
			assert.Equal(t, true, body["is_authenticated"])
			if tt.deprecated {
				assert.Equal(t, apikey.DeprecationMessage, resp.Header.Get(apikey.DeprecationHeader))
			} else {
				assert.Empty(t, resp.Header.Get(apikey.DeprecationHeader))
			}
		})
	}
	assert.Equal(t, []string{"k-active", "k-next"}, usage.keys)
}

func TestOptionalAPIKey(t *testing.T) {
	app := newApp()
	app.Get("/p", OptionalAPIKey(newKeyStore(t), nil), echoUser)

	resp, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/p", nil))
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, false, body["is_authenticated"])

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("X-API-Key", "bogus-key-value")
	resp, _ = doRequest(t, app, req)
	assert.Equal(t, 401, resp.StatusCode)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestRateLimitStrictBoundary(t *testing.T) {
	clk := &clock{t: time.Now()}
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStoreWithClock(clk.Now))
	app := newApp()
	app.Post("/api/v1/payments/capture", RateLimit(limiter, ratelimit.ProfileStrict, "salt"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	send := func() (*http.Response, map[string]any) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/capture", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		return doRequest(t, app, req)
	}

	for i := 1; i <= 5; i++ {
		resp, _ := send()
		require.Equal(t, 200, resp.StatusCode, "request %d", i)
		assert.Equal(t, "5", resp.Header.Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Reset"))
	}

	resp, body := send()
	assert.Equal(t, 429, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, "Too Many Requests", body["error"])
	assert.Contains(t, body["message"], "Rate limit exceeded for /api/v1/payments/capture")
	assert.GreaterOrEqual(t, body["retryAfter"], float64(1))

	clk.Advance(15*time.Minute + time.Second)
	resp, _ = send()
	assert.Equal(t, 200, resp.StatusCode)
}

func TestRateLimitIgnoresForwardedHeadersFromUntrustedPeer(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore())
	app := newApp()
	app.Post("/api/v1/payments/capture", RateLimit(limiter, ratelimit.ProfileStrict, "salt"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	admitted := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/capture", nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		req.Header.Set("X-Real-IP", fmt.Sprintf("192.0.2.%d", i+1))
		resp, _ := doRequest(t, app, req)
		if resp.StatusCode == fiber.StatusOK {
			admitted++
		}
	}
	assert.Equal(t, 5, admitted)
}

func TestRateLimitKeysOnVerifiedKeyNotAssertedUser(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore())
	app := newApp()
	app.Post("/api/v1/payments/capture",
		RequireAPIKey(newKeyStore(t), nil),
		RateLimit(limiter, ratelimit.ProfileStrict, "salt"),
		func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) },
	)

	admitted := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/capture", nil)
		req.Header.Set(usercontext.HeaderAPIKey, activeKey)
		req.Header.Set(usercontext.HeaderUserID, fmt.Sprintf("user-%d", i))
		resp, _ := doRequest(t, app, req)
		if resp.StatusCode == fiber.StatusOK {
			admitted++
		}
	}
	assert.Equal(t, 5, admitted)

	// another key has its own budget
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/capture", nil)
	req.Header.Set(usercontext.HeaderAPIKey, nextKey)
	resp, _ := doRequest(t, app, req)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRateLimitExemptsHealth(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore())
	app := newApp()
	app.Use(RateLimit(limiter, ratelimit.ProfileStrict, "salt"))
	app.Get("/api/v1/health", func(c *fiber.Ctx) error { return c.SendStatus(200) })

	for i := 0; i < 10; i++ {
		resp, _ := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
		require.Equal(t, 200, resp.StatusCode)
		assert.Empty(t, resp.Header.Get("X-RateLimit-Limit"))
	}
}

type brokenStore struct{}

func (brokenStore) Increment(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("redis: connection refused")
}

func TestRateLimitFailsOpen(t *testing.T) {
	app := newApp()
	app.Get("/x", RateLimit(ratelimit.NewLimiter(brokenStore{}), ratelimit.ProfileStrict, "salt"), func(c *fiber.Ctx) error {
		return c.SendStatus(200)
	})
	for i := 0; i < 7; i++ {
		resp, _ := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, 200, resp.StatusCode)
	}
}

// asUser binds a caller identity without going through key derivation.
func asUser(c *fiber.Ctx) error {
	if id := c.Get(usercontext.HeaderUserID); id != "" {
		usercontext.SetUserContext(c, usercontext.UserContext{UserID: id, IsAuthenticated: true})
	}
	return c.Next()
}

func newGuardApp(t *testing.T) (*fiber.App, *entitlements.Service) {
	t.Helper()
	ents := entitlements.NewService(memory.NewEntitlementRepository(), nil)
	monitor := entitlements.NewMonitor(entitlements.NewMemoryCounterStore())
	quota := entitlements.NewQuota(memory.NewUsageRepository())
	guard := NewGuard(ents, monitor, quota, "https://quiz.example.com")

	ok := func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"allowed": true, "plan": usercontext.GetUserContext(c).Plan})
	}
	app := newApp()
	app.Use(asUser)
	app.Get("/content/:difficulty", guard.RequireCapability("difficulty"), ok)
	app.Get("/quizzes/:level", guard.RequireCapability("level", AllowAnonymousPreview()), ok)
	app.Post("/usage/:category", guard.ConsumeQuota("category"), func(c *fiber.Ctx) error {
		return c.JSON(c.Locals(usercontext.KeyUsage))
	})
	return app, ents
}

func get(path, user string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if user != "" {
		req.Header.Set(usercontext.HeaderUserID, user)
	}
	return req
}

func TestRequireCapability(t *testing.T) {
	app, ents := newGuardApp(t)
	require.NoError(t, ents.Grant(context.Background(), "u-int", entitlements.PlanEntitlements(entitlements.PlanIntermediate)))

	resp, body := doRequest(t, app, get("/content/medium", "u-int"))
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "intermediate", body["plan"])

	resp, body = doRequest(t, app, get("/content/hard", "u-int"))
	assert.Equal(t, 403, resp.StatusCode)
	assert.Equal(t, "Forbidden", body["error"])
	assert.Equal(t, "advanced", body["requiredPlan"])
	assert.Equal(t, "advanced", body["suggestedPlan"])
	assert.Equal(t, "intermediate", body["currentPlan"])
	assert.Equal(t, "https://quiz.example.com/pricing?plan=advanced", body["upgradeUrl"])

	resp, _ = doRequest(t, app, get("/content/impossible", "u-int"))
	assert.Equal(t, 400, resp.StatusCode)

	// anonymous callers need the preview option
	resp, _ = doRequest(t, app, get("/content/easy", ""))
	assert.Equal(t, 401, resp.StatusCode)
	resp, body = doRequest(t, app, get("/quizzes/junior", ""))
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "free", body["plan"])
	resp, body = doRequest(t, app, get("/quizzes/intermediate", ""))
	assert.Equal(t, 403, resp.StatusCode)
	assert.Equal(t, "intermediate", body["suggestedPlan"])
}

func TestRepeatedDenialsAreThrottled(t *testing.T) {
	app, _ := newGuardApp(t)
	statuses := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		resp, _ := doRequest(t, app, get("/content/hard", "u-free"))
		statuses = append(statuses, resp.StatusCode)
	}
	assert.Equal(t, []int{403, 403, 429, 429}, statuses)
}

func TestConsumeQuota(t *testing.T) {
	app, _ := newGuardApp(t)
	post := func() (*http.Response, map[string]any) {
		req := httptest.NewRequest(http.MethodPost, "/usage/quizzes", nil)
		req.Header.Set(usercontext.HeaderUserID, "u-free")
		return doRequest(t, app, req)
	}
	for i := 1; i <= 3; i++ {
		resp, body := post()
		require.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, float64(i), body["used"])
		assert.Equal(t, float64(3), body["limit"])
	}
	resp, body := post()
	assert.Equal(t, 429, resp.StatusCode)
	assert.Equal(t, "Quota Exceeded", body["error"])
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	req := httptest.NewRequest(http.MethodPost, "/usage/videos", nil)
	req.Header.Set(usercontext.HeaderUserID, "u-free")
	resp, _ = doRequest(t, app, req)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"validation", apperrors.Validation("Invalid request", map[string]string{"planType": "failed on oneof"}), 400, "Invalid request"},
		{"not found", apperrors.NotFound("Payment not found"), 404, "Payment not found"},
		{"capture denied", apperrors.CaptureDenied("declined"), 402, "Payment was declined"},
		{"gateway", apperrors.Gateway("capture", errors.New("dial tcp")), 500, "Payment provider request failed"},
		{"plain error", errors.New("db exploded"), 500, "Internal server error"},
		{"fiber error", fiber.ErrMethodNotAllowed, 405, "Method Not Allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newApp()
			app.Get("/", func(c *fiber.Ctx) error { return tt.err })
			resp, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.message, body["message"])
			assert.Equal(t, float64(tt.status), body["code"])
			assert.NotContains(t, body["message"], "dial tcp")
		})
	}
}
