package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayGuard/app/controllers"
	"github.com/ManuelReschke/PayGuard/app/models"
	"github.com/ManuelReschke/PayGuard/app/repository/memory"
	apiv1 "github.com/ManuelReschke/PayGuard/internal/api/v1"
	"github.com/ManuelReschke/PayGuard/internal/pkg/apikey"
	"github.com/ManuelReschke/PayGuard/internal/pkg/audit"
	"github.com/ManuelReschke/PayGuard/internal/pkg/billing"
	"github.com/ManuelReschke/PayGuard/internal/pkg/entitlements"
	"github.com/ManuelReschke/PayGuard/internal/pkg/middleware"
	"github.com/ManuelReschke/PayGuard/internal/pkg/ratelimit"
)

const (
	testKey     = "pk_active_0123456789abcdef"
	openAPIFile = "../../../docs/openapi.yml"
)

type stubGateway struct {
	mu      sync.Mutex
	creates int
}

func (g *stubGateway) Name() string { return models.GatewayPayPal }

func (g *stubGateway) CreateOrder(_ context.Context, _ billing.OrderRequest) (*billing.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates++
	return &billing.GatewayOrder{ID: fmt.Sprintf("GW-%d", g.creates), Status: "CREATED"}, nil
}

func (g *stubGateway) CaptureOrder(context.Context, string, string) (*billing.CaptureResponse, error) {
	return &billing.CaptureResponse{Status: billing.CaptureStatusCompleted}, nil
}

func (g *stubGateway) VerifyWebhookSignature(_ context.Context, h billing.SignatureHeaders, _ []byte) (bool, error) {
	return h.Complete(), nil
}

func (g *stubGateway) createCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creates
}

func newTestApp(t *testing.T) (*fiber.App, *stubGateway) {
	t.Helper()
	repos := memory.NewRepositories()
	gw := &stubGateway{}

	ledger := audit.NewLedger(repos.AuditLog)
	ents := entitlements.NewService(repos.Entitlement, nil)
	subs := billing.NewSubscriptions(repos.Subscription, ents, ledger)
	orch := billing.NewOrchestrator(repos.Payment, gw, billing.NewStaticPricing(nil), subs, ledger)
	webhooks := billing.NewWebhookProcessor(repos.WebhookEvent, repos.Payment, gw, orch, ledger)
	monitor := entitlements.NewMonitor(entitlements.NewMemoryCounterStore())
	quota := entitlements.NewQuota(repos.Usage)

	keys, err := apikey.NewKeyStore(apikey.Config{ActiveKey: testKey})
	require.NoError(t, err)

	server := apiv1.NewAPIServer(
		controllers.NewPaymentController(orch),
		controllers.NewWebhookController(webhooks),
		controllers.NewContentController(ents, quota),
		controllers.NewAdminController(ledger, keys, repos.APIKeyUsage, monitor, webhooks, repos.WebhookEvent),
	)

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	InstallRouter(app,
		NewHttpRouter("metrics", "secret", openAPIFile),
		NewApiRouter(ApiDeps{
			Server:  server,
			Auth:    keys,
			Limiter: ratelimit.NewLimiter(ratelimit.NewMemoryStore()),
			Guard:   middleware.NewGuard(ents, monitor, quota, "https://app.example.com"),
			Salt:    "test-salt",
		}),
	)
	return app, gw
}

func call(t *testing.T, app *fiber.App, method, target, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return resp, out
}

func authed(extra map[string]string) map[string]string {
	h := map[string]string{fiber.HeaderAuthorization: "Bearer " + testKey}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

func TestHealthIsPublic(t *testing.T) {
	app, _ := newTestApp(t)
	for _, path := range []string{"/health", "/api/health", "/api/v1/health"} {
		t.Run(path, func(t *testing.T) {
			resp, body := call(t, app, http.MethodGet, path, "", nil)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "ok", body["status"])
			assert.Empty(t, resp.Header.Get("X-RateLimit-Limit"))
		})
	}
}

func TestProtectedRoutesRequireAPIKey(t *testing.T) {
	app, _ := newTestApp(t)
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/payments/orders"},
		{http.MethodPost, "/api/v1/payments/capture"},
		{http.MethodGet, "/api/v1/content/easy"},
		{http.MethodPost, "/api/v1/usage/questions"},
		{http.MethodGet, "/api/v1/entitlements/me"},
		{http.MethodGet, "/api/v1/admin/audit/verify"},
		{http.MethodGet, "/api/v1/admin/apikeys/status"},
		{http.MethodPost, "/api/v1/admin/webhooks/1/retry"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp, body := call(t, app, tt.method, tt.path, `{}`, nil)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Contains(t, body["message"], "API key required")
		})
	}
}

func TestCreateOrderFlow(t *testing.T) {
	app, gw := newTestApp(t)

	resp, body := call(t, app, http.MethodPost, "/api/v1/payments/orders",
		`{"planType":"SENIOR","billingCycle":"monthly","currency":"USD","cartId":"cart-1"}`,
		authed(map[string]string{"X-User-ID": "u-1"}))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "GW-1", body["orderID"])
	assert.Equal(t, "49.99", body["amount"])
	assert.Equal(t, "30", resp.Header.Get("X-RateLimit-Limit"))

	resp, body = call(t, app, http.MethodPost, "/api/v1/payments/orders",
		`{"planType":"PLATINUM","billingCycle":"monthly","currency":"USD"}`,
		authed(map[string]string{"X-User-ID": "u-1"}))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, 1, gw.createCalls())
}

func TestCreateOrderIdempotencyKeyReplays(t *testing.T) {
	app, gw := newTestApp(t)
	key := uuid.NewString()

	var first map[string]any
	for i, cart := range []string{"cart-a", "cart-b"} {
		resp, body := call(t, app, http.MethodPost, "/api/v1/payments/orders",
			fmt.Sprintf(`{"planType":"BUNDLE","billingCycle":"yearly","currency":"SAR","cartId":%q}`, cart),
			authed(map[string]string{"X-User-ID": "u-2", "X-Idempotency-Key": key}))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		if i == 0 {
			first = body
			continue
		}
		assert.Equal(t, first["orderID"], body["orderID"])
	}
	assert.Equal(t, 1, gw.createCalls())
}

func TestWebhookRouteSkipsAPIKey(t *testing.T) {
	app, _ := newTestApp(t)

	resp, body := call(t, app, http.MethodPost, "/api/v1/webhooks/paypal", `{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["received"])

	resp, body = call(t, app, http.MethodPost, "/api/v1/webhooks/paypal", `{"id":"WH-2","event_type":"BILLING.PLAN.CREATED","resource":{}}`, map[string]string{
		"paypal-auth-algo":         "SHA256withRSA",
		"paypal-cert-url":          "https://api.paypal.com/cert.pem",
		"paypal-transmission-id":   "tx-1",
		"paypal-transmission-sig":  "sig",
		"paypal-transmission-time": "2026-01-01T00:00:00Z",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["received"])
}

func TestQuizPreviewWithoutKey(t *testing.T) {
	app, _ := newTestApp(t)

	resp, body := call(t, app, http.MethodGet, "/api/v1/quizzes/junior", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "free", body["plan"])

	resp, body = call(t, app, http.MethodGet, "/api/v1/quizzes/senior", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "advanced", body["requiredPlan"])

	resp, _ = call(t, app, http.MethodGet, "/api/v1/quizzes/junior", "", map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminRoutesUseAdminProfile(t *testing.T) {
	app, _ := newTestApp(t)

	resp, body := call(t, app, http.MethodGet, "/api/v1/admin/audit/verify", "", authed(nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "20", resp.Header.Get("X-RateLimit-Limit"))
}

func TestMetricsRequireBasicAuth(t *testing.T) {
	app, _ := newTestApp(t)

	resp, _ := call(t, app, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("metrics", "secret")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "go_goroutines")
}

var routeParam = regexp.MustCompile(`:([A-Za-z]+)`)

// Every mounted v1 route must be described in the published document.
func TestOpenAPIDocumentCoversRoutes(t *testing.T) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(openAPIFile)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(loader.Context))

	app, _ := newTestApp(t)
	checked := 0
	for _, r := range app.GetRoutes(true) {
		if !strings.HasPrefix(r.Path, "/api/v1/") || (r.Method != http.MethodGet && r.Method != http.MethodPost) {
			continue
		}
		path := routeParam.ReplaceAllString(strings.TrimPrefix(r.Path, "/api/v1"), "{$1}")
		item := doc.Paths.Find(path)
		if !assert.NotNil(t, item, "undocumented path %s", path) {
			continue
		}
		assert.NotNil(t, item.GetOperation(r.Method), "undocumented operation %s %s", r.Method, path)
		checked++
	}
	assert.GreaterOrEqual(t, checked, 15)
}
