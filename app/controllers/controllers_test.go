package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayGuard/app/models"
	"github.com/ManuelReschke/PayGuard/app/repository/memory"
	"github.com/ManuelReschke/PayGuard/internal/pkg/apikey"
	"github.com/ManuelReschke/PayGuard/internal/pkg/apperrors"
	"github.com/ManuelReschke/PayGuard/internal/pkg/audit"
	"github.com/ManuelReschke/PayGuard/internal/pkg/billing"
	"github.com/ManuelReschke/PayGuard/internal/pkg/entitlements"
	"github.com/ManuelReschke/PayGuard/internal/pkg/middleware"
	"github.com/ManuelReschke/PayGuard/internal/pkg/usercontext"
)

type fakeOrders struct {
	gotInput   billing.CreateOrderInput
	gotActor   audit.Actor
	gotOrderID string
	createErr  error
	captureErr error
}

func (f *fakeOrders) CreateOrder(_ context.Context, in billing.CreateOrderInput, actor audit.Actor) (*billing.CreateOrderResult, error) {
	f.gotInput = in
	f.gotActor = actor
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &billing.CreateOrderResult{OrderID: "5O190127TN364715T", InternalOrderID: "ORD-1", Amount: "9.99", Currency: in.Currency}, nil
}

func (f *fakeOrders) CaptureOrder(_ context.Context, orderID string, actor audit.Actor) (*billing.CaptureResult, error) {
	f.gotOrderID = orderID
	f.gotActor = actor
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	return &billing.CaptureResult{Status: billing.CaptureStatusCompleted, CaptureID: "CAP-1", PayerEmail: "buyer@example.com"}, nil
}

type fakeWebhooks struct {
	outcome    billing.Outcome
	err        error
	gotBody    string
	gotHeaders billing.SignatureHeaders
	gotID      uint
}

func (f *fakeWebhooks) Process(_ context.Context, body []byte, headers billing.SignatureHeaders) (billing.Outcome, error) {
	f.gotBody = string(body)
	f.gotHeaders = headers
	return f.outcome, f.err
}

func (f *fakeWebhooks) Reprocess(_ context.Context, id uint) (billing.Outcome, error) {
	f.gotID = id
	return f.outcome, f.err
}

// asCaller stands in for the API key middleware.
func asCaller(uc usercontext.UserContext) fiber.Handler {
	return func(c *fiber.Ctx) error {
		usercontext.SetUserContext(c, uc)
		return c.Next()
	}
}

func newApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
}

func doJSON(t *testing.T, app *fiber.App, method, target, body string, headers map[string]string) (int, map[string]any) {
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
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestHandleCreateOrder(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		caller     usercontext.UserContext
		createErr  error
		wantStatus int
		wantUser   string
		wantError  string
	}{
		{
			name:       "Priced order",
			body:       `{"userId":"u-1","planType":"senior","billingCycle":"Monthly","currency":"usd","cartId":"cart-9"}`,
			caller:     usercontext.UserContext{KeyID: "k-active", IsAuthenticated: true},
			wantStatus: http.StatusOK,
			wantUser:   "u-1",
		},
		{
			name:       "User from header when body omits it",
			body:       `{"planType":"BUNDLE","billingCycle":"yearly","currency":"JOD"}`,
			caller:     usercontext.UserContext{UserID: "u-header", KeyID: "k-active", IsAuthenticated: true},
			wantStatus: http.StatusOK,
			wantUser:   "u-header",
		},
		{
			name:       "Malformed body",
			body:       `{"planType":`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request body",
		},
		{
			name:       "Validation failure",
			body:       `{"userId":"u-1","planType":"GOLD","billingCycle":"monthly","currency":"USD"}`,
			createErr:  apperrors.Validation("Invalid request", map[string]string{"planType": "failed on oneof"}),
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request",
		},
		{
			name:       "Gateway failure hides detail",
			body:       `{"userId":"u-1","planType":"SENIOR","billingCycle":"monthly","currency":"USD"}`,
			createErr:  apperrors.Gateway("create order", errors.New("dial tcp: connection refused")),
			wantStatus: http.StatusInternalServerError,
			wantError:  "Payment provider request failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &fakeOrders{createErr: tt.createErr}
			app := newApp()
			app.Post("/orders", asCaller(tt.caller), NewPaymentController(orders).HandleCreateOrder)

			status, body := doJSON(t, app, http.MethodPost, "/orders", tt.body, nil)
			assert.Equal(t, tt.wantStatus, status)

			if tt.wantError != "" {
				assert.Equal(t, false, body["success"])
				assert.Equal(t, tt.wantError, body["error"])
				assert.NotContains(t, body["error"], "connection refused")
				return
			}
			assert.Equal(t, true, body["success"])
			assert.Equal(t, "5O190127TN364715T", body["orderID"])
			assert.Equal(t, tt.wantUser, orders.gotInput.UserID)
			assert.Equal(t, tt.wantUser, orders.gotActor.ID)
		})
	}
}

func TestHandleCreateOrderNormalizesInput(t *testing.T) {
	orders := &fakeOrders{}
	app := newApp()
	app.Post("/orders", NewPaymentController(orders).HandleCreateOrder)

	status, _ := doJSON(t, app, http.MethodPost, "/orders",
		`{"userId":" u-1 ","planType":"senior","billingCycle":"MONTHLY","currency":"sar","amount":"0.01"}`, nil)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, billing.CreateOrderInput{
		UserID:       "u-1",
		PlanType:     "SENIOR",
		BillingCycle: "monthly",
		Currency:     "SAR",
	}, orders.gotInput)
}

func TestHandleCaptureOrder(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		captureErr error
		wantStatus int
		wantError  string
	}{
		{"Completed", `{"orderID":"5O190127TN364715T"}`, nil, http.StatusOK, ""},
		{"Missing order id", `{}`, nil, http.StatusBadRequest, "orderID is required"},
		{"Unknown order", `{"orderID":"nope"}`, apperrors.NotFound("Order not found"), http.StatusNotFound, "Order not found"},
		{"Declined", `{"orderID":"5O190127TN364715T"}`, apperrors.CaptureDenied("INSTRUMENT_DECLINED"), http.StatusPaymentRequired, "Payment was declined"},
		{"Unexpected error", `{"orderID":"5O190127TN364715T"}`, errors.New("boom"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &fakeOrders{captureErr: tt.captureErr}
			app := newApp()
			app.Post("/capture", asCaller(usercontext.UserContext{UserID: "u-1", IsAuthenticated: true}), NewPaymentController(orders).HandleCaptureOrder)

			status, body := doJSON(t, app, http.MethodPost, "/capture", tt.body, nil)
			assert.Equal(t, tt.wantStatus, status)
			if tt.wantError != "" {
				assert.Equal(t, false, body["success"])
				assert.Equal(t, tt.wantError, body["error"])
				return
			}
			assert.Equal(t, true, body["success"])
			assert.Equal(t, "COMPLETED", body["status"])
			assert.Equal(t, "CAP-1", body["captureID"])
			assert.Equal(t, "buyer@example.com", body["payerEmail"])
			assert.Equal(t, "5O190127TN364715T", orders.gotOrderID)
		})
	}
}

func TestHandlePayPalWebhook(t *testing.T) {
	tests := []struct {
		name       string
		outcome    billing.Outcome
		err        error
		wantStatus int
		wantBody   map[string]any
	}{
		{"Processed", billing.OutcomeProcessed, nil, http.StatusOK, map[string]any{"received": true}},
		{"Ignored", billing.OutcomeIgnored, nil, http.StatusOK, map[string]any{"received": true}},
		{"Failed but queued", billing.OutcomeFailed, nil, http.StatusOK, map[string]any{"received": true}},
		{"Duplicate", billing.OutcomeDuplicate, nil, http.StatusOK, map[string]any{"received": true, "duplicate": true}},
		{"Bad signature", billing.OutcomeRejected, billing.ErrSignatureInvalid, http.StatusBadRequest,
			map[string]any{"received": false, "error": "Invalid webhook signature"}},
		{"Signed but malformed", billing.OutcomeFailed, nil, http.StatusOK, map[string]any{"received": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hooks := &fakeWebhooks{outcome: tt.outcome, err: tt.err}
			app := newApp()
			app.Post("/webhooks/paypal", NewWebhookController(hooks).HandlePayPalWebhook)

			payload := `{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED"}`
			status, body := doJSON(t, app, http.MethodPost, "/webhooks/paypal", payload, map[string]string{
				"paypal-auth-algo":         "SHA256withRSA",
				"paypal-cert-url":          "https://api.paypal.com/cert.pem",
				"paypal-transmission-id":   "tx-1",
				"paypal-transmission-sig":  "sig",
				"paypal-transmission-time": "2026-01-01T00:00:00Z",
			})
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantBody, body)

			assert.Equal(t, payload, hooks.gotBody)
			assert.Equal(t, billing.SignatureHeaders{
				AuthAlgo:         "SHA256withRSA",
				CertURL:          "https://api.paypal.com/cert.pem",
				TransmissionID:   "tx-1",
				TransmissionSig:  "sig",
				TransmissionTime: "2026-01-01T00:00:00Z",
			}, hooks.gotHeaders)
		})
	}
}

func TestHandlePayPalWebhookInternalError(t *testing.T) {
	hooks := &fakeWebhooks{outcome: billing.OutcomeFailed, err: apperrors.Internal(errors.New("db down"))}
	app := newApp()
	app.Post("/webhooks/paypal", NewWebhookController(hooks).HandlePayPalWebhook)

	status, body := doJSON(t, app, http.MethodPost, "/webhooks/paypal", `{}`, nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Internal server error", body["message"])
}

func newContentApp(t *testing.T) (*fiber.App, *entitlements.Service) {
	t.Helper()
	svc := entitlements.NewService(memory.NewEntitlementRepository(), nil)
	quota := entitlements.NewQuota(memory.NewUsageRepository())
	guard := middleware.NewGuard(svc, entitlements.NewMonitor(entitlements.NewMemoryCounterStore()), quota, "https://app.example.com")
	cc := NewContentController(svc, quota)

	app := newApp()
	identify := func(c *fiber.Ctx) error {
		usercontext.SetUserContext(c, usercontext.UserContext{
			UserID:          c.Get(usercontext.HeaderUserID),
			KeyID:           "k-active",
			IsAuthenticated: true,
		})
		return c.Next()
	}
	app.Get("/content/:difficulty", identify, guard.RequireCapability("difficulty"), cc.HandleContent)
	app.Get("/quizzes/:level", guard.RequireCapability("level", middleware.AllowAnonymousPreview()), cc.HandleQuiz)
	app.Post("/usage/:category", identify, guard.ConsumeQuota("category"), cc.HandleUsage)
	app.Get("/entitlements/me", identify, cc.HandleEntitlementsMe)
	return app, svc
}

func TestContentRoutes(t *testing.T) {
	app, svc := newContentApp(t)
	require.NoError(t, svc.Grant(context.Background(), "u-senior", entitlements.PlanEntitlements(entitlements.PlanSenior)))

	status, body := doJSON(t, app, http.MethodGet, "/content/hard", "", map[string]string{usercontext.HeaderUserID: "u-senior"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["allowed"])
	assert.Equal(t, "advanced", body["plan"])
	assert.Equal(t, "hard", body["difficulty"])

	status, body = doJSON(t, app, http.MethodGet, "/content/hard", "", map[string]string{usercontext.HeaderUserID: "u-free"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "advanced", body["requiredPlan"])

	status, body = doJSON(t, app, http.MethodGet, "/quizzes/junior", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "free", body["plan"])
	assert.Equal(t, true, body["anonymous"])
}

func TestHandleUsage(t *testing.T) {
	app, _ := newContentApp(t)
	headers := map[string]string{usercontext.HeaderUserID: "u-free"}

	status, body := doJSON(t, app, http.MethodPost, "/usage/quizzes", "", headers)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "quizzes", body["category"])
	assert.EqualValues(t, 1, body["used"])
	assert.EqualValues(t, 3, body["limit"])
	assert.NotEmpty(t, body["resetAt"])
}

func TestHandleUsageWithoutGuard(t *testing.T) {
	app := newApp()
	app.Get("/usage", NewContentController(nil, nil).HandleUsage)

	status, _ := doJSON(t, app, http.MethodGet, "/usage", "", nil)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestHandleEntitlementsMe(t *testing.T) {
	app, svc := newContentApp(t)
	ctx := context.Background()
	require.NoError(t, svc.Grant(ctx, "u-mid", entitlements.PlanEntitlements(entitlements.PlanIntermediate)))

	_, _ = doJSON(t, app, http.MethodPost, "/usage/questions", "", map[string]string{usercontext.HeaderUserID: "u-mid"})

	status, body := doJSON(t, app, http.MethodGet, "/entitlements/me", "", map[string]string{usercontext.HeaderUserID: "u-mid"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "intermediate", body["plan"])
	assert.ElementsMatch(t, []any{"JUNIOR", "INTERMEDIATE"}, body["entitlements"])

	features, ok := body["features"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 50, features["questionsPerDay"])

	usage, ok := body["usage"].([]any)
	require.True(t, ok)
	require.Len(t, usage, 2)
	first := usage[0].(map[string]any)
	assert.Equal(t, "questions", first["category"])
	assert.EqualValues(t, 1, first["used"])

	status, _ = doJSON(t, app, http.MethodGet, "/entitlements/me", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

type adminFixture struct {
	app      *fiber.App
	ledger   *audit.Ledger
	events   *memory.WebhookEventRepository
	keyUsage *memory.APIKeyUsageRepository
	monitor  *entitlements.Monitor
	hooks    *fakeWebhooks
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	keys, err := apikey.NewKeyStore(apikey.Config{
		ActiveKey:         "pk_active_0123456789abcdef",
		NextKey:           "pk_next_fedcba9876543210",
		GracePeriodDays:   7,
		RotationStartedAt: time.Now().Add(-24 * time.Hour),
	})
	require.NoError(t, err)

	f := &adminFixture{
		ledger:   audit.NewLedger(memory.NewAuditLogRepository()),
		events:   memory.NewWebhookEventRepository(),
		keyUsage: memory.NewAPIKeyUsageRepository(),
		monitor:  entitlements.NewMonitor(entitlements.NewMemoryCounterStore()),
		hooks:    &fakeWebhooks{outcome: billing.OutcomeProcessed},
	}
	ac := NewAdminController(f.ledger, keys, f.keyUsage, f.monitor, f.hooks, f.events)

	f.app = newApp()
	admin := f.app.Group("/admin", asCaller(usercontext.UserContext{KeyID: "k-active", IsAuthenticated: true}))
	admin.Get("/audit/verify", ac.HandleVerifyAudit)
	admin.Get("/audit/logs", ac.HandleAuditLogs)
	admin.Get("/audit/stats", ac.HandleAuditStats)
	admin.Get("/apikeys/status", ac.HandleAPIKeyStatus)
	admin.Get("/violations/stats", ac.HandleViolationStats)
	admin.Get("/webhooks/failed", ac.HandleFailedWebhooks)
	admin.Post("/webhooks/:id/retry", ac.HandleRetryWebhook)
	return f
}

func (f *adminFixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	actor := audit.Actor{ID: "u-1", Role: "user"}
	for _, e := range []audit.Entry{
		{Action: audit.ActionPaymentCreated, Actor: actor, TargetType: "payment", TargetID: "1"},
		{Action: audit.ActionPaymentCaptured, Actor: actor, TargetType: "payment", TargetID: "1"},
		{Action: audit.ActionEntitlementGranted, Actor: audit.SystemActor, TargetType: "user", TargetID: "u-1"},
	} {
		_, err := f.ledger.Append(ctx, e)
		require.NoError(t, err)
	}
}

func TestAdminAuditEndpoints(t *testing.T) {
	f := newAdminFixture(t)
	f.seed(t)

	status, body := doJSON(t, f.app, http.MethodGet, "/admin/audit/verify", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["valid"])
	assert.EqualValues(t, 3, body["checked"])

	status, body = doJSON(t, f.app, http.MethodGet, "/admin/audit/verify?from=2&to=3", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["checked"])

	status, _ = doJSON(t, f.app, http.MethodGet, "/admin/audit/verify?from=3&to=1", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, f.app, http.MethodGet, "/admin/audit/verify?from=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = doJSON(t, f.app, http.MethodGet, "/admin/audit/logs?actor=u-1", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["count"])

	status, body = doJSON(t, f.app, http.MethodGet, "/admin/audit/logs?targetType=user&targetId=u-1", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["count"])

	status, body = doJSON(t, f.app, http.MethodGet, "/admin/audit/logs?action=payment.captured", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["count"])

	status, _ = doJSON(t, f.app, http.MethodGet, "/admin/audit/logs?action=payment.stolen", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = doJSON(t, f.app, http.MethodGet, "/admin/audit/stats", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 3, body["total"])
}

func TestAdminAPIKeyStatus(t *testing.T) {
	f := newAdminFixture(t)
	now := time.Now()
	require.NoError(t, f.keyUsage.AddUsage(context.Background(), "active", 4, &now, "10.0.0.1", "curl/8"))

	status, body := doJSON(t, f.app, http.MethodGet, "/admin/apikeys/status", "", nil)
	require.Equal(t, http.StatusOK, status)

	rotation := body["rotation"].(map[string]any)
	assert.Equal(t, "active", rotation["activeKeyId"])
	assert.Equal(t, "next", rotation["nextKeyId"])
	assert.Equal(t, true, rotation["rotationInProgress"])
	assert.Equal(t, false, rotation["graceExpired"])

	usage := body["usage"].([]any)
	require.Len(t, usage, 1)
	assert.EqualValues(t, 4, usage[0].(map[string]any)["usage_count"])
}

func TestAdminViolationStats(t *testing.T) {
	f := newAdminFixture(t)
	require.NoError(t, f.monitor.Record(context.Background(), entitlements.Violation{
		UserID: "u-1",
		Type:   entitlements.ViolationUnauthorizedAccess,
	}))

	status, body := doJSON(t, f.app, http.MethodGet, "/admin/violations/stats", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["total"])
}

func TestAdminWebhookRetry(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	_, rec, err := f.events.CreateIfNotExists(ctx, &models.WebhookEvent{
		Gateway: models.GatewayPayPal, EventID: "WH-9", EventType: "PAYMENT.CAPTURE.COMPLETED",
		PayloadJSON: `{}`, Status: models.WebhookStatusPending, ReceivedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, f.events.MarkFailed(ctx, rec.ID, "deadlock"))

	status, body := doJSON(t, f.app, http.MethodGet, "/admin/webhooks/failed", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["count"])

	status, body = doJSON(t, f.app, http.MethodPost, "/admin/webhooks/7/retry", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "processed", body["outcome"])
	assert.Equal(t, uint(7), f.hooks.gotID)

	status, _ = doJSON(t, f.app, http.MethodPost, "/admin/webhooks/abc/retry", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	f.hooks.err = apperrors.New(apperrors.KindNotFound, "Webhook event not found", billing.ErrWebhookNotFound)
	status, body = doJSON(t, f.app, http.MethodPost, "/admin/webhooks/99/retry", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Webhook event not found", body["message"])
}
