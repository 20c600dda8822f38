package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/idempotency"

	apiv1 "github.com/ManuelReschke/PayGuard/internal/api/v1"
	"github.com/ManuelReschke/PayGuard/internal/pkg/middleware"
	"github.com/ManuelReschke/PayGuard/internal/pkg/ratelimit"
)

// ApiDeps is everything the versioned API routes are built from.
type ApiDeps struct {
	Server  *apiv1.APIServer
	Auth    middleware.Authenticator
	Usage   middleware.UsageRecorder
	Limiter *ratelimit.Limiter
	Guard   *middleware.Guard
	// Salt keys the hashed IP+identity rate limit buckets.
	Salt string
	// IdempotencyStorage holds replayable order responses. Nil keeps them in memory.
	IdempotencyStorage fiber.Storage
}

type ApiRouter struct {
	deps ApiDeps
}

func NewApiRouter(deps ApiDeps) *ApiRouter {
	return &ApiRouter{deps: deps}
}

func (h ApiRouter) limit(profile string) fiber.Handler {
	return middleware.RateLimit(h.deps.Limiter, profile, h.deps.Salt)
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	d := h.deps
	s := d.Server
	requireKey := middleware.RequireAPIKey(d.Auth, d.Usage)
	optionalKey := middleware.OptionalAPIKey(d.Auth, d.Usage)

	app.Get("/health", s.GetHealth)

	api := app.Group("/api")
	api.Get("/health", s.GetHealth)

	v1 := api.Group("/v1")
	v1.Get("/health", s.GetHealth)

	// Payments
	v1.Post("/payments/orders",
		requireKey,
		h.limit(ratelimit.ProfileModerate),
		idempotency.New(idempotency.Config{
			Lifetime: 30 * time.Minute,
			Storage:  d.IdempotencyStorage,
		}),
		s.PostPaymentOrder,
	)
	v1.Post("/payments/capture", requireKey, h.limit(ratelimit.ProfileStrict), s.PostPaymentCapture)

	// Gateway callbacks are authenticated by signature, not API key
	v1.Post("/webhooks/paypal", h.limit(ratelimit.ProfileWebhook), s.PostPayPalWebhook)

	// Gated content
	v1.Get("/content/:difficulty",
		requireKey, h.limit(ratelimit.ProfileGenerous), d.Guard.RequireCapability("difficulty"), s.GetContent)
	v1.Get("/quizzes/:level",
		optionalKey, h.limit(ratelimit.ProfileGenerous), d.Guard.RequireCapability("level", middleware.AllowAnonymousPreview()), s.GetQuiz)
	v1.Post("/usage/:category",
		requireKey, h.limit(ratelimit.ProfileModerate), d.Guard.ConsumeQuota("category"), s.PostUsage)
	v1.Get("/entitlements/me", requireKey, h.limit(ratelimit.ProfileGenerous), s.GetMyEntitlements)

	// Admin
	admin := v1.Group("/admin", requireKey, h.limit(ratelimit.ProfileAdmin))
	admin.Get("/audit/verify", s.GetAuditVerify)
	admin.Get("/audit/logs", s.GetAuditLogs)
	admin.Get("/audit/stats", s.GetAuditStats)
	admin.Get("/apikeys/status", s.GetAPIKeyStatus)
	admin.Get("/violations/stats", s.GetViolationStats)
	admin.Get("/webhooks/failed", s.GetFailedWebhooks)
	admin.Post("/webhooks/:id/retry", s.PostWebhookRetry)
}
