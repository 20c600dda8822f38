package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to controllers to keep behavior consistent
	"github.com/ManuelReschke/PayGuard/app/controllers"
)

// Health is the liveness response body.
type Health struct {
	Status string `json:"status"`
}

// APIServer groups the versioned API handlers.
type APIServer struct {
	Payments *controllers.PaymentController
	Webhooks *controllers.WebhookController
	Content  *controllers.ContentController
	Admin    *controllers.AdminController
}

// NewAPIServer creates a new API server instance
func NewAPIServer(
	payments *controllers.PaymentController,
	webhooks *controllers.WebhookController,
	content *controllers.ContentController,
	admin *controllers.AdminController,
) *APIServer {
	return &APIServer{Payments: payments, Webhooks: webhooks, Content: content, Admin: admin}
}

// GetHealth handles the health endpoint. It is exempt from rate limiting.
func (s *APIServer) GetHealth(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(Health{Status: "ok"})
}

func (s *APIServer) PostPaymentOrder(c *fiber.Ctx) error {
	return s.Payments.HandleCreateOrder(c)
}

func (s *APIServer) PostPaymentCapture(c *fiber.Ctx) error {
	return s.Payments.HandleCaptureOrder(c)
}

func (s *APIServer) PostPayPalWebhook(c *fiber.Ctx) error {
	return s.Webhooks.HandlePayPalWebhook(c)
}

func (s *APIServer) GetContent(c *fiber.Ctx) error {
	return s.Content.HandleContent(c)
}

func (s *APIServer) GetQuiz(c *fiber.Ctx) error {
	return s.Content.HandleQuiz(c)
}

func (s *APIServer) PostUsage(c *fiber.Ctx) error {
	return s.Content.HandleUsage(c)
}

func (s *APIServer) GetMyEntitlements(c *fiber.Ctx) error {
	return s.Content.HandleEntitlementsMe(c)
}

// Admin endpoints. Security is enforced via API key middleware and the admin
// rate limit profile attached in the router.

func (s *APIServer) GetAuditVerify(c *fiber.Ctx) error {
	return s.Admin.HandleVerifyAudit(c)
}

func (s *APIServer) GetAuditLogs(c *fiber.Ctx) error {
	return s.Admin.HandleAuditLogs(c)
}

func (s *APIServer) GetAuditStats(c *fiber.Ctx) error {
	return s.Admin.HandleAuditStats(c)
}

func (s *APIServer) GetAPIKeyStatus(c *fiber.Ctx) error {
	return s.Admin.HandleAPIKeyStatus(c)
}

func (s *APIServer) GetViolationStats(c *fiber.Ctx) error {
	return s.Admin.HandleViolationStats(c)
}

func (s *APIServer) GetFailedWebhooks(c *fiber.Ctx) error {
	return s.Admin.HandleFailedWebhooks(c)
}

func (s *APIServer) PostWebhookRetry(c *fiber.Ctx) error {
	return s.Admin.HandleRetryWebhook(c)
}
