package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayGuard/internal/pkg/billing"
)

// Signature headers sent by PayPal with every webhook delivery.
const (
	HeaderPayPalAuthAlgo         = "Paypal-Auth-Algo"
	HeaderPayPalCertURL          = "Paypal-Cert-Url"
	HeaderPayPalTransmissionID   = "Paypal-Transmission-Id"
	HeaderPayPalTransmissionSig  = "Paypal-Transmission-Sig"
	HeaderPayPalTransmissionTime = "Paypal-Transmission-Time"
)

// WebhookService verifies and applies gateway notifications.
// *billing.WebhookProcessor implements it.
type WebhookService interface {
	Process(ctx context.Context, body []byte, headers billing.SignatureHeaders) (billing.Outcome, error)
	Reprocess(ctx context.Context, id uint) (billing.Outcome, error)
}

// WebhookController receives gateway notifications
type WebhookController struct {
	webhooks WebhookService
}

func NewWebhookController(webhooks WebhookService) *WebhookController {
	return &WebhookController{webhooks: webhooks}
}

// HandlePayPalWebhook answers 400 for deliveries that fail verification and
// 200 for everything accepted, including duplicates and events whose
// handling failed and was queued for retry.
func (wc *WebhookController) HandlePayPalWebhook(c *fiber.Ctx) error {
	headers := billing.SignatureHeaders{
		AuthAlgo:         c.Get(HeaderPayPalAuthAlgo),
		CertURL:          c.Get(HeaderPayPalCertURL),
		TransmissionID:   c.Get(HeaderPayPalTransmissionID),
		TransmissionSig:  c.Get(HeaderPayPalTransmissionSig),
		TransmissionTime: c.Get(HeaderPayPalTransmissionTime),
	}
	// fasthttp reuses the body buffer after the handler returns
	body := append([]byte(nil), c.Body()...)

	outcome, err := wc.webhooks.Process(c.UserContext(), body, headers)
	switch {
	case outcome == billing.OutcomeRejected:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"received": false,
			"error":    "Invalid webhook signature",
		})
	case err != nil:
		return err
	case outcome == billing.OutcomeDuplicate:
		return c.JSON(fiber.Map{"received": true, "duplicate": true})
	default:
		return c.JSON(fiber.Map{"received": true})
	}
}
