package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/PayGuard/internal/pkg/apperrors"
	"github.com/ManuelReschke/PayGuard/internal/pkg/audit"
	"github.com/ManuelReschke/PayGuard/internal/pkg/billing"
	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
	"github.com/ManuelReschke/PayGuard/internal/pkg/usercontext"
)

// OrderService runs checkout. *billing.Orchestrator implements it.
type OrderService interface {
	CreateOrder(ctx context.Context, in billing.CreateOrderInput, actor audit.Actor) (*billing.CreateOrderResult, error)
	CaptureOrder(ctx context.Context, gatewayOrderID string, actor audit.Actor) (*billing.CaptureResult, error)
}

// PaymentController handles order creation and capture
type PaymentController struct {
	orders OrderService
}

// NewPaymentController creates a new payment controller
func NewPaymentController(orders OrderService) *PaymentController {
	return &PaymentController{orders: orders}
}

type createOrderRequest struct {
	UserID       string `json:"userId"`
	PlanType     string `json:"planType"`
	BillingCycle string `json:"billingCycle"`
	Currency     string `json:"currency"`
	CartID       string `json:"cartId"`
}

type captureOrderRequest struct {
	OrderID string `json:"orderID"`
}

// HandleCreateOrder prices the requested plan server side and opens a
// gateway order. Client-supplied amounts are never read.
func (pc *PaymentController) HandleCreateOrder(c *fiber.Ctx) error {
	var req createOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return paymentError(c, apperrors.Validation("Invalid request body", nil))
	}

	uc := usercontext.GetUserContext(c)
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = uc.UserID
	}

	res, err := pc.orders.CreateOrder(c.UserContext(), billing.CreateOrderInput{
		UserID:       userID,
		PlanType:     strings.ToUpper(strings.TrimSpace(req.PlanType)),
		BillingCycle: strings.ToLower(strings.TrimSpace(req.BillingCycle)),
		Currency:     strings.ToUpper(strings.TrimSpace(req.Currency)),
		CartID:       strings.TrimSpace(req.CartID),
	}, actorFor(uc, userID))
	if err != nil {
		return paymentError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":         true,
		"orderID":         res.OrderID,
		"internalOrderId": res.InternalOrderID,
		"amount":          res.Amount,
		"currency":        res.Currency,
	})
}

// HandleCaptureOrder captures an approved order. Repeating the call for a
// completed order returns the stored result.
func (pc *PaymentController) HandleCaptureOrder(c *fiber.Ctx) error {
	var req captureOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return paymentError(c, apperrors.Validation("Invalid request body", nil))
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return paymentError(c, apperrors.Validation("orderID is required", map[string]string{"orderID": "failed on required"}))
	}

	uc := usercontext.GetUserContext(c)
	res, err := pc.orders.CaptureOrder(c.UserContext(), orderID, uc.Actor())
	if err != nil {
		return paymentError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"status":     res.Status,
		"captureID":  res.CaptureID,
		"payerEmail": res.PayerEmail,
	})
}

// actorFor attributes the call to the user the order is placed for when
// the key itself carries no user.
func actorFor(uc usercontext.UserContext, userID string) audit.Actor {
	if uc.UserID == "" && userID != "" {
		uc.UserID = userID
	}
	return uc.Actor()
}

// paymentError renders {success:false, error} with the status of the error
// kind. Internal detail only goes to the log.
func paymentError(c *fiber.Ctx, err error) error {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		appErr = apperrors.Internal(err)
	}

	if appErr.Code >= http.StatusInternalServerError {
		logger.Error(c.UserContext(), "payment request failed", err,
			zap.String("kind", string(appErr.Kind)),
			zap.String("path", c.Path()),
		)
	}

	body := fiber.Map{
		"success": false,
		"error":   appErr.Message,
	}
	if len(appErr.Fields) > 0 {
		body["fields"] = appErr.Fields
	}
	return c.Status(appErr.Code).JSON(body)
}
