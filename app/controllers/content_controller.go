package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayGuard/internal/pkg/apperrors"
	"github.com/ManuelReschke/PayGuard/internal/pkg/entitlements"
	"github.com/ManuelReschke/PayGuard/internal/pkg/usercontext"
)

// PlanReader resolves plans and current usage for the entitlement endpoints.
type PlanReader interface {
	TierForUser(ctx context.Context, userID string) (entitlements.Tier, []string, error)
}

// UsageReader reports per-category usage. *entitlements.Quota implements it.
type UsageReader interface {
	Usage(ctx context.Context, userID string, tier entitlements.Tier) ([]entitlements.UsageState, error)
}

// ContentController serves the gated content routes. Access checks run in
// the entitlement guard before these handlers.
type ContentController struct {
	plans PlanReader
	usage UsageReader
}

func NewContentController(plans PlanReader, usage UsageReader) *ContentController {
	return &ContentController{plans: plans, usage: usage}
}

// HandleContent confirms access to a difficulty.
func (cc *ContentController) HandleContent(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	return c.JSON(fiber.Map{
		"allowed":    true,
		"plan":       uc.Plan,
		"difficulty": c.Params("difficulty"),
	})
}

// HandleQuiz confirms access to a quiz level. Anonymous callers get the free preview.
func (cc *ContentController) HandleQuiz(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	return c.JSON(fiber.Map{
		"allowed":   true,
		"plan":      uc.Plan,
		"level":     c.Params("level"),
		"anonymous": uc.UserID == "",
	})
}

// HandleUsage returns the state left in Locals by the quota guard.
func (cc *ContentController) HandleUsage(c *fiber.Ctx) error {
	state, ok := c.Locals(usercontext.KeyUsage).(*entitlements.UsageState)
	if !ok || state == nil {
		return apperrors.Internal(nil)
	}
	return c.JSON(fiber.Map{
		"category": state.Category,
		"used":     state.Used,
		"limit":    state.Limit,
		"resetAt":  state.ResetAt,
	})
}

// HandleEntitlementsMe describes the caller's plan, granted entitlements,
// feature limits and today's usage.
func (cc *ContentController) HandleEntitlementsMe(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	if userID == "" {
		return apperrors.Validation(usercontext.HeaderUserID+" header is required", map[string]string{"userId": "failed on required"})
	}

	ctx := c.UserContext()
	tier, ents, err := cc.plans.TierForUser(ctx, userID)
	if err != nil {
		return apperrors.Internal(err)
	}
	usage, err := cc.usage.Usage(ctx, userID, tier)
	if err != nil {
		return apperrors.Internal(err)
	}
	if ents == nil {
		ents = []string{}
	}

	return c.JSON(fiber.Map{
		"userId":       userID,
		"plan":         tier,
		"entitlements": ents,
		"features":     entitlements.FeaturesFor(tier),
		"usage":        usage,
	})
}
