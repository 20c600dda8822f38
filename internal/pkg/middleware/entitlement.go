package middleware

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayGuard/app/models"
	"github.com/ManuelReschke/PayGuard/internal/pkg/apperrors"
	"github.com/ManuelReschke/PayGuard/internal/pkg/entitlements"
	"github.com/ManuelReschke/PayGuard/internal/pkg/usercontext"
)

// TierResolver loads the caller's tier. *entitlements.Service implements it.
type TierResolver interface {
	TierForUser(ctx context.Context, userID string) (entitlements.Tier, []string, error)
}

// ViolationMonitor records denials. *entitlements.Monitor implements it.
type ViolationMonitor interface {
	Record(ctx context.Context, v entitlements.Violation) error
	ShouldRateLimit(ctx context.Context, userID string) bool
}

// UsageConsumer counts quota usage. *entitlements.Quota implements it.
type UsageConsumer interface {
	Consume(ctx context.Context, userID, category, period string, tier entitlements.Tier) (*entitlements.UsageState, error)
}

// Guard gates routes on the caller's plan tier.
type Guard struct {
	tiers     TierResolver
	monitor   ViolationMonitor
	quota     UsageConsumer
	publicURL string
}

func NewGuard(tiers TierResolver, monitor ViolationMonitor, quota UsageConsumer, publicURL string) *Guard {
	return &Guard{tiers: tiers, monitor: monitor, quota: quota, publicURL: publicURL}
}

type guardConfig struct {
	preview bool
}

type GuardOption func(*guardConfig)

// AllowAnonymousPreview admits unauthenticated callers as free tier.
func AllowAnonymousPreview() GuardOption {
	return func(c *guardConfig) { c.preview = true }
}

// resolve binds the caller's tier into the user context.
func (g *Guard) resolve(c *fiber.Ctx) (usercontext.UserContext, entitlements.Tier, error) {
	uc := usercontext.GetUserContext(c)
	if uc.UserID == "" {
		uc.Plan = string(entitlements.TierFree)
		usercontext.SetUserContext(c, uc)
		return uc, entitlements.TierFree, nil
	}
	tier, ents, err := g.tiers.TierForUser(c.UserContext(), uc.UserID)
	if err != nil {
		return uc, entitlements.TierFree, apperrors.Internal(err)
	}
	uc.Plan = string(tier)
	uc.Entitlements = ents
	usercontext.SetUserContext(c, uc)
	return uc, tier, nil
}

// RequireCapability checks the capability named by route parameter param.
func (g *Guard) RequireCapability(param string, opts ...GuardOption) fiber.Handler {
	var cfg guardConfig
	for _, o := range opts {
		o(&cfg)
	}
	return func(c *fiber.Ctx) error {
		capability, ok := entitlements.ParseCapability(c.Params(param))
		if !ok {
			return apperrors.Validation("Unknown "+param, map[string]string{param: "unknown value"})
		}

		if usercontext.GetUserID(c) == "" && !cfg.preview {
			return unauthorized(c, "Authentication required")
		}
		uc, tier, err := g.resolve(c)
		if err != nil {
			return err
		}

		d := entitlements.CheckTier(tier, capability)
		if d.Allowed {
			return c.Next()
		}

		ctx := c.UserContext()
		_ = g.monitor.Record(ctx, entitlements.Violation{
			UserID:   uc.UserID,
			Type:     entitlements.ViolationUnauthorizedAccess,
			Resource: c.Path(),
			Details: map[string]any{
				"capability":   string(capability),
				"currentPlan":  string(d.CurrentPlan),
				"requiredPlan": string(d.RequiredPlan),
			},
		})
		if g.monitor.ShouldRateLimit(ctx, uc.UserID) {
			return tooManyViolations(c)
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"code":          fiber.StatusForbidden,
			"error":         "Forbidden",
			"message":       "Your plan does not include " + string(capability) + " content",
			"requiredPlan":  d.RequiredPlan,
			"suggestedPlan": d.SuggestedPlan,
			"currentPlan":   d.CurrentPlan,
			"upgradeUrl":    entitlements.UpgradeURL(g.publicURL, d.SuggestedPlan),
		})
	}
}

// ConsumeQuota counts one daily unit of the category named by route
// parameter param and stores the resulting usage in Locals.
func (g *Guard) ConsumeQuota(param string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		category := c.Params(param)
		if !entitlements.ValidCategory(category) {
			return apperrors.Validation("Unknown usage category", map[string]string{param: "unknown value"})
		}
		if usercontext.GetUserID(c) == "" {
			return apperrors.Validation(usercontext.HeaderUserID+" header is required", map[string]string{"userId": "failed on required"})
		}
		uc, tier, err := g.resolve(c)
		if err != nil {
			return err
		}

		ctx := c.UserContext()
		state, err := g.quota.Consume(ctx, uc.UserID, category, models.UsagePeriodDaily, tier)
		var exceeded *entitlements.QuotaExceeded
		if errors.As(err, &exceeded) {
			_ = g.monitor.Record(ctx, entitlements.Violation{
				UserID:   uc.UserID,
				Type:     entitlements.ViolationQuotaExceeded,
				Severity: "low",
				Resource: c.Path(),
				Details:  map[string]any{"category": category, "limit": exceeded.Limit, "used": exceeded.Used},
			})
			retryAfter := int(time.Until(exceeded.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"code":     fiber.StatusTooManyRequests,
				"error":    "Quota Exceeded",
				"message":  "Daily " + category + " limit reached for your plan",
				"limit":    exceeded.Limit,
				"used":     exceeded.Used,
				"resetAt":  exceeded.ResetAt,
				"plan":     uc.Plan,
				"category": category,
			})
		}
		if err != nil {
			return apperrors.Internal(err)
		}
		c.Locals(usercontext.KeyUsage, state)
		return c.Next()
	}
}

func tooManyViolations(c *fiber.Ctx) error {
	c.Set(fiber.HeaderRetryAfter, "3600")
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"code":       fiber.StatusTooManyRequests,
		"error":      "Too Many Requests",
		"message":    "Too many denied requests. Try again later",
		"retryAfter": 3600,
	})
}
