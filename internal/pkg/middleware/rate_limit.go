package middleware

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
	"github.com/ManuelReschke/PayGuard/internal/pkg/ratelimit"
	"github.com/ManuelReschke/PayGuard/internal/pkg/usercontext"
)

// RateLimit admits requests against the named profile. The caller address is
// c.IP(), which only reads X-Forwarded-For from trusted proxies. Store
// failures are logged and the request is let through.
func RateLimit(limiter *ratelimit.Limiter, profile, salt string) fiber.Handler {
	p := ratelimit.MustLookup(profile)
	return func(c *fiber.Ctx) error {
		if ratelimit.IsExempt(c.Path()) {
			return c.Next()
		}
		ctx := c.UserContext()

		// X-User-ID is asserted by the caller, so only the verified key counts
		identity := ""
		if uc := usercontext.GetUserContext(c); uc.KeyID != "" {
			identity = "key:" + uc.KeyID
		}
		key := ratelimit.KeyFor(p, salt, c.IP(), identity)

		d, err := limiter.Admit(ctx, p, key)
		if err != nil {
			logger.Error(ctx, "rate limit store unavailable, admitting request", err, zap.String("profile", p.Name))
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			logger.Warn(ctx, "rate limit exceeded",
				zap.String("profile", p.Name),
				zap.String("key", key),
				zap.String("path", c.Path()),
			)
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(d.RetryAfter))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"code":       fiber.StatusTooManyRequests,
				"error":      "Too Many Requests",
				"message":    fmt.Sprintf("Rate limit exceeded for %s. Retry in %d seconds", c.Path(), d.RetryAfter),
				"retryAfter": d.RetryAfter,
			})
		}
		return c.Next()
	}
}
