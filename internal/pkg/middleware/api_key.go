package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/PayGuard/internal/pkg/apikey"
	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
	"github.com/ManuelReschke/PayGuard/internal/pkg/metrics"
	"github.com/ManuelReschke/PayGuard/internal/pkg/usercontext"
)

// Authenticator validates a presented API key. *apikey.KeyStore implements it.
type Authenticator interface {
	Authenticate(presented string) (apikey.Result, error)
}

// UsageRecorder counts successful authentications per key.
type UsageRecorder interface {
	Record(ctx context.Context, keyID, ip, userAgent string) error
}

// RequireAPIKey rejects requests without a valid API key.
func RequireAPIKey(auth Authenticator, usage UsageRecorder) fiber.Handler {
	return apiKeyHandler(auth, usage, false)
}

// OptionalAPIKey lets requests without a key through as anonymous. A key that
// is present must still be valid.
func OptionalAPIKey(auth Authenticator, usage UsageRecorder) fiber.Handler {
	return apiKeyHandler(auth, usage, true)
}

func apiKeyHandler(auth Authenticator, usage UsageRecorder, optional bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		ip := c.IP()
		ua := c.Get(fiber.HeaderUserAgent)

		presented := extractAPIKeyFromHeader(c)
		if presented == "" && optional {
			usercontext.SetUserContext(c, usercontext.UserContext{IP: ip, UserAgent: ua})
			return c.Next()
		}

		res, err := auth.Authenticate(presented)
		if err != nil {
			reason := "invalid"
			if errors.Is(err, apikey.ErrMissingKey) {
				reason = "missing"
			} else {
				logger.Warn(ctx, "invalid API key presented",
					zap.String("key_prefix", apikey.MaskKey(presented)),
					zap.String("ip", ip),
					zap.String("path", c.Path()),
				)
			}
			metrics.AuthFailures.WithLabelValues(reason).Inc()
			return unauthorized(c, err.Error())
		}

		if !res.IsActive {
			c.Set(apikey.DeprecationHeader, res.DeprecationWarning)
			logger.Info(ctx, "deprecated API key used", zap.String("key_id", res.KeyID))
		}

		if usage != nil {
			if err := usage.Record(ctx, res.KeyID, ip, ua); err != nil {
				logger.Warn(ctx, "api key usage tracking failed", zap.String("key_id", res.KeyID), zap.Error(err))
			}
		}

		usercontext.SetUserContext(c, usercontext.UserContext{
			UserID:          strings.TrimSpace(c.Get(usercontext.HeaderUserID)),
			KeyID:           res.KeyID,
			IsAuthenticated: true,
			Deprecated:      !res.IsActive,
			IP:              ip,
			UserAgent:       ua,
		})
		c.Locals(usercontext.KeyAPIKeyID, res.KeyID)
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"code":    fiber.StatusUnauthorized,
		"error":   "Unauthorized",
		"message": message,
	})
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(c.Get(usercontext.HeaderAPIKey))
}
