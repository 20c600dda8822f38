package middleware

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/PayGuard/internal/pkg/apperrors"
	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
)

// ErrorHandler renders errors returned by handlers as JSON. Internal detail
// is logged and never sent to the caller.
func ErrorHandler(c *fiber.Ctx, err error) error {
	ctx := c.UserContext()

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{
			"code":    fe.Code,
			"error":   http.StatusText(fe.Code),
			"message": fe.Message,
		})
	}

	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		appErr = apperrors.Internal(err)
	}

	body := fiber.Map{
		"code":    appErr.Code,
		"error":   http.StatusText(appErr.Code),
		"message": appErr.Message,
	}
	if len(appErr.Fields) > 0 {
		body["fields"] = appErr.Fields
	}

	if appErr.Code >= fiber.StatusInternalServerError {
		logger.Error(ctx, "request failed", err,
			zap.String("kind", string(appErr.Kind)),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
		)
	} else {
		logger.Debug(ctx, "request rejected",
			zap.String("kind", string(appErr.Kind)),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}
	return c.Status(appErr.Code).JSON(body)
}
