package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
)

// RequestContext copies the id set by the requestid middleware into the
// request's context.Context so services can log and audit with it.
func RequestContext(c *fiber.Ctx) error {
	id, _ := c.Locals(requestid.ConfigDefault.ContextKey).(string)
	if id == "" {
		id = c.GetRespHeader(fiber.HeaderXRequestID)
	}
	if id != "" {
		c.SetUserContext(logger.WithRequestID(c.UserContext(), id))
	}
	return c.Next()
}
