package usercontext

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayGuard/internal/pkg/audit"
)

// UserContext represents the caller of a request. UserID is the identity
// asserted by an authenticated machine caller via X-User-ID.
type UserContext struct {
	UserID          string   `json:"user_id"`
	KeyID           string   `json:"key_id"`
	IsAuthenticated bool     `json:"is_authenticated"`
	Deprecated      bool     `json:"deprecated"`
	Plan            string   `json:"plan"`
	Entitlements    []string `json:"entitlements"`
	IP              string   `json:"ip"`
	UserAgent       string   `json:"user_agent"`
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if uc, ok := c.Locals(KeyUserContext).(UserContext); ok {
		return uc
	}
	return UserContext{}
}

// SetUserContext stores uc on the request.
func SetUserContext(c *fiber.Ctx, uc UserContext) {
	c.Locals(KeyUserContext, uc)
}

func IsAuthenticated(c *fiber.Ctx) bool {
	return GetUserContext(c).IsAuthenticated
}

// GetUserID returns the caller's user id, or "" for anonymous callers
func GetUserID(c *fiber.Ctx) string {
	return GetUserContext(c).UserID
}

// Actor builds the audit actor for the current caller.
func (uc UserContext) Actor() audit.Actor {
	id := uc.UserID
	role := "user"
	if id == "" && uc.KeyID != "" {
		id = "apikey:" + uc.KeyID
		role = "service"
	}
	return audit.Actor{ID: id, Role: role, IP: uc.IP, UserAgent: uc.UserAgent}
}
