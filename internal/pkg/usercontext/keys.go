package usercontext

// Shared Locals keys used across controllers and middlewares
const (
	KeyUserContext = "USER_CONTEXT"
	KeyUsage       = "usage_state"
	KeyAPIKeyID    = "api_key_id"
)

// Headers carrying caller identity.
const (
	HeaderUserID = "X-User-ID"
	HeaderAPIKey = "X-API-Key"
)
