package router

import (
	"github.com/gofiber/fiber/v2"
)

// Router installs a set of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter registers the operational routes first so /metrics and the
// docs never pass through API middleware.
func InstallRouter(app *fiber.App, http *HttpRouter, api *ApiRouter) {
	setup(app, http, api)
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
