package router

import (
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
)

// HttpRouter serves the operational endpoints outside the versioned API.
type HttpRouter struct {
	metricsUser     string
	metricsPassword string
	docsFile        string
}

// NewHttpRouter mounts /metrics behind basic auth and the OpenAPI document
// under /docs/api. An empty docsFile disables the docs.
func NewHttpRouter(metricsUser, metricsPassword, docsFile string) *HttpRouter {
	return &HttpRouter{metricsUser: metricsUser, metricsPassword: metricsPassword, docsFile: docsFile}
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	if h.metricsUser != "" && h.metricsPassword != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{
				h.metricsUser: h.metricsPassword,
			},
		}), adaptor.HTTPHandler(promhttp.Handler()))
	} else {
		logger.Log.Warn("METRICS_USER/METRICS_PASSWORD not set, /metrics disabled")
	}

	if h.docsFile == "" {
		return
	}
	if _, err := os.Stat(h.docsFile); err != nil {
		logger.Log.Warn("openapi document not found, /docs/api disabled", zap.String("file", h.docsFile))
		return
	}
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: h.docsFile,
		Path:     "v1",
		Title:    "PayGuard API",
	}))
}
