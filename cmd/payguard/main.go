package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"github.com/ManuelReschke/PayGuard/app/controllers"
	"github.com/ManuelReschke/PayGuard/app/repository"
	apiv1 "github.com/ManuelReschke/PayGuard/internal/api/v1"
	"github.com/ManuelReschke/PayGuard/internal/pkg/apikey"
	"github.com/ManuelReschke/PayGuard/internal/pkg/audit"
	"github.com/ManuelReschke/PayGuard/internal/pkg/billing"
	"github.com/ManuelReschke/PayGuard/internal/pkg/cache"
	"github.com/ManuelReschke/PayGuard/internal/pkg/database"
	"github.com/ManuelReschke/PayGuard/internal/pkg/entitlements"
	"github.com/ManuelReschke/PayGuard/internal/pkg/env"
	"github.com/ManuelReschke/PayGuard/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
	"github.com/ManuelReschke/PayGuard/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PayGuard/internal/pkg/middleware"
	"github.com/ManuelReschke/PayGuard/internal/pkg/ratelimit"
	"github.com/ManuelReschke/PayGuard/internal/pkg/router"
)

const shutdownTimeout = 15 * time.Second

func main() {
	env.SetupEnvFile()
	logger.Initialize(env.GetEnv("APP_ENV", "prod"))
	defer logger.Sync()
	log := logger.Log

	app, manager, err := NewApplication()
	if err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
	manager.Start()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		log.Info("listening", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			log.Error("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutting down", zap.String("signal", sig.String()))

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	// drains usage counters and waits for running jobs
	manager.Stop()
	if err := cache.Close(); err != nil {
		log.Warn("close redis", zap.Error(err))
	}
	if err := database.Close(); err != nil {
		log.Warn("close database", zap.Error(err))
	}
}

// NewApplication connects the stores and builds the fiber app together with
// the background job manager. The manager is returned stopped.
func NewApplication() (*fiber.App, *jobqueue.Manager, error) {
	if err := database.SetupDatabase(); err != nil {
		return nil, nil, err
	}
	cache.SetupCache()
	rdb := cache.GetClient()
	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()

	keys, err := apikey.NewKeyStore(apikey.ConfigFromEnv())
	if err != nil {
		return nil, nil, err
	}
	salt := env.GetEnv("RATE_LIMIT_SALT", "")
	if salt == "" {
		if !env.IsDev() {
			return nil, nil, fmt.Errorf("RATE_LIMIT_SALT is not configured")
		}
		salt = "dev-salt"
	}

	ledger := audit.NewLedger(repos.AuditLog)
	ents := entitlements.NewService(repos.Entitlement, cache.NewStorage(cache.EntitlementsDB))
	monitor := entitlements.NewMonitor(entitlements.NewRedisCounterStore(rdb))
	quota := entitlements.NewQuota(repos.Usage)
	usage := counter.NewAPIKeyUsage(rdb, repos.APIKeyUsage)

	gateway := billing.NewPayPalClientFromEnv()
	subs := billing.NewSubscriptions(repos.Subscription, ents, ledger)
	orch := billing.NewOrchestrator(repos.Payment, gateway, billing.NewStaticPricing(nil), subs, ledger)
	webhooks := billing.NewWebhookProcessor(repos.WebhookEvent, repos.Payment, gateway, orch, ledger)

	cfg := jobqueue.ManagerConfigFromEnv()
	queue := jobqueue.NewQueue(rdb, cfg.Workers)
	queue.Register(jobqueue.JobTypeWebhookRetry, jobqueue.WebhookRetryHandler(webhooks))
	queue.Register(jobqueue.JobTypeSubscriptionExpiry, jobqueue.SubscriptionExpiryHandler(subs))
	webhooks.SetRetryEnqueuer(queue)
	manager := jobqueue.NewManager(queue, usage, cfg)

	server := apiv1.NewAPIServer(
		controllers.NewPaymentController(orch),
		controllers.NewWebhookController(webhooks),
		controllers.NewContentController(ents, quota),
		controllers.NewAdminController(ledger, keys, repos.APIKeyUsage, monitor, webhooks, repos.WebhookEvent),
	)

	fiberCfg := fiber.Config{
		AppName:      "PayGuard",
		ErrorHandler: middleware.ErrorHandler,
		BodyLimit:    1 << 20,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	ratelimit.ProxyConfigFromEnv().Apply(&fiberCfg)
	app := fiber.New(fiberCfg)

	// recovery, request ids and access logging
	app.Use(recover.New(), requestid.New(), middleware.RequestContext, fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${locals:requestid} ${status} ${latency} ${method} ${path}\n",
	}))

	router.InstallRouter(app,
		router.NewHttpRouter(env.GetEnv("METRICS_USER", ""), env.GetEnv("METRICS_PASSWORD", ""), env.GetEnv("OPENAPI_FILE", "docs/openapi.yml")),
		router.NewApiRouter(router.ApiDeps{
			Server:             server,
			Auth:               keys,
			Usage:              usage,
			Limiter:            ratelimit.NewLimiter(ratelimit.NewRedisStore(rdb)),
			Guard:              middleware.NewGuard(ents, monitor, quota, env.GetEnv("APP_PUBLIC_URL", "http://localhost:4000")),
			Salt:               salt,
			IdempotencyStorage: cache.NewStorage(cache.IdempotencyDB),
		}),
	)

	return app, manager, nil
}
