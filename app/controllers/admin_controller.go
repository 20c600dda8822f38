package controllers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/PayGuard/app/models"
	"github.com/ManuelReschke/PayGuard/app/repository"
	"github.com/ManuelReschke/PayGuard/internal/pkg/apikey"
	"github.com/ManuelReschke/PayGuard/internal/pkg/apperrors"
	"github.com/ManuelReschke/PayGuard/internal/pkg/audit"
	"github.com/ManuelReschke/PayGuard/internal/pkg/entitlements"
	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
	"github.com/ManuelReschke/PayGuard/internal/pkg/usercontext"
)

const defaultStatsWindow = 24 * time.Hour

// AuditReader is the read side of the audit ledger. *audit.Ledger implements it.
type AuditReader interface {
	VerifyIntegrity(ctx context.Context, from, to uint64) (*audit.IntegrityReport, error)
	ByActor(ctx context.Context, actorID string, limit int) ([]models.AuditLogEntry, error)
	ByTarget(ctx context.Context, targetType, targetID string, limit int) ([]models.AuditLogEntry, error)
	Recent(ctx context.Context, limit int, f repository.AuditFilter) ([]models.AuditLogEntry, error)
	Statistics(ctx context.Context, since time.Time) (*audit.Statistics, error)
}

// KeyRotation reports the API key rotation window. *apikey.KeyStore implements it.
type KeyRotation interface {
	RotationStatus() apikey.RotationStatus
}

// ViolationStats reports entitlement violations. *entitlements.Monitor implements it.
type ViolationStats interface {
	Statistics(ctx context.Context) (*entitlements.MonitorStats, error)
}

// AdminController serves the operator endpoints. Routes are mounted behind
// API key authentication and the admin rate limit profile.
type AdminController struct {
	ledger     AuditReader
	keys       KeyRotation
	keyUsage   repository.APIKeyUsageRepository
	violations ViolationStats
	webhooks   WebhookService
	events     repository.WebhookEventRepository
}

// NewAdminController creates a new admin controller with its dependencies
func NewAdminController(
	ledger AuditReader,
	keys KeyRotation,
	keyUsage repository.APIKeyUsageRepository,
	violations ViolationStats,
	webhooks WebhookService,
	events repository.WebhookEventRepository,
) *AdminController {
	return &AdminController{
		ledger:     ledger,
		keys:       keys,
		keyUsage:   keyUsage,
		violations: violations,
		webhooks:   webhooks,
		events:     events,
	}
}

// HandleVerifyAudit checks the hash chain between ?from and ?to.
func (ac *AdminController) HandleVerifyAudit(c *fiber.Ctx) error {
	from, err := queryUint(c, "from")
	if err != nil {
		return err
	}
	to, err := queryUint(c, "to")
	if err != nil {
		return err
	}

	report, err := ac.ledger.VerifyIntegrity(c.UserContext(), from, to)
	if err != nil {
		return err
	}
	if !report.Valid {
		logger.Warn(c.UserContext(), "audit integrity check failed",
			zap.Uint64("from", from),
			zap.Uint64("to", to),
			zap.Int("errors", len(report.Errors)),
		)
	}
	return c.JSON(report)
}

// HandleAuditLogs lists entries by actor, by target or newest first.
func (ac *AdminController) HandleAuditLogs(c *fiber.Ctx) error {
	ctx := c.UserContext()
	limit := c.QueryInt("limit", audit.DefaultQueryLimit)

	var (
		entries []models.AuditLogEntry
		err     error
	)
	switch {
	case c.Query("actor") != "":
		entries, err = ac.ledger.ByActor(ctx, c.Query("actor"), limit)
	case c.Query("targetType") != "" && c.Query("targetId") != "":
		entries, err = ac.ledger.ByTarget(ctx, c.Query("targetType"), c.Query("targetId"), limit)
	default:
		var since time.Time
		if raw := c.Query("since"); raw != "" {
			since, err = time.Parse(time.RFC3339, raw)
			if err != nil {
				return apperrors.Validation("Invalid query", map[string]string{"since": "must be RFC 3339"})
			}
		}
		entries, err = ac.ledger.Recent(ctx, limit, repository.AuditFilter{
			Action:   c.Query("action"),
			Severity: c.Query("severity"),
			Since:    since,
		})
	}
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []models.AuditLogEntry{}
	}
	return c.JSON(fiber.Map{"count": len(entries), "entries": entries})
}

// HandleAuditStats summarizes the last ?hours (default 24).
func (ac *AdminController) HandleAuditStats(c *fiber.Ctx) error {
	window := defaultStatsWindow
	if h := c.QueryInt("hours", 0); h > 0 {
		window = time.Duration(h) * time.Hour
	}
	stats, err := ac.ledger.Statistics(c.UserContext(), time.Now().UTC().Add(-window))
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

// HandleAPIKeyStatus reports the rotation window and per-key usage.
func (ac *AdminController) HandleAPIKeyStatus(c *fiber.Ctx) error {
	usage, err := ac.keyUsage.List(c.UserContext())
	if err != nil {
		return apperrors.Internal(err)
	}
	if usage == nil {
		usage = []models.APIKeyUsage{}
	}
	return c.JSON(fiber.Map{
		"rotation": ac.keys.RotationStatus(),
		"usage":    usage,
	})
}

func (ac *AdminController) HandleViolationStats(c *fiber.Ctx) error {
	stats, err := ac.violations.Statistics(c.UserContext())
	if err != nil {
		return apperrors.Internal(err)
	}
	return c.JSON(stats)
}

// HandleFailedWebhooks lists events whose handling failed.
func (ac *AdminController) HandleFailedWebhooks(c *fiber.Ctx) error {
	events, err := ac.events.ListFailed(c.UserContext(), c.QueryInt("limit", 50))
	if err != nil {
		return apperrors.Internal(err)
	}
	if events == nil {
		events = []models.WebhookEvent{}
	}
	return c.JSON(fiber.Map{"count": len(events), "events": events})
}

// HandleRetryWebhook re-dispatches a stored event.
func (ac *AdminController) HandleRetryWebhook(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return apperrors.Validation("Invalid webhook id", map[string]string{"id": "must be a positive integer"})
	}

	uc := usercontext.GetUserContext(c)
	outcome, err := ac.webhooks.Reprocess(c.UserContext(), uint(id))
	if err != nil {
		return err
	}
	logger.Info(c.UserContext(), "webhook reprocessed by operator",
		zap.Int("event_id", id),
		zap.String("outcome", string(outcome)),
		zap.String("key_id", uc.KeyID),
	)
	return c.JSON(fiber.Map{"id": id, "outcome": outcome})
}

func queryUint(c *fiber.Ctx, name string) (uint64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apperrors.Validation("Invalid query", map[string]string{name: "must be a non-negative integer"})
	}
	return v, nil
}
