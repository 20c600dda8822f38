package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayGuard/app/models"
	"github.com/ManuelReschke/PayGuard/app/repository"
	"github.com/ManuelReschke/PayGuard/internal/pkg/audit"
	"github.com/ManuelReschke/PayGuard/internal/pkg/entitlements"
	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
)

const (
	expireBatchSize = 100
	factLookupLimit = 200
)

// Auditor appends ledger entries and reads them back per target.
// *audit.Ledger implements it.
type Auditor interface {
	Append(ctx context.Context, e audit.Entry) (*models.AuditLogEntry, error)
	ByTarget(ctx context.Context, targetType, targetID string, limit int) ([]models.AuditLogEntry, error)
}

// hasFact reports whether action is already recorded for the target.
func hasFact(ctx context.Context, a Auditor, action audit.Action, targetType, targetID string) (bool, error) {
	entries, err := a.ByTarget(ctx, targetType, targetID, factLookupLimit)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Action == string(action) {
			return true, nil
		}
	}
	return false, nil
}

// EntitlementStore reads and changes a user's entitlement set.
// *entitlements.Service implements it.
type EntitlementStore interface {
	ForUser(ctx context.Context, userID string) ([]string, error)
	Grant(ctx context.Context, userID string, ents []string) error
	Revoke(ctx context.Context, userID string, ents []string) error
	Invalidate(ctx context.Context, userID string)
}

// Subscriptions keeps subscriptions and the entitlements derived from them in
// step.
type Subscriptions struct {
	repo    repository.SubscriptionRepository
	ents    EntitlementStore
	auditor Auditor
	now     func() time.Time
}

func NewSubscriptions(repo repository.SubscriptionRepository, ents EntitlementStore, auditor Auditor) *Subscriptions {
	return &Subscriptions{repo: repo, ents: ents, auditor: auditor, now: time.Now}
}

// CreateFromPayment opens the subscription bought by a completed payment. A
// payment that already opened one gets it back, with a missing audit entry or
// entitlement change from an interrupted earlier call written now.
func (s *Subscriptions) CreateFromPayment(ctx context.Context, p *models.PaymentRecord, actor audit.Actor) (*models.Subscription, error) {
	existing, err := s.repo.GetLatestByPayment(ctx, p.ID)
	if err == nil {
		if err := s.resumeCreated(ctx, existing, actor); err != nil {
			return nil, err
		}
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load subscription: %w", err)
	}

	start := s.now().UTC()
	sub := &models.Subscription{
		UserID:             p.UserID,
		PaymentRecordID:    p.ID,
		PlanType:           p.PlanType,
		Status:             models.SubscriptionStatusActive,
		BillingCycle:       p.BillingCycle,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   models.PeriodEnd(start, p.BillingCycle),
		PriceCurrency:      p.Currency,
		PriceAmount:        p.Amount,
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	if _, err := s.auditor.Append(ctx, createdEntry(sub, actor)); err != nil {
		return nil, err
	}

	if err := s.RecomputeEntitlements(ctx, sub.UserID, actor); err != nil {
		return nil, err
	}
	return sub, nil
}

func subscriptionTarget(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func createdEntry(sub *models.Subscription, actor audit.Actor) audit.Entry {
	return audit.Entry{
		Action:     audit.ActionSubscriptionCreated,
		Actor:      actor,
		TargetType: "subscription",
		TargetID:   subscriptionTarget(sub.ID),
		Changes: map[string]any{
			"after": map[string]any{
				"userId":        sub.UserID,
				"planType":      sub.PlanType,
				"billingCycle":  sub.BillingCycle,
				"periodEnd":     sub.CurrentPeriodEnd.Format(time.RFC3339),
				"paymentRecord": sub.PaymentRecordID,
			},
		},
	}
}

func cancelledEntry(subID uint, before, reason string, actor audit.Actor) audit.Entry {
	return audit.Entry{
		Action:     audit.ActionSubscriptionCancelled,
		Actor:      actor,
		TargetType: "subscription",
		TargetID:   subscriptionTarget(subID),
		Changes: map[string]any{
			"before": map[string]any{"status": before},
			"after":  map[string]any{"status": models.SubscriptionStatusCancelled, "reason": reason},
		},
	}
}

// resumeCreated writes the subscription.created entry when it is missing and
// brings the user's entitlements in line.
func (s *Subscriptions) resumeCreated(ctx context.Context, sub *models.Subscription, actor audit.Actor) error {
	logged, err := hasFact(ctx, s.auditor, audit.ActionSubscriptionCreated, "subscription", subscriptionTarget(sub.ID))
	if err != nil {
		return err
	}
	if !logged {
		logger.Warn(ctx, "writing missing subscription.created entry", zap.Uint("subscription_id", sub.ID))
		if _, err := s.auditor.Append(ctx, createdEntry(sub, actor)); err != nil {
			return err
		}
	}
	return s.RecomputeEntitlements(ctx, sub.UserID, actor)
}

// Cancel ends an active subscription and drops what it granted. It reports
// whether this call cancelled it. When the subscription was already
// cancelled, a missing audit entry is written and entitlements are recomputed
// so a retry finishes what an interrupted call started.
func (s *Subscriptions) Cancel(ctx context.Context, subID uint, reason string, actor audit.Actor) (bool, error) {
	sub, err := s.repo.GetByID(ctx, subID)
	if err != nil {
		return false, fmt.Errorf("load subscription: %w", err)
	}
	ok, err := s.repo.Cancel(ctx, subID, reason, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("cancel subscription: %w", err)
	}
	if !ok {
		current, err := s.repo.GetByID(ctx, subID)
		if err != nil {
			return false, fmt.Errorf("reload subscription: %w", err)
		}
		return false, s.resumeCancel(ctx, current, actor)
	}

	if _, err := s.auditor.Append(ctx, cancelledEntry(subID, sub.Status, reason, actor)); err != nil {
		return true, err
	}
	return true, s.RecomputeEntitlements(ctx, sub.UserID, actor)
}

func (s *Subscriptions) resumeCancel(ctx context.Context, sub *models.Subscription, actor audit.Actor) error {
	if sub.Status == models.SubscriptionStatusCancelled {
		logged, err := hasFact(ctx, s.auditor, audit.ActionSubscriptionCancelled, "subscription", subscriptionTarget(sub.ID))
		if err != nil {
			return err
		}
		if !logged {
			logger.Warn(ctx, "writing missing subscription.cancelled entry", zap.Uint("subscription_id", sub.ID))
			entry := cancelledEntry(sub.ID, models.SubscriptionStatusActive, sub.CancelReason, actor)
			if _, err := s.auditor.Append(ctx, entry); err != nil {
				return err
			}
		}
	}
	return s.RecomputeEntitlements(ctx, sub.UserID, actor)
}

// CancelForPayment cancels the subscription opened by a payment, if any. A
// subscription that is already cancelled is resumed instead.
func (s *Subscriptions) CancelForPayment(ctx context.Context, paymentID uint, reason string, actor audit.Actor) error {
	sub, err := s.repo.GetLatestByPayment(ctx, paymentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}
	if sub.Status != models.SubscriptionStatusActive {
		return s.resumeCancel(ctx, sub, actor)
	}
	_, err = s.Cancel(ctx, sub.ID, reason, actor)
	return err
}

// ExpireDue marks active subscriptions whose period ended before now as
// expired and returns how many it expired.
func (s *Subscriptions) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	for {
		due, err := s.repo.ListDue(ctx, now, expireBatchSize)
		if err != nil {
			return expired, fmt.Errorf("list due subscriptions: %w", err)
		}
		if len(due) == 0 {
			return expired, nil
		}

		progressed := false
		for _, sub := range due {
			ok, err := s.repo.MarkExpired(ctx, sub.ID)
			if err != nil {
				return expired, fmt.Errorf("expire subscription %d: %w", sub.ID, err)
			}
			if !ok {
				continue
			}
			progressed = true
			expired++

			if _, err := s.auditor.Append(ctx, audit.Entry{
				Action:     audit.ActionSubscriptionExpired,
				Actor:      audit.SystemActor,
				TargetType: "subscription",
				TargetID:   subscriptionTarget(sub.ID),
				Changes: map[string]any{
					"before": map[string]any{"status": models.SubscriptionStatusActive},
					"after":  map[string]any{"status": models.SubscriptionStatusExpired},
				},
				Metadata: map[string]any{"periodEnd": sub.CurrentPeriodEnd.Format(time.RFC3339)},
			}); err != nil {
				return expired, err
			}
			if err := s.RecomputeEntitlements(ctx, sub.UserID, audit.SystemActor); err != nil {
				return expired, err
			}
		}
		if !progressed || len(due) < expireBatchSize {
			return expired, nil
		}
	}
}

// RecomputeEntitlements rewrites a user's entitlements as the union of what
// their active subscriptions grant. Only the difference is written.
func (s *Subscriptions) RecomputeEntitlements(ctx context.Context, userID string, actor audit.Actor) error {
	subs, err := s.repo.ListActiveByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list active subscriptions: %w", err)
	}
	want := map[string]bool{}
	for _, sub := range subs {
		for _, e := range entitlements.PlanEntitlements(sub.PlanType) {
			want[e] = true
		}
	}

	s.ents.Invalidate(ctx, userID)
	current, err := s.ents.ForUser(ctx, userID)
	if err != nil {
		return err
	}
	have := map[string]bool{}
	for _, e := range current {
		have[e] = true
	}

	var grant, revoke []string
	for e := range want {
		if !have[e] {
			grant = append(grant, e)
		}
	}
	for e := range have {
		if !want[e] {
			revoke = append(revoke, e)
		}
	}
	sort.Strings(grant)
	sort.Strings(revoke)

	if len(grant) > 0 {
		if err := s.ents.Grant(ctx, userID, grant); err != nil {
			return err
		}
		if _, err := s.auditor.Append(ctx, audit.Entry{
			Action:     audit.ActionEntitlementGranted,
			Actor:      actor,
			TargetType: "user",
			TargetID:   userID,
			Changes:    map[string]any{"granted": toAny(grant), "before": toAny(current)},
		}); err != nil {
			return err
		}
	}
	if len(revoke) > 0 {
		if err := s.ents.Revoke(ctx, userID, revoke); err != nil {
			return err
		}
		if _, err := s.auditor.Append(ctx, audit.Entry{
			Action:     audit.ActionEntitlementRevoked,
			Actor:      actor,
			TargetType: "user",
			TargetID:   userID,
			Changes:    map[string]any{"revoked": toAny(revoke), "before": toAny(current)},
		}); err != nil {
			return err
		}
	}
	if len(grant) > 0 || len(revoke) > 0 {
		logger.Info(ctx, "entitlements recomputed",
			zap.String("user_id", userID),
			zap.Strings("granted", grant),
			zap.Strings("revoked", revoke),
		)
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
