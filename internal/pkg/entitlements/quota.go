package entitlements

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/PayGuard/app/models"
	"github.com/ManuelReschke/PayGuard/app/repository"
)

// QuotaExceeded is returned by Consume when the period budget is used up.
// It is not an entitlement denial.
type QuotaExceeded struct {
	Category string    `json:"category"`
	Period   string    `json:"period"`
	Limit    int64     `json:"limit"`
	Used     int64     `json:"used"`
	ResetAt  time.Time `json:"resetAt"`
}

func (e *QuotaExceeded) Error() string {
	return fmt.Sprintf("%s quota exceeded: %d of %d used, resets at %s",
		e.Category, e.Used, e.Limit, e.ResetAt.Format(time.RFC3339))
}

// UsageState is the current consumption of one category.
type UsageState struct {
	Category string    `json:"category"`
	Period   string    `json:"period"`
	Used     int64     `json:"used"`
	Limit    int64     `json:"limit"`
	ResetAt  time.Time `json:"resetAt"`
}

// Quota tracks usage in fixed period buckets.
type Quota struct {
	repo repository.UsageRepository
	now  func() time.Time
}

func NewQuota(repo repository.UsageRepository) *Quota {
	return &Quota{repo: repo, now: time.Now}
}

// ValidCategory reports whether category has a tracked limit.
func ValidCategory(category string) bool {
	return category == models.UsageCategoryQuestions || category == models.UsageCategoryQuizzes
}

// Consume records one unit of usage. When the tier's limit is already reached
// nothing is recorded and *QuotaExceeded is returned.
func (q *Quota) Consume(ctx context.Context, userID, category, period string, tier Tier) (*UsageState, error) {
	now := q.now()
	start := models.PeriodStart(now, period)
	limit := LimitFor(tier, category)
	state := &UsageState{
		Category: category,
		Period:   period,
		Limit:    limit,
		ResetAt:  models.PeriodReset(now, period),
	}

	if limit != Unlimited {
		used, err := q.repo.Get(ctx, userID, category, period, start)
		if err != nil {
			return nil, fmt.Errorf("read usage: %w", err)
		}
		if used >= limit {
			return nil, &QuotaExceeded{
				Category: category,
				Period:   period,
				Limit:    limit,
				Used:     used,
				ResetAt:  state.ResetAt,
			}
		}
	}

	used, err := q.repo.Increment(ctx, userID, category, period, start, 1)
	if err != nil {
		return nil, fmt.Errorf("record usage: %w", err)
	}
	if limit != Unlimited && used > limit {
		// lost a race with a concurrent request; undo our unit
		if _, err := q.repo.Increment(ctx, userID, category, period, start, -1); err != nil {
			return nil, fmt.Errorf("rollback usage: %w", err)
		}
		return nil, &QuotaExceeded{
			Category: category,
			Period:   period,
			Limit:    limit,
			Used:     limit,
			ResetAt:  state.ResetAt,
		}
	}
	state.Used = used
	return state, nil
}

// Usage returns the daily state of every tracked category for tier.
func (q *Quota) Usage(ctx context.Context, userID string, tier Tier) ([]UsageState, error) {
	now := q.now()
	categories := []string{models.UsageCategoryQuestions, models.UsageCategoryQuizzes}
	out := make([]UsageState, 0, len(categories))
	for _, category := range categories {
		used, err := q.repo.Get(ctx, userID, category, models.UsagePeriodDaily, models.PeriodStart(now, models.UsagePeriodDaily))
		if err != nil {
			return nil, fmt.Errorf("read usage: %w", err)
		}
		out = append(out, UsageState{
			Category: category,
			Period:   models.UsagePeriodDaily,
			Used:     used,
			Limit:    LimitFor(tier, category),
			ResetAt:  models.PeriodReset(now, models.UsagePeriodDaily),
		})
	}
	return out, nil
}
