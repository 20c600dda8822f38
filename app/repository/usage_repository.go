package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/PayGuard/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type usageRepository struct {
	db *gorm.DB
}

// NewUsageRepository creates a new usage repository instance
func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &usageRepository{db: db}
}

// Increment adds delta to the bucket and returns the new count. The upsert
// and the read-back run in one transaction.
func (r *usageRepository) Increment(ctx context.Context, userID, category, period string, periodStart time.Time, delta int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.UsageRecord{
			UserID:      userID,
			Category:    category,
			Period:      period,
			PeriodStart: periodStart,
			Count:       delta,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "category"}, {Name: "period"}, {Name: "period_start"}},
			DoUpdates: clause.Assignments(map[string]any{
				"count":      gorm.Expr("count + ?", delta),
				"updated_at": time.Now(),
			}),
		}).Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&models.UsageRecord{}).
			Where("user_id = ? AND category = ? AND period = ? AND period_start = ?", userID, category, period, periodStart).
			Select("count").
			Scan(&count).Error
	})
	return count, err
}

func (r *usageRepository) Get(ctx context.Context, userID, category, period string, periodStart time.Time) (int64, error) {
	var rec models.UsageRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND category = ? AND period = ? AND period_start = ?", userID, category, period, periodStart).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rec.Count, nil
}
