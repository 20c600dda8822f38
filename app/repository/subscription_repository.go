package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayGuard/app/models"
	"gorm.io/gorm"
)

type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) Create(ctx context.Context, s *models.Subscription) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *subscriptionRepository) GetByID(ctx context.Context, id uint) (*models.Subscription, error) {
	var s models.Subscription
	if err := r.db.WithContext(ctx).First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// GetLatestByPayment returns the newest subscription opened by a payment,
// whatever its status.
func (r *subscriptionRepository) GetLatestByPayment(ctx context.Context, paymentRecordID uint) (*models.Subscription, error) {
	var s models.Subscription
	err := r.db.WithContext(ctx).
		Where("payment_record_id = ?", paymentRecordID).
		Order("id DESC").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *subscriptionRepository) ListActiveByUser(ctx context.Context, userID string) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Find(&subs).Error
	return subs, err
}

// ListDue returns active subscriptions whose period ended before now.
func (r *subscriptionRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("status = ? AND current_period_end < ?", models.SubscriptionStatusActive, now).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *subscriptionRepository) Cancel(ctx context.Context, id uint, reason string, at time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND status = ?", id, models.SubscriptionStatusActive).
		Updates(map[string]any{
			"status":               models.SubscriptionStatusCancelled,
			"cancelled_at":         &at,
			"cancel_reason":        reason,
			"cancel_at_period_end": true,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *subscriptionRepository) MarkExpired(ctx context.Context, id uint) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND status = ?", id, models.SubscriptionStatusActive).
		Update("status", models.SubscriptionStatusExpired)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
