package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayGuard/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new webhook event repository instance
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

// CreateIfNotExists inserts the event unless (gateway, event_id) already
// exists. When it exists, the stored row is returned with created=false.
func (r *webhookEventRepository) CreateIfNotExists(ctx context.Context, e *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "gateway"},
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(e)
	if tx.Error != nil {
		return false, nil, tx.Error
	}
	if tx.RowsAffected > 0 {
		return true, e, nil
	}

	var existing models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("gateway = ? AND event_id = ?", e.Gateway, e.EventID).
		First(&existing).Error; err != nil {
		return false, nil, err
	}
	return false, &existing, nil
}

func (r *webhookEventRepository) GetByID(ctx context.Context, id uint) (*models.WebhookEvent, error) {
	var e models.WebhookEvent
	if err := r.db.WithContext(ctx).First(&e, id).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *webhookEventRepository) MarkProcessed(ctx context.Context, id uint) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           models.WebhookStatusProcessed,
			"processed_at":     &now,
			"processing_error": "",
			"attempts":         gorm.Expr("attempts + 1"),
		}).Error
}

func (r *webhookEventRepository) MarkFailed(ctx context.Context, id uint, processingError string) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           models.WebhookStatusFailed,
			"processing_error": processingError,
			"attempts":         gorm.Expr("attempts + 1"),
		}).Error
}

func (r *webhookEventRepository) ListFailed(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", models.WebhookStatusFailed).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
