package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayGuard/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type apiKeyUsageRepository struct {
	db *gorm.DB
}

// NewAPIKeyUsageRepository creates a new API key usage repository instance
func NewAPIKeyUsageRepository(db *gorm.DB) APIKeyUsageRepository {
	return &apiKeyUsageRepository{db: db}
}

// AddUsage adds delta to the key's counter and refreshes last-seen metadata
// when provided.
func (r *apiKeyUsageRepository) AddUsage(ctx context.Context, keyID string, delta int64, lastUsed *time.Time, ip, userAgent string) error {
	row := models.APIKeyUsage{
		KeyID:         keyID,
		UsageCount:    delta,
		LastUsedAt:    lastUsed,
		LastIP:        ip,
		LastUserAgent: userAgent,
	}
	assignments := map[string]any{
		"usage_count": gorm.Expr("usage_count + ?", delta),
		"updated_at":  time.Now(),
	}
	if lastUsed != nil {
		assignments["last_used_at"] = lastUsed
	}
	if ip != "" {
		assignments["last_ip"] = ip
	}
	if userAgent != "" {
		assignments["last_user_agent"] = userAgent
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key_id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&row).Error
}

func (r *apiKeyUsageRepository) List(ctx context.Context) ([]models.APIKeyUsage, error) {
	var rows []models.APIKeyUsage
	err := r.db.WithContext(ctx).Order("key_id ASC").Find(&rows).Error
	return rows, err
}
