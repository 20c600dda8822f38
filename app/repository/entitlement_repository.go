package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayGuard/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type entitlementRepository struct {
	db *gorm.DB
}

// NewEntitlementRepository creates a new entitlement repository instance
func NewEntitlementRepository(db *gorm.DB) EntitlementRepository {
	return &entitlementRepository{db: db}
}

func (r *entitlementRepository) ListByUser(ctx context.Context, userID string) ([]string, error) {
	var out []string
	err := r.db.WithContext(ctx).Model(&models.UserEntitlement{}).
		Where("user_id = ?", userID).
		Order("entitlement ASC").
		Pluck("entitlement", &out).Error
	return out, err
}

// Grant inserts the missing entitlements; existing rows are kept as is.
func (r *entitlementRepository) Grant(ctx context.Context, userID string, entitlements []string) error {
	if len(entitlements) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]models.UserEntitlement, 0, len(entitlements))
	for _, e := range entitlements {
		rows = append(rows, models.UserEntitlement{UserID: userID, Entitlement: e, GrantedAt: now})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "entitlement"}},
		DoNothing: true,
	}).Create(&rows).Error
}

func (r *entitlementRepository) Revoke(ctx context.Context, userID string, entitlements []string) error {
	if len(entitlements) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("user_id = ? AND entitlement IN ?", userID, entitlements).
		Delete(&models.UserEntitlement{}).Error
}
