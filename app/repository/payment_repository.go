package repository

import (
	"context"

	"github.com/ManuelReschke/PayGuard/app/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(ctx context.Context, p *models.PaymentRecord) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *paymentRepository) GetByID(ctx context.Context, id uint) (*models.PaymentRecord, error) {
	var p models.PaymentRecord
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) GetByGatewayOrderID(ctx context.Context, orderID string) (*models.PaymentRecord, error) {
	var p models.PaymentRecord
	if err := r.db.WithContext(ctx).Where("gateway_order_id = ?", orderID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) GetByCaptureID(ctx context.Context, captureID string) (*models.PaymentRecord, error) {
	var p models.PaymentRecord
	if err := r.db.WithContext(ctx).Where("gateway_capture_id = ?", captureID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateCaptureDetails stores capture data on a record that is still pending.
func (r *paymentRepository) UpdateCaptureDetails(ctx context.Context, id uint, captureID, payerEmail string, snapshot []byte) error {
	updates := map[string]any{
		"gateway_capture_id": captureID,
		"payer_email":        payerEmail,
	}
	if len(snapshot) > 0 {
		updates["gateway_response"] = datatypes.JSON(snapshot)
	}
	return r.db.WithContext(ctx).Model(&models.PaymentRecord{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusPending).
		Updates(updates).Error
}

func (r *paymentRepository) Transition(ctx context.Context, id uint, from, to string, fields map[string]any) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, ErrInvalidTransition
	}
	return r.move(ctx, id, from, to, fields)
}

func (r *paymentRepository) Revert(ctx context.Context, id uint, from, to string, fields map[string]any) (bool, error) {
	if !models.CanRevert(from, to) {
		return false, ErrInvalidTransition
	}
	return r.move(ctx, id, from, to, fields)
}

// move is the conditional status update behind Transition and Revert.
func (r *paymentRepository) move(ctx context.Context, id uint, from, to string, fields map[string]any) (bool, error) {
	updates := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["status"] = to

	tx := r.db.WithContext(ctx).Model(&models.PaymentRecord{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
