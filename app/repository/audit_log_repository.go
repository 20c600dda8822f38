package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/PayGuard/app/models"
	"gorm.io/gorm"
)

type auditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository creates a new audit log repository instance
func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &auditLogRepository{db: db}
}

// Last returns the entry with the highest sequence number, or nil when the
// ledger is empty.
func (r *auditLogRepository) Last(ctx context.Context) (*models.AuditLogEntry, error) {
	var e models.AuditLogEntry
	err := r.db.WithContext(ctx).Order("sequence_number DESC").Limit(1).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *auditLogRepository) Create(ctx context.Context, e *models.AuditLogEntry) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *auditLogRepository) GetBySequence(ctx context.Context, seq uint64) (*models.AuditLogEntry, error) {
	var e models.AuditLogEntry
	if err := r.db.WithContext(ctx).Where("sequence_number = ?", seq).Take(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// Range returns entries with from <= sequence_number <= to in ascending order.
// to == 0 means up to the latest entry.
func (r *auditLogRepository) Range(ctx context.Context, from, to uint64) ([]models.AuditLogEntry, error) {
	q := r.db.WithContext(ctx).Where("sequence_number >= ?", from)
	if to > 0 {
		q = q.Where("sequence_number <= ?", to)
	}
	var entries []models.AuditLogEntry
	err := q.Order("sequence_number ASC").Find(&entries).Error
	return entries, err
}

func (r *auditLogRepository) ByActor(ctx context.Context, actorID string, limit int) ([]models.AuditLogEntry, error) {
	var entries []models.AuditLogEntry
	err := r.db.WithContext(ctx).
		Where("actor_id = ?", actorID).
		Order("sequence_number DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *auditLogRepository) ByTarget(ctx context.Context, targetType, targetID string, limit int) ([]models.AuditLogEntry, error) {
	var entries []models.AuditLogEntry
	err := r.db.WithContext(ctx).
		Where("target_type = ? AND target_id = ?", targetType, targetID).
		Order("sequence_number DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *auditLogRepository) Recent(ctx context.Context, limit int, f AuditFilter) ([]models.AuditLogEntry, error) {
	q := r.db.WithContext(ctx)
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if !f.Since.IsZero() {
		q = q.Where("timestamp >= ?", f.Since)
	}
	var entries []models.AuditLogEntry
	err := q.Order("sequence_number DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

func (r *auditLogRepository) Count(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.AuditLogEntry{}).
		Where("timestamp >= ?", since).
		Count(&n).Error
	return n, err
}

var groupableAuditColumns = map[string]bool{
	"action":   true,
	"severity": true,
	"actor_id": true,
}

// CountBy groups entries since the given time by one of action, severity or
// actor_id, ordered by count descending.
func (r *auditLogRepository) CountBy(ctx context.Context, column string, since time.Time, limit int) ([]models.KeyCount, error) {
	if !groupableAuditColumns[column] {
		return nil, fmt.Errorf("audit log: cannot group by %q", column)
	}
	var rows []models.KeyCount
	q := r.db.WithContext(ctx).Model(&models.AuditLogEntry{}).
		Select(column+" AS `key`, COUNT(*) AS `count`").
		Where("timestamp >= ?", since).
		Group(column).
		Order("`count` DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Scan(&rows).Error
	return rows, err
}
