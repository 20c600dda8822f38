package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/PayGuard/app/models"
	"github.com/ManuelReschke/PayGuard/app/repository"
	"github.com/ManuelReschke/PayGuard/internal/pkg/apperrors"
)

const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 500
	topActorsLimit    = 10
)

// Statistics summarizes ledger activity since a point in time.
type Statistics struct {
	Since      time.Time         `json:"since"`
	Total      int64             `json:"total"`
	ByAction   map[string]int64  `json:"byAction"`
	BySeverity map[string]int64  `json:"bySeverity"`
	TopActors  []models.KeyCount `json:"topActors"`
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

func (l *Ledger) ByActor(ctx context.Context, actorID string, limit int) ([]models.AuditLogEntry, error) {
	entries, err := l.repo.ByActor(ctx, actorID, clampLimit(limit))
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("audit by actor: %w", err))
	}
	return entries, nil
}

func (l *Ledger) ByTarget(ctx context.Context, targetType, targetID string, limit int) ([]models.AuditLogEntry, error) {
	entries, err := l.repo.ByTarget(ctx, targetType, targetID, clampLimit(limit))
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("audit by target: %w", err))
	}
	return entries, nil
}

// Recent returns the newest entries matching f.
func (l *Ledger) Recent(ctx context.Context, limit int, f repository.AuditFilter) ([]models.AuditLogEntry, error) {
	if f.Action != "" && !Action(f.Action).Valid() {
		return nil, apperrors.Validation("invalid filter", map[string]string{"action": "unknown action"})
	}
	entries, err := l.repo.Recent(ctx, clampLimit(limit), f)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("audit recent: %w", err))
	}
	return entries, nil
}

func (l *Ledger) Statistics(ctx context.Context, since time.Time) (*Statistics, error) {
	total, err := l.repo.Count(ctx, since)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("audit count: %w", err))
	}
	byAction, err := l.repo.CountBy(ctx, "action", since, 0)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("audit count by action: %w", err))
	}
	bySeverity, err := l.repo.CountBy(ctx, "severity", since, 0)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("audit count by severity: %w", err))
	}
	topActors, err := l.repo.CountBy(ctx, "actor_id", since, topActorsLimit)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("audit top actors: %w", err))
	}

	return &Statistics{
		Since:      since,
		Total:      total,
		ByAction:   toMap(byAction),
		BySeverity: toMap(bySeverity),
		TopActors:  topActors,
	}, nil
}

func toMap(rows []models.KeyCount) map[string]int64 {
	m := make(map[string]int64, len(rows))
	for _, r := range rows {
		m[r.Key] = r.Count
	}
	return m
}
