package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayGuard/app/models"
	"github.com/ManuelReschke/PayGuard/app/repository"
	"github.com/ManuelReschke/PayGuard/internal/pkg/apperrors"
	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
	"github.com/ManuelReschke/PayGuard/internal/pkg/metrics"
)

const maxAppendAttempts = 5

// SystemActor is used for entries not caused by an API caller.
var SystemActor = Actor{ID: "system", Role: "system"}

type Actor struct {
	ID        string
	Email     string
	Role      string
	IP        string
	UserAgent string
}

// Entry is the caller-supplied part of a ledger record. Changes and Metadata
// are redacted before they are hashed or stored.
type Entry struct {
	Action     Action
	Severity   Severity
	Actor      Actor
	TargetType string
	TargetID   string
	Changes    map[string]any
	Metadata   map[string]any
}

// Ledger appends hash-chained entries. Appends within one process are
// serialized; the unique sequence index arbitrates between processes.
type Ledger struct {
	repo repository.AuditLogRepository
	mu   sync.Mutex
	now  func() time.Time
}

func NewLedger(repo repository.AuditLogRepository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// Append writes e as the next entry of the chain. Callers must treat an
// error as fatal for the operation being audited.
func (l *Ledger) Append(ctx context.Context, e Entry) (*models.AuditLogEntry, error) {
	if !e.Action.Valid() {
		return nil, apperrors.Internal(fmt.Errorf("audit: unknown action %q", e.Action))
	}
	if e.Actor.ID == "" {
		e.Actor = SystemActor
	}
	if e.Severity == "" {
		e.Severity = e.Action.DefaultSeverity()
	}

	changes, err := encodeRedacted(e.Changes)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("audit: encode changes: %w", err))
	}
	metadata, err := encodeRedacted(e.Metadata)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("audit: encode metadata: %w", err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		last, err := l.repo.Last(ctx)
		if err != nil {
			lastErr = err
			break
		}

		row := &models.AuditLogEntry{
			SequenceNumber: 1,
			PreviousHash:   models.AuditGenesisHash,
			Timestamp:      l.now().UTC().Truncate(time.Millisecond),
			Action:         string(e.Action),
			Severity:       string(e.Severity),
			ActorID:        e.Actor.ID,
			ActorEmailHash: HashEmail(e.Actor.Email),
			ActorRole:      e.Actor.Role,
			ActorIP:        e.Actor.IP,
			ActorUserAgent: truncate(e.Actor.UserAgent, 255),
			TargetType:     e.TargetType,
			TargetID:       e.TargetID,
			RequestID:      logger.RequestID(ctx),
			Changes:        changes,
			Metadata:       metadata,
		}
		if last != nil {
			row.SequenceNumber = last.SequenceNumber + 1
			row.PreviousHash = last.CurrentHash
		}
		if row.CurrentHash, err = ComputeHash(row); err != nil {
			lastErr = err
			break
		}

		err = l.repo.Create(ctx, row)
		if err == nil {
			metrics.AuditAppends.WithLabelValues("ok").Inc()
			return row, nil
		}
		lastErr = err
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
		logger.Warn(ctx, "audit sequence conflict, retrying",
			zap.Uint64("sequence", row.SequenceNumber), zap.Int("attempt", attempt))
	}

	metrics.AuditAppends.WithLabelValues("error").Inc()
	logger.Error(ctx, "audit append failed", lastErr, zap.String("action", string(e.Action)))
	return nil, apperrors.Internal(fmt.Errorf("audit append: %w", lastErr))
}

func encodeRedacted(m map[string]any) (datatypes.JSON, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(Redact(m))
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
