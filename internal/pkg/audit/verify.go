package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ManuelReschke/PayGuard/app/models"
	"github.com/ManuelReschke/PayGuard/internal/pkg/apperrors"
	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
	"github.com/ManuelReschke/PayGuard/internal/pkg/metrics"
)

type IntegrityError struct {
	Sequence uint64 `json:"sequence"`
	Reason   string `json:"reason"`
}

type IntegrityReport struct {
	Valid   bool             `json:"valid"`
	Checked int              `json:"checked"`
	Errors  []IntegrityError `json:"errors"`
}

// verifyBatchSize bounds how many entries are held in memory at once.
var verifyBatchSize uint64 = 500

// VerifyIntegrity walks entries from..to (to == 0 means the latest entry) and
// checks each stored hash, the linkage to its predecessor and sequence
// continuity. Entries are read in batches. Problems are reported, never
// repaired.
func (l *Ledger) VerifyIntegrity(ctx context.Context, from, to uint64) (*IntegrityReport, error) {
	if from == 0 {
		from = 1
	}
	if to != 0 && to < from {
		return nil, apperrors.Validation("invalid range", map[string]string{"to": "must not be lower than from"})
	}

	report := &IntegrityReport{Valid: true, Errors: []IntegrityError{}}
	if to == 0 {
		last, err := l.repo.Last(ctx)
		if err != nil {
			return nil, apperrors.Internal(fmt.Errorf("audit last entry: %w", err))
		}
		if last == nil || last.SequenceNumber < from {
			return report, nil
		}
		to = last.SequenceNumber
	}

	fail := func(seq uint64, reason string) {
		report.Valid = false
		report.Errors = append(report.Errors, IntegrityError{Sequence: seq, Reason: reason})
	}

	var prev *models.AuditLogEntry
	if from > 1 {
		p, err := l.repo.GetBySequence(ctx, from-1)
		if err == nil {
			prev = p
		}
		// otherwise the predecessor is missing and the first entry's linkage
		// cannot be checked
	}

	expected := from
	for start := from; start <= to; start += verifyBatchSize {
		end := start + verifyBatchSize - 1
		if end > to || end < start {
			end = to
		}
		entries, err := l.repo.Range(ctx, start, end)
		if err != nil {
			return nil, apperrors.Internal(fmt.Errorf("audit range: %w", err))
		}

		for i := range entries {
			e := &entries[i]
			report.Checked++

			if e.SequenceNumber != expected {
				fail(e.SequenceNumber, fmt.Sprintf("sequence gap: expected %d", expected))
			}

			hash, herr := ComputeHash(e)
			switch {
			case herr != nil:
				fail(e.SequenceNumber, "unreadable entry: "+herr.Error())
			case hash != e.CurrentHash:
				fail(e.SequenceNumber, "hash mismatch")
			}

			switch {
			case e.SequenceNumber == 1 && e.PreviousHash != models.AuditGenesisHash:
				fail(e.SequenceNumber, "first entry does not link to genesis")
			case prev != nil && prev.SequenceNumber == e.SequenceNumber-1 && e.PreviousHash != prev.CurrentHash:
				fail(e.SequenceNumber, "previous hash does not match preceding entry")
			case prev != nil && prev.SequenceNumber != e.SequenceNumber-1 && e.PreviousHash == prev.CurrentHash:
				// linked across a gap: the entries in between were removed
				fail(e.SequenceNumber, "chain skips deleted entries")
			}

			// copy so the batch slice can be released
			kept := *e
			prev = &kept
			expected = e.SequenceNumber + 1
		}
		if end == to {
			break
		}
	}

	if !report.Valid {
		metrics.AuditIntegrityFailures.Inc()
		logger.Error(ctx, "audit integrity check failed", nil,
			zap.Uint64("from", from), zap.Uint64("to", to), zap.Int("errors", len(report.Errors)))
		for _, ie := range report.Errors {
			logger.Error(ctx, "audit integrity error", nil, zap.Uint64("sequence", ie.Sequence), zap.String("reason", ie.Reason))
		}
	}
	return report, nil
}
