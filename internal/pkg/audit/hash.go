package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/ManuelReschke/PayGuard/app/models"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// hashInput fixes the field order of the hashed document.
type hashInput struct {
	PreviousHash   string          `json:"previousHash"`
	SequenceNumber uint64          `json:"sequenceNumber"`
	Timestamp      string          `json:"timestamp"`
	Action         string          `json:"action"`
	ActorID        string          `json:"actorId"`
	TargetID       string          `json:"targetId"`
	Changes        json.RawMessage `json:"changes"`
}

// ComputeHash returns the chain hash for e from its stored fields.
func ComputeHash(e *models.AuditLogEntry) (string, error) {
	changes, err := canonicalJSON(e.Changes)
	if err != nil {
		return "", err
	}
	doc, err := json.Marshal(hashInput{
		PreviousHash:   e.PreviousHash,
		SequenceNumber: e.SequenceNumber,
		Timestamp:      formatTimestamp(e.Timestamp),
		Action:         e.Action,
		ActorID:        e.ActorID,
		TargetID:       e.TargetID,
		Changes:        changes,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:]), nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format(timestampLayout)
}

// canonicalJSON re-encodes raw with sorted object keys and no insignificant
// whitespace, so a database that normalizes JSON columns still hashes the
// same. Empty input becomes null.
func canonicalJSON(raw []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return out, nil
}
