package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const redacted = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"password":     {},
	"passwordhash": {},
	"token":        {},
	"refreshtoken": {},
	"accesstoken":  {},
	"secret":       {},
	"apikey":       {},
	"card":         {},
	"cardnumber":   {},
	"cvv":          {},
	"ssn":          {},
	"taxid":        {},
}

func normalizeKey(k string) string {
	k = strings.ToLower(k)
	k = strings.ReplaceAll(k, "_", "")
	return strings.ReplaceAll(k, "-", "")
}

// Redact returns a copy of v with sensitive values replaced and email
// addresses hashed. Maps and slices are walked recursively.
func Redact(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			nk := normalizeKey(k)
			if _, ok := sensitiveKeys[nk]; ok {
				out[k] = redacted
				continue
			}
			if nk == "email" {
				if s, ok := inner.(string); ok {
					out[k] = HashEmail(s)
					continue
				}
			}
			out[k] = Redact(inner)
		}
		return out
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return Redact(m)
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = Redact(inner)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = Redact(inner)
		}
		return out
	default:
		return v
	}
}

// HashEmail returns "hash:" plus the first 16 hex chars of sha256 of the
// lowercased address. Empty input stays empty.
func HashEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(email))
	return "hash:" + hex.EncodeToString(sum[:])[:16]
}
