package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/ManuelReschke/PayGuard/internal/pkg/env"
)

const (
	pbkdf2Iterations = 100000
	derivedKeyLength = 32
	saltLength       = 16

	// hashedPrefix marks a pre-derived credential: pbkdf2-sha256$<salt hex>$<hash hex>
	hashedPrefix = "pbkdf2-sha256$"

	DefaultGracePeriodDays = 7

	DeprecationHeader  = "X-API-Key-Deprecation-Warning"
	DeprecationMessage = "This API key is scheduled for deprecation. Please migrate to the new key."
)

var (
	ErrMissingKey = errors.New("API key required. Provide via Authorization: Bearer <key> or X-API-Key header")
	ErrInvalidKey = errors.New("Invalid API key")
)

// Credential is one configured key. Only the salted derivation is kept.
type Credential struct {
	ID      string
	Active  bool
	salt    []byte
	derived []byte
}

// NewCredential derives secret with a fresh random salt.
func NewCredential(id, secret string, active bool) (*Credential, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return &Credential{ID: id, Active: active, salt: salt, derived: derive(secret, salt)}, nil
}

// ParseCredential accepts either a plaintext secret or a pre-derived value
// in the form produced by HashSecret.
func ParseCredential(id, value string, active bool) (*Credential, error) {
	if !strings.HasPrefix(value, hashedPrefix) {
		return NewCredential(id, value, active)
	}
	parts := strings.Split(strings.TrimPrefix(value, hashedPrefix), "$")
	if len(parts) != 2 {
		return nil, fmt.Errorf("credential %s: malformed derived key", id)
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil || len(salt) == 0 {
		return nil, fmt.Errorf("credential %s: invalid salt", id)
	}
	derived, err := hex.DecodeString(parts[1])
	if err != nil || len(derived) != derivedKeyLength {
		return nil, fmt.Errorf("credential %s: invalid derived key", id)
	}
	return &Credential{ID: id, Active: active, salt: salt, derived: derived}, nil
}

// HashSecret returns the storable derived form of secret with a new salt.
func HashSecret(secret string) (string, error) {
	c, err := NewCredential("", secret, false)
	if err != nil {
		return "", err
	}
	return hashedPrefix + hex.EncodeToString(c.salt) + "$" + hex.EncodeToString(c.derived), nil
}

func derive(secret string, salt []byte) []byte {
	return pbkdf2.Key([]byte(secret), salt, pbkdf2Iterations, derivedKeyLength, sha256.New)
}

func (c *Credential) matches(presented string) int {
	return subtle.ConstantTimeCompare(derive(presented, c.salt), c.derived)
}

// Config describes the key pair and rotation window.
type Config struct {
	ActiveKey         string
	NextKey           string
	ActiveID          string
	NextID            string
	GracePeriodDays   int
	RotationStartedAt time.Time
}

// ConfigFromEnv reads API_KEY_* settings.
func ConfigFromEnv() Config {
	cfg := Config{
		ActiveKey:       strings.TrimSpace(env.GetEnv("API_KEY_ACTIVE", "")),
		NextKey:         strings.TrimSpace(env.GetEnv("API_KEY_NEXT", "")),
		ActiveID:        env.GetEnv("API_KEY_ACTIVE_ID", "active"),
		NextID:          env.GetEnv("API_KEY_NEXT_ID", "next"),
		GracePeriodDays: env.GetEnvInt("API_KEY_ROTATION_GRACE_PERIOD_DAYS", DefaultGracePeriodDays),
	}
	if raw := strings.TrimSpace(env.GetEnv("API_KEY_ROTATION_STARTED_AT", "")); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			cfg.RotationStartedAt = t
		}
	}
	return cfg
}

// Result describes a successful authentication.
type Result struct {
	KeyID              string
	IsActive           bool
	DeprecationWarning string
}

// KeyStore validates presented keys against the active and next credential.
type KeyStore struct {
	active            *Credential
	next              *Credential
	gracePeriod       time.Duration
	rotationStartedAt time.Time
	now               func() time.Time
}

func NewKeyStore(cfg Config) (*KeyStore, error) {
	if cfg.ActiveKey == "" {
		return nil, errors.New("API_KEY_ACTIVE is not configured")
	}
	if cfg.ActiveID == "" {
		cfg.ActiveID = "active"
	}
	if cfg.NextID == "" {
		cfg.NextID = "next"
	}
	if cfg.GracePeriodDays <= 0 {
		cfg.GracePeriodDays = DefaultGracePeriodDays
	}

	active, err := ParseCredential(cfg.ActiveID, cfg.ActiveKey, true)
	if err != nil {
		return nil, err
	}
	ks := &KeyStore{
		active:            active,
		gracePeriod:       time.Duration(cfg.GracePeriodDays) * 24 * time.Hour,
		rotationStartedAt: cfg.RotationStartedAt,
		now:               time.Now,
	}
	if cfg.NextKey != "" {
		next, err := ParseCredential(cfg.NextID, cfg.NextKey, false)
		if err != nil {
			return nil, err
		}
		ks.next = next
	}
	return ks, nil
}

// Authenticate checks presented against both credentials. Both derivations
// always run so the response time does not depend on which key matched.
func (s *KeyStore) Authenticate(presented string) (Result, error) {
	if presented == "" {
		return Result{}, ErrMissingKey
	}

	activeMatch := s.active.matches(presented)
	nextMatch := 0
	if s.next != nil {
		nextMatch = s.next.matches(presented)
	} else {
		// keep the work constant when no next key is configured
		_ = s.active.matches(presented + "\x00")
	}

	switch {
	case activeMatch == 1:
		return Result{KeyID: s.active.ID, IsActive: true}, nil
	case nextMatch == 1:
		return Result{KeyID: s.next.ID, IsActive: false, DeprecationWarning: DeprecationMessage}, nil
	default:
		return Result{}, ErrInvalidKey
	}
}

// RotationStatus summarizes the key rotation window.
type RotationStatus struct {
	ActiveKeyID        string     `json:"activeKeyId"`
	NextKeyID          string     `json:"nextKeyId,omitempty"`
	RotationInProgress bool       `json:"rotationInProgress"`
	GracePeriodDays    int        `json:"gracePeriodDays"`
	RotationStartedAt  *time.Time `json:"rotationStartedAt,omitempty"`
	GraceDeadline      *time.Time `json:"graceDeadline,omitempty"`
	GraceExpired       bool       `json:"graceExpired"`
}

func (s *KeyStore) RotationStatus() RotationStatus {
	st := RotationStatus{
		ActiveKeyID:     s.active.ID,
		GracePeriodDays: int(s.gracePeriod / (24 * time.Hour)),
	}
	if s.next == nil {
		return st
	}
	st.NextKeyID = s.next.ID
	st.RotationInProgress = true
	if !s.rotationStartedAt.IsZero() {
		started := s.rotationStartedAt
		deadline := started.Add(s.gracePeriod)
		st.RotationStartedAt = &started
		st.GraceDeadline = &deadline
		st.GraceExpired = s.now().After(deadline)
	}
	return st
}

// KeyIDs lists configured logical key ids, active first.
func (s *KeyStore) KeyIDs() []string {
	ids := []string{s.active.ID}
	if s.next != nil {
		ids = append(ids, s.next.ID)
	}
	return ids
}

// MaskKey returns a log-safe prefix of a presented key.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key)) + "..."
	}
	return key[:8] + "..."
}
