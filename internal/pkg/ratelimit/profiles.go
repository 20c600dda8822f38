package ratelimit

import "time"

// KeyStrategy selects how a caller is identified for a profile.
type KeyStrategy int

const (
	// KeyByIP counts requests per caller IP.
	KeyByIP KeyStrategy = iota
	// KeyByCombo counts per hashed IP plus caller identity.
	KeyByCombo
)

const (
	ProfileStrict   = "strict"
	ProfileModerate = "moderate"
	ProfileGenerous = "generous"
	ProfileWebhook  = "webhook"
	ProfileAdmin    = "admin"
)

const defaultWindow = 15 * time.Minute

// Profile is one row of the fixed rate-limit table.
type Profile struct {
	Name   string
	Max    int
	Window time.Duration
	Key    KeyStrategy
}

var profiles = map[string]Profile{
	// auth, credential reset, refunds, capture
	ProfileStrict: {Name: ProfileStrict, Max: 5, Window: defaultWindow, Key: KeyByCombo},
	// general mutating endpoints
	ProfileModerate: {Name: ProfileModerate, Max: 30, Window: defaultWindow, Key: KeyByCombo},
	// idempotent reads
	ProfileGenerous: {Name: ProfileGenerous, Max: 100, Window: defaultWindow, Key: KeyByIP},
	// gateway callbacks, authenticated by signature
	ProfileWebhook: {Name: ProfileWebhook, Max: 100, Window: defaultWindow, Key: KeyByIP},
	// privileged mutation endpoints
	ProfileAdmin: {Name: ProfileAdmin, Max: 20, Window: defaultWindow, Key: KeyByCombo},
}

// Lookup returns the named profile.
func Lookup(name string) (Profile, bool) {
	p, ok := profiles[name]
	return p, ok
}

// MustLookup is Lookup for route wiring, where an unknown name is a
// programming error.
func MustLookup(name string) Profile {
	p, ok := profiles[name]
	if !ok {
		panic("ratelimit: unknown profile " + name)
	}
	return p
}

var exemptPaths = map[string]struct{}{
	"/health":        {},
	"/api/health":    {},
	"/api/v1/health": {},
}

// IsExempt reports whether path bypasses rate limiting regardless of profile.
func IsExempt(path string) bool {
	_, ok := exemptPaths[path]
	return ok
}
