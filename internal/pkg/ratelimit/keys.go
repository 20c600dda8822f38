package ratelimit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const anonymousIdentity = "anonymous"

// ComboKey hashes ip and identity so that no raw identity lands in the
// counter store. The identity is HMAC'd with salt before being mixed in.
func ComboKey(salt, ip, identity string) string {
	if identity == "" {
		identity = anonymousIdentity
	}
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(identity))
	hashedIdentity := hex.EncodeToString(mac.Sum(nil))

	sum := sha256.Sum256([]byte(ip + ":" + hashedIdentity))
	return hex.EncodeToString(sum[:])[:16]
}

// KeyFor derives the counter key for a profile.
func KeyFor(p Profile, salt, ip, identity string) string {
	if p.Key == KeyByCombo {
		return ComboKey(salt, ip, identity)
	}
	return ip
}
