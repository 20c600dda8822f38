package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComboKey(t *testing.T) {
	k1 := ComboKey("salt", "1.2.3.4", "user-1")
	assert.Len(t, k1, 16)
	assert.NotContains(t, k1, "user-1")

	assert.Equal(t, k1, ComboKey("salt", "1.2.3.4", "user-1"))
	assert.NotEqual(t, k1, ComboKey("salt", "1.2.3.4", "user-2"))
	assert.NotEqual(t, k1, ComboKey("salt", "1.2.3.5", "user-1"))
	assert.NotEqual(t, k1, ComboKey("other-salt", "1.2.3.4", "user-1"))
	assert.Equal(t, ComboKey("salt", "1.2.3.4", ""), ComboKey("salt", "1.2.3.4", "anonymous"))
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, "1.2.3.4", KeyFor(MustLookup(ProfileGenerous), "s", "1.2.3.4", "u"))
	assert.Equal(t, ComboKey("s", "1.2.3.4", "u"), KeyFor(MustLookup(ProfileStrict), "s", "1.2.3.4", "u"))
}
