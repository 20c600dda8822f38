package apikey

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testActiveKey = "pk_active_0123456789abcdef"
	testNextKey   = "pk_next_fedcba9876543210"
)

func TestNewKeyStoreRequiresActiveKey(t *testing.T) {
	_, err := NewKeyStore(Config{})
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	ks, err := NewKeyStore(Config{ActiveKey: testActiveKey, NextKey: testNextKey, ActiveID: "k1", NextID: "k2"})
	require.NoError(t, err)

	tests := []struct {
		name      string
		presented string
		wantErr   error
		wantID    string
		active    bool
		warning   string
	}{
		{"active key", testActiveKey, nil, "k1", true, ""},
		{"next key", testNextKey, nil, "k2", false, DeprecationMessage},
		{"wrong key", "pk_wrong", ErrInvalidKey, "", false, ""},
		{"empty key", "", ErrMissingKey, "", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ks.Authenticate(tt.presented)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, res.KeyID)
			assert.Equal(t, tt.active, res.IsActive)
			assert.Equal(t, tt.warning, res.DeprecationWarning)
		})
	}
}

func TestAuthenticateWithoutNextKey(t *testing.T) {
	ks, err := NewKeyStore(Config{ActiveKey: testActiveKey})
	require.NoError(t, err)

	_, err = ks.Authenticate(testNextKey)
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Equal(t, []string{"active"}, ks.KeyIDs())
}

func TestHashedCredential(t *testing.T) {
	hashed, err := HashSecret(testActiveKey)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hashed, hashedPrefix))
	assert.NotContains(t, hashed, testActiveKey)

	ks, err := NewKeyStore(Config{ActiveKey: hashed})
	require.NoError(t, err)

	res, err := ks.Authenticate(testActiveKey)
	require.NoError(t, err)
	assert.True(t, res.IsActive)
}

func TestParseCredentialRejectsMalformed(t *testing.T) {
	for _, v := range []string{
		hashedPrefix + "zz$00",
		hashedPrefix + "00",
		hashedPrefix + "0011$abcd",
	} {
		_, err := ParseCredential("x", v, true)
		assert.Error(t, err, v)
	}
}

func TestSaltsDiffer(t *testing.T) {
	a, err := HashSecret("same")
	require.NoError(t, err)
	b, err := HashSecret("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRotationStatus(t *testing.T) {
	started := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	ks, err := NewKeyStore(Config{
		ActiveKey:         testActiveKey,
		NextKey:           testNextKey,
		GracePeriodDays:   7,
		RotationStartedAt: started,
	})
	require.NoError(t, err)

	ks.now = func() time.Time { return started.Add(3 * 24 * time.Hour) }
	st := ks.RotationStatus()
	assert.Equal(t, "active", st.ActiveKeyID)
	assert.Equal(t, "next", st.NextKeyID)
	assert.True(t, st.RotationInProgress)
	assert.Equal(t, 7, st.GracePeriodDays)
	require.NotNil(t, st.GraceDeadline)
	assert.Equal(t, started.Add(7*24*time.Hour), *st.GraceDeadline)
	assert.False(t, st.GraceExpired)

	ks.now = func() time.Time { return started.Add(8 * 24 * time.Hour) }
	assert.True(t, ks.RotationStatus().GraceExpired)
}

func TestRotationStatusWithoutNextKey(t *testing.T) {
	ks, err := NewKeyStore(Config{ActiveKey: testActiveKey})
	require.NoError(t, err)

	st := ks.RotationStatus()
	assert.False(t, st.RotationInProgress)
	assert.Empty(t, st.NextKeyID)
	assert.Equal(t, DefaultGracePeriodDays, st.GracePeriodDays)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "pk_activ...", MaskKey(testActiveKey))
	assert.Equal(t, "***...", MaskKey("abc"))
}
