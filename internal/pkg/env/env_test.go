package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvPrefersLoadedFile(t *testing.T) {
	t.Setenv("PAYGUARD_TEST_KEY", "from-os")
	Env = map[string]string{"PAYGUARD_TEST_KEY": "from-file"}
	defer func() { Env = nil }()

	assert.Equal(t, "from-file", GetEnv("PAYGUARD_TEST_KEY", "def"))
	assert.Equal(t, "def", GetEnv("PAYGUARD_TEST_MISSING", "def"))
}

func TestTypedGetters(t *testing.T) {
	Env = map[string]string{
		"INT_OK":      "42",
		"INT_BAD":     "forty",
		"BOOL_OK":     "true",
		"DUR_GO":      "1m30s",
		"DUR_SECONDS": "20",
		"DUR_BAD":     "soon",
	}
	defer func() { Env = nil }()

	assert.Equal(t, 42, GetEnvInt("INT_OK", 1))
	assert.Equal(t, 1, GetEnvInt("INT_BAD", 1))
	assert.Equal(t, 7, GetEnvInt("INT_MISSING", 7))
	assert.True(t, GetEnvBool("BOOL_OK", false))
	assert.True(t, GetEnvBool("BOOL_MISSING", true))
	assert.Equal(t, 90*time.Second, GetEnvDuration("DUR_GO", time.Second))
	assert.Equal(t, 20*time.Second, GetEnvDuration("DUR_SECONDS", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("DUR_BAD", time.Second))
}
