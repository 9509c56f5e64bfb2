package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"
)

func TestCheckAdminKeyMatchesPlaintext(t *testing.T) {
	cfg := &Config{AdminAPIKey: "secret"}
	assert.True(t, CheckAdminKey(cfg, "secret"))
	assert.False(t, CheckAdminKey(cfg, "wrong"))
}

func TestCheckAdminKeyMatchesBcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.DefaultCost)
	assert.NoError(t, err)

	cfg := &Config{AdminAPIKeyHash: string(hash)}
	assert.True(t, CheckAdminKey(cfg, "hunter2"))
	assert.False(t, CheckAdminKey(cfg, "wrong"))
}

func TestCheckAdminKeyRejectsEmptyCandidate(t *testing.T) {
	cfg := &Config{AdminAPIKey: "secret"}
	assert.False(t, CheckAdminKey(cfg, ""))
}

func TestCheckAdminKeyNilConfig(t *testing.T) {
	assert.False(t, CheckAdminKey(nil, "anything"))
}

func TestAdminKeyConfiguredReportsEitherField(t *testing.T) {
	assert.False(t, AdminKeyConfigured(&Config{}))
	assert.True(t, AdminKeyConfigured(&Config{AdminAPIKey: "x"}))
	assert.True(t, AdminKeyConfigured(&Config{AdminAPIKeyHash: "x"}))
}
