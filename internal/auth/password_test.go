package auth_test

import (
	"crypto/sha512"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appy-one/acebase-server-sub001/internal/auth"
)

func TestHashPassword_SaltedAndUnique(t *testing.T) {
	hash1, salt1, err := auth.HashPassword("secret")
	require.NoError(t, err)
	hash2, salt2, err := auth.HashPassword("secret")
	require.NoError(t, err)

	assert.NotEqual(t, salt1, salt2)
	assert.NotEqual(t, hash1, hash2, "same password must hash differently under different salts")

	assert.True(t, auth.VerifyPassword("secret", hash1, salt1))
	assert.True(t, auth.VerifyPassword("secret", hash2, salt2))
	assert.False(t, auth.VerifyPassword("wrong", hash1, salt1))
	assert.False(t, auth.VerifyPassword("secret", hash1, salt2), "hash must be bound to its own salt")
}

func TestVerifyPassword_EmptyHashNeverMatches(t *testing.T) {
	assert.False(t, auth.VerifyPassword("", "", ""))
	assert.False(t, auth.VerifyPassword("anything", "", ""))
}

func TestVerifyPassword_LegacyUnsaltedScheme(t *testing.T) {
	sum := sha512.Sum512([]byte("oldpassword"))
	legacyHash := hex.EncodeToString(sum[:])

	assert.True(t, auth.VerifyPassword("oldpassword", legacyHash, ""))
	assert.False(t, auth.VerifyPassword("wrong", legacyHash, ""))
}
