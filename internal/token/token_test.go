package token_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appy-one/acebase-server-sub001/internal/token"
)

var testSalt = []byte("0123456789abcdef0123456789abcdef")

func TestNewSecret_Uniqueness(t *testing.T) {
	s1, err := token.NewSecret()
	require.NoError(t, err)
	s2, err := token.NewSecret()
	require.NoError(t, err)

	assert.NotEqual(t, s1, s2, "secrets should be unique")
	assert.GreaterOrEqual(t, len(s1), 40, "secret should encode 256 bits")
}

func TestPublicToken_RoundTrip(t *testing.T) {
	signed, err := token.CreatePublicToken("user1", "10.0.0.1", "private-secret", testSalt)
	require.NoError(t, err)

	details, err := token.ParsePublicToken(signed, testSalt)
	require.NoError(t, err)

	assert.Equal(t, "user1", details.UID)
	assert.Equal(t, "10.0.0.1", details.IP)
	assert.Equal(t, "private-secret", details.AccessToken)
}

func TestPublicToken_WrongSalt(t *testing.T) {
	signed, err := token.CreatePublicToken("user1", "10.0.0.1", "private-secret", testSalt)
	require.NoError(t, err)

	other := []byte("ffffffffffffffffffffffffffffffff")
	_, err = token.ParsePublicToken(signed, other)
	assert.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestPublicToken_Tampered(t *testing.T) {
	signed, err := token.CreatePublicToken("user1", "10.0.0.1", "private-secret", testSalt)
	require.NoError(t, err)

	// Flip a character in the claims segment.
	parts := strings.Split(signed, ".")
	require.Len(t, parts, 3)
	body := []byte(parts[1])
	if body[0] == 'A' {
		body[0] = 'B'
	} else {
		body[0] = 'A'
	}
	tampered := parts[0] + "." + string(body) + "." + parts[2]

	_, err = token.ParsePublicToken(tampered, testSalt)
	assert.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestPublicToken_Garbage(t *testing.T) {
	_, err := token.ParsePublicToken("not-a-token", testSalt)
	assert.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestSignedPayload_RoundTrip(t *testing.T) {
	signed, err := token.CreateSignedPayload(map[string]string{"uid": "u1", "code": "c1"}, testSalt)
	require.NoError(t, err)

	payload, err := token.ParseSignedPayload(signed, testSalt)
	require.NoError(t, err)
	assert.Equal(t, "u1", payload["uid"])
	assert.Equal(t, "c1", payload["code"])
}

func TestSignedPayload_WrongSalt(t *testing.T) {
	signed, err := token.CreateSignedPayload(map[string]string{"uid": "u1"}, testSalt)
	require.NoError(t, err)

	_, err = token.ParseSignedPayload(signed, []byte("ffffffffffffffffffffffffffffffff"))
	assert.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestLoadOrCreateSalt_Persists(t *testing.T) {
	dir := t.TempDir()

	first, err := token.LoadOrCreateSalt(dir)
	require.NoError(t, err)
	require.Len(t, first, 32)

	second, err := token.LoadOrCreateSalt(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second, "salt should survive restarts")
}

func TestLoadOrCreateSalt_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "token_salt"), []byte("zz-not-hex"), 0o600))

	_, err := token.LoadOrCreateSalt(dir)
	assert.Error(t, err)
}
