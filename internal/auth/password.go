package auth

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 64
	saltLen      = 16
)

// HashPassword derives a salted scrypt hash for a new password.
func HashPassword(password string) (hash, salt string, err error) {
	rawSalt := make([]byte, saltLen)
	if _, err := rand.Read(rawSalt); err != nil {
		return "", "", fmt.Errorf("generating password salt: %w", err)
	}
	key, err := scrypt.Key([]byte(password), rawSalt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", "", fmt.Errorf("deriving password hash: %w", err)
	}
	return hex.EncodeToString(key), hex.EncodeToString(rawSalt), nil
}

// VerifyPassword checks a password against a stored hash+salt pair. An
// empty salt marks a legacy unsalted SHA-512 hash.
func VerifyPassword(password, hash, salt string) bool {
	if hash == "" {
		return false
	}
	if salt == "" {
		return verifyLegacyPassword(password, hash)
	}
	rawSalt, err := hex.DecodeString(salt)
	if err != nil {
		return false
	}
	key, err := scrypt.Key([]byte(password), rawSalt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(key)), []byte(hash)) == 1
}

// verifyLegacyPassword checks the pre-salt scheme. Accounts matching it
// are upgraded to the salted scheme on their next successful sign-in.
func verifyLegacyPassword(password, hash string) bool {
	sum := sha512.Sum512([]byte(password))
	return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(hash)) == 1
}
