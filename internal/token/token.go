// Package token produces and validates the bearer tokens handed to
// clients. The private token is an opaque server-side secret; the public
// token is a signed combination of uid, issuing IP and private token,
// verifiable without any database round trip.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token fails signature or structure
// verification.
var ErrInvalidToken = errors.New("invalid token")

// PublicTokenDetails is the decoded content of a public access token.
// AccessToken is the private-token equivalent; whether it still matches
// the stored account secret is the sign-in flow's concern.
type PublicTokenDetails struct {
	UID         string
	IP          string
	AccessToken string
}

type publicClaims struct {
	jwt.RegisteredClaims
	UID         string `json:"uid"`
	IP          string `json:"ip"`
	AccessToken string `json:"tkn"`
}

type payloadClaims struct {
	jwt.RegisteredClaims
	Payload map[string]string `json:"pld"`
}

// NewSecret generates a cryptographically random private token.
func NewSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CreatePublicToken signs {uid, ip, privateToken} with the server salt
// into an opaque bearer string safe to hand to an untrusted client.
func CreatePublicToken(uid, clientIP, privateToken string, salt []byte) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, publicClaims{
		UID:         uid,
		IP:          clientIP,
		AccessToken: privateToken,
	})
	signed, err := t.SignedString(salt)
	if err != nil {
		return "", fmt.Errorf("signing public token: %w", err)
	}
	return signed, nil
}

// ParsePublicToken verifies and decodes a public token. It performs no
// I/O; validity against the stored account secret is checked later by
// the sign-in flow.
func ParsePublicToken(tokenString string, salt []byte) (*PublicTokenDetails, error) {
	claims := &publicClaims{}
	t, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return salt, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !t.Valid || claims.UID == "" {
		return nil, ErrInvalidToken
	}
	return &PublicTokenDetails{
		UID:         claims.UID,
		IP:          claims.IP,
		AccessToken: claims.AccessToken,
	}, nil
}

// CreateSignedPayload signs an arbitrary small string map with the
// server salt. Used for password-reset and email-verification codes.
func CreateSignedPayload(payload map[string]string, salt []byte) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, payloadClaims{Payload: payload})
	signed, err := t.SignedString(salt)
	if err != nil {
		return "", fmt.Errorf("signing payload: %w", err)
	}
	return signed, nil
}

// ParseSignedPayload verifies a signed payload. Any mutation of the
// encoded form fails verification.
func ParseSignedPayload(tokenString string, salt []byte) (map[string]string, error) {
	claims := &payloadClaims{}
	t, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return salt, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !t.Valid || claims.Payload == nil {
		return nil, ErrInvalidToken
	}
	return claims.Payload, nil
}
