package auth

import (
	"time"
)

// UserAccount is a persisted user record. Accounts live under the
// reserved __auth__/accounts namespace of the underlying database.
type UserAccount struct {
	UID         string
	Username    string
	Email       string
	DisplayName string
	Picture     string

	// PasswordHash/PasswordSalt are empty for passwordless (OAuth-only)
	// accounts. An empty salt with a non-empty hash marks a legacy
	// unsalted hash, upgraded on first successful sign-in.
	PasswordHash string
	PasswordSalt string

	// AccessToken is the server-internal bearer secret; the public
	// token handed to clients derives from it.
	AccessToken        string
	AccessTokenCreated time.Time

	Settings      map[string]any
	IsDisabled    bool
	EmailVerified bool

	PasswordResetCode string
	VerificationCode  string

	Created      time.Time
	CreatedIP    string
	LastSignin   *time.Time
	LastSigninIP string
	PrevSignin   *time.Time
	PrevSigninIP string

	// Provider is the OAuth provider that created this account, empty
	// for password accounts.
	Provider string
}

// toMap flattens an account for storage. Times travel as time.Time so
// the transport codec keeps them distinct from strings.
func (a *UserAccount) toMap() map[string]any {
	m := map[string]any{
		"uid":            a.UID,
		"is_disabled":    a.IsDisabled,
		"email_verified": a.EmailVerified,
		"created":        a.Created,
	}
	setIf := func(key, val string) {
		if val != "" {
			m[key] = val
		}
	}
	setIf("username", a.Username)
	setIf("email", a.Email)
	setIf("display_name", a.DisplayName)
	setIf("picture", a.Picture)
	setIf("password", a.PasswordHash)
	setIf("password_salt", a.PasswordSalt)
	setIf("access_token", a.AccessToken)
	setIf("password_reset_code", a.PasswordResetCode)
	setIf("verification_code", a.VerificationCode)
	setIf("created_ip", a.CreatedIP)
	setIf("last_signin_ip", a.LastSigninIP)
	setIf("prev_signin_ip", a.PrevSigninIP)
	setIf("provider", a.Provider)
	if !a.AccessTokenCreated.IsZero() {
		m["access_token_created"] = a.AccessTokenCreated
	}
	if a.LastSignin != nil {
		m["last_signin"] = *a.LastSignin
	}
	if a.PrevSignin != nil {
		m["prev_signin"] = *a.PrevSignin
	}
	if len(a.Settings) > 0 {
		m["settings"] = a.Settings
	}
	return m
}

func accountFromMap(uid string, m map[string]any) *UserAccount {
	a := &UserAccount{UID: uid}
	str := func(key string) string {
		s, _ := m[key].(string)
		return s
	}
	a.Username = str("username")
	a.Email = str("email")
	a.DisplayName = str("display_name")
	a.Picture = str("picture")
	a.PasswordHash = str("password")
	a.PasswordSalt = str("password_salt")
	a.AccessToken = str("access_token")
	a.PasswordResetCode = str("password_reset_code")
	a.VerificationCode = str("verification_code")
	a.CreatedIP = str("created_ip")
	a.LastSigninIP = str("last_signin_ip")
	a.PrevSigninIP = str("prev_signin_ip")
	a.Provider = str("provider")
	a.IsDisabled, _ = m["is_disabled"].(bool)
	a.EmailVerified, _ = m["email_verified"].(bool)
	if t, ok := m["created"].(time.Time); ok {
		a.Created = t
	}
	if t, ok := m["access_token_created"].(time.Time); ok {
		a.AccessTokenCreated = t
	}
	if t, ok := m["last_signin"].(time.Time); ok {
		a.LastSignin = &t
	}
	if t, ok := m["prev_signin"].(time.Time); ok {
		a.PrevSignin = &t
	}
	if s, ok := m["settings"].(map[string]any); ok {
		a.Settings = s
	}
	return a
}
