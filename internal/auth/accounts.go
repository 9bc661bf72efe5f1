package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/appy-one/acebase-server-sub001/internal/audit"
	"github.com/appy-one/acebase-server-sub001/internal/rules"
	"github.com/appy-one/acebase-server-sub001/internal/token"
)

// maxSettings bounds the open settings map on an account.
const maxSettings = 100

// SignUpRequest carries the fields of a new account. Username or email
// (or both) must be set; Password may be empty for OAuth-created
// accounts.
type SignUpRequest struct {
	Username    string
	Email       string
	Password    string
	DisplayName string
	Picture     string
	Settings    map[string]any
	ClientIP    string
	Provider    string
}

// SignUp creates an account after a check-then-write uniqueness probe
// on username and email, then signs it in.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*UserAccount, error) {
	if req.Username == rules.AdminUID {
		return nil, ErrAdminReserved
	}
	if len(req.Settings) > maxSettings {
		return nil, fmt.Errorf("too many settings (max %d)", maxSettings)
	}

	if req.Username != "" {
		existing, err := s.repo.FindByUsername(ctx, req.Username)
		if err != nil {
			return nil, fmt.Errorf("checking username uniqueness: %w", err)
		}
		if len(existing) > 0 {
			s.sink.Warn(ctx, "signup", "conflict", audit.Details{"username": req.Username, "ip": req.ClientIP})
			return nil, ErrUsernameTaken
		}
	}
	if req.Email != "" {
		existing, err := s.repo.FindByEmail(ctx, req.Email)
		if err != nil {
			return nil, fmt.Errorf("checking email uniqueness: %w", err)
		}
		if len(existing) > 0 {
			s.sink.Warn(ctx, "signup", "conflict", audit.Details{"email": req.Email, "ip": req.ClientIP})
			return nil, ErrEmailTaken
		}
	}

	now := time.Now().UTC()
	account := &UserAccount{
		UID:         uuid.New().String(),
		Username:    req.Username,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Picture:     req.Picture,
		Settings:    req.Settings,
		Created:     now,
		CreatedIP:   req.ClientIP,
		Provider:    req.Provider,
	}
	if req.Password != "" {
		hash, salt, err := HashPassword(req.Password)
		if err != nil {
			return nil, err
		}
		account.PasswordHash = hash
		account.PasswordSalt = salt
	}
	secret, err := token.NewSecret()
	if err != nil {
		return nil, fmt.Errorf("issuing access token: %w", err)
	}
	account.AccessToken = secret
	account.AccessTokenCreated = now
	account.LastSignin = &now
	account.LastSigninIP = req.ClientIP

	if err := s.repo.Create(ctx, account); err != nil {
		return nil, err
	}
	s.cache.Set(ctx, account.UID, account)
	s.sink.Event(ctx, "signup", audit.Details{"uid": account.UID, "ip": req.ClientIP, "provider": req.Provider})
	return account, nil
}

// AccountUpdate carries the mutable profile fields; nil pointers leave
// the field untouched.
type AccountUpdate struct {
	DisplayName *string
	Picture     *string
	Settings    map[string]any
}

// UpdateAccount applies a profile update and refreshes the session
// cache.
func (s *Service) UpdateAccount(ctx context.Context, uid string, update AccountUpdate) (*UserAccount, error) {
	account, err := s.repo.GetByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if update.DisplayName != nil {
		account.DisplayName = *update.DisplayName
	}
	if update.Picture != nil {
		account.Picture = *update.Picture
	}
	if update.Settings != nil {
		if account.Settings == nil {
			account.Settings = map[string]any{}
		}
		for k, v := range update.Settings {
			if v == nil {
				delete(account.Settings, k)
			} else {
				account.Settings[k] = v
			}
		}
		if len(account.Settings) > maxSettings {
			return nil, fmt.Errorf("too many settings (max %d)", maxSettings)
		}
	}
	if err := s.repo.Update(ctx, account); err != nil {
		return nil, err
	}
	s.cache.Set(ctx, uid, account)
	s.sink.Event(ctx, "update", audit.Details{"uid": uid})
	return account, nil
}

// ChangePassword verifies the current password, stores a new salted
// hash and rotates the private access token, invalidating previously
// issued public tokens.
func (s *Service) ChangePassword(ctx context.Context, uid, currentPassword, newPassword string) (*UserAccount, error) {
	account, err := s.repo.GetByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if !VerifyPassword(currentPassword, account.PasswordHash, account.PasswordSalt) {
		s.sink.Warn(ctx, "change_password", CodeWrongPassword, audit.Details{"uid": uid})
		return nil, signInErr(CodeWrongPassword, "wrong password")
	}
	if err := s.setPassword(ctx, account, newPassword); err != nil {
		return nil, err
	}
	s.sink.Event(ctx, "change_password", audit.Details{"uid": uid})
	return account, nil
}

// RequestPasswordReset stores a single-use reset code on the account
// and returns it wrapped in a signed payload. Delivery (email) is an
// external concern.
func (s *Service) RequestPasswordReset(ctx context.Context, email, clientIP string) (string, error) {
	matches, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("resolving account: %w", err)
	}
	if len(matches) != 1 {
		s.sink.Warn(ctx, "forgot_password", CodeNotFound, audit.Details{"email": email, "ip": clientIP})
		return "", ErrAccountNotFound
	}
	account := matches[0]

	code := uuid.New().String()
	account.PasswordResetCode = code
	if err := s.repo.Update(ctx, account); err != nil {
		return "", err
	}

	signed, err := token.CreateSignedPayload(map[string]string{"uid": account.UID, "code": code}, s.salt)
	if err != nil {
		return "", fmt.Errorf("signing reset code: %w", err)
	}
	s.sink.Event(ctx, "forgot_password", audit.Details{"uid": account.UID, "ip": clientIP})
	return signed, nil
}

// ResetPassword consumes a signed reset code and stores the new
// password.
func (s *Service) ResetPassword(ctx context.Context, signedCode, newPassword, clientIP string) error {
	payload, err := token.ParseSignedPayload(signedCode, s.salt)
	if err != nil {
		s.sink.Warn(ctx, "reset_password", CodeInvalidToken, audit.Details{"ip": clientIP})
		return ErrInvalidResetCode
	}
	uid, code := payload["uid"], payload["code"]

	account, err := s.repo.GetByUID(ctx, uid)
	if err != nil {
		return ErrInvalidResetCode
	}
	if account.PasswordResetCode == "" || account.PasswordResetCode != code {
		s.sink.Warn(ctx, "reset_password", "code_mismatch", audit.Details{"uid": uid, "ip": clientIP})
		return ErrInvalidResetCode
	}

	account.PasswordResetCode = ""
	if err := s.setPassword(ctx, account, newPassword); err != nil {
		return err
	}
	s.sink.Event(ctx, "reset_password", audit.Details{"uid": uid, "ip": clientIP})
	return nil
}

// RequestEmailVerification returns a signed verification code for the
// account's email.
func (s *Service) RequestEmailVerification(ctx context.Context, uid string) (string, error) {
	account, err := s.repo.GetByUID(ctx, uid)
	if err != nil {
		return "", err
	}
	code := uuid.New().String()
	account.VerificationCode = code
	if err := s.repo.Update(ctx, account); err != nil {
		return "", err
	}
	signed, err := token.CreateSignedPayload(map[string]string{"uid": uid, "code": code}, s.salt)
	if err != nil {
		return "", fmt.Errorf("signing verification code: %w", err)
	}
	s.sink.Event(ctx, "send_email_verification", audit.Details{"uid": uid})
	return signed, nil
}

// VerifyEmail consumes a signed verification code and marks the email
// verified.
func (s *Service) VerifyEmail(ctx context.Context, signedCode, clientIP string) error {
	payload, err := token.ParseSignedPayload(signedCode, s.salt)
	if err != nil {
		s.sink.Warn(ctx, "verify_email", CodeInvalidToken, audit.Details{"ip": clientIP})
		return ErrInvalidResetCode
	}
	uid, code := payload["uid"], payload["code"]

	account, err := s.repo.GetByUID(ctx, uid)
	if err != nil {
		return ErrInvalidResetCode
	}
	if account.VerificationCode == "" || account.VerificationCode != code {
		return ErrInvalidResetCode
	}
	account.VerificationCode = ""
	account.EmailVerified = true
	if err := s.repo.Update(ctx, account); err != nil {
		return err
	}
	s.cache.Set(ctx, uid, account)
	s.sink.Event(ctx, "verify_email", audit.Details{"uid": uid, "ip": clientIP})
	return nil
}

// DeleteAccount removes an account permanently. The reserved admin
// account can never be deleted.
func (s *Service) DeleteAccount(ctx context.Context, uid string) error {
	if uid == rules.AdminUID {
		return ErrAdminReserved
	}
	if err := s.repo.Delete(ctx, uid); err != nil {
		return err
	}
	s.cache.Remove(ctx, uid)
	s.sink.Event(ctx, "delete", audit.Details{"uid": uid})
	return nil
}

// OAuthProfile is the identity a provider adapter resolved for a user.
type OAuthProfile struct {
	Provider      string
	Email         string
	DisplayName   string
	Picture       string
	EmailVerified bool
}

// SignInOAuth signs in a provider-mediated identity, creating the
// account on first contact and linking by email thereafter.
func (s *Service) SignInOAuth(ctx context.Context, profile OAuthProfile, clientIP string) (*UserAccount, error) {
	if profile.Email == "" {
		return nil, errors.New("provider profile has no email")
	}
	matches, err := s.repo.FindByEmail(ctx, profile.Email)
	if err != nil {
		return nil, fmt.Errorf("resolving provider account: %w", err)
	}

	switch len(matches) {
	case 0:
		return s.SignUp(ctx, SignUpRequest{
			Email:       profile.Email,
			DisplayName: profile.DisplayName,
			Picture:     profile.Picture,
			ClientIP:    clientIP,
			Provider:    profile.Provider,
		})
	case 1:
	default:
		slog.Error("duplicate accounts for provider email", "count", len(matches))
		return nil, signInErr(CodeDuplicate, fmt.Sprintf("%d accounts match", len(matches)))
	}

	account := matches[0]
	if account.IsDisabled {
		s.sink.Warn(ctx, "signin", CodeAccountDisabled, audit.Details{"uid": account.UID, "method": "oauth", "ip": clientIP})
		return nil, signInErr(CodeAccountDisabled, "account is disabled")
	}

	now := time.Now().UTC()
	account.PrevSignin = account.LastSignin
	account.PrevSigninIP = account.LastSigninIP
	account.LastSignin = &now
	account.LastSigninIP = clientIP
	if profile.EmailVerified {
		account.EmailVerified = true
	}
	if err := s.repo.Update(ctx, account); err != nil {
		return nil, err
	}
	s.cache.Set(ctx, account.UID, account)
	s.sink.Event(ctx, "signin", audit.Details{"uid": account.UID, "method": "oauth", "provider": profile.Provider, "ip": clientIP})
	return account, nil
}

// BootstrapAdmin creates the reserved admin account on first boot with
// a generated password logged exactly once.
func (s *Service) BootstrapAdmin(ctx context.Context) error {
	_, err := s.repo.GetByUID(ctx, rules.AdminUID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return fmt.Errorf("checking admin account: %w", err)
	}

	password, err := token.NewSecret()
	if err != nil {
		return err
	}
	hash, salt, err := HashPassword(password)
	if err != nil {
		return err
	}
	secret, err := token.NewSecret()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	account := &UserAccount{
		UID:                rules.AdminUID,
		Username:           rules.AdminUID,
		DisplayName:        "Administrator",
		PasswordHash:       hash,
		PasswordSalt:       salt,
		AccessToken:        secret,
		AccessTokenCreated: now,
		Created:            now,
	}
	if err := s.repo.Create(ctx, account); err != nil {
		return fmt.Errorf("creating admin account: %w", err)
	}
	slog.Warn("admin account created, store this password now", "password", password)
	s.sink.Event(ctx, "signup", audit.Details{"uid": rules.AdminUID, "bootstrap": true})
	return nil
}

func (s *Service) setPassword(ctx context.Context, account *UserAccount, newPassword string) error {
	hash, salt, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	account.PasswordHash = hash
	account.PasswordSalt = salt

	// Rotate the private token so previously issued public tokens stop
	// validating.
	secret, err := token.NewSecret()
	if err != nil {
		return err
	}
	account.AccessToken = secret
	account.AccessTokenCreated = time.Now().UTC()

	if err := s.repo.Update(ctx, account); err != nil {
		return err
	}
	s.cache.Set(ctx, account.UID, account)
	return nil
}
