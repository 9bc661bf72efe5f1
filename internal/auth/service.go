package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/appy-one/acebase-server-sub001/internal/audit"
	"github.com/appy-one/acebase-server-sub001/internal/token"
)

// Sign-in methods accepted by Service.SignIn.
const (
	MethodToken    = "token"    // public bearer token
	MethodEmail    = "email"    // email + password
	MethodUsername = "username" // username + password
	MethodInternal = "internal" // decoded private token (bearer middleware)
)

// SignInRequest carries one credential discriminant plus request
// context.
type SignInRequest struct {
	Method string

	PublicToken string // MethodToken

	Email    string // MethodEmail
	Username string // MethodUsername
	Password string // MethodEmail, MethodUsername

	// MethodInternal: the middleware already decoded the public token
	// and passes its parts through.
	UID          string
	PrivateToken string

	ClientIP string
}

// Service implements the sign-in and account-management flows.
type Service struct {
	repo  AccountRepository
	cache SessionCache
	sink  audit.Sink
	salt  []byte
}

// NewService creates an auth Service. salt is the server-wide token
// salt, loaded before any token operation runs.
func NewService(repo AccountRepository, cache SessionCache, sink audit.Sink, salt []byte) *Service {
	return &Service{repo: repo, cache: cache, sink: sink, salt: salt}
}

// Cache exposes the session cache for connection-level signin, which
// binds identities from cached sessions only.
func (s *Service) Cache() SessionCache { return s.cache }

// Salt exposes the server token salt for codec calls made by handlers.
func (s *Service) Salt() []byte { return s.salt }

// SignIn resolves a credential to an account, updates sign-in
// bookkeeping and populates the session cache. Every attempt is
// audited. Failures are *SignInError values.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (*UserAccount, error) {
	account, err := s.signIn(ctx, req)

	details := audit.Details{"method": req.Method, "ip": req.ClientIP}
	if err != nil {
		code := "unexpected"
		var serr *SignInError
		if errors.As(err, &serr) {
			code = serr.Code
		}
		s.sink.Warn(ctx, "signin", code, details)
		return nil, err
	}
	details["uid"] = account.UID
	s.sink.Event(ctx, "signin", details)
	return account, nil
}

func (s *Service) signIn(ctx context.Context, req SignInRequest) (*UserAccount, error) {
	account, err := s.resolveAccount(ctx, req)
	if err != nil {
		return nil, err
	}

	if account.IsDisabled {
		return nil, signInErr(CodeAccountDisabled, "account is disabled")
	}

	switch req.Method {
	case MethodEmail, MethodUsername:
		if !VerifyPassword(req.Password, account.PasswordHash, account.PasswordSalt) {
			return nil, signInErr(CodeWrongPassword, "wrong password")
		}
	}

	now := time.Now().UTC()
	account.PrevSignin = account.LastSignin
	account.PrevSigninIP = account.LastSigninIP
	account.LastSignin = &now
	account.LastSigninIP = req.ClientIP

	// Opportunistic upgrades: legacy hashes become salted, tokenless
	// accounts get a private access token.
	if req.Password != "" && account.PasswordSalt == "" && account.PasswordHash != "" {
		hash, salt, err := HashPassword(req.Password)
		if err != nil {
			return nil, fmt.Errorf("upgrading legacy password hash: %w", err)
		}
		account.PasswordHash = hash
		account.PasswordSalt = salt
		slog.Info("legacy password hash upgraded", "uid", account.UID)
	}
	if account.AccessToken == "" {
		secret, err := token.NewSecret()
		if err != nil {
			return nil, fmt.Errorf("issuing access token: %w", err)
		}
		account.AccessToken = secret
		account.AccessTokenCreated = now
	}

	if err := s.repo.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("persisting sign-in bookkeeping: %w", err)
	}
	s.cache.Set(ctx, account.UID, account)
	return account, nil
}

// resolveAccount finds the unique account matching the request's
// discriminant field.
func (s *Service) resolveAccount(ctx context.Context, req SignInRequest) (*UserAccount, error) {
	var (
		matches      []*UserAccount
		err          error
		expectUID    string
		discriminant string
	)

	switch req.Method {
	case MethodToken:
		details, perr := token.ParsePublicToken(req.PublicToken, s.salt)
		if perr != nil {
			return nil, signInErr(CodeInvalidToken, "invalid public access token")
		}
		matches, err = s.repo.FindByAccessToken(ctx, details.AccessToken)
		expectUID = details.UID
		discriminant = "access_token"
	case MethodInternal:
		matches, err = s.repo.FindByAccessToken(ctx, req.PrivateToken)
		expectUID = req.UID
		discriminant = "access_token"
	case MethodEmail:
		matches, err = s.repo.FindByEmail(ctx, req.Email)
		discriminant = "email"
	case MethodUsername:
		matches, err = s.repo.FindByUsername(ctx, req.Username)
		discriminant = "username"
	default:
		return nil, fmt.Errorf("unknown sign-in method %q", req.Method)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving account: %w", err)
	}

	switch len(matches) {
	case 0:
		return nil, signInErr(CodeNotFound, "account not found")
	case 1:
	default:
		// Uniqueness should have prevented this; a data-integrity
		// condition worth shouting about.
		slog.Error("duplicate accounts for sign-in discriminant", "field", discriminant, "count", len(matches))
		return nil, signInErr(CodeDuplicate, fmt.Sprintf("%d accounts match", len(matches)))
	}

	account := matches[0]
	if expectUID != "" && account.UID != expectUID {
		return nil, signInErr(CodeTokenMismatch, "token does not belong to this account")
	}
	return account, nil
}

// IssuePublicToken creates the bearer token handed to a signed-in
// client.
func (s *Service) IssuePublicToken(account *UserAccount, clientIP string) (string, error) {
	return token.CreatePublicToken(account.UID, clientIP, account.AccessToken, s.salt)
}
